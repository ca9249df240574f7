package syncclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"apk-builder-be/internal/dto"
	"apk-builder-be/pkg/contentrange"

	"github.com/valyala/fasthttp"
)

// DefaultChunkSize matches the browser client.
const DefaultChunkSize = 4 * 1024 * 1024

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status    int
	ErrorCode string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.ErrorCode, e.Message)
}

// IsOffsetMismatch reports whether err means the client must re-query the offset.
func IsOffsetMismatch(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == "OFFSET_MISMATCH"
}

type response[T any] struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
	Data      T      `json:"data"`
}

// Uploader drives the resumable upload endpoints.
type Uploader struct {
	base    string
	client  *fasthttp.Client
	timeout time.Duration
}

// NewUploader targets base, e.g. http://localhost:3000/api/app-builder.
func NewUploader(base string) *Uploader {
	return &Uploader{
		base:    base,
		client:  &fasthttp.Client{Name: "uploadctl"},
		timeout: 5 * time.Minute,
	}
}

func (u *Uploader) PreFetch(hash, fileType string) (string, error) {
	body, _ := json.Marshal(dto.PreFetchRequest{
		Type: "upload-apk",
		Body: &dto.PreFetchUploadApkBody{Hash: hash, FileType: fileType},
	})

	var res dto.PreFetchResponse
	if err := u.do(fasthttp.MethodPost, u.base+"/pre-fetch", func(req *fasthttp.Request) {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}, &res); err != nil {
		return "", err
	}
	return res.ConnectionID, nil
}

func (u *Uploader) Status(connectionID, hash string) (*dto.UploadStatusResponse, error) {
	var res dto.UploadStatusResponse
	if err := u.do(fasthttp.MethodGet, u.endpoint("/upload/status", connectionID, hash), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SendChunk posts chunk as the range starting at start of a total-byte file.
func (u *Uploader) SendChunk(connectionID, hash string, chunk []byte, start, total int64) (*dto.UploadResponse, error) {
	var res dto.UploadResponse
	end := start + int64(len(chunk)) - 1
	if err := u.do(fasthttp.MethodPost, u.endpoint("/upload", connectionID, hash), func(req *fasthttp.Request) {
		req.Header.SetContentType("application/octet-stream")
		req.Header.Set(fasthttp.HeaderContentRange, contentrange.Format(start, end, total))
		req.SetBody(chunk)
	}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (u *Uploader) Verify(connectionID, hash string) (*dto.VerifyResponse, error) {
	var res dto.VerifyResponse
	if err := u.do(fasthttp.MethodPost, u.endpoint("/verify", connectionID, hash), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Upload sends r (total bytes) from the server's current offset in chunks,
// re-querying the offset once after an offset mismatch. onProgress may be nil.
func (u *Uploader) Upload(connectionID, hash string, r io.ReaderAt, total int64, chunkSize int, onProgress func(uploaded int64)) (*dto.UploadResponse, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	status, err := u.Status(connectionID, hash)
	if err != nil {
		return nil, err
	}
	offset := status.UploadedBytes
	buf := make([]byte, chunkSize)
	retried := false

	for {
		if offset >= total {
			return &dto.UploadResponse{UploadedBytes: offset, Complete: true}, nil
		}

		n, err := r.ReadAt(buf, offset)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read file at %d: %w", offset, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("file shorter than declared size %d", total)
		}

		res, err := u.SendChunk(connectionID, hash, buf[:n], offset, total)
		if IsOffsetMismatch(err) && !retried {
			retried = true
			if status, err = u.Status(connectionID, hash); err != nil {
				return nil, err
			}
			offset = status.UploadedBytes
			continue
		}
		if err != nil {
			return nil, err
		}
		retried = false
		offset = res.UploadedBytes
		if onProgress != nil {
			onProgress(offset)
		}
		if res.Complete {
			return res, nil
		}
	}
}

func (u *Uploader) endpoint(path, connectionID, hash string) string {
	q := url.Values{}
	q.Set("connectionId", connectionID)
	q.Set("hash", hash)
	return u.base + path + "?" + q.Encode()
}

func (u *Uploader) do(method, uri string, prepare func(req *fasthttp.Request), out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if prepare != nil {
		prepare(req)
	}

	if err := u.client.DoTimeout(req, resp, u.timeout); err != nil {
		return fmt.Errorf("%s %s: %w", method, uri, err)
	}

	var envelope response[json.RawMessage]
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode(), err)
	}
	if resp.StatusCode() >= 300 || !envelope.Success {
		return &APIError{
			Status:    resp.StatusCode(),
			ErrorCode: envelope.ErrorCode,
			Message:   envelope.Message,
		}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

