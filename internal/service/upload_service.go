package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"apk-builder-be/internal/dto"
	"apk-builder-be/internal/entity"
	"apk-builder-be/internal/pkg/apperror"
	"apk-builder-be/internal/pkg/logger"
	"apk-builder-be/pkg/contentrange"
	"apk-builder-be/pkg/events"
	"apk-builder-be/pkg/pipeline"
	"apk-builder-be/pkg/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const copyBufferSize = 32 * 1024

type IUploadService interface {
	// Upload appends one contiguous byte range read from body.
	Upload(ctx context.Context, req *dto.UploadRequest, body io.Reader) (*dto.UploadResponse, error)
	// Status reports the durable offset a client should resume from.
	Status(ctx context.Context, connectionID, hash string) (*dto.UploadStatusResponse, error)
}

type uploadService struct {
	sessions         ISessionService
	pipeline         IPipelineService
	store            storage.ArtifactStore
	locks            *SessionLocks
	publisher        IPublisherService
	logger           logger.ILogger
	progressInterval time.Duration
}

func NewUploadService(
	sessions ISessionService,
	pipeline IPipelineService,
	store storage.ArtifactStore,
	locks *SessionLocks,
	publisher IPublisherService,
	logger logger.ILogger,
	progressInterval time.Duration,
) IUploadService {
	return &uploadService{
		sessions:         sessions,
		pipeline:         pipeline,
		store:            store,
		locks:            locks,
		publisher:        publisher,
		logger:           logger,
		progressInterval: progressInterval,
	}
}

func (s *uploadService) Upload(ctx context.Context, req *dto.UploadRequest, body io.Reader) (*dto.UploadResponse, error) {
	ctx, span := otel.Tracer("app-builder").Start(ctx, "upload.range")
	defer span.End()
	span.SetAttributes(attribute.String("connection_id", req.ConnectionID))

	res, err := s.upload(ctx, req, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("uploaded_bytes", res.UploadedBytes),
		attribute.Bool("complete", res.Complete),
	)
	return res, nil
}

func (s *uploadService) upload(ctx context.Context, req *dto.UploadRequest, body io.Reader) (*dto.UploadResponse, error) {
	session, err := s.sessions.Authorize(req.ConnectionID, req.Hash)
	if err != nil {
		return nil, err
	}

	sem := s.locks.get(session.ID)
	if !sem.TryAcquire(1) {
		return nil, apperror.New(apperror.CodeOffsetMismatch, "another upload is in progress for this connection")
	}
	defer sem.Release(1)

	name := session.StoragePath()
	current, err := s.store.Size(name)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeIOFailure, "failed to read uploaded size", err)
	}

	// Without a Content-Range the range implicitly starts at the durable size.
	start, total, limit := current, req.FileSize, int64(-1)
	if req.ContentRange != "" {
		rng, err := contentrange.Parse(req.ContentRange)
		if err != nil {
			return nil, apperror.Wrap(apperror.CodeStructuralValidation, "invalid Content-Range", err)
		}
		start, total, limit = rng.Start, rng.Total, rng.Len()
	}

	var expected int64
	if total > 0 {
		if expected, err = s.sessions.RecordExpectedSize(session.ID, total); err != nil {
			return nil, err
		}
	} else if session.ExpectedSize != nil {
		expected = *session.ExpectedSize
	}

	if start != current {
		s.logger.Warn("UPLOAD", "Offset mismatch", map[string]interface{}{
			"connection_id": session.ID,
			"server":        current,
			"client":        start,
		})
		return nil, apperror.Newf(apperror.CodeOffsetMismatch, "Offset mismatch: server=%d, client=%d", current, start)
	}

	if limit >= 0 {
		body = io.LimitReader(body, limit)
	}

	// A resubmission against a finished artifact must not flip the step back to running.
	if expected <= 0 || current < expected {
		s.patchUpload(session.ID, entity.StepStatusRunning, current, expected, "")
	}

	written, writeErr := s.appendBody(ctx, session.ID, name, body, current, expected)

	size, err := s.store.Size(name)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeIOFailure, "failed to read uploaded size", err)
	}

	if writeErr != nil {
		s.logger.Error("UPLOAD", "Range aborted", map[string]interface{}{
			"connection_id": session.ID,
			"written":       written,
			"durable":       size,
			"error":         writeErr.Error(),
		})
		s.patchUpload(session.ID, entity.StepStatusError, size, expected, writeErr.Error())
		return nil, apperror.Wrap(apperror.CodeIOFailure, "upload interrupted", writeErr)
	}

	complete := expected > 0 && size >= expected
	status := entity.StepStatusRunning
	if complete {
		status = entity.StepStatusSuccess
	}
	s.patchUpload(session.ID, status, size, expected, "")

	s.logger.Info("UPLOAD", "Range accepted", map[string]interface{}{
		"connection_id": session.ID,
		"written":       written,
		"declared":      req.ContentLength,
		"uploaded":      size,
		"expected":      expected,
		"complete":      complete,
	})

	if complete && s.publisher != nil {
		event := events.New(events.TypeUploadCompleted, map[string]interface{}{
			"connection_id": session.ID,
			"size":          size,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("UPLOAD", "Failed to publish event", map[string]interface{}{
				"event": event.EventType(),
				"error": err.Error(),
			})
		}
	}

	return &dto.UploadResponse{UploadedBytes: size, Complete: complete}, nil
}

// appendBody streams body onto the artifact, patching progress at most once
// per interval. The file is always closed, so bytes written before a failure
// stay durable for the next resume.
func (s *uploadService) appendBody(ctx context.Context, sessionID, name string, body io.Reader, offset, expected int64) (int64, error) {
	f, err := s.store.Append(name)
	if err != nil {
		return 0, err
	}

	throttle := pipeline.NewThrottle(s.progressInterval)
	buf := make([]byte, copyBufferSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			return written, err
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				f.Close()
				return written, fmt.Errorf("write artifact: %w", err)
			}
			written += int64(n)
			throttle.Do(func() {
				s.patchUpload(sessionID, entity.StepStatusRunning, offset+written, expected, "")
			})
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			f.Close()
			return written, fmt.Errorf("read request body: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		return written, fmt.Errorf("close artifact: %w", err)
	}
	return written, nil
}

func (s *uploadService) patchUpload(sessionID string, status entity.StepStatus, uploaded, expected int64, errMsg string) {
	description := fmt.Sprintf("%d bytes", uploaded)
	if expected > 0 {
		description = fmt.Sprintf("%d/%d bytes", uploaded, expected)
	}
	progress := pipeline.Progress(uploaded, expected)

	s.pipeline.ApplyStepPatch(sessionID, entity.StepUpload, entity.StepPatch{
		Status:      &status,
		Progress:    &progress,
		Description: &description,
		Error:       &errMsg,
	})
}

func (s *uploadService) Status(ctx context.Context, connectionID, hash string) (*dto.UploadStatusResponse, error) {
	session, err := s.sessions.Authorize(connectionID, hash)
	if err != nil {
		return nil, err
	}

	size, err := s.store.Size(session.StoragePath())
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeIOFailure, "failed to read uploaded size", err)
	}

	return &dto.UploadStatusResponse{
		UploadedBytes: size,
		ExpectedBytes: session.ExpectedSize,
	}, nil
}
