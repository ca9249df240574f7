package dto

import "apk-builder-be/internal/entity"

type PreFetchUploadApkBody struct {
	Hash     string `json:"hash" validate:"required,hexadecimal"`
	FileType string `json:"filetype" validate:"required,oneof=apk xapk apks"`
}

// PreFetchRequest describes where the app comes from. Body is required for
// the upload-apk source.
type PreFetchRequest struct {
	Type string                 `json:"type" validate:"required,oneof=upload-apk apkpure download-from-url google-play"`
	Body *PreFetchUploadApkBody `json:"body" validate:"required_if=Type upload-apk"`
}

type PreFetchResponse struct {
	ConnectionID string `json:"connectionId"`
}

// UploadRequest is one byte range submission. ContentRange is the raw header
// value ("" when absent); FileSize is the X-File-Size hint (0 when absent).
type UploadRequest struct {
	ConnectionID  string
	Hash          string
	ContentRange  string
	FileSize      int64
	ContentLength int64
}

type UploadResponse struct {
	UploadedBytes int64           `json:"uploadedBytes"`
	Complete      bool            `json:"complete"`
	Verification  *VerifyResponse `json:"verification,omitempty"`
}

type UploadStatusResponse struct {
	UploadedBytes int64  `json:"uploadedBytes"`
	ExpectedBytes *int64 `json:"expectedBytes"`
}

type VerifyResponse struct {
	OK           bool   `json:"ok"`
	ComputedHash string `json:"computedHash"`
	Mismatch     bool   `json:"mismatch"`
	Size         int64  `json:"size"`
}

type SessionQuery struct {
	ConnectionID string `query:"connectionId" validate:"required"`
	Hash         string `query:"hash" validate:"required"`
}

type StateQuery struct {
	ConnectionID string `query:"connectionId" validate:"required"`
}

type LogQuery struct {
	Level  string `query:"level"`
	Module string `query:"module"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
}

// ToSource converts a validated request into the session's source descriptor.
func (r *PreFetchRequest) ToSource() entity.SourceDescriptor {
	source := entity.SourceDescriptor{Type: entity.SourceType(r.Type)}
	if r.Body != nil {
		source.UploadApk = &entity.UploadApkSource{
			Hash:     r.Body.Hash,
			FileType: entity.FileType(r.Body.FileType),
		}
	}
	return source
}
