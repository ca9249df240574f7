package entity

import (
	"path"
	"time"
)

type SourceType string

const (
	SourceUploadApk       SourceType = "upload-apk"
	SourceApkPure         SourceType = "apkpure"
	SourceDownloadFromURL SourceType = "download-from-url"
	SourceGooglePlay      SourceType = "google-play"
)

type FileType string

const (
	FileTypeApk  FileType = "apk"
	FileTypeXapk FileType = "xapk"
	FileTypeApks FileType = "apks"
)

// NeedsUnpacking reports whether the file is a bundle that has to be unzipped
// and recompiled into a single APK.
func (f FileType) NeedsUnpacking() bool {
	return f == FileTypeXapk || f == FileTypeApks
}

type UploadApkSource struct {
	Hash     string   `json:"hash"`
	FileType FileType `json:"filetype"`
}

// SourceDescriptor tells where the artifact comes from. Only the payload
// matching Type is set.
type SourceDescriptor struct {
	Type      SourceType       `json:"type"`
	UploadApk *UploadApkSource `json:"body,omitempty"`
}

// FileType returns the artifact file type, or "" if the source carries none.
func (s SourceDescriptor) FileType() FileType {
	if s.UploadApk != nil {
		return s.UploadApk.FileType
	}
	return ""
}

// Session tracks one upload attempt. Values returned by the repository are
// copies; State is immutable and may be shared.
type Session struct {
	ID           string
	DeclaredHash string
	Source       SourceDescriptor
	State        *PipelineState
	Sequence     uint64
	SubscriberID string
	ExpectedSize *int64
	CreatedAt    time.Time
}

// ArtifactPath is the storage location of the session's artifact, derived
// solely from the id.
func ArtifactPath(sessionID string) string {
	return path.Join(sessionID, "file.bin")
}

func (s *Session) StoragePath() string {
	return ArtifactPath(s.ID)
}
