package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileTypeNeedsUnpacking(t *testing.T) {
	assert.False(t, FileTypeApk.NeedsUnpacking())
	assert.True(t, FileTypeXapk.NeedsUnpacking())
	assert.True(t, FileTypeApks.NeedsUnpacking())
	assert.False(t, FileType("ipa").NeedsUnpacking())
}

func TestSourceDescriptorFileType(t *testing.T) {
	src := SourceDescriptor{Type: SourceUploadApk, UploadApk: &UploadApkSource{FileType: FileTypeXapk}}
	assert.Equal(t, FileTypeXapk, src.FileType())
	assert.Equal(t, FileType(""), SourceDescriptor{Type: SourceGooglePlay}.FileType())
}
