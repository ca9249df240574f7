package service

import (
	"context"
	"strings"
	"testing"

	"apk-builder-be/internal/dto"
	"apk-builder-be/internal/entity"
	"apk-builder-be/internal/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSession(t *testing.T) {
	h := newHarness(t)
	hash := strings.ToUpper(sha256Hex("hello"))

	id := h.create(t, hash, entity.FileTypeXapk)

	session, err := h.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(hash), session.DeclaredHash)
	assert.Equal(t, uint64(0), session.Sequence)
	assert.Equal(t, "xapk processing", session.State.Title)
	assert.Len(t, session.State.Steps, 5)
	assert.Equal(t, id+"/file.bin", session.StoragePath())
}

func TestCreateSessionRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		req  *dto.PreFetchRequest
	}{
		{
			name: "source without upload",
			req:  &dto.PreFetchRequest{Type: string(entity.SourceGooglePlay)},
		},
		{
			name: "short hash",
			req: &dto.PreFetchRequest{
				Type: string(entity.SourceUploadApk),
				Body: &dto.PreFetchUploadApkBody{Hash: "abcd", FileType: "apk"},
			},
		},
		{
			name: "unknown file type",
			req: &dto.PreFetchRequest{
				Type: string(entity.SourceUploadApk),
				Body: &dto.PreFetchUploadApkBody{Hash: sha256Hex("x"), FileType: "ipa"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.sessions.Create(context.Background(), tt.req)
			assert.ErrorIs(t, err, apperror.ErrStructuralValidation)
		})
	}
	assert.Equal(t, 0, h.repo.Count())
}

func TestSubscriberAttachment(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, sha256Hex("x"), entity.FileTypeApk)

	assert.False(t, h.sessions.AttachSubscriber("missing", "sock-1"))
	require.True(t, h.sessions.AttachSubscriber(id, "sock-1"))

	// Last socket wins.
	require.True(t, h.sessions.AttachSubscriber(id, "sock-2"))
	session, _ := h.sessions.Get(id)
	assert.Equal(t, "sock-2", session.SubscriberID)

	// A stale socket closing does not detach the new one.
	h.sessions.DetachSubscriber(id, "sock-1")
	session, _ = h.sessions.Get(id)
	assert.Equal(t, "sock-2", session.SubscriberID)

	h.sessions.DetachSubscriber(id, "sock-2")
	session, _ = h.sessions.Get(id)
	assert.Empty(t, session.SubscriberID)
}

func TestRecordExpectedSizeFirstWriteWins(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, sha256Hex("x"), entity.FileTypeApk)

	got, err := h.sessions.RecordExpectedSize(id, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)

	got, err = h.sessions.RecordExpectedSize(id, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)

	_, err = h.sessions.RecordExpectedSize("missing", 10)
	assert.ErrorIs(t, err, apperror.ErrInvalidSession)
}
