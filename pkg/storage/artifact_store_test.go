package storage

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendBytes(t *testing.T, s ArtifactStore, name string, data string) {
	t.Helper()
	w, err := s.Append(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func testAppendResume(t *testing.T, s ArtifactStore) {
	size, err := s.Size("abc/file.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	appendBytes(t, s, "abc/file.bin", "hel")
	appendBytes(t, s, "abc/file.bin", "lo")

	size, err = s.Size("abc/file.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	data, err := ReadAll(s, "abc/file.bin")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func testStatMissing(t *testing.T, s ArtifactStore) {
	_, err := s.Stat("missing/file.bin")
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
}

func testRemoveAll(t *testing.T, s ArtifactStore) {
	appendBytes(t, s, "gone/file.bin", "x")
	require.NoError(t, s.RemoveAll("gone"))

	_, err := s.Stat("gone/file.bin")
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NoError(t, s.RemoveAll("never-existed"))
}

func TestMemoryStore(t *testing.T) {
	t.Run("append resume", func(t *testing.T) { testAppendResume(t, NewMemoryStore()) })
	t.Run("stat missing", func(t *testing.T) { testStatMissing(t, NewMemoryStore()) })
	t.Run("remove all", func(t *testing.T) { testRemoveAll(t, NewMemoryStore()) })
}

func TestOSStore(t *testing.T) {
	t.Run("append resume", func(t *testing.T) { testAppendResume(t, NewOSStore(t.TempDir())) })
	t.Run("stat missing", func(t *testing.T) { testStatMissing(t, NewOSStore(t.TempDir())) })
	t.Run("remove all", func(t *testing.T) { testRemoveAll(t, NewOSStore(t.TempDir())) })
}
