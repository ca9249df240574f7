package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"apk-builder-be/internal/dto"
	"apk-builder-be/internal/entity"
	"apk-builder-be/internal/pkg/logger"
	"apk-builder-be/internal/repository/memory"
	"apk-builder-be/pkg/storage"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

type deltaRecorder struct {
	mu    sync.Mutex
	steps []entity.StepDelta
	logs  []entity.LogDelta
	seqs  []uint64
}

func (r *deltaRecorder) PublishStepDelta(_ string, delta entity.StepDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, delta)
	r.seqs = append(r.seqs, delta.Seq)
}

func (r *deltaRecorder) PublishLogDelta(_ string, delta entity.LogDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, delta)
	r.seqs = append(r.seqs, delta.Seq)
}

func (r *deltaRecorder) sequences() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

// flakyStore fails writes once budget bytes have been written in total.
type flakyStore struct {
	storage.ArtifactStore
	mu       sync.Mutex
	budget   int64
	readFail bool
}

func (s *flakyStore) setBudget(n int64) {
	s.mu.Lock()
	s.budget = n
	s.mu.Unlock()
}

func (s *flakyStore) Append(name string) (io.WriteCloser, error) {
	w, err := s.ArtifactStore.Append(name)
	if err != nil {
		return nil, err
	}
	return &flakyWriter{store: s, w: w}, nil
}

// failReads makes every artifact read fail after the first byte.
func (s *flakyStore) failReads() {
	s.mu.Lock()
	s.readFail = true
	s.mu.Unlock()
}

func (s *flakyStore) Open(name string) (io.ReadCloser, error) {
	r, err := s.ArtifactStore.Open(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	fail := s.readFail
	s.mu.Unlock()
	if !fail {
		return r, nil
	}
	return &brokenReader{ReadCloser: r}, nil
}

type brokenReader struct {
	io.ReadCloser
	read bool
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if b.read || len(p) == 0 {
		return 0, errors.New("bad sector")
	}
	b.read = true
	return b.ReadCloser.Read(p[:1])
}

type flakyWriter struct {
	store *flakyStore
	w     io.WriteCloser
}

func (fw *flakyWriter) Write(p []byte) (int, error) {
	fw.store.mu.Lock()
	defer fw.store.mu.Unlock()
	if fw.store.budget < 0 {
		return fw.w.Write(p)
	}
	if int64(len(p)) <= fw.store.budget {
		fw.store.budget -= int64(len(p))
		return fw.w.Write(p)
	}
	n, _ := fw.w.Write(p[:fw.store.budget])
	fw.store.budget = 0
	return n, errors.New("disk full")
}

func (fw *flakyWriter) Close() error {
	return fw.w.Close()
}

type harness struct {
	repo     *memory.SessionRepository
	store    *flakyStore
	locks    *SessionLocks
	rec      *deltaRecorder
	sessions ISessionService
	pipeline IPipelineService
	uploads  IUploadService
	verifier IVerifyService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		repo:  memory.NewSessionRepository(0, 0),
		store: &flakyStore{ArtifactStore: storage.NewMemoryStore(), budget: -1},
		locks: NewSessionLocks(),
		rec:   &deltaRecorder{},
	}
	log := logger.NewNopLogger()

	h.sessions = NewSessionService(h.repo, digest.SHA256, nil, log)
	h.pipeline = NewPipelineService(h.repo, h.rec)
	h.uploads = NewUploadService(h.sessions, h.pipeline, h.store, h.locks, nil, log, 0)
	h.verifier = NewVerifyService(h.sessions, h.pipeline, h.store, h.locks, digest.SHA256, nil, log, 0)
	return h
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (h *harness) create(t *testing.T, hash string, fileType entity.FileType) string {
	t.Helper()
	res, err := h.sessions.Create(context.Background(), &dto.PreFetchRequest{
		Type: string(entity.SourceUploadApk),
		Body: &dto.PreFetchUploadApkBody{Hash: hash, FileType: string(fileType)},
	})
	require.NoError(t, err)
	return res.ConnectionID
}

func (h *harness) send(id, hash, contentRange, body string) (*dto.UploadResponse, error) {
	return h.uploads.Upload(context.Background(), &dto.UploadRequest{
		ConnectionID:  id,
		Hash:          hash,
		ContentRange:  contentRange,
		ContentLength: int64(len(body)),
	}, strings.NewReader(body))
}

func (h *harness) step(t *testing.T, id, name string) entity.Step {
	t.Helper()
	env, err := h.pipeline.Snapshot(id)
	require.NoError(t, err)
	step, _, ok := env.State.Step(name)
	require.True(t, ok)
	return step
}

func (h *harness) artifact(t *testing.T, id string) string {
	t.Helper()
	data, err := storage.ReadAll(h.store, entity.ArtifactPath(id))
	require.NoError(t, err)
	return string(data)
}
