package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"apk-builder-be/internal/dto"
	"apk-builder-be/internal/entity"
	"apk-builder-be/internal/pkg/apperror"
	"apk-builder-be/internal/pkg/logger"
	"apk-builder-be/pkg/events"
	"apk-builder-be/pkg/integrity"
	"apk-builder-be/pkg/pipeline"
	"apk-builder-be/pkg/storage"

	"github.com/opencontainers/go-digest"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type IVerifyService interface {
	// Verify hashes the persisted artifact and reconciles it with the
	// declared hash. A mismatch is a result, not an error.
	Verify(ctx context.Context, connectionID, hash string) (*dto.VerifyResponse, error)
}

type verifyService struct {
	sessions         ISessionService
	pipeline         IPipelineService
	store            storage.ArtifactStore
	locks            *SessionLocks
	algorithm        digest.Algorithm
	publisher        IPublisherService
	logger           logger.ILogger
	progressInterval time.Duration
}

func NewVerifyService(
	sessions ISessionService,
	pipeline IPipelineService,
	store storage.ArtifactStore,
	locks *SessionLocks,
	algorithm digest.Algorithm,
	publisher IPublisherService,
	logger logger.ILogger,
	progressInterval time.Duration,
) IVerifyService {
	return &verifyService{
		sessions:         sessions,
		pipeline:         pipeline,
		store:            store,
		locks:            locks,
		algorithm:        algorithm,
		publisher:        publisher,
		logger:           logger,
		progressInterval: progressInterval,
	}
}

func (s *verifyService) Verify(ctx context.Context, connectionID, hash string) (*dto.VerifyResponse, error) {
	ctx, span := otel.Tracer("app-builder").Start(ctx, "upload.verify")
	defer span.End()
	span.SetAttributes(attribute.String("connection_id", connectionID))

	res, err := s.verify(ctx, connectionID, hash)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Bool("mismatch", res.Mismatch), attribute.Int64("size", res.Size))
	return res, nil
}

func (s *verifyService) verify(ctx context.Context, connectionID, hash string) (*dto.VerifyResponse, error) {
	session, err := s.sessions.Authorize(connectionID, hash)
	if err != nil {
		return nil, err
	}

	// Wait for an in-flight range so the whole artifact is hashed.
	sem := s.locks.get(session.ID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, apperror.Wrap(apperror.CodeIOFailure, "verification cancelled", err)
	}
	defer sem.Release(1)

	name := session.StoragePath()
	size, err := s.store.Stat(name)
	if errors.Is(err, os.ErrNotExist) || (err == nil && size == 0) {
		return nil, apperror.ErrArtifactNotFound
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeIOFailure, "failed to stat artifact", err)
	}

	f, err := s.store.Open(name)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeIOFailure, "failed to open artifact", err)
	}
	defer f.Close()

	running := entity.StepStatusRunning
	started := 0
	noError := ""
	s.pipeline.ApplyStepPatch(session.ID, entity.StepVerify, entity.StepPatch{
		Status:   &running,
		Progress: &started,
		Error:    &noError,
	})

	throttle := pipeline.NewThrottle(s.progressInterval)
	computed, processed, err := integrity.Sum(ctx, s.algorithm, f, func(processed int64) {
		throttle.Do(func() {
			progress := pipeline.Progress(processed, size)
			description := fmt.Sprintf("hashed %d/%d bytes", processed, size)
			s.pipeline.ApplyStepPatch(session.ID, entity.StepVerify, entity.StepPatch{
				Progress:    &progress,
				Description: &description,
			})
		})
	})
	if err != nil {
		errMsg := err.Error()
		failed, full := entity.StepStatusError, 100
		s.pipeline.ApplyStepPatch(session.ID, entity.StepVerify, entity.StepPatch{
			Status:   &failed,
			Progress: &full,
			Error:    &errMsg,
		})
		return nil, apperror.Wrap(apperror.CodeIOFailure, "failed to hash artifact", err)
	}

	ok := integrity.Equal(computed, session.DeclaredHash)
	done := 100
	final := entity.StepPatch{Progress: &done}
	if ok {
		status, description := entity.StepStatusSuccess, "hash verified"
		final.Status, final.Description = &status, &description
	} else {
		status, description := entity.StepStatusError, "hash mismatch"
		errMsg := fmt.Sprintf("hash mismatch: expected %s, got %s", session.DeclaredHash, computed)
		final.Status, final.Description, final.Error = &status, &description, &errMsg
	}
	s.pipeline.ApplyStepPatch(session.ID, entity.StepVerify, final)

	s.logger.Info("VERIFY", "Artifact verified", map[string]interface{}{
		"connection_id": session.ID,
		"size":          processed,
		"ok":            ok,
	})

	if s.publisher != nil {
		event := events.New(events.TypeArtifactVerified, map[string]interface{}{
			"connection_id": session.ID,
			"ok":            ok,
			"computed_hash": computed,
			"size":          processed,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("VERIFY", "Failed to publish event", map[string]interface{}{
				"event": event.EventType(),
				"error": err.Error(),
			})
		}
	}

	return &dto.VerifyResponse{
		OK:           ok,
		ComputedHash: computed,
		Mismatch:     !ok,
		Size:         processed,
	}, nil
}
