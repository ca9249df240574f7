package service

import (
	"context"
	"errors"
	"time"

	"apk-builder-be/internal/dto"
	"apk-builder-be/internal/entity"
	"apk-builder-be/internal/pkg/apperror"
	"apk-builder-be/internal/pkg/logger"
	"apk-builder-be/internal/repository/contract"
	"apk-builder-be/pkg/events"
	"apk-builder-be/pkg/integrity"
	"apk-builder-be/pkg/pipeline"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

type ISessionService interface {
	Create(ctx context.Context, req *dto.PreFetchRequest) (*dto.PreFetchResponse, error)
	Get(id string) (entity.Session, error)
	// Authorize checks that the session exists and that hash matches the declared one.
	Authorize(id, hash string) (entity.Session, error)
	// AttachSubscriber records subscriberID as the session's live subscriber.
	// It returns false when the session does not exist.
	AttachSubscriber(id, subscriberID string) bool
	// DetachSubscriber clears the subscriber only if it is still subscriberID.
	DetachSubscriber(id, subscriberID string)
	// RecordExpectedSize stores total on first call and returns the stored value.
	RecordExpectedSize(id string, total int64) (int64, error)
}

type sessionService struct {
	repo      contract.SessionRepository
	algorithm digest.Algorithm
	publisher IPublisherService
	logger    logger.ILogger
}

func NewSessionService(
	repo contract.SessionRepository,
	algorithm digest.Algorithm,
	publisher IPublisherService,
	logger logger.ILogger,
) ISessionService {
	return &sessionService{
		repo:      repo,
		algorithm: algorithm,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *sessionService) Create(ctx context.Context, req *dto.PreFetchRequest) (*dto.PreFetchResponse, error) {
	source := req.ToSource()
	if source.Type != entity.SourceUploadApk || source.UploadApk == nil {
		return nil, apperror.Newf(apperror.CodeStructuralValidation, "source %q is not supported yet", source.Type)
	}

	hash, err := integrity.NormalizeHex(s.algorithm, source.UploadApk.Hash)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeStructuralValidation, "invalid hash", err)
	}
	source.UploadApk.Hash = hash

	state, err := pipeline.BuildInitialState(source)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeStructuralValidation, "unsupported source", err)
	}

	session := &entity.Session{
		ID:           uuid.NewString(),
		DeclaredHash: hash,
		Source:       source,
		State:        state,
		CreatedAt:    time.Now(),
	}
	if err := s.repo.Create(session); err != nil {
		return nil, apperror.Wrap(apperror.CodeIOFailure, "failed to register session", err)
	}

	s.logger.Info("SESSION", "Session created", map[string]interface{}{
		"connection_id": session.ID,
		"filetype":      string(source.UploadApk.FileType),
	})

	s.publish(ctx, events.New(events.TypeSessionCreated, map[string]interface{}{
		"connection_id": session.ID,
		"filetype":      string(source.UploadApk.FileType),
		"hash":          hash,
	}))

	return &dto.PreFetchResponse{ConnectionID: session.ID}, nil
}

func (s *sessionService) Get(id string) (entity.Session, error) {
	session, ok := s.repo.Get(id)
	if !ok {
		return entity.Session{}, apperror.ErrInvalidSession
	}
	return session, nil
}

func (s *sessionService) Authorize(id, hash string) (entity.Session, error) {
	session, err := s.Get(id)
	if err != nil {
		return entity.Session{}, err
	}
	if !integrity.Equal(session.DeclaredHash, hash) {
		return entity.Session{}, apperror.ErrHashMismatch
	}
	return session, nil
}

func (s *sessionService) AttachSubscriber(id, subscriberID string) bool {
	err := s.repo.Update(id, func(session *entity.Session) error {
		session.SubscriberID = subscriberID
		return nil
	})
	return err == nil
}

func (s *sessionService) DetachSubscriber(id, subscriberID string) {
	_ = s.repo.Update(id, func(session *entity.Session) error {
		if session.SubscriberID == subscriberID {
			session.SubscriberID = ""
		}
		return nil
	})
}

func (s *sessionService) RecordExpectedSize(id string, total int64) (int64, error) {
	var stored int64
	err := s.repo.Update(id, func(session *entity.Session) error {
		if session.ExpectedSize == nil {
			v := total
			session.ExpectedSize = &v
		}
		stored = *session.ExpectedSize
		return nil
	})
	if err != nil {
		return 0, apperror.ErrInvalidSession
	}
	return stored, nil
}

func (s *sessionService) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("SESSION", "Failed to publish event", map[string]interface{}{
			"event": event.EventType(),
			"error": err.Error(),
		})
	}
}
