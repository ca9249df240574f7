package service

import (
	"apk-builder-be/internal/entity"
	"apk-builder-be/internal/pkg/apperror"
	"apk-builder-be/internal/repository/contract"
	"apk-builder-be/pkg/pipeline"
)

// PipelineBroadcaster fans deltas out to the subscribers of a session.
// Delivery is fire-and-forget.
type PipelineBroadcaster interface {
	PublishStepDelta(sessionID string, delta entity.StepDelta)
	PublishLogDelta(sessionID string, delta entity.LogDelta)
}

type IPipelineService interface {
	// ApplyStepPatch merges patch into the named step. It returns false when
	// the session or step is unknown, the patch is invalid, or nothing changed.
	ApplyStepPatch(sessionID, stepName string, patch entity.StepPatch) bool
	// ApplyLogPatch appends to or replaces the log. Every call bumps the
	// sequence, including empty appends.
	ApplyLogPatch(sessionID string, patch entity.LogPatch) bool
	Snapshot(sessionID string) (entity.Envelope, error)
}

type pipelineService struct {
	repo        contract.SessionRepository
	broadcaster PipelineBroadcaster
}

// NewPipelineService builds the state machine. broadcaster may be nil.
func NewPipelineService(repo contract.SessionRepository, broadcaster PipelineBroadcaster) IPipelineService {
	return &pipelineService{
		repo:        repo,
		broadcaster: broadcaster,
	}
}

func (s *pipelineService) ApplyStepPatch(sessionID, stepName string, patch entity.StepPatch) bool {
	if patch.Status != nil && !patch.Status.Valid() {
		return false
	}
	if patch.Progress != nil {
		p := clampProgress(*patch.Progress)
		patch.Progress = &p
	}

	accepted := false
	_ = s.repo.Update(sessionID, func(session *entity.Session) error {
		current, i, ok := session.State.Step(stepName)
		if !ok {
			return nil
		}
		changes, next := pipeline.Diff(current, patch)
		if changes.Empty() {
			return nil
		}

		session.State = session.State.WithStep(i, next)
		session.Sequence++
		accepted = true

		// Emitting under the session lock keeps delivery order equal to sequence order.
		if s.broadcaster != nil {
			s.broadcaster.PublishStepDelta(sessionID, entity.StepDelta{
				Name:    stepName,
				Changes: changes,
				Seq:     session.Sequence,
			})
		}
		return nil
	})
	return accepted
}

func (s *pipelineService) ApplyLogPatch(sessionID string, patch entity.LogPatch) bool {
	if patch.Set == nil && patch.Append == nil {
		return false
	}

	err := s.repo.Update(sessionID, func(session *entity.Session) error {
		delta := entity.LogDelta{}
		if patch.Set != nil {
			delta.Mode = entity.LogModeSet
			delta.Delta = *patch.Set
			session.State = session.State.WithLog(*patch.Set)
		} else {
			delta.Mode = entity.LogModeAppend
			delta.Delta = *patch.Append
			session.State = session.State.WithLog(session.State.LogText() + *patch.Append)
		}
		session.Sequence++
		delta.Seq = session.Sequence

		if s.broadcaster != nil {
			s.broadcaster.PublishLogDelta(sessionID, delta)
		}
		return nil
	})
	return err == nil
}

func (s *pipelineService) Snapshot(sessionID string) (entity.Envelope, error) {
	session, ok := s.repo.Get(sessionID)
	if !ok {
		return entity.Envelope{}, apperror.ErrInvalidSession
	}
	return entity.Envelope{State: session.State, Seq: session.Sequence}, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
