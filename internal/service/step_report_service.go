package service

import (
	"context"
	"encoding/json"
	"fmt"

	"apk-builder-be/internal/dto"
	"apk-builder-be/internal/entity"
	"apk-builder-be/internal/pkg/logger"
	"apk-builder-be/pkg/events"
	pktNats "apk-builder-be/pkg/nats"

	"github.com/go-playground/validator/v10"
)

// StepReportSource is the subscription side of the bus that carries worker reports.
type StepReportSource interface {
	Subscribe(ctx context.Context, subject, durableName string, handler pktNats.EventHandler) error
}

// IStepReportService lets the external unzip/decompile/compile workers move
// their steps forward through the same state machine the upload path uses.
type IStepReportService interface {
	Start(ctx context.Context) error
	Apply(report dto.StepReport) error
}

type stepReportService struct {
	source      StepReportSource
	subject     string
	durableName string
	pipeline    IPipelineService
	logger      logger.ILogger
	validate    *validator.Validate
}

func NewStepReportService(
	source StepReportSource,
	subject, durableName string,
	pipeline IPipelineService,
	logger logger.ILogger,
) IStepReportService {
	return &stepReportService{
		source:      source,
		subject:     subject,
		durableName: durableName,
		pipeline:    pipeline,
		logger:      logger,
		validate:    validator.New(),
	}
}

func (s *stepReportService) Start(ctx context.Context) error {
	return s.source.Subscribe(ctx, s.subject, s.durableName, func(ctx context.Context, event events.Event) error {
		raw, err := json.Marshal(event.Payload())
		if err != nil {
			return nil
		}
		var report dto.StepReport
		if err := json.Unmarshal(raw, &report); err != nil {
			s.logger.Warn("STEP_REPORT", "Dropping malformed report", map[string]interface{}{
				"error": err.Error(),
			})
			return nil
		}
		if err := s.Apply(report); err != nil {
			s.logger.Warn("STEP_REPORT", "Rejected report", map[string]interface{}{
				"connection_id": report.ConnectionID,
				"step":          report.Step,
				"error":         err.Error(),
			})
		}
		// Rejected reports are not redelivered; they would fail the same way.
		return nil
	})
}

func (s *stepReportService) Apply(report dto.StepReport) error {
	if err := s.validate.Struct(report); err != nil {
		return err
	}

	env, err := s.pipeline.Snapshot(report.ConnectionID)
	if err != nil {
		return fmt.Errorf("unknown connection %s", report.ConnectionID)
	}

	if report.Step != "" {
		if _, _, ok := env.State.Step(report.Step); !ok {
			return fmt.Errorf("unknown step %q for connection %s", report.Step, report.ConnectionID)
		}

		patch := entity.StepPatch{
			Progress:    report.Progress,
			Title:       report.Title,
			Description: report.Description,
			Error:       report.Error,
		}
		if report.Status != nil {
			status := entity.StepStatus(*report.Status)
			patch.Status = &status
		}
		if !patch.Empty() && !s.pipeline.ApplyStepPatch(report.ConnectionID, report.Step, patch) {
			s.logger.Debug("STEP_REPORT", "Step patch changed nothing", map[string]interface{}{
				"connection_id": report.ConnectionID,
				"step":          report.Step,
			})
		}
	}

	if report.LogSet != nil || report.LogAppend != nil {
		if !s.pipeline.ApplyLogPatch(report.ConnectionID, entity.LogPatch{Set: report.LogSet, Append: report.LogAppend}) {
			return fmt.Errorf("unknown connection %s", report.ConnectionID)
		}
	}
	return nil
}
