package service

import (
	"context"
	"testing"

	"apk-builder-be/internal/dto"
	"apk-builder-be/internal/entity"
	"apk-builder-be/internal/pkg/logger"
	"apk-builder-be/pkg/events"
	pktNats "apk-builder-be/pkg/nats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReportSource struct {
	subject string
	durable string
	handler pktNats.EventHandler
}

func (f *fakeReportSource) Subscribe(_ context.Context, subject, durableName string, handler pktNats.EventHandler) error {
	f.subject, f.durable, f.handler = subject, durableName, handler
	return nil
}

func TestStepReportMovesWorkerStep(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, sha256Hex("x"), entity.FileTypeXapk)

	source := &fakeReportSource{}
	svc := NewStepReportService(source, "events.PIPELINE_STEP_REPORTED", "durable", h.pipeline, logger.NewNopLogger())
	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, "events.PIPELINE_STEP_REPORTED", source.subject)

	err := source.handler(context.Background(), events.New(events.TypeStepReported, map[string]interface{}{
		"connection_id": id,
		"step":          "unzip",
		"status":        "running",
		"progress":      40,
		"log_append":    "extracting base.apk\n",
	}))
	require.NoError(t, err)

	unzip := h.step(t, id, entity.StepUnzip)
	assert.Equal(t, entity.StepStatusRunning, unzip.Status)
	assert.Equal(t, 40, unzip.Progress)

	env, err := h.pipeline.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, "extracting base.apk\n", env.State.LogText())
	assert.Equal(t, uint64(2), env.Seq)
}

func TestStepReportValidation(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, sha256Hex("x"), entity.FileTypeXapk)
	svc := NewStepReportService(&fakeReportSource{}, "s", "d", h.pipeline, logger.NewNopLogger())

	tests := []struct {
		name   string
		report dto.StepReport
	}{
		{name: "missing connection", report: dto.StepReport{Step: "unzip", Progress: ptr(1)}},
		{name: "nothing to do", report: dto.StepReport{ConnectionID: id}},
		{name: "progress out of range", report: dto.StepReport{ConnectionID: id, Step: "unzip", Progress: ptr(101)}},
		{name: "unknown status", report: dto.StepReport{ConnectionID: id, Step: "unzip", Status: ptr("paused")}},
		{name: "unknown connection log", report: dto.StepReport{ConnectionID: "missing", LogSet: ptr("x")}},
		{name: "unknown connection step", report: dto.StepReport{ConnectionID: "missing", Step: "unzip", Progress: ptr(5)}},
		{name: "unknown step", report: dto.StepReport{ConnectionID: id, Step: "sign", Progress: ptr(5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, svc.Apply(tt.report))
		})
	}

	env, err := h.pipeline.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), env.Seq)
}
