package service

import (
	"testing"

	"apk-builder-be/internal/entity"
	"apk-builder-be/pkg/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestApplyStepPatch(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, sha256Hex("x"), entity.FileTypeApk)

	assert.False(t, h.pipeline.ApplyStepPatch("missing", entity.StepUpload, entity.StepPatch{Progress: ptr(1)}))
	assert.False(t, h.pipeline.ApplyStepPatch(id, entity.StepCompile, entity.StepPatch{Progress: ptr(1)}))
	assert.False(t, h.pipeline.ApplyStepPatch(id, entity.StepUpload, entity.StepPatch{Status: ptr(entity.StepStatus("paused"))}))

	require.True(t, h.pipeline.ApplyStepPatch(id, entity.StepUpload, entity.StepPatch{
		Status:   ptr(entity.StepStatusRunning),
		Progress: ptr(10),
	}))

	require.Len(t, h.rec.steps, 1)
	delta := h.rec.steps[0]
	assert.Equal(t, entity.StepUpload, delta.Name)
	assert.Equal(t, uint64(1), delta.Seq)
	assert.Equal(t, 10, *delta.Changes.Progress)
	assert.Nil(t, delta.Changes.Title)
}

func TestRedundantStepPatchIsNoop(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, sha256Hex("x"), entity.FileTypeApk)

	patch := entity.StepPatch{Status: ptr(entity.StepStatusRunning), Progress: ptr(50)}
	require.True(t, h.pipeline.ApplyStepPatch(id, entity.StepUpload, patch))

	for i := 0; i < 3; i++ {
		assert.False(t, h.pipeline.ApplyStepPatch(id, entity.StepUpload, patch))
	}

	env, err := h.pipeline.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), env.Seq)
	assert.Len(t, h.rec.steps, 1)
}

func TestProgressIsClamped(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, sha256Hex("x"), entity.FileTypeApk)

	require.True(t, h.pipeline.ApplyStepPatch(id, entity.StepUpload, entity.StepPatch{Progress: ptr(250)}))
	assert.Equal(t, 100, h.step(t, id, entity.StepUpload).Progress)
}

func TestApplyLogPatch(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, sha256Hex("x"), entity.FileTypeApk)

	require.True(t, h.pipeline.ApplyLogPatch(id, entity.LogPatch{Append: ptr("unzipping\n")}))
	require.True(t, h.pipeline.ApplyLogPatch(id, entity.LogPatch{Append: ptr("")}))
	require.True(t, h.pipeline.ApplyLogPatch(id, entity.LogPatch{Append: ptr("done\n")}))

	env, err := h.pipeline.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, "unzipping\ndone\n", env.State.LogText())
	assert.Equal(t, uint64(3), env.Seq)

	require.True(t, h.pipeline.ApplyLogPatch(id, entity.LogPatch{Set: ptr("reset")}))
	env, err = h.pipeline.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, "reset", env.State.LogText())

	require.Len(t, h.rec.logs, 4)
	assert.Equal(t, entity.LogModeAppend, h.rec.logs[1].Mode)
	assert.Equal(t, "", h.rec.logs[1].Delta)
	assert.Equal(t, entity.LogModeSet, h.rec.logs[3].Mode)

	assert.False(t, h.pipeline.ApplyLogPatch("missing", entity.LogPatch{Append: ptr("x")}))
	assert.False(t, h.pipeline.ApplyLogPatch(id, entity.LogPatch{}))
}

func TestSnapshotIsNotAffectedByLaterPatches(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, sha256Hex("x"), entity.FileTypeApk)

	before, err := h.pipeline.Snapshot(id)
	require.NoError(t, err)

	require.True(t, h.pipeline.ApplyStepPatch(id, entity.StepUpload, entity.StepPatch{Progress: ptr(70)}))

	step, _, _ := before.State.Step(entity.StepUpload)
	assert.Equal(t, 0, step.Progress)
	assert.Equal(t, uint64(0), before.Seq)
}

func TestSequenceStrictlyIncreasesAcrossUploadAndVerify(t *testing.T) {
	h := newHarness(t)
	payload := "some apk bytes"
	hash := sha256Hex(payload)
	id := h.create(t, hash, entity.FileTypeXapk)

	_, err := h.send(id, hash, "bytes 0-4/14", payload[:5])
	require.NoError(t, err)
	require.True(t, h.pipeline.ApplyLogPatch(id, entity.LogPatch{Append: ptr("half way\n")}))
	_, err = h.send(id, hash, "bytes 5-13/14", payload[5:])
	require.NoError(t, err)
	_, err = h.verifier.Verify(t.Context(), id, hash)
	require.NoError(t, err)

	seqs := h.rec.sequences()
	require.NotEmpty(t, seqs)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}

	env, err := h.pipeline.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, seqs[len(seqs)-1], env.Seq)
}

func TestDeltaReplayConvergesToSnapshot(t *testing.T) {
	h := newHarness(t)
	payload := "replay me please"
	hash := sha256Hex(payload)
	id := h.create(t, hash, entity.FileTypeApks)

	initial, err := h.pipeline.Snapshot(id)
	require.NoError(t, err)

	_, err = h.send(id, hash, "bytes 0-5/16", payload[:6])
	require.NoError(t, err)
	h.pipeline.ApplyLogPatch(id, entity.LogPatch{Append: ptr("a")})
	_, err = h.send(id, hash, "bytes 6-15/16", payload[6:])
	require.NoError(t, err)
	h.pipeline.ApplyLogPatch(id, entity.LogPatch{Set: ptr("b")})
	h.pipeline.ApplyStepPatch(id, entity.StepUnzip, entity.StepPatch{Status: ptr(entity.StepStatusRunning), Error: ptr("boom")})
	h.pipeline.ApplyStepPatch(id, entity.StepUnzip, entity.StepPatch{Error: ptr("")})
	_, err = h.verifier.Verify(t.Context(), id, hash)
	require.NoError(t, err)

	// Interleave step and log deltas back into sequence order.
	state := initial.State
	steps, logs := h.rec.steps, h.rec.logs
	for seq := uint64(1); len(steps)+len(logs) > 0; seq++ {
		if len(steps) > 0 && steps[0].Seq == seq {
			current, i, ok := state.Step(steps[0].Name)
			require.True(t, ok)
			state = state.WithStep(i, pipeline.Apply(current, steps[0].Changes))
			steps = steps[1:]
			continue
		}
		require.NotEmpty(t, logs)
		require.Equal(t, seq, logs[0].Seq)
		if logs[0].Mode == entity.LogModeSet {
			state = state.WithLog(logs[0].Delta)
		} else {
			state = state.WithLog(state.LogText() + logs[0].Delta)
		}
		logs = logs[1:]
	}

	final, err := h.pipeline.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, final.State.Steps, state.Steps)
	assert.Equal(t, final.State.LogText(), state.LogText())
}
