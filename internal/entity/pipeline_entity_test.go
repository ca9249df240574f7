package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPipelineStateRejectsDuplicates(t *testing.T) {
	_, err := NewPipelineState("dup", []Step{
		{Name: "upload", Status: StepStatusWaiting},
		{Name: "upload", Status: StepStatusWaiting},
	})
	assert.Error(t, err)
}

func TestNewPipelineStateRequiresWaiting(t *testing.T) {
	_, err := NewPipelineState("bad", []Step{{Name: "upload", Status: StepStatusRunning}})
	assert.Error(t, err)
}

func TestWithStepLeavesOriginalUntouched(t *testing.T) {
	state, err := NewPipelineState("APK processing", []Step{
		{Name: "upload", Status: StepStatusWaiting},
		{Name: "verify", Status: StepStatusWaiting},
	})
	require.NoError(t, err)

	step, i, ok := state.Step("verify")
	require.True(t, ok)
	step.Status = StepStatusSuccess
	next := state.WithStep(i, step)

	assert.Equal(t, StepStatusWaiting, state.Steps[1].Status)
	assert.Equal(t, StepStatusSuccess, next.Steps[1].Status)

	logged := next.WithLog("hello")
	assert.Equal(t, "", next.LogText())
	assert.Equal(t, "hello", logged.LogText())
}

func TestPipelineStateJSONRoundTripKeepsIndex(t *testing.T) {
	state, err := NewPipelineState("APK processing", []Step{
		{Name: "upload", Status: StepStatusWaiting},
		{Name: "verify", Status: StepStatusWaiting},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded PipelineState
	require.NoError(t, json.Unmarshal(raw, &decoded))

	_, i, ok := decoded.Step("verify")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
}
