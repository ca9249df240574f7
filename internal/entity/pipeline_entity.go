package entity

import (
	"encoding/json"
	"fmt"
)

type StepStatus string

const (
	StepStatusWaiting   StepStatus = "waiting"
	StepStatusRunning   StepStatus = "running"
	StepStatusSuccess   StepStatus = "success"
	StepStatusWarning   StepStatus = "warning"
	StepStatusError     StepStatus = "error"
	StepStatusCancelled StepStatus = "cancelled"
)

func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusWaiting, StepStatusRunning, StepStatusSuccess,
		StepStatusWarning, StepStatusError, StepStatusCancelled:
		return true
	}
	return false
}

// Step names used by the pipelines.
const (
	StepUpload    = "upload"
	StepVerify    = "verify"
	StepUnzip     = "unzip"
	StepDecompile = "decompile"
	StepCompile   = "compile"
)

type Step struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	Progress    int        `json:"progress"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Error       *string    `json:"error,omitempty"`
}

// PipelineState is an immutable value. Mutations build a new value through
// WithStep/WithLog so a snapshot handed to a reader never changes under it.
type PipelineState struct {
	Title string  `json:"title"`
	Steps []Step  `json:"steps"`
	Log   *string `json:"log,omitempty"`

	index map[string]int
}

// NewPipelineState fixes the step order and identity. Names must be unique
// and every step must start in the waiting status.
func NewPipelineState(title string, steps []Step) (*PipelineState, error) {
	index := make(map[string]int, len(steps))
	for i, step := range steps {
		if _, dup := index[step.Name]; dup {
			return nil, fmt.Errorf("duplicate step name %q", step.Name)
		}
		if step.Status != StepStatusWaiting {
			return nil, fmt.Errorf("step %q must start as %s, got %s", step.Name, StepStatusWaiting, step.Status)
		}
		index[step.Name] = i
	}

	copied := make([]Step, len(steps))
	copy(copied, steps)
	return &PipelineState{Title: title, Steps: copied, index: index}, nil
}

// Step returns the named step and its position.
func (p *PipelineState) Step(name string) (Step, int, bool) {
	i, ok := p.index[name]
	if !ok {
		return Step{}, -1, false
	}
	return p.Steps[i], i, true
}

// WithStep returns a copy with the step at position i replaced. The name
// index is shared because names and order never change.
func (p *PipelineState) WithStep(i int, step Step) *PipelineState {
	steps := make([]Step, len(p.Steps))
	copy(steps, p.Steps)
	steps[i] = step
	return &PipelineState{Title: p.Title, Steps: steps, Log: p.Log, index: p.index}
}

func (p *PipelineState) WithLog(log string) *PipelineState {
	return &PipelineState{Title: p.Title, Steps: p.Steps, Log: &log, index: p.index}
}

// UnmarshalJSON rebuilds the name index so decoded snapshots support Step lookups.
func (p *PipelineState) UnmarshalJSON(data []byte) error {
	type plain PipelineState
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = PipelineState(raw)
	p.index = make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		p.index[step.Name] = i
	}
	return nil
}

// LogText returns the accumulated log or "" when none was written.
func (p *PipelineState) LogText() string {
	if p.Log == nil {
		return ""
	}
	return *p.Log
}

// StepPatch carries the fields a caller wants to set. Nil means "leave as is".
type StepPatch struct {
	Progress    *int        `json:"progress,omitempty"`
	Status      *StepStatus `json:"status,omitempty"`
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Error       *string     `json:"error,omitempty"`
}

// StepChanges is the subset of a patch that actually differed from the step.
type StepChanges = StepPatch

func (c StepPatch) Empty() bool {
	return c.Progress == nil && c.Status == nil && c.Title == nil && c.Description == nil && c.Error == nil
}

type LogMode string

const (
	LogModeAppend LogMode = "append"
	LogModeSet    LogMode = "set"
)

// LogPatch either replaces the log (Set) or appends to it. Set wins when both are given.
type LogPatch struct {
	Append *string `json:"append,omitempty"`
	Set    *string `json:"set,omitempty"`
}

// StepDelta is broadcast after an accepted step patch.
type StepDelta struct {
	Name    string      `json:"name"`
	Changes StepChanges `json:"changes"`
	Seq     uint64      `json:"seq"`
}

// LogDelta is broadcast after every log patch.
type LogDelta struct {
	Mode  LogMode `json:"mode"`
	Delta string  `json:"delta"`
	Seq   uint64  `json:"seq"`
}

// Envelope is a point-in-time snapshot of a session's pipeline.
type Envelope struct {
	State *PipelineState `json:"state"`
	Seq   uint64         `json:"seq"`
}
