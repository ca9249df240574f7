// Package syncclient is the subscriber side of the app builder: a local
// mirror of a session's pipeline that applies sequenced deltas, a websocket
// watcher that keeps it current, and an HTTP uploader for resumable uploads.
package syncclient

import (
	"sync"

	"apk-builder-be/internal/entity"
	"apk-builder-be/pkg/pipeline"
)

type Result int

const (
	// Applied means the delta was the next one and is now reflected.
	Applied Result = iota
	// Stale means the delta is already covered by the mirror.
	Stale
	// Gap means at least one delta was missed; request a snapshot.
	Gap
	// Pending means no snapshot was received yet.
	Pending
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Gap:
		return "gap"
	default:
		return "pending"
	}
}

// Mirror holds the last known pipeline state and its sequence. It is safe
// for concurrent use.
type Mirror struct {
	mu    sync.RWMutex
	state *entity.PipelineState
	seq   uint64
}

func NewMirror() *Mirror {
	return &Mirror{}
}

// ApplySnapshot replaces the mirror unless it is older than what is held.
func (m *Mirror) ApplySnapshot(env entity.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if env.State == nil {
		return
	}
	if m.state != nil && env.Seq < m.seq {
		return
	}
	m.state, m.seq = env.State, env.Seq
}

func (m *Mirror) ApplyStepDelta(delta entity.StepDelta) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.check(delta.Seq); r != Applied {
		return r
	}

	step, i, ok := m.state.Step(delta.Name)
	if !ok {
		// A step we do not know means our snapshot is from another pipeline.
		return Gap
	}
	m.state = m.state.WithStep(i, pipeline.Apply(step, delta.Changes))
	m.seq = delta.Seq
	return Applied
}

func (m *Mirror) ApplyLogDelta(delta entity.LogDelta) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.check(delta.Seq); r != Applied {
		return r
	}

	switch delta.Mode {
	case entity.LogModeSet:
		m.state = m.state.WithLog(delta.Delta)
	default:
		m.state = m.state.WithLog(m.state.LogText() + delta.Delta)
	}
	m.seq = delta.Seq
	return Applied
}

func (m *Mirror) check(seq uint64) Result {
	switch {
	case m.state == nil:
		return Pending
	case seq <= m.seq:
		return Stale
	case seq != m.seq+1:
		return Gap
	}
	return Applied
}

// Snapshot returns the mirrored state. State is nil before the first snapshot.
func (m *Mirror) Snapshot() entity.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return entity.Envelope{State: m.state, Seq: m.seq}
}
