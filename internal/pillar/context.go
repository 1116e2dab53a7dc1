// Package pillar is the orchestration layer: request contexts, the
// internal tool registry, intent routing, eager pre-loading, and the
// guidance generator behind the agent-facing verbs.
package pillar

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UpRoot-Company/uprootmcp/internal/config"
)

// Step is one recorded tool invocation.
type Step struct {
	Tool     string        `json:"tool"`
	Summary  string        `json:"summary,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Context carries per-request state: the ordered step log and the
// immutable feature-flag snapshot.
type Context struct {
	RequestID string
	Flags     config.Flags
	StartedAt time.Time

	mu    sync.Mutex
	steps []Step
}

// NewContext creates a request context with its flag snapshot.
func NewContext(flags config.Flags) *Context {
	return &Context{
		RequestID: uuid.NewString(),
		Flags:     flags,
		StartedAt: time.Now(),
	}
}

// Record appends a step to the log.
func (c *Context) Record(step Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step)
}

// Steps returns a copy of the ordered step log.
func (c *Context) Steps() []Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Step, len(c.steps))
	copy(out, c.steps)
	return out
}
