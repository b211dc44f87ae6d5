package relay

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/harun/mcpagent/pkg/agent"
)

// Runner answers one query. *agent.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, query string, maxSteps int) (agent.Answer, error)
}

type runnerBox struct {
	runner Runner
}

// Handle holds the agent the relay delegates to. It is empty until Set succeeds and
// never changes afterwards, so readers see either no agent or a fully built one.
type Handle struct {
	p atomic.Pointer[runnerBox]
}

// NewHandle returns an empty handle
func NewHandle() *Handle {
	return &Handle{}
}

// Set installs the runner. Only the first call succeeds.
func (h *Handle) Set(r Runner) error {
	if r == nil {
		return errors.New("runner is required")
	}
	if !h.p.CompareAndSwap(nil, &runnerBox{runner: r}) {
		return errors.New("agent handle already set")
	}
	return nil
}

// Get returns the runner, or ErrNotReady while the handle is empty
func (h *Handle) Get() (Runner, error) {
	box := h.p.Load()
	if box == nil {
		return nil, ErrNotReady
	}
	return box.runner, nil
}

// Ready reports whether a runner is installed
func (h *Handle) Ready() bool {
	return h.p.Load() != nil
}
