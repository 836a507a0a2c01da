// Package learner defines the boundary to the learning component under
// validation and the transports that implement it: an in-process mock, a
// JSON-RPC subprocess client, and decorators for fault injection and
// rate limiting.
package learner

import "context"

// Response is one completed answer from the learning component.
type Response struct {
	Text         string
	Quality      float64
	InputTokens  int
	OutputTokens int
}

// Learner is a handle to the component under validation. Submit sends one
// task and blocks until the component answers, fails, or ctx expires.
// Implementations classify their failures via types.LearnerError so the
// retry policy can tell transient faults from fatal ones.
type Learner interface {
	Submit(ctx context.Context, task string) (*Response, error)
	Close() error
}

// Factory creates a fresh Learner against the same persistence root.
// The orchestrator uses it for the initial handle and again when a
// scenario demands a mid-run restart.
type Factory func() (Learner, error)
