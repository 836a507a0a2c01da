package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loopcheck-ai/loopcheck/internal/learner"
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// BuildFunc constructs the hosted learner once the harness announces its
// namespace and persistence root during initialize.
type BuildFunc func(namespace, persistenceRoot string) (learner.Learner, error)

// Component adapts a Learner to the wire protocol's three methods. The
// learner is built lazily at initialize time, against whatever persistence
// root the harness hands over, and closed again at shutdown.
type Component struct {
	name    string
	version string
	build   BuildFunc

	mu     sync.Mutex
	l      learner.Learner
	served int
}

// NewComponent wraps build as a protocol-speaking component.
func NewComponent(name, version string, build BuildFunc) *Component {
	return &Component{name: name, version: version, build: build}
}

// Attach registers the component's method handlers on s.
func (c *Component) Attach(s *Server) {
	s.Register(types.MethodInitialize, c.handleInitialize)
	s.Register(types.MethodSubmit, c.handleSubmit)
	s.Register(types.MethodShutdown, c.handleShutdown)
}

// Close releases the hosted learner. The serve loop's owner calls it when
// the harness disappears without a shutdown request.
func (c *Component) Close() error {
	c.mu.Lock()
	l := c.l
	c.l = nil
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Close()
}

func (c *Component) handleInitialize(ctx context.Context, sess *Session, params json.RawMessage) (any, *types.RPCError) {
	if sess.State() != SessionUninitialized {
		return nil, types.NewRPCError(
			types.ErrComponentError,
			"initialize called twice",
			types.ErrTypeComponentError,
			false,
			"initialize may only be called once per session",
		)
	}

	var p types.InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(
			types.ErrComponentError,
			"invalid initialize params",
			types.ErrTypeComponentError,
			false,
			err.Error(),
		)
	}

	// A version mismatch is not an error: the harness reads Compatible
	// and reports the rejection with both versions in hand.
	if p.ProtocolVersion != types.ProtocolVersion {
		return &types.InitializeResult{
			ComponentName:    c.name,
			ComponentVersion: c.version,
			ProtocolVersion:  types.ProtocolVersion,
			Compatible:       false,
		}, nil
	}

	l, err := c.build(p.Namespace, p.PersistenceRoot)
	if err != nil {
		return nil, types.NewRPCError(
			types.ErrComponentError,
			"component construction failed",
			types.ErrTypeComponentError,
			false,
			err.Error(),
		)
	}

	c.mu.Lock()
	c.l = l
	c.mu.Unlock()
	sess.SetState(SessionReady)

	return &types.InitializeResult{
		ComponentName:    c.name,
		ComponentVersion: c.version,
		ProtocolVersion:  types.ProtocolVersion,
		Compatible:       true,
	}, nil
}

func (c *Component) handleSubmit(ctx context.Context, sess *Session, params json.RawMessage) (any, *types.RPCError) {
	if sess.State() != SessionReady {
		return nil, types.NewRPCError(
			types.ErrComponentError,
			"submit before initialize",
			types.ErrTypeComponentError,
			false,
			"call initialize before submitting tasks",
		)
	}

	var p types.SubmitParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(
			types.ErrInvalidTask,
			"invalid submit params",
			types.ErrTypeInvalidTask,
			false,
			err.Error(),
		)
	}
	if p.Task == "" {
		return nil, types.NewRPCError(
			types.ErrInvalidTask,
			"empty task",
			types.ErrTypeInvalidTask,
			false,
			"task must be a non-empty string",
		)
	}

	c.mu.Lock()
	l := c.l
	c.mu.Unlock()

	resp, err := l.Submit(ctx, p.Task)
	if err != nil {
		return nil, learnerErrorToRPC(err)
	}

	c.mu.Lock()
	c.served++
	c.mu.Unlock()

	return &types.SubmitResult{
		Response:     resp.Text,
		Quality:      resp.Quality,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

func (c *Component) handleShutdown(ctx context.Context, sess *Session, _ json.RawMessage) (any, *types.RPCError) {
	if sess.State() != SessionReady {
		return nil, types.NewRPCError(
			types.ErrComponentError,
			"shutdown before initialize",
			types.ErrTypeComponentError,
			false,
			"call initialize before shutdown",
		)
	}
	sess.SetState(SessionClosing)

	c.mu.Lock()
	l := c.l
	served := c.served
	c.l = nil
	c.mu.Unlock()

	if l != nil {
		if err := l.Close(); err != nil {
			return nil, types.NewRPCError(
				types.ErrComponentError,
				fmt.Sprintf("component close failed: %v", err),
				types.ErrTypeComponentError,
				false,
				err.Error(),
			)
		}
	}
	return &types.ShutdownResult{CallsServed: served}, nil
}

// learnerErrorToRPC maps a classified learner failure back onto the wire:
// the inverse of the harness-side mapping, so a fault injected behind the
// component round-trips with its class intact.
func learnerErrorToRPC(err error) *types.RPCError {
	class, kind := types.Classify(err)

	var code int
	var errorType string
	switch kind {
	case types.KindTimeout:
		code, errorType = types.ErrTimeout, types.ErrTypeTimeout
	case types.KindRateLimit:
		code, errorType = types.ErrRateLimit, types.ErrTypeRateLimit
	case types.KindMalformedInput:
		code, errorType = types.ErrInvalidTask, types.ErrTypeInvalidTask
	case types.KindAuthentication:
		code, errorType = types.ErrAuthentication, types.ErrTypeAuthentication
	default:
		code, errorType = types.ErrComponentError, types.ErrTypeComponentError
	}

	return types.NewRPCError(code, "submit failed", errorType,
		class == types.ErrorClassTransient, err.Error())
}
