// Package server hosts a learning component behind the wire protocol the
// harness speaks: newline-delimited JSON-RPC 2.0 over a byte stream, with
// the methods initialize, submit and shutdown. The CLI uses it to expose
// the built-in mock component as a subprocess, so the rpc transport can be
// exercised end to end without writing an external component first.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// SessionState tracks where one component process is in its lifecycle.
// initialize moves it from uninitialized to ready; shutdown moves it from
// ready to closing, after which the serve loop drains and exits.
type SessionState string

// Session states.
const (
	SessionUninitialized SessionState = "uninitialized"
	SessionReady         SessionState = "ready"
	SessionClosing       SessionState = "closing"
)

// Session is the per-process protocol state shared with method handlers.
type Session struct {
	mu    sync.Mutex
	state SessionState
}

// State returns the current lifecycle position.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session to a new lifecycle position.
func (s *Session) SetState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Handler serves one JSON-RPC method. A non-nil RPCError becomes the
// response's error object; otherwise the returned value is the result.
type Handler func(ctx context.Context, sess *Session, params json.RawMessage) (any, *types.RPCError)

// Server reads NDJSON requests from a reader and writes NDJSON responses
// to a writer, one request at a time. The harness is strictly sequential,
// so the server is too.
type Server struct {
	scanner  *bufio.Scanner
	writer   *bufio.Writer
	writeMu  sync.Mutex
	session  *Session
	handlers map[string]Handler
	logger   *slog.Logger
}

// New creates a server reading requests from in and answering on out.
func New(in io.Reader, out io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(in)
	// 10 MB line buffer for harnesses that send very long tasks.
	const maxScanBuf = 10 * 1024 * 1024
	scanner.Buffer(make([]byte, maxScanBuf), maxScanBuf)

	return &Server{
		scanner:  scanner,
		writer:   bufio.NewWriter(out),
		session:  &Session{state: SessionUninitialized},
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register binds a handler to a JSON-RPC method name.
func (s *Server) Register(method string, h Handler) {
	s.handlers[method] = h
}

// Run serves requests until the input closes, the session shuts down, or
// ctx is canceled. A clean shutdown or EOF returns nil.
func (s *Server) Run(ctx context.Context) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		for s.scanner.Scan() {
			line := make([]byte, len(s.scanner.Bytes()))
			copy(line, s.scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := s.scanner.Err(); err != nil {
			scanErr <- err
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if len(line) == 0 {
				continue
			}
			s.writeResponse(s.dispatch(ctx, line))
			if s.session.State() == SessionClosing {
				return nil
			}
		}
	}
}

// dispatch parses one request line and routes it to its handler. Protocol
// violations answer with the standard JSON-RPC error codes.
func (s *Server) dispatch(ctx context.Context, line []byte) *types.Response {
	var req types.Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Error("unparseable request line", "error", err)
		return types.NewErrorResponse(0, &types.RPCError{
			Code:    -32700,
			Message: "parse error",
			Data: &types.ErrorData{
				ErrorType: "PARSE_ERROR",
				Retryable: false,
				Detail:    err.Error(),
			},
		})
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		s.logger.Error("invalid request", "method", req.Method)
		return types.NewErrorResponse(req.ID, &types.RPCError{
			Code:    -32600,
			Message: "invalid request",
			Data: &types.ErrorData{
				ErrorType: "INVALID_REQUEST",
				Retryable: false,
				Detail:    `jsonrpc must be "2.0" and method must be non-empty`,
			},
		})
	}

	h, ok := s.handlers[req.Method]
	if !ok {
		s.logger.Warn("method not found", "method", req.Method)
		return types.NewErrorResponse(req.ID, &types.RPCError{
			Code:    -32601,
			Message: "method not found",
			Data: &types.ErrorData{
				ErrorType: "METHOD_NOT_FOUND",
				Retryable: false,
				Detail:    "unknown method: " + req.Method,
			},
		})
	}

	result, rpcErr := h(ctx, s.session, req.Params)
	if rpcErr != nil {
		return types.NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := types.NewSuccessResponse(req.ID, result)
	if err != nil {
		s.logger.Error("marshal result failed", "method", req.Method, "error", err)
		return types.NewErrorResponse(req.ID, types.NewRPCError(
			types.ErrInternalError,
			"failed to marshal result",
			types.ErrTypeInternalError,
			false,
			err.Error(),
		))
	}
	return resp
}

// writeResponse emits one compact JSON line.
func (s *Server) writeResponse(resp *types.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response failed", "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = s.writer.Write(data)
	_ = s.writer.WriteByte('\n')
	_ = s.writer.Flush()
}
