package learner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// shutdownGrace bounds how long Close waits for a clean component exit.
const shutdownGrace = 3 * time.Second

// RPCConfig describes a component reachable over NDJSON JSON-RPC.
type RPCConfig struct {
	// Command launches the component subprocess, argv style.
	Command []string
	// Namespace and PersistenceRoot are announced during initialize.
	Namespace       string
	PersistenceRoot string
	// HarnessVersion is reported to the component; empty means "dev".
	HarnessVersion string
}

// RPC is a Learner backed by an external component process speaking
// newline-delimited JSON-RPC 2.0 over stdin/stdout. Calls are matched to
// responses by request ID, so a response that arrives after its caller
// gave up is discarded instead of corrupting the stream.
type RPC struct {
	logger *slog.Logger

	writeMu sync.Mutex
	writer  *bufio.Writer

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *types.Response
	readErr error

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	cmd   *exec.Cmd
	stdin io.Closer
}

// StartRPC launches the component subprocess described by cfg, attaches to
// its pipes and performs the initialize handshake. The returned learner is
// ready for Submit.
func StartRPC(cfg RPCConfig, logger *slog.Logger) (*RPC, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("rpc learner: empty command")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...) //nolint:gosec
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("rpc learner: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("rpc learner: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("rpc learner: start %q: %w", cfg.Command[0], err)
	}

	l := NewRPCPipe(stdout, stdin, logger)
	l.cmd = cmd
	l.stdin = stdin

	if err := l.initialize(cfg); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// NewRPCPipe attaches an RPC learner to an already-open transport. Tests
// and in-process components use it directly; no handshake is performed.
func NewRPCPipe(in io.Reader, out io.Writer, logger *slog.Logger) *RPC {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(in)
	// 10 MB line buffer for components with large answers.
	const maxScanBuf = 10 * 1024 * 1024
	scanner.Buffer(make([]byte, maxScanBuf), maxScanBuf)

	l := &RPC{
		logger:  logger,
		writer:  bufio.NewWriter(out),
		pending: map[int64]chan *types.Response{},
		done:    make(chan struct{}),
	}
	go l.readLoop(scanner)
	return l
}

// Initialize performs the protocol handshake against an already-attached
// transport. StartRPC calls it automatically.
func (l *RPC) Initialize(namespace, persistenceRoot, harnessVersion string) error {
	return l.initialize(RPCConfig{
		Namespace:       namespace,
		PersistenceRoot: persistenceRoot,
		HarnessVersion:  harnessVersion,
	})
}

func (l *RPC) initialize(cfg RPCConfig) error {
	version := cfg.HarnessVersion
	if version == "" {
		version = "dev"
	}
	params := types.InitializeParams{
		HarnessName:     "loopcheck",
		HarnessVersion:  version,
		ProtocolVersion: types.ProtocolVersion,
		Namespace:       cfg.Namespace,
		PersistenceRoot: cfg.PersistenceRoot,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var result types.InitializeResult
	if err := l.call(ctx, types.MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("rpc learner: initialize: %w", err)
	}
	if !result.Compatible {
		return fmt.Errorf("rpc learner: component %s %s rejected protocol version %d",
			result.ComponentName, result.ComponentVersion, types.ProtocolVersion)
	}
	if result.ProtocolVersion != types.ProtocolVersion {
		return fmt.Errorf("rpc learner: protocol version mismatch: harness %d, component %d",
			types.ProtocolVersion, result.ProtocolVersion)
	}

	l.logger.Info("component initialized",
		"component", result.ComponentName,
		"version", result.ComponentVersion)
	return nil
}

// Submit sends one task and waits for the component's answer or ctx expiry.
func (l *RPC) Submit(ctx context.Context, task string) (*Response, error) {
	var result types.SubmitResult
	if err := l.call(ctx, types.MethodSubmit, types.SubmitParams{Task: task}, &result); err != nil {
		return nil, err
	}
	return &Response{
		Text:         result.Response,
		Quality:      result.Quality,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
	}, nil
}

// Close sends shutdown, closes the transport and reaps the subprocess.
// Safe to call more than once.
func (l *RPC) Close() error {
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		var result types.ShutdownResult
		if err := l.call(ctx, types.MethodShutdown, struct{}{}, &result); err != nil {
			l.logger.Warn("component shutdown request failed", "error", err)
		} else {
			l.logger.Info("component shut down", "calls_served", result.CallsServed)
		}

		if l.stdin != nil {
			_ = l.stdin.Close()
		}
		if l.cmd != nil {
			done := make(chan error, 1)
			go func() { done <- l.cmd.Wait() }()
			select {
			case err := <-done:
				if err != nil {
					l.closeErr = fmt.Errorf("rpc learner: component exit: %w", err)
				}
			case <-time.After(shutdownGrace):
				_ = l.cmd.Process.Kill()
				<-done
				l.closeErr = fmt.Errorf("rpc learner: component killed after %s grace", shutdownGrace)
			}
		}
	})
	return l.closeErr
}

// call performs one request/response exchange. Transport failures come
// back as transient connection resets; component-reported errors carry
// the class the component chose via the retryable flag.
func (l *RPC) call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	l.mu.Lock()
	if l.readErr != nil {
		err := l.readErr
		l.mu.Unlock()
		return types.NewTransientError(types.KindConnectionReset, err)
	}
	l.nextID++
	id := l.nextID
	ch := make(chan *types.Response, 1)
	l.pending[id] = ch
	l.mu.Unlock()

	req := types.Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
	if err := l.writeRequest(&req); err != nil {
		l.forget(id)
		return types.NewTransientError(types.KindConnectionReset, err)
	}

	select {
	case <-ctx.Done():
		l.forget(id)
		return ctx.Err()
	case <-l.done:
		l.forget(id)
		l.mu.Lock()
		err := l.readErr
		l.mu.Unlock()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return types.NewTransientError(types.KindConnectionReset, err)
	case resp := <-ch:
		if resp.Error != nil {
			return rpcErrorToLearnerError(resp.Error)
		}
		if result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return types.NewFatalError(types.KindMalformedInput,
					fmt.Errorf("decode %s result: %w", method, err))
			}
		}
		return nil
	}
}

func (l *RPC) writeRequest(req *types.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.writer.Write(data); err != nil {
		return err
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return err
	}
	return l.writer.Flush()
}

// readLoop demultiplexes response lines to their waiting callers until the
// transport closes. Responses nobody waits for anymore are dropped.
func (l *RPC) readLoop(scanner *bufio.Scanner) {
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp types.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			l.logger.Warn("discarding unparseable component line", "error", err)
			continue
		}

		l.mu.Lock()
		ch, ok := l.pending[resp.ID]
		if ok {
			delete(l.pending, resp.ID)
		}
		l.mu.Unlock()

		if ok {
			ch <- &resp
		} else {
			l.logger.Debug("discarding stale response", "id", resp.ID)
		}
	}

	l.mu.Lock()
	l.readErr = scanner.Err()
	if l.readErr == nil {
		l.readErr = io.EOF
	}
	l.mu.Unlock()
	close(l.done)
}

func (l *RPC) forget(id int64) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

// rpcErrorToLearnerError maps a component error object to a classified
// LearnerError. Known error types keep their named kinds; everything else
// falls back to the retryable flag with a lowercased kind.
func rpcErrorToLearnerError(e *types.RPCError) error {
	detail := e.Message
	if e.Data != nil && e.Data.Detail != "" {
		detail = e.Data.Detail
	}
	err := errors.New(detail)

	if e.Data == nil {
		return types.NewFatalError(strings.ToLower(types.ErrTypeComponentError), err)
	}

	var kind string
	switch e.Data.ErrorType {
	case types.ErrTypeTimeout:
		kind = types.KindTimeout
	case types.ErrTypeRateLimit:
		kind = types.KindRateLimit
	case types.ErrTypeInvalidTask:
		kind = types.KindMalformedInput
	case types.ErrTypeAuthentication:
		kind = types.KindAuthentication
	default:
		kind = strings.ToLower(e.Data.ErrorType)
	}

	if e.Data.Retryable {
		return types.NewTransientError(kind, err)
	}
	return types.NewFatalError(kind, err)
}
