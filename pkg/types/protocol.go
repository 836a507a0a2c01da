package types

import "encoding/json"

// ProtocolVersion is the harness<->component wire protocol revision.
const ProtocolVersion = 1

// RPC method names understood by learning components.
const (
	MethodInitialize = "initialize"
	MethodSubmit     = "submit"
	MethodShutdown   = "shutdown"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error object.
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData holds structured error detail.
type ErrorData struct {
	ErrorType string `json:"error_type"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail"`
}

// InitializeParams holds parameters for the initialize method.
type InitializeParams struct {
	HarnessName     string `json:"harness_name"`
	HarnessVersion  string `json:"harness_version"`
	ProtocolVersion int    `json:"protocol_version"`
	Namespace       string `json:"namespace"`
	PersistenceRoot string `json:"persistence_root"`
}

// InitializeResult holds the result of the initialize method.
type InitializeResult struct {
	ComponentName    string `json:"component_name"`
	ComponentVersion string `json:"component_version"`
	ProtocolVersion  int    `json:"protocol_version"`
	Compatible       bool   `json:"compatible"`
}

// SubmitParams holds parameters for the submit method.
type SubmitParams struct {
	Task string `json:"task"`
}

// SubmitResult holds the result of the submit method.
type SubmitResult struct {
	Response     string  `json:"response"`
	Quality      float64 `json:"quality_score"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

// ShutdownResult holds the result of the shutdown method.
type ShutdownResult struct {
	CallsServed int `json:"calls_served"`
}
