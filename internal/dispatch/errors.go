package dispatch

import "github.com/mwiater/mcpdispatch/internal/rpc"

// Kind classifies a failed call for the caller.
type Kind string

const (
	KindUnknownTool      Kind = "UnknownToolError"
	KindInvalidArguments Kind = "InvalidArgumentsError"
	KindHandlerExecution Kind = "HandlerExecutionError"
	// KindMalformedRequest is raised by transports and the protocol server
	// when a payload cannot be decoded; it never reaches the Dispatcher.
	KindMalformedRequest Kind = "MalformedRequestError"
)

// Error is the typed failure returned from Dispatch. Message is safe to send
// over the wire; the underlying cause is kept for logs only.
type Error struct {
	Kind    Kind
	Message string
	Fields  []string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// Code maps the kind to its JSON-RPC error code.
func (e *Error) Code() int {
	switch e.Kind {
	case KindUnknownTool:
		return rpc.CodeMethodNotFound
	case KindInvalidArguments:
		return rpc.CodeInvalidParams
	case KindMalformedRequest:
		return rpc.CodeInvalidRequest
	default:
		return rpc.CodeInternalError
	}
}

// RPC converts the error to its wire form. Offending fields travel in data.
func (e *Error) RPC() *rpc.Error {
	out := &rpc.Error{Code: e.Code(), Kind: string(e.Kind), Message: e.Message}
	if len(e.Fields) > 0 {
		out.Data = map[string]any{"fields": e.Fields}
	}
	return out
}

// Result is the outcome of one call: exactly one of Value or Err is meaningful.
type Result struct {
	Value any
	Err   *Error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Err == nil }

func success(v any) Result {
	if v == nil {
		v = map[string]any{}
	}
	return Result{Value: v}
}

func failure(err *Error) Result { return Result{Err: err} }
