// Package dispatch turns a tool name plus raw arguments into a validated
// handler invocation and packages the outcome as a Result.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mwiater/mcpdispatch/internal/tools"
)

// DefaultTimeout bounds a single handler call.
const DefaultTimeout = 20 * time.Second

// Lookup resolves tool names. *tools.Registry satisfies it.
type Lookup interface {
	Lookup(name string) (*tools.Tool, error)
}

// Dispatcher validates and routes calls to registered handlers.
type Dispatcher struct {
	tools   Lookup
	timeout time.Duration
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-call handler timeout.
func WithTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.timeout = d
		}
	}
}

// WithLogger sets the logger used for failed calls.
func WithLogger(l *zap.Logger) Option {
	return func(ds *Dispatcher) {
		if l != nil {
			ds.logger = l
		}
	}
}

// WithMetrics enables Prometheus call metrics.
func WithMetrics(m *Metrics) Option {
	return func(ds *Dispatcher) { ds.metrics = m }
}

// New returns a Dispatcher over the given tool lookup.
func New(lookup Lookup, opts ...Option) *Dispatcher {
	d := &Dispatcher{tools: lookup, timeout: DefaultTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Timeout returns the configured per-call timeout.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Dispatch runs one call. It never panics and never returns both a value
// and an error: handler failures, timeouts and panics become a
// HandlerExecutionError result.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage) Result {
	start := time.Now()
	res, invoked := d.dispatch(ctx, name, args)
	d.metrics.observe(name, res, time.Since(start), invoked)
	if res.Err != nil {
		d.logger.Warn("tool call failed",
			zap.String("tool", name),
			zap.String("kind", string(res.Err.Kind)),
			zap.String("error", res.Err.Message),
			zap.NamedError("cause", res.Err.cause),
			zap.Duration("elapsed", time.Since(start)))
	} else {
		d.logger.Debug("tool call succeeded", zap.String("tool", name), zap.Duration("elapsed", time.Since(start)))
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, args json.RawMessage) (Result, bool) {
	if name == "" {
		return failure(&Error{Kind: KindUnknownTool, Message: "tool name must not be empty"}), false
	}
	if !tools.ValidName(name) {
		return failure(&Error{Kind: KindUnknownTool, Message: fmt.Sprintf("tool name %q is malformed", name)}), false
	}

	tool, err := d.tools.Lookup(name)
	if err != nil {
		return failure(&Error{Kind: KindUnknownTool, Message: err.Error(), cause: err}), false
	}

	if err := tool.Validate(args); err != nil {
		return failure(invalidArguments(err)), false
	}

	value, err := d.invoke(ctx, tool, args)
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			return failure(de), true
		}
		var argErr *tools.ArgumentError
		if errors.As(err, &argErr) {
			return failure(invalidArguments(argErr)), true
		}
		return failure(&Error{
			Kind:    KindHandlerExecution,
			Message: fmt.Sprintf("tool '%s' failed: %v", name, err),
			cause:   err,
		}), true
	}
	return success(value), true
}

func invalidArguments(err error) *Error {
	out := &Error{Kind: KindInvalidArguments, Message: err.Error(), cause: err}
	var argErr *tools.ArgumentError
	if errors.As(err, &argErr) {
		out.Fields = argErr.FieldNames()
	}
	return out
}

type outcome struct {
	value any
	err   error
}

// invoke runs the handler in its own goroutine so a handler that ignores its
// context cannot hold the caller past the timeout.
func (d *Dispatcher) invoke(ctx context.Context, tool *tools.Tool, args json.RawMessage) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool handler panicked",
					zap.String("tool", tool.Name),
					zap.Any("panic", r),
					zap.Stack("stack"))
				done <- outcome{err: &Error{
					Kind:    KindHandlerExecution,
					Message: fmt.Sprintf("tool '%s' panicked: %v", tool.Name, r),
				}}
			}
		}()
		value, err := tool.Handler(callCtx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && callCtx.Err() != nil &&
			(errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled)) {
			return nil, d.timeoutError(tool.Name, ctx, out.err)
		}
		return out.value, out.err
	case <-callCtx.Done():
		return nil, d.timeoutError(tool.Name, ctx, callCtx.Err())
	}
}

func (d *Dispatcher) timeoutError(name string, parent context.Context, cause error) *Error {
	if parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindHandlerExecution, Message: fmt.Sprintf("tool '%s' was canceled", name), cause: cause}
	}
	return &Error{
		Kind:    KindHandlerExecution,
		Message: fmt.Sprintf("tool '%s' timed out after %s", name, d.timeout),
		cause:   cause,
	}
}
