package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/mcpdispatch/internal/tools"
)

type fixture struct {
	reg   *tools.Registry
	calls atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{reg: tools.NewRegistry()}
	counted := func(h tools.Handler) tools.Handler {
		return func(ctx context.Context, args json.RawMessage) (any, error) {
			f.calls.Add(1)
			return h(ctx, args)
		}
	}

	require.NoError(t, f.reg.Register(tools.Descriptor{
		Name: "echo",
		InputSchema: tools.Object(map[string]tools.Property{
			"message": {Type: tools.TypeString},
		}, "message"),
	}, counted(func(_ context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Message string `json:"message"`
		}
		if err := tools.DecodeArgs(args, &in); err != nil {
			return nil, err
		}
		return map[string]any{"message": in.Message}, nil
	})))

	require.NoError(t, f.reg.Register(tools.Descriptor{
		Name: "get_weather",
		InputSchema: tools.Object(map[string]tools.Property{
			"city": {Type: tools.TypeString},
		}, "city"),
	}, counted(func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"temperature": 15}, nil
	})))

	require.NoError(t, f.reg.Register(tools.Descriptor{Name: "fail"}, counted(func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("upstream unavailable")
	})))

	require.NoError(t, f.reg.Register(tools.Descriptor{Name: "boom"}, counted(func(context.Context, json.RawMessage) (any, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	})))

	require.NoError(t, f.reg.Register(tools.Descriptor{Name: "stuck"}, counted(func(context.Context, json.RawMessage) (any, error) {
		time.Sleep(2 * time.Second)
		return "late", nil
	})))

	require.NoError(t, f.reg.Register(tools.Descriptor{Name: "polite"}, counted(func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	require.NoError(t, f.reg.Register(tools.Descriptor{Name: "semantic"}, counted(func(context.Context, json.RawMessage) (any, error) {
		return nil, tools.NewArgumentError("url", "argument 'url' must be an absolute http(s) URL")
	})))

	require.NoError(t, f.reg.Register(tools.Descriptor{Name: "empty"}, counted(func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	})))

	f.reg.Freeze()
	return f
}

func TestDispatchEcho(t *testing.T) {
	f := newFixture(t)
	res := New(f.reg).Dispatch(context.Background(), "echo", json.RawMessage(`{"message":"hi"}`))
	require.True(t, res.OK())
	assert.Equal(t, map[string]any{"message": "hi"}, res.Value)
}

func TestDispatchUnknownTool(t *testing.T) {
	f := newFixture(t)
	res := New(f.reg).Dispatch(context.Background(), "nonexistent", nil)
	require.False(t, res.OK())
	assert.Equal(t, KindUnknownTool, res.Err.Kind)
	assert.Equal(t, "tool 'nonexistent' is not registered", res.Err.Message)
	assert.Nil(t, res.Value)
	assert.Zero(t, f.calls.Load())
}

func TestDispatchMalformedName(t *testing.T) {
	f := newFixture(t)
	d := New(f.reg)
	for _, name := range []string{"", "bad name", "../../etc"} {
		res := d.Dispatch(context.Background(), name, nil)
		require.False(t, res.OK(), name)
		assert.Equal(t, KindUnknownTool, res.Err.Kind, name)
	}
	assert.Zero(t, f.calls.Load())
}

func TestDispatchMissingArgument(t *testing.T) {
	f := newFixture(t)
	res := New(f.reg).Dispatch(context.Background(), "get_weather", json.RawMessage(`{}`))
	require.False(t, res.OK())
	assert.Equal(t, KindInvalidArguments, res.Err.Kind)
	assert.Equal(t, "missing required argument 'city'", res.Err.Message)
	assert.Equal(t, []string{"city"}, res.Err.Fields)
	assert.Zero(t, f.calls.Load(), "handler must not run on invalid arguments")
}

func TestDispatchHandlerError(t *testing.T) {
	f := newFixture(t)
	d := New(f.reg)
	res := d.Dispatch(context.Background(), "fail", nil)
	require.False(t, res.OK())
	assert.Equal(t, KindHandlerExecution, res.Err.Kind)
	assert.Equal(t, "tool 'fail' failed: upstream unavailable", res.Err.Message)

	// the dispatcher keeps serving after a failure
	assert.True(t, d.Dispatch(context.Background(), "echo", json.RawMessage(`{"message":"again"}`)).OK())
}

func TestDispatchHandlerPanic(t *testing.T) {
	f := newFixture(t)
	d := New(f.reg)
	res := d.Dispatch(context.Background(), "boom", nil)
	require.False(t, res.OK())
	assert.Equal(t, KindHandlerExecution, res.Err.Kind)
	assert.Contains(t, res.Err.Message, "tool 'boom' panicked")

	assert.True(t, d.Dispatch(context.Background(), "echo", json.RawMessage(`{"message":"still here"}`)).OK())
}

func TestDispatchTimeoutAbandonsHandler(t *testing.T) {
	f := newFixture(t)
	d := New(f.reg, WithTimeout(50*time.Millisecond))

	start := time.Now()
	res := d.Dispatch(context.Background(), "stuck", nil)
	assert.Less(t, time.Since(start), time.Second)
	require.False(t, res.OK())
	assert.Equal(t, KindHandlerExecution, res.Err.Kind)
	assert.Equal(t, "tool 'stuck' timed out after 50ms", res.Err.Message)
}

func TestDispatchTimeoutHonoredByHandler(t *testing.T) {
	f := newFixture(t)
	res := New(f.reg, WithTimeout(20*time.Millisecond)).Dispatch(context.Background(), "polite", nil)
	require.False(t, res.OK())
	assert.Equal(t, "tool 'polite' timed out after 20ms", res.Err.Message)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestDispatchCanceledByCaller(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := New(f.reg).Dispatch(ctx, "polite", nil)
	require.False(t, res.OK())
	assert.Equal(t, KindHandlerExecution, res.Err.Kind)
	assert.Equal(t, "tool 'polite' was canceled", res.Err.Message)
}

func TestDispatchHandlerArgumentError(t *testing.T) {
	f := newFixture(t)
	res := New(f.reg).Dispatch(context.Background(), "semantic", nil)
	require.False(t, res.OK())
	assert.Equal(t, KindInvalidArguments, res.Err.Kind)
	assert.Equal(t, []string{"url"}, res.Err.Fields)
}

func TestDispatchNilValueBecomesEmptyObject(t *testing.T) {
	f := newFixture(t)
	res := New(f.reg).Dispatch(context.Background(), "empty", nil)
	require.True(t, res.OK())
	assert.Equal(t, map[string]any{}, res.Value)
}

func TestDispatchConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	d := New(f.reg)
	done := make(chan Result, 32)
	for i := 0; i < cap(done); i++ {
		go func() { done <- d.Dispatch(context.Background(), "echo", json.RawMessage(`{"message":"x"}`)) }()
	}
	for i := 0; i < cap(done); i++ {
		assert.True(t, (<-done).OK())
	}
	assert.EqualValues(t, cap(done), f.calls.Load())
}

func TestErrorRPCForm(t *testing.T) {
	f := newFixture(t)
	res := New(f.reg).Dispatch(context.Background(), "get_weather", nil)
	wire := res.Err.RPC()
	assert.Equal(t, -32602, wire.Code)
	assert.Equal(t, "InvalidArgumentsError", wire.Kind)
	assert.Equal(t, map[string]any{"fields": []string{"city"}}, wire.Data)
}

func TestMetricsRecorded(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	d := New(f.reg, WithMetrics(NewMetrics(reg)))

	d.Dispatch(context.Background(), "echo", json.RawMessage(`{"message":"a"}`))
	d.Dispatch(context.Background(), "echo", json.RawMessage(`{"message":"b"}`))
	d.Dispatch(context.Background(), "fail", nil)
	d.Dispatch(context.Background(), "who", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(d.metrics.calls.WithLabelValues("echo", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.calls.WithLabelValues("fail", string(KindHandlerExecution))))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.calls.WithLabelValues("unknown", string(KindUnknownTool))))
	assert.Equal(t, 2, testutil.CollectAndCount(d.metrics.duration), "one series per invoked tool")
}
