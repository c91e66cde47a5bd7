package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/mcpdispatch/internal/dispatch"
	"github.com/mwiater/mcpdispatch/internal/rpc"
	"github.com/mwiater/mcpdispatch/internal/server"
	"github.com/mwiater/mcpdispatch/internal/tools"
)

func newTransport(t *testing.T, cfg Config) *Transport {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.Descriptor{
		Name:        "echo",
		Description: "Echo a message back",
		InputSchema: tools.Object(map[string]tools.Property{"message": {Type: tools.TypeString}}, "message"),
	}, func(_ context.Context, args json.RawMessage) (any, error) {
		var in struct {
			Message string `json:"message"`
		}
		if err := tools.DecodeArgs(args, &in); err != nil {
			return nil, err
		}
		return map[string]any{"message": in.Message}, nil
	}))
	reg.Freeze()

	promReg := prometheus.NewRegistry()
	d := dispatch.New(reg, dispatch.WithMetrics(dispatch.NewMetrics(promReg)))
	srv := server.New(server.Info{Name: "mcpdispatch", Version: "test"}, reg, d, nil)
	return New(cfg, srv, promReg, nil)
}

func post(t *testing.T, h http.Handler, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRPCEcho(t *testing.T) {
	h := newTransport(t, Config{}).Handler()
	for _, path := range []string{"/jsonrpc", "/mcp"} {
		rec := post(t, h, path, `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"message":"hi"}}`)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"message":"hi"}}`, rec.Body.String())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))
	}
}

func TestRPCErrorsAreStructured(t *testing.T) {
	h := newTransport(t, Config{}).Handler()
	rec := post(t, h, "/jsonrpc", `{"jsonrpc":"2.0","id":2,"method":"nonexistent","params":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp, err := rpc.DecodeResponse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "UnknownToolError", resp.Error.Kind)
	assert.Equal(t, "tool 'nonexistent' is not registered", resp.Error.Message)
}

func TestRPCNotificationIsNoContent(t *testing.T) {
	h := newTransport(t, Config{}).Handler()
	rec := post(t, h, "/jsonrpc", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestRPCBodyLimits(t *testing.T) {
	h := newTransport(t, Config{MaxBodyBytes: 64}).Handler()

	big := `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"message":"` + strings.Repeat("x", 200) + `"}}`
	rec := post(t, h, "/jsonrpc", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	resp, err := rpc.DecodeResponse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "MalformedRequestError", resp.Error.Kind)

	rec = post(t, h, "/jsonrpc", "   ")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp, err = rpc.DecodeResponse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, rpc.CodeParseError, resp.Error.Code)
}

func TestRPCMalformedBody(t *testing.T) {
	h := newTransport(t, Config{}).Handler()
	rec := post(t, h, "/jsonrpc", `{"jsonrpc":`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp, err := rpc.DecodeResponse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "MalformedRequestError", resp.Error.Kind)
	assert.Equal(t, "null", string(resp.ID))
}

func TestHealthAndTools(t *testing.T) {
	h := newTransport(t, Config{AuthToken: "secret"}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","transport":"http"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tools []tools.Descriptor `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tools, 1)
	assert.Equal(t, "echo", body.Tools[0].Name)
}

func TestAuthOnRPC(t *testing.T) {
	h := newTransport(t, Config{AuthToken: "secret"}).Handler()
	msg := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	assert.Equal(t, http.StatusUnauthorized, post(t, h, "/jsonrpc", msg).Code)
	assert.Equal(t, http.StatusUnauthorized, post(t, h, "/jsonrpc", msg, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, post(t, h, "/jsonrpc", msg, "Authorization", "Bearer secret").Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTransport(t, Config{AllowedOrigins: []string{"https://app.example"}}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/jsonrpc", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/jsonrpc", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTransport(t, Config{}).Handler()
	post(t, h, "/jsonrpc", `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"message":"hi"}}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mcpdispatch_tool_calls_total{outcome="ok",tool="echo"} 1`)
}

func TestServeConcurrentClientsAndShutdown(t *testing.T) {
	tr := newTransport(t, Config{ShutdownTimeout: time.Second})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/jsonrpc"
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := http.Post(url, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":"c","method":"echo","params":{"message":"x"}}`))
			if !assert.NoError(t, err) {
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":"c","result":{"message":"x"}}`, string(data))
		}()
	}
	wg.Wait()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenFailsOnBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	tr := newTransport(t, Config{Host: "127.0.0.1", Port: port})
	err = tr.ListenAndServe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}
