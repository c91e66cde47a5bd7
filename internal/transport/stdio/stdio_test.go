package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/mcpdispatch/internal/dispatch"
	"github.com/mwiater/mcpdispatch/internal/rpc"
	"github.com/mwiater/mcpdispatch/internal/server"
	"github.com/mwiater/mcpdispatch/internal/tools"
)

func newServer(t *testing.T) *server.Server {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.Descriptor{
		Name:        "echo",
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
	require.NoError(t, reg.Register(tools.Descriptor{
		Name:        "slow",
		InputSchema: tools.Object(map[string]tools.Property{"ms": {Type: tools.TypeInteger}}),
	}, func(_ context.Context, args json.RawMessage) (any, error) {
		var in struct {
			MS int `json:"ms"`
		}
		if err := tools.DecodeArgs(args, &in); err != nil {
			return nil, err
		}
		time.Sleep(time.Duration(in.MS) * time.Millisecond)
		return map[string]any{"slept": in.MS}, nil
	}))
	reg.Freeze()
	return server.New(server.Info{Name: "mcpdispatch", Version: "test"}, reg, dispatch.New(reg), nil)
}

func serve(t *testing.T, input string, maxBytes int) []*rpc.Response {
	t.Helper()
	var out bytes.Buffer
	tr := &Transport{In: strings.NewReader(input), Out: &out, Handler: newServer(t), MaxMessageBytes: maxBytes}
	require.NoError(t, tr.Serve(context.Background()))
	return decodeLines(t, out.String())
}

func decodeLines(t *testing.T, out string) []*rpc.Response {
	t.Helper()
	var resps []*rpc.Response
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		resp, err := rpc.DecodeResponse([]byte(line))
		require.NoError(t, err, line)
		resps = append(resps, resp)
	}
	return resps
}

func TestResponsesKeepRequestOrder(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"slow","params":{"ms":30}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"echo","params":{"message":"second"}}` + "\n"
	resps := serve(t, input, 0)
	require.Len(t, resps, 2)
	assert.JSONEq(t, `1`, string(resps[0].ID))
	assert.JSONEq(t, `{"slept":30}`, string(resps[0].Result))
	assert.JSONEq(t, `2`, string(resps[1].ID))
	assert.JSONEq(t, `{"message":"second"}`, string(resps[1].Result))
}

func TestMalformedLineGetsErrorAndLoopContinues(t *testing.T) {
	input := "{this is not json\n" +
		"\n" +
		`{"jsonrpc":"2.0","id":7,"method":"echo","params":{"message":"hi"}}` + "\n"
	resps := serve(t, input, 0)
	require.Len(t, resps, 2)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, "MalformedRequestError", resps[0].Error.Kind)
	assert.Equal(t, "null", string(resps[0].ID))
	assert.JSONEq(t, `{"message":"hi"}`, string(resps[1].Result))
}

func TestNotificationsProduceNoOutput(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
		`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"
	resps := serve(t, input, 0)
	require.Len(t, resps, 1)
	assert.JSONEq(t, `{}`, string(resps[0].Result))
}

func TestFinalLineWithoutNewlineIsServed(t *testing.T) {
	resps := serve(t, `{"jsonrpc":"2.0","id":"last","method":"ping"}`, 0)
	require.Len(t, resps, 1)
	assert.JSONEq(t, `"last"`, string(resps[0].ID))
}

func TestOversizedLineResynchronises(t *testing.T) {
	big := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"echo","params":{"message":%q}}`, strings.Repeat("x", 300))
	input := big + "\n" + `{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n"
	resps := serve(t, input, 128)
	require.Len(t, resps, 2)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, "MalformedRequestError", resps[0].Error.Kind)
	assert.Contains(t, resps[0].Error.Message, "exceeds 128 bytes")
	assert.JSONEq(t, `2`, string(resps[1].ID))
}

func TestHeaderFraming(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"message":"framed"}}`
	input := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)

	var out bytes.Buffer
	tr := &Transport{In: strings.NewReader(input), Out: &out, Handler: newServer(t)}
	require.NoError(t, tr.Serve(context.Background()))

	r := bufio.NewReader(&out)
	header, err := r.ReadString('\n')
	require.NoError(t, err)
	var length int
	_, err = fmt.Sscanf(strings.TrimSpace(header), "Content-Length: %d", &length)
	require.NoError(t, err)
	_, err = r.ReadString('\n')
	require.NoError(t, err)
	payload := make([]byte, length)
	_, err = io.ReadFull(r, payload)
	require.NoError(t, err)

	resp, err := rpc.DecodeResponse(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"framed"}`, string(resp.Result))
}

func TestMixedFramingOnOneStream(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":2,"method":"ping"}`
	input := `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
		fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body) +
		"\n" + `{"jsonrpc":"2.0","id":3,"method":"ping"}` + "\n"

	var out bytes.Buffer
	tr := &Transport{In: strings.NewReader(input), Out: &out, Handler: newServer(t)}
	require.NoError(t, tr.Serve(context.Background()))
	text := out.String()
	assert.True(t, strings.HasPrefix(text, `{"jsonrpc":"2.0","id":1,`))
	assert.Contains(t, text, "Content-Length: ")
	assert.True(t, strings.HasSuffix(text, `"id":3,"result":{}}`+"\n"))
}

func TestBadContentLengthReportsMalformed(t *testing.T) {
	input := "Content-Length: nope\r\n\r\n" + `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"
	var out bytes.Buffer
	tr := &Transport{In: strings.NewReader(input), Out: &out, Handler: newServer(t)}
	require.NoError(t, tr.Serve(context.Background()))
	assert.Contains(t, out.String(), "MalformedRequestError")
	assert.Contains(t, out.String(), `"id":1,"result":{}`)
}

func TestHeaderLikeLineIsServedAsLine(t *testing.T) {
	input := "content-type: oops\n" +
		`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n"
	resps := serve(t, input, 0)
	require.Len(t, resps, 3)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, "MalformedRequestError", resps[0].Error.Kind)
	assert.JSONEq(t, `1`, string(resps[1].ID))
	assert.JSONEq(t, `2`, string(resps[2].ID))
}

func TestUnterminatedHeaderBlockHandsBackLine(t *testing.T) {
	input := "Content-Length: 40\n" +
		`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n"
	resps := serve(t, input, 0)
	require.Len(t, resps, 3)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, "MalformedRequestError", resps[0].Error.Kind)
	assert.Contains(t, resps[0].Error.Message, "malformed header block")
	assert.JSONEq(t, `1`, string(resps[1].ID))
	assert.JSONEq(t, `{}`, string(resps[1].Result))
	assert.JSONEq(t, `2`, string(resps[2].ID))
}

func TestPipeConversation(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	tr := &Transport{In: inR, Out: outW, Handler: newServer(t)}

	done := make(chan error, 1)
	go func() { done <- tr.Serve(context.Background()) }()

	replies := bufio.NewScanner(outR)
	for i := 1; i <= 3; i++ {
		_, err := fmt.Fprintf(inW, `{"jsonrpc":"2.0","id":%d,"method":"echo","params":{"message":"m%d"}}`+"\n", i, i)
		require.NoError(t, err)
		require.True(t, replies.Scan())
		resp, err := rpc.DecodeResponse(replies.Bytes())
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprint(i), string(resp.ID))
		assert.JSONEq(t, fmt.Sprintf(`{"message":"m%d"}`, i), string(resp.Result))
	}

	require.NoError(t, inW.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not stop at end of input")
	}
}

func TestCancelStopsLoop(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	ctx, cancel := context.WithCancel(context.Background())
	tr := &Transport{In: inR, Out: io.Discard, Handler: newServer(t)}

	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("transport ignored cancellation")
	}
}
