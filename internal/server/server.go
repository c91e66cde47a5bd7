// Package server implements the MCP-style method table on top of the
// dispatcher. Transports hand it raw messages and write back whatever
// response it returns.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mwiater/mcpdispatch/internal/dispatch"
	"github.com/mwiater/mcpdispatch/internal/logging"
	"github.com/mwiater/mcpdispatch/internal/rpc"
	"github.com/mwiater/mcpdispatch/internal/tools"
)

// ProtocolVersion is the MCP revision announced during initialize.
const ProtocolVersion = "2024-11-05"

const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// Info identifies the server during the handshake.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Catalog lists the tools a server exposes. *tools.Registry satisfies it.
type Catalog interface {
	List() []tools.Descriptor
}

// Server routes JSON-RPC requests. It holds no per-connection state; that
// lives in Session.
type Server struct {
	info       Info
	catalog    Catalog
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// New builds a server over the given catalog and dispatcher.
func New(info Info, catalog Catalog, dispatcher *dispatch.Dispatcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{info: info, catalog: catalog, dispatcher: dispatcher, logger: logger}
}

// Info returns the server identity.
func (s *Server) Info() Info { return s.info }

// Tools returns the descriptors of every registered tool.
func (s *Server) Tools() []tools.Descriptor { return s.catalog.List() }

// Session is the per-connection state: its id and whether initialize ran.
type Session struct {
	ID          string
	Transport   string
	initialized atomic.Bool
	client      atomic.Pointer[Info]
}

// NewSession starts a session for the named transport.
func NewSession(transport string) *Session {
	return &Session{ID: uuid.NewString(), Transport: transport}
}

// Initialized reports whether the handshake has completed.
func (s *Session) Initialized() bool { return s.initialized.Load() }

// Client returns the client identity sent during initialize, if any.
func (s *Session) Client() (Info, bool) {
	if c := s.client.Load(); c != nil {
		return *c, true
	}
	return Info{}, false
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      *Info          `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      Info           `json:"serverInfo"`
	SessionID       string         `json:"sessionId"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ContentPart is one block of a tools/call result.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the MCP-shaped success payload of tools/call.
type CallResult struct {
	Content           []ContentPart `json:"content"`
	StructuredContent any           `json:"structuredContent"`
	IsError           bool          `json:"isError"`
}

// HandleMessage decodes raw and serves it. It returns nil when no response
// is due (notifications). Undecodable input yields a MalformedRequestError
// response with a null id.
func (s *Server) HandleMessage(ctx context.Context, sess *Session, raw []byte) *rpc.Response {
	logging.LogRequest("in", sess.ID, sess.Transport, "", raw)
	req, err := rpc.DecodeRequest(raw)
	if err != nil {
		resp := Malformed(err)
		logging.LogRequest("out", sess.ID, sess.Transport, "", resp)
		return resp
	}
	resp := s.Handle(ctx, sess, req)
	if resp != nil {
		logging.LogRequest("out", sess.ID, sess.Transport, req.Method, resp)
	}
	return resp
}

// Malformed turns a decode failure into a MalformedRequestError response.
func Malformed(err error) *rpc.Response {
	code := rpc.CodeParseError
	var id json.RawMessage
	var de *rpc.DecodeError
	if errors.As(err, &de) {
		code = de.Code
		id = de.ID
	}
	return rpc.NewError(id, &rpc.Error{
		Code:    code,
		Kind:    string(dispatch.KindMalformedRequest),
		Message: err.Error(),
	})
}

// Handle serves one decoded request.
func (s *Server) Handle(ctx context.Context, sess *Session, req *rpc.Request) (resp *rpc.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("request handling panicked",
				zap.String("session", sess.ID),
				zap.String("method", req.Method),
				zap.Any("panic", r),
				zap.Stack("stack"))
			if req.IsNotification() {
				resp = nil
				return
			}
			resp = rpc.NewError(req.ID, &rpc.Error{
				Code:    rpc.CodeInternalError,
				Kind:    string(dispatch.KindHandlerExecution),
				Message: fmt.Sprintf("internal error while handling %q", req.Method),
			})
		}
	}()

	if req.IsNotification() {
		s.notify(sess, req)
		return nil
	}

	switch req.Method {
	case MethodInitialize:
		return s.initialize(sess, req)
	case MethodPing:
		return s.result(req, struct{}{})
	case MethodToolsList:
		return s.result(req, map[string]any{"tools": s.catalog.List()})
	case MethodToolsCall:
		return s.toolsCall(ctx, req)
	default:
		res := s.dispatcher.Dispatch(ctx, req.Method, req.Params)
		if !res.OK() {
			return rpc.NewError(req.ID, res.Err.RPC())
		}
		return s.result(req, res.Value)
	}
}

func (s *Server) notify(sess *Session, req *rpc.Request) {
	switch req.Method {
	case MethodInitialized:
		fields := []zap.Field{zap.String("session", sess.ID)}
		if client, ok := sess.Client(); ok {
			fields = append(fields, zap.String("client", client.Name), zap.String("clientVersion", client.Version))
		}
		s.logger.Info("client initialized", fields...)
	default:
		// tool methods sent as notifications are not run: there is no id to
		// answer with
		s.logger.Debug("ignoring notification", zap.String("session", sess.ID), zap.String("method", req.Method))
	}
}

func (s *Server) initialize(sess *Session, req *rpc.Request) *rpc.Response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpc.NewError(req.ID, &rpc.Error{
				Code:    rpc.CodeInvalidParams,
				Kind:    string(dispatch.KindMalformedRequest),
				Message: fmt.Sprintf("invalid initialize params: %v", err),
			})
		}
	}
	if !sess.initialized.CompareAndSwap(false, true) {
		return rpc.NewError(req.ID, &rpc.Error{
			Code:    rpc.CodeInvalidRequest,
			Kind:    string(dispatch.KindMalformedRequest),
			Message: "session is already initialized",
		})
	}
	if params.ClientInfo != nil {
		client := *params.ClientInfo
		sess.client.Store(&client)
	}
	s.logger.Info("session initialized",
		zap.String("session", sess.ID),
		zap.String("transport", sess.Transport),
		zap.String("clientProtocol", params.ProtocolVersion))

	return s.result(req, initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{"listChanged": false}},
		ServerInfo:      s.info,
		SessionID:       sess.ID,
	})
}

func (s *Server) toolsCall(ctx context.Context, req *rpc.Request) *rpc.Response {
	var params toolsCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpc.NewError(req.ID, &rpc.Error{
				Code:    rpc.CodeInvalidParams,
				Kind:    string(dispatch.KindMalformedRequest),
				Message: fmt.Sprintf("invalid tools/call params: %v", err),
			})
		}
	}

	res := s.dispatcher.Dispatch(ctx, params.Name, params.Arguments)
	if !res.OK() {
		return rpc.NewError(req.ID, res.Err.RPC())
	}

	text, err := json.Marshal(res.Value)
	if err != nil {
		return s.encodeFailure(req, err)
	}
	return s.result(req, CallResult{
		Content:           []ContentPart{{Type: "text", Text: string(text)}},
		StructuredContent: res.Value,
	})
}

func (s *Server) result(req *rpc.Request, value any) *rpc.Response {
	resp, err := rpc.NewResult(req.ID, value)
	if err != nil {
		return s.encodeFailure(req, err)
	}
	return resp
}

func (s *Server) encodeFailure(req *rpc.Request, err error) *rpc.Response {
	s.logger.Error("encode result", zap.String("method", req.Method), zap.Error(err))
	return rpc.NewError(req.ID, &rpc.Error{
		Code:    rpc.CodeInternalError,
		Kind:    string(dispatch.KindHandlerExecution),
		Message: "result could not be encoded",
	})
}
