// Package rpc implements the JSON-RPC 2.0 envelope shared by every transport.
// Transports only move bytes; the encode/decode contract lives here so that
// swapping transport never changes request or response semantics.
package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only JSON-RPC version accepted on the wire.
const Version = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a decoded JSON-RPC request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Error is the error member of a response. Kind names the failure category
// so callers can branch without parsing messages.
type Error struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResult builds a success response. A nil value is encoded as an empty object.
func NewResult(id json.RawMessage, value any) (*Response, error) {
	if value == nil {
		value = struct{}{}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: normalizeID(id), Result: data}, nil
}

// NewError builds an error response.
func NewError(id json.RawMessage, rpcErr *Error) *Response {
	return &Response{JSONRPC: Version, ID: normalizeID(id), Error: rpcErr}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// DecodeError is returned by DecodeRequest. ID is set when the payload was
// well-formed enough to recover the caller's id.
type DecodeError struct {
	Code    int
	Message string
	ID      json.RawMessage
}

func (e *DecodeError) Error() string { return e.Message }

// ErrEmptyMessage is wrapped by DecodeRequest for blank payloads.
var ErrEmptyMessage = errors.New("empty message")

// DecodeRequest parses a single JSON-RPC request. Failures are *DecodeError
// values carrying the JSON-RPC code to answer with.
func DecodeRequest(data []byte) (*Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Code: CodeParseError, Message: "parse error: " + ErrEmptyMessage.Error()}
	}
	if trimmed[0] == '[' {
		return nil, &DecodeError{Code: CodeInvalidRequest, Message: "invalid request: batch requests are not supported"}
	}
	if trimmed[0] != '{' {
		return nil, &DecodeError{Code: CodeParseError, Message: "parse error: message must be a JSON object"}
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		// a member of the wrong type is still valid JSON; Unmarshal keeps
		// filling the other members, so the id is usually recoverable
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			de := &DecodeError{Code: CodeInvalidRequest, Message: fmt.Sprintf("invalid request: member %q must not be %s", typeErr.Field, typeErr.Value)}
			if len(req.ID) > 0 && validID(req.ID) {
				de.ID = req.ID
			}
			return nil, de
		}
		return nil, &DecodeError{Code: CodeParseError, Message: fmt.Sprintf("parse error: %v", err)}
	}

	if len(req.ID) > 0 && !validID(req.ID) {
		return nil, &DecodeError{Code: CodeInvalidRequest, Message: "invalid request: id must be a string, number or null"}
	}
	if req.JSONRPC != Version {
		return nil, &DecodeError{Code: CodeInvalidRequest, Message: fmt.Sprintf("invalid request: unsupported jsonrpc version %q", req.JSONRPC), ID: req.ID}
	}
	if req.Method == "" {
		return nil, &DecodeError{Code: CodeInvalidRequest, Message: "invalid request: method is required", ID: req.ID}
	}
	if len(req.Params) > 0 {
		p := bytes.TrimSpace(req.Params)
		if !bytes.Equal(p, []byte("null")) && p[0] != '{' {
			return nil, &DecodeError{Code: CodeInvalidRequest, Message: "invalid request: params must be an object", ID: req.ID}
		}
	}
	return &req, nil
}

func validID(id json.RawMessage) bool {
	switch c := bytes.TrimSpace(id)[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9':
		return true
	default:
		return bytes.Equal(bytes.TrimSpace(id), []byte("null"))
	}
}

// EncodeResponse serializes a response without a trailing newline.
func EncodeResponse(resp *Response) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	if (resp.Error == nil) == (len(resp.Result) == 0) {
		return nil, errors.New("response must carry exactly one of result or error")
	}
	out := *resp
	out.JSONRPC = Version
	out.ID = normalizeID(resp.ID)
	return json.Marshal(&out)
}

// DecodeResponse parses a response produced by EncodeResponse.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.JSONRPC != Version {
		return nil, fmt.Errorf("decode response: unsupported jsonrpc version %q", resp.JSONRPC)
	}
	if (resp.Error == nil) == (len(resp.Result) == 0) {
		return nil, errors.New("decode response: exactly one of result or error must be present")
	}
	return &resp, nil
}
