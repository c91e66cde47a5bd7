// Package stdio serves JSON-RPC over a pair of byte streams, normally the
// process's stdin and stdout. Messages are handled strictly one at a time.
package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/mwiater/mcpdispatch/internal/rpc"
	"github.com/mwiater/mcpdispatch/internal/server"
)

// DefaultMaxMessageBytes caps a single inbound message.
const DefaultMaxMessageBytes = 4 << 20

// MessageHandler serves one raw message. *server.Server satisfies it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, sess *server.Session, raw []byte) *rpc.Response
}

// Transport reads requests from In and writes responses to Out.
type Transport struct {
	In              io.Reader
	Out             io.Writer
	Handler         MessageHandler
	MaxMessageBytes int
	Logger          *zap.Logger
}

// Serve runs the read-handle-write loop until the input ends, ctx is
// cancelled, or writing fails. End of input and cancellation return nil.
func (t *Transport) Serve(ctx context.Context) error {
	if t.Handler == nil {
		return errors.New("stdio: no message handler")
	}
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := t.MaxMessageBytes
	if limit <= 0 {
		limit = DefaultMaxMessageBytes
	}

	rd := newReader(t.In, limit)
	w := bufio.NewWriter(t.Out)
	sess := server.NewSession("stdio")
	logger.Info("stdio transport ready", zap.String("session", sess.ID), zap.Int("maxMessageBytes", limit))

	for {
		// the next message is only read after the previous response is flushed
		next := make(chan frame, 1)
		go func() { next <- rd.next() }()

		var f frame
		select {
		case <-ctx.Done():
			logger.Info("stdio transport stopping", zap.String("session", sess.ID), zap.Error(ctx.Err()))
			return nil
		case f = <-next:
		}

		if f.err != nil {
			switch {
			case errors.Is(f.err, io.EOF):
				logger.Info("stdio input closed", zap.String("session", sess.ID))
				return nil
			case errors.Is(f.err, io.ErrUnexpectedEOF):
				logger.Warn("stdio input ended mid-message", zap.String("session", sess.ID))
				return nil
			case errors.Is(f.err, errTooLong):
				resp := server.Malformed(&rpc.DecodeError{
					Code:    rpc.CodeInvalidRequest,
					Message: fmt.Sprintf("invalid request: message exceeds %d bytes", limit),
				})
				if err := t.write(w, resp, f.framing); err != nil {
					return err
				}
				continue
			case errors.Is(f.err, errHeaderBlock), f.framing == FramingHeader:
				resp := server.Malformed(&rpc.DecodeError{Code: rpc.CodeParseError, Message: "parse error: " + f.err.Error()})
				if err := t.write(w, resp, f.framing); err != nil {
					return err
				}
				continue
			default:
				return fmt.Errorf("stdio: read: %w", f.err)
			}
		}

		resp := t.Handler.HandleMessage(ctx, sess, f.data)
		if resp == nil {
			continue
		}
		if err := t.write(w, resp, f.framing); err != nil {
			return err
		}
	}
}

func (t *Transport) write(w *bufio.Writer, resp *rpc.Response, framing Framing) error {
	data, err := rpc.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("stdio: encode response: %w", err)
	}
	if err := writeFrame(w, data, framing); err != nil {
		return fmt.Errorf("stdio: write response: %w", err)
	}
	return nil
}
