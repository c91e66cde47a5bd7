package stdio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Framing is how a message was delimited on the wire. Responses reuse the
// framing of the request they answer.
type Framing int

const (
	// FramingLine is one JSON document per newline-terminated line.
	FramingLine Framing = iota
	// FramingHeader is LSP-style "Content-Length: N\r\n\r\n<body>".
	FramingHeader
)

func (f Framing) String() string {
	if f == FramingHeader {
		return "header"
	}
	return "line"
}

var (
	errTooLong     = errors.New("message too long")
	errHeaderBlock = errors.New("malformed header block")
)

// frame is one message read from the input, or the reason it could not be.
type frame struct {
	data    []byte
	framing Framing
	err     error
}

type reader struct {
	r   *bufio.Reader
	max int
	// pending is a line read while parsing headers that belongs to the next
	// message.
	pending []byte
}

func newReader(r io.Reader, limit int) *reader {
	return &reader{r: bufio.NewReaderSize(r, 64*1024), max: limit}
}

// next returns the next message. io.EOF is returned only once the input is
// exhausted; a final unterminated line is still delivered first.
func (rd *reader) next() frame {
	for {
		line, err := rd.readLine()
		if errors.Is(err, errTooLong) {
			return frame{framing: FramingLine, err: err}
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			if err != nil {
				return frame{err: err}
			}
			continue
		}
		if isHeader(trimmed) {
			return rd.readHeaderFramed(string(trimmed))
		}
		return frame{data: trimmed, framing: FramingLine}
	}
}

// isHeader reports whether line opens a header-framed message. Only a
// well-formed "Content-Length: <n>" does; anything else is read as a line.
func isHeader(line []byte) bool {
	key, value, ok := strings.Cut(string(line), ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(key), "content-length") {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	return err == nil && n >= 0
}

// isHeaderField reports whether s looks like a "Key: value" header line.
func isHeaderField(s string) bool {
	if s == "" || s[0] == '{' || s[0] == '[' {
		return false
	}
	i := strings.IndexByte(s, ':')
	return i > 0 && !strings.ContainsAny(s[:i], " \t\"")
}

// readHeaderFramed reads the remaining headers up to the blank separator and
// then exactly Content-Length bytes of body. A line that is not a header ends
// the block with errHeaderBlock and is kept for the next call.
func (rd *reader) readHeaderFramed(first string) frame {
	headers := map[string]string{}
	addHeader(headers, first)
	for {
		line, err := rd.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			return frame{framing: FramingHeader, err: err}
		}
		s := strings.TrimRight(string(line), "\r\n")
		if s == "" {
			if errors.Is(err, io.EOF) {
				return frame{framing: FramingHeader, err: io.ErrUnexpectedEOF}
			}
			break
		}
		if !isHeaderField(s) {
			rd.pending = []byte(s)
			return frame{framing: FramingLine, err: fmt.Errorf("%w: expected a header or blank line after %q", errHeaderBlock, first)}
		}
		addHeader(headers, s)
		if errors.Is(err, io.EOF) {
			return frame{framing: FramingHeader, err: io.ErrUnexpectedEOF}
		}
	}

	clStr := headers["content-length"]
	length, err := strconv.Atoi(clStr)
	if err != nil || length < 0 {
		return frame{framing: FramingHeader, err: fmt.Errorf("invalid Content-Length %q", clStr)}
	}
	if rd.max > 0 && length > rd.max {
		if _, err := io.CopyN(io.Discard, rd.r, int64(length)); err != nil {
			return frame{framing: FramingHeader, err: io.ErrUnexpectedEOF}
		}
		return frame{framing: FramingHeader, err: errTooLong}
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(rd.r, body); err != nil {
		return frame{framing: FramingHeader, err: io.ErrUnexpectedEOF}
	}
	return frame{data: body, framing: FramingHeader}
}

func addHeader(headers map[string]string, line string) {
	if i := strings.IndexByte(line, ':'); i >= 0 {
		key := strings.ToLower(strings.TrimSpace(line[:i]))
		headers[key] = strings.TrimSpace(line[i+1:])
	}
}

// readLine returns one line without its terminator. Lines longer than max are
// consumed up to the next newline and reported as errTooLong so the stream
// resynchronises on the following message.
func (rd *reader) readLine() ([]byte, error) {
	if rd.pending != nil {
		line := rd.pending
		rd.pending = nil
		return line, nil
	}
	var line []byte
	tooLong := false
	for {
		chunk, err := rd.r.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if rd.max > 0 && len(bytes.TrimRight(line, "\r\n")) > rd.max {
				tooLong = true
				line = nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			return nil, errTooLong
		}
		if err != nil {
			return bytes.TrimRight(line, "\r\n"), err
		}
		return bytes.TrimRight(line, "\r\n"), nil
	}
}

func writeFrame(w *bufio.Writer, data []byte, framing Framing) error {
	if framing == FramingHeader {
		if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		return w.Flush()
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
