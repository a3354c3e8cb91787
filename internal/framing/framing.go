// Package framing implements the Content-Length-prefixed message
// envelope the Language Server Protocol uses over stdio.
package framing

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ProtocolError indicates a malformed frame. The session treats it as
// fatal, per spec.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("lsp framing: %s", e.Reason)
}

// Decoder reads a stream of Content-Length-framed LSP messages. It is a
// two-state machine (NeedHeaders, NeedBody) driven entirely by Decode
// calls, so it is safe to feed it arbitrarily chunked input: Decode
// blocks on the underlying reader until exactly one full message is
// available, or returns an error.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r in a framing decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads the next header block and body from the stream and
// returns the body's bytes. It returns io.EOF only if the stream ends
// cleanly between messages (no bytes of a new header were read); any
// other truncation is reported as a *ProtocolError.
func (d *Decoder) Decode() ([]byte, error) {
	contentLength := -1
	sawHeaderLine := false

	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && !sawHeaderLine && line == "" {
				return nil, io.EOF
			}
			return nil, &ProtocolError{Reason: "truncated header block: " + err.Error()}
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break // blank line terminates the header block
		}
		sawHeaderLine = true

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ProtocolError{Reason: fmt.Sprintf("malformed header line %q", line)}
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		switch strings.ToLower(name) {
		case "content-length":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, &ProtocolError{Reason: fmt.Sprintf("invalid Content-Length %q", value)}
			}
			contentLength = n
		case "content-type":
			// Parsed for robustness, otherwise ignored.
		default:
			// Unknown headers are ignored.
		}
	}

	if contentLength < 0 {
		return nil, &ProtocolError{Reason: "missing Content-Length header"}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, &ProtocolError{Reason: "truncated body: " + err.Error()}
	}

	return body, nil
}

// Encode frames body as a single Content-Length-prefixed LSP message.
func Encode(body []byte) []byte {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out
}

// WriteMessage encodes body and writes it to w in a single call.
func WriteMessage(w io.Writer, body []byte) error {
	_, err := w.Write(Encode(body))
	return err
}
