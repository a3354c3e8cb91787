package framing

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	bodies := [][]byte{
		[]byte(`{}`),
		[]byte(`[1]`),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"x"}`),
		[]byte(``),
	}

	for _, body := range bodies {
		encoded := Encode(body)
		d := NewDecoder(bytes.NewReader(encoded))
		got, err := d.Decode()
		require.NoError(t, err)
		assert.Equal(t, body, got)

		_, err = d.Decode()
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestDecodeStreamInOrder(t *testing.T) {
	raw := string(Encode([]byte(`{}`))) + string(Encode([]byte(`[1]`))) + string(Encode([]byte(`{"a":2}`)))

	d := NewDecoder(strings.NewReader(raw))

	first, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(first))

	second, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(second))

	third, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(third))

	_, err = d.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

// byteAtATimeReader forces the decoder to cope with arbitrary chunking.
type byteAtATimeReader struct {
	data []byte
}

func (r *byteAtATimeReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestDecodeStreamArbitraryChunking(t *testing.T) {
	raw := Encode([]byte(`{}`))
	raw = append(raw, Encode([]byte(`[1]`))...)

	d := NewDecoder(&byteAtATimeReader{data: raw})

	first, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(first))

	second, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(second))
}

func TestDecodeMissingContentLength(t *testing.T) {
	d := NewDecoder(strings.NewReader("Content-Type: application/vscode-jsonrpc\r\n\r\n{}"))
	_, err := d.Decode()
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestDecodeNonNumericContentLength(t *testing.T) {
	d := NewDecoder(strings.NewReader("Content-Length: abc\r\n\r\n"))
	_, err := d.Decode()
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestDecodeMalformedHeaderLine(t *testing.T) {
	d := NewDecoder(strings.NewReader("not-a-header-line\r\n\r\n"))
	_, err := d.Decode()
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestDecodeIgnoresUnknownAndContentTypeHeaders(t *testing.T) {
	d := NewDecoder(strings.NewReader("Content-Type: application/vscode-jsonrpc; charset=utf-8\r\nX-Unknown: whatever\r\nContent-Length: 2\r\n\r\n{}"))
	body, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(body))
}

func TestDecodeTruncatedBody(t *testing.T) {
	d := NewDecoder(strings.NewReader("Content-Length: 10\r\n\r\n{}"))
	_, err := d.Decode()
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestDecodeCleanEOFBetweenMessages(t *testing.T) {
	d := NewDecoder(strings.NewReader(""))
	_, err := d.Decode()
	assert.ErrorIs(t, err, io.EOF)
}
