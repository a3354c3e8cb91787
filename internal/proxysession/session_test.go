package proxysession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualified/lsp-ws-proxy/internal/framing"
	"github.com/qualified/lsp-ws-proxy/internal/registry"
)

// newTestServer upgrades every incoming request to a WebSocket and hands
// the connection to fn, returning a dialed client conn.
func newTestServer(t *testing.T, fn func(*websocket.Conn)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		fn(conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func TestSessionEchoScenario(t *testing.T) {
	var serverConn *websocket.Conn
	client := newTestServer(t, func(c *websocket.Conn) { serverConn = c })
	require.Eventually(t, func() bool { return serverConn != nil }, time.Second, 10*time.Millisecond)

	dir := t.TempDir()
	sess, err := New(serverConn, registry.ServerSpec{Name: "echo", Command: "cat"}, Options{
		WorkingDir: dir,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sess.Run(ctx); close(done) }()

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"x"}`)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, body))

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, got, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(got))

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down")
	}
}

// helperScript returns a path to a small shell script acting as a fake
// language server, skipping the test if /bin/sh is unavailable.
func helperScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	path := filepath.Join(t.TempDir(), "helper.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestSessionFramingScenario(t *testing.T) {
	script := helperScript(t, `printf 'Content-Length: 2\r\n\r\n{}Content-Length: 3\r\n\r\n[1]'`)

	var serverConn *websocket.Conn
	client := newTestServer(t, func(c *websocket.Conn) { serverConn = c })
	require.Eventually(t, func() bool { return serverConn != nil }, time.Second, 10*time.Millisecond)

	dir := t.TempDir()
	sess, err := New(serverConn, registry.ServerSpec{Name: "helper", Command: script}, Options{
		WorkingDir: dir,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, first, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(first))

	_, second, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "[1]", string(second))
}

func TestSessionRemapIncoming(t *testing.T) {
	script := helperScript(t, `cat`)

	var serverConn *websocket.Conn
	client := newTestServer(t, func(c *websocket.Conn) { serverConn = c })
	require.Eventually(t, func() bool { return serverConn != nil }, time.Second, 10*time.Millisecond)

	dir := t.TempDir()
	sess, err := New(serverConn, registry.ServerSpec{Name: "helper", Command: script}, Options{
		WorkingDir: dir,
		Remap:      true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	body := []byte(`{"jsonrpc":"2.0","method":"textDocument/didOpen","params":{"textDocument":{"uri":"source://a.ts","languageId":"ts","version":1,"text":"x"}}}`)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, body))

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, echoed, err := client.ReadMessage()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(echoed, &decoded))
	params := decoded["params"].(map[string]interface{})
	td := params["textDocument"].(map[string]interface{})
	assert.Equal(t, "file://"+filepath.Join(dir, "a.ts"), td["uri"])
}

func TestSessionSyncOnSave(t *testing.T) {
	script := helperScript(t, `cat >/dev/null`)

	var serverConn *websocket.Conn
	client := newTestServer(t, func(c *websocket.Conn) { serverConn = c })
	require.Eventually(t, func() bool { return serverConn != nil }, time.Second, 10*time.Millisecond)

	dir := t.TempDir()
	sess, err := New(serverConn, registry.ServerSpec{Name: "helper", Command: script}, Options{
		WorkingDir: dir,
		Sync:       true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	body := []byte(`{"jsonrpc":"2.0","method":"textDocument/didSave","params":{"textDocument":{"uri":"source://b.txt"},"text":"hello"}}`)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, body))

	require.Eventually(t, func() bool {
		got, err := os.ReadFile(filepath.Join(dir, "b.txt"))
		return err == nil && string(got) == "hello"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSessionInactivityTimeout(t *testing.T) {
	script := helperScript(t, `cat`)

	var serverConn *websocket.Conn
	client := newTestServer(t, func(c *websocket.Conn) { serverConn = c })
	require.Eventually(t, func() bool { return serverConn != nil }, time.Second, 10*time.Millisecond)

	dir := t.TempDir()
	sess, err := New(serverConn, registry.ServerSpec{Name: "helper", Command: script}, Options{
		WorkingDir: dir,
		Timeout:    200 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = client.ReadMessage()
	require.Error(t, err)

	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %T: %v", err, err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "inactive", closeErr.Text)
}

func TestSessionPingResetsInactivityDeadline(t *testing.T) {
	script := helperScript(t, `cat`)

	var serverConn *websocket.Conn
	client := newTestServer(t, func(c *websocket.Conn) { serverConn = c })
	require.Eventually(t, func() bool { return serverConn != nil }, time.Second, 10*time.Millisecond)

	dir := t.TempDir()
	sess, err := New(serverConn, registry.ServerSpec{Name: "helper", Command: script}, Options{
		WorkingDir: dir,
		Timeout:    200 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { sess.Run(ctx); close(done) }()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		for i := 0; i < 5; i++ {
			time.Sleep(100 * time.Millisecond)
			if err := client.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}()
	<-pingDone

	// The session's own deadline is 200ms; five pings spaced 100ms apart
	// span 500ms. If pings didn't reset the deadline, the session would
	// already be closed with reasonInactive by now.
	select {
	case <-done:
		t.Fatal("session closed despite a steady stream of keepalive pings")
	default:
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down")
	}
}

func TestFramingDecoderUsableStandalone(t *testing.T) {
	r, w := os.Pipe()
	defer r.Close()
	defer w.Close()

	go func() {
		_ = framing.WriteMessage(w, []byte(`{"a":1}`))
		w.Close()
	}()

	d := framing.NewDecoder(r)
	body, err := d.Decode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(body))
}
