// Package proxysession owns the lifetime of one proxied connection: a
// spawned language-server child process paired with the WebSocket
// connection that drives it, plus the two concurrent I/O loops that
// shuttle LSP messages between them.
package proxysession

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qualified/lsp-ws-proxy/internal/filesync"
	"github.com/qualified/lsp-ws-proxy/internal/framing"
	"github.com/qualified/lsp-ws-proxy/internal/registry"
	"github.com/qualified/lsp-ws-proxy/internal/rewrite"
)

const (
	writeWait     = 10 * time.Second
	shutdownGrace = 2 * time.Second
	killGrace     = 2 * time.Second
)

// State is a session's position in its lifecycle.
type State int32

const (
	Starting State = iota
	Running
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// closeReason names why a session is tearing down: a WebSocket close
// code plus the short reason string spec.md §4.4 specifies.
type closeReason struct {
	code   int
	reason string
}

var (
	reasonInactive      = closeReason{websocket.CloseNormalClosure, "inactive"}
	reasonServerExited  = closeReason{websocket.CloseNormalClosure, "server exited"}
	reasonClientClosed  = closeReason{websocket.CloseNormalClosure, "client closed"}
	reasonProtocolError = closeReason{websocket.CloseInternalServerErr, "protocol"}
)

// Options configures a Session. Remap and Sync mirror the process-wide
// `-r`/`-s` CLI flags; WorkingDir is the canonical cwd every containment
// check and URI rewrite is relative to.
type Options struct {
	WorkingDir string
	Remap      bool
	Sync       bool
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Session owns one WebSocket connection and the one child process
// spawned to serve it.
type Session struct {
	id     string
	conn   *websocket.Conn
	spec   registry.ServerSpec
	opts   Options
	logger *zap.Logger

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *framing.Decoder
	childDone chan struct{}

	rewriteCtx *rewrite.Context
	tracker    *rewrite.PendingTracker
	syncer     *filesync.Syncer

	state atomic.Int32

	writeMu sync.Mutex // serializes WebSocket writes across the two loops

	deadlineMu    sync.Mutex
	deadlineTimer *time.Timer

	cancel      context.CancelFunc
	closeReason atomic.Pointer[closeReason]
}

// New spawns spec's command and wires it to conn. The returned Session
// is in the Starting state; call Run to begin the I/O loops.
func New(conn *websocket.Conn, spec registry.ServerSpec, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	canonicalDir, err := filepath.EvalSymlinks(opts.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("proxysession: resolving working directory %q: %w", opts.WorkingDir, err)
	}
	opts.WorkingDir = canonicalDir

	var syncer *filesync.Syncer
	if opts.Sync {
		s, err := filesync.New(opts.WorkingDir)
		if err != nil {
			return nil, fmt.Errorf("proxysession: %w", err)
		}
		syncer = s
	}

	cmd := exec.Command(spec.Command, spec.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("proxysession: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("proxysession: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("proxysession: stderr pipe: %w", err)
	}

	id := uuid.NewString()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("proxysession: spawning %q: %w", spec.Command, err)
	}

	sessionLogger := logger.With(zap.String("session", id), zap.String("server", spec.Name))

	sess := &Session{
		id:         id,
		conn:       conn,
		spec:       spec,
		opts:       opts,
		logger:     sessionLogger,
		cmd:        cmd,
		stdin:      stdin,
		stdout:     framing.NewDecoder(stdout),
		childDone:  make(chan struct{}),
		rewriteCtx: &rewrite.Context{WorkingDir: opts.WorkingDir},
		tracker:    rewrite.NewPendingTracker(),
		syncer:     syncer,
	}
	sess.state.Store(int32(Starting))
	conn.SetPingHandler(sess.handlePing)

	go sess.drainStderr(stderr)
	go func() {
		_ = cmd.Wait()
		close(sess.childDone)
	}()

	return sess, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Info("child stderr", zap.String("line", scanner.Text()))
	}
}

// triggerClose records the first reason any teardown path reports and
// cancels the session context. Later calls are no-ops: once a session
// is closing, the first cause wins.
func (s *Session) triggerClose(reason closeReason) {
	r := reason
	if s.closeReason.CompareAndSwap(nil, &r) && s.cancel != nil {
		s.cancel()
	}
}

// Run drives the session to completion: it starts both I/O loops,
// blocks until the first teardown trigger cancels the session context,
// drains and tears down, then waits for both loops to return. Run
// returns once the WebSocket has been closed and the child reaped.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	s.state.Store(int32(Running))
	s.armDeadline()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.upstreamLoop(ctx) }()
	go func() { defer wg.Done(); s.downstreamLoop(ctx) }()

	// The downstream loop can stay blocked reading the child's stdout
	// until the child exits, so draining (which stops the child) must not
	// wait for it.
	<-ctx.Done()
	s.drainAndClose()
	wg.Wait()
}

// armDeadline starts the inactivity timer. A Timeout of zero disables
// it entirely, per spec.md §6.
func (s *Session) armDeadline() {
	if s.opts.Timeout <= 0 {
		return
	}
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	s.deadlineTimer = time.AfterFunc(s.opts.Timeout, func() {
		s.logger.Info("inactivity timeout elapsed")
		s.triggerClose(reasonInactive)
	})
}

// resetDeadline is called after any successful read on either half.
func (s *Session) resetDeadline() {
	if s.opts.Timeout <= 0 {
		return
	}
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	if s.deadlineTimer != nil {
		s.deadlineTimer.Reset(s.opts.Timeout)
	}
}

func (s *Session) stopDeadline() {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	if s.deadlineTimer != nil {
		s.deadlineTimer.Stop()
	}
}

// handlePing replaces gorilla's default ping handler so a received ping
// resets the inactivity deadline too, per spec.md §4.4/§5 ("reset by any
// successful read on either half and by received pings") — mirroring
// the teacher's client.go SetPongHandler, which resets the read
// deadline on every pong. Overriding the handler means this method is
// now responsible for the pong reply gorilla's default would otherwise
// send.
func (s *Session) handlePing(appData string) error {
	s.resetDeadline()
	err := s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	if err == websocket.ErrCloseSent {
		return nil
	}
	if _, ok := err.(net.Error); ok {
		return nil
	}
	return err
}

// writeText sends a single WebSocket text frame, serializing access
// across the two loops (only the downstream loop normally writes data
// frames, but draining's close handshake can race with it).
func (s *Session) writeText(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}
