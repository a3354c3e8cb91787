package proxysession

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qualified/lsp-ws-proxy/internal/registry"
)

// Supervisor tracks every live session so the process can account for
// and tear down all of them together on shutdown. Unlike the teacher's
// chat hub, it never broadcasts between sessions — each session is an
// isolated point-to-point pairing between one WebSocket and one child
// process, so there is no fan-out to arbitrate.
type Supervisor struct {
	mu       sync.Mutex
	sessions map[string]*Session

	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a Supervisor whose sessions inherit opts as
// their default configuration.
func NewSupervisor(ctx context.Context, opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	supCtx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		sessions: make(map[string]*Session),
		opts:     opts,
		logger:   logger,
		ctx:      supCtx,
		cancel:   cancel,
	}
}

// Accept spawns spec's command, wires it to conn, registers the
// resulting Session, and runs it to completion in a new goroutine. It
// returns immediately; use Shutdown to wait for and tear down every
// outstanding session.
func (sup *Supervisor) Accept(conn *websocket.Conn, spec registry.ServerSpec) (*Session, error) {
	sess, err := New(conn, spec, sup.opts)
	if err != nil {
		return nil, err
	}

	sup.mu.Lock()
	sup.sessions[sess.ID()] = sess
	count := len(sup.sessions)
	sup.mu.Unlock()

	sup.logger.Info("session registered",
		zap.String("session", sess.ID()),
		zap.String("server", spec.Name),
		zap.Int("active", count))

	sup.wg.Add(1)
	go func() {
		defer sup.wg.Done()
		sess.Run(sup.ctx)
		sup.unregister(sess)
	}()

	return sess, nil
}

func (sup *Supervisor) unregister(sess *Session) {
	sup.mu.Lock()
	delete(sup.sessions, sess.ID())
	count := len(sup.sessions)
	sup.mu.Unlock()

	sup.logger.Info("session closed",
		zap.String("session", sess.ID()),
		zap.Int("active", count))
}

// Count returns the number of currently active sessions.
func (sup *Supervisor) Count() int {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return len(sup.sessions)
}

// Shutdown cancels every active session's context, which drives each
// one through Draining and Closed, then waits for all of their Run
// goroutines to return.
func (sup *Supervisor) Shutdown() {
	sup.logger.Info("supervisor shutdown initiated", zap.Int("active", sup.Count()))
	sup.cancel()
	sup.wg.Wait()
	sup.logger.Info("supervisor shutdown complete")
}
