package proxysession

import (
	"encoding/json"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qualified/lsp-ws-proxy/internal/framing"
)

// terminateSignal is sent to the child before escalating to SIGKILL.
const terminateSignal = syscall.SIGTERM

// drainAndClose implements spec.md §4.4's Draining state: it asks the
// child to shut down cleanly, escalates to a signal if it doesn't, and
// closes the WebSocket with the reason that triggered teardown.
func (s *Session) drainAndClose() {
	s.state.Store(int32(Draining))
	s.stopDeadline()

	reason := reasonServerExited
	if r := s.closeReason.Load(); r != nil {
		reason = *r
	}

	s.shutdownChild(reason)

	s.state.Store(int32(Closed))
	s.closeWebSocket(reason)
}

// shutdownChild sends the LSP shutdown/exit sequence best-effort, then
// waits up to shutdownGrace for the child to exit on its own before
// escalating to SIGTERM and, after killGrace, SIGKILL. It is a no-op if
// the child has already exited (e.g. reasonServerExited).
func (s *Session) shutdownChild(reason closeReason) {
	select {
	case <-s.childDone:
		return
	default:
	}

	if reason != reasonProtocolError {
		s.sendShutdownSequence()
	}

	select {
	case <-s.childDone:
		return
	case <-time.After(shutdownGrace):
	}

	s.terminateChild()
}

func (s *Session) sendShutdownSequence() {
	shutdownReq, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      "proxy-shutdown",
		"method":  "shutdown",
	})
	if err := framing.WriteMessage(s.stdin, shutdownReq); err != nil {
		s.logger.Warn("writing shutdown request failed", zap.Error(err))
		return
	}

	exitNotif, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "exit",
	})
	if err := framing.WriteMessage(s.stdin, exitNotif); err != nil {
		s.logger.Warn("writing exit notification failed", zap.Error(err))
	}
}

func (s *Session) terminateChild() {
	if s.cmd.Process == nil {
		return
	}

	if err := s.cmd.Process.Signal(terminateSignal); err != nil {
		s.logger.Warn("sending terminate signal failed", zap.Error(err))
	}

	select {
	case <-s.childDone:
		return
	case <-time.After(killGrace):
	}

	s.logger.Warn("child did not exit after terminate signal, killing")
	if err := s.cmd.Process.Kill(); err != nil {
		s.logger.Warn("killing child failed", zap.Error(err))
	}
	<-s.childDone
}

// closeWebSocket sends a close control frame with reason's code and
// text, then closes the underlying connection.
func (s *Session) closeWebSocket(reason closeReason) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg := websocket.FormatCloseMessage(reason.code, reason.reason)
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		s.logger.Debug("writing close frame failed", zap.Error(err))
	}
	s.conn.Close()
}
