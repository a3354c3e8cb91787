package proxysession

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qualified/lsp-ws-proxy/internal/framing"
	"github.com/qualified/lsp-ws-proxy/internal/rewrite"
)

// upstreamLoop pulls frames from the WebSocket and forwards them to the
// child's stdin, applying sync side effects and URI remapping as
// configured. It returns when the connection closes or the session
// context is cancelled by some other trigger (inactivity, the
// downstream half, draining).
func (s *Session) upstreamLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		// Unblock a pending ReadMessage so the loop notices cancellation
		// promptly instead of waiting for the next client frame.
		s.conn.SetReadDeadline(timeInPast())
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			s.triggerClose(reasonClientClosed)
			return
		}

		if messageType == websocket.BinaryMessage {
			s.logger.Warn("rejecting binary frame from client")
			s.triggerClose(reasonProtocolError)
			return
		}

		s.resetDeadline()

		if err := s.forwardToChild(payload); err != nil {
			s.logger.Error("writing to child stdin failed", zap.Error(err))
			s.triggerClose(reasonProtocolError)
			return
		}
	}
}

// forwardToChild implements the upstream half's per-message pipeline:
// optional remap, then optional sync (operating on the post-remap
// bytes, per spec.md §4.3's "after rewriting" rule), then framing.
//
// When both remap and sync are disabled, raw is forwarded completely
// untouched: no JSON decode/re-encode occurs, so the server-bound byte
// stream is byte-identical to the inbound WebSocket payloads.
func (s *Session) forwardToChild(raw []byte) error {
	if !s.opts.Remap && !s.opts.Sync {
		return framing.WriteMessage(s.stdin, raw)
	}

	if !json.Valid(raw) {
		s.logger.Warn("dropping invalid JSON from client")
		return nil
	}

	body := raw
	if s.opts.Remap {
		body = rewrite.RewriteMessage(body, s.rewriteCtx, rewrite.Incoming, s.tracker)
	}

	if s.opts.Sync {
		s.applySideEffects(body)
	}

	return framing.WriteMessage(s.stdin, body)
}

// downstreamLoop pulls decoded bodies from the child's stdout and sends
// each as one WebSocket text frame, applying outgoing URI remapping as
// configured.
func (s *Session) downstreamLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		body, err := s.stdout.Decode()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				s.logger.Info("child closed stdout")
				s.triggerClose(reasonServerExited)
				return
			}
			s.logger.Error("framing error on child stdout", zap.Error(err))
			s.triggerClose(reasonProtocolError)
			return
		}

		s.resetDeadline()

		out := body
		if s.opts.Remap {
			if !json.Valid(body) {
				s.logger.Warn("dropping invalid JSON from child")
				continue
			}
			out = rewrite.RewriteMessage(body, s.rewriteCtx, rewrite.Outgoing, s.tracker)
		}

		if err := s.writeText(out); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("websocket write error", zap.Error(err))
			s.triggerClose(reasonClientClosed)
			return
		}
	}
}

// sideEffectEnvelope is the subset of a JSON-RPC message the side-effect
// handler needs: the method name and the generically-decoded params.
type sideEffectEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// applySideEffects implements the spec.md §4.3 method table. Failures
// are logged and otherwise ignored: per spec, a side-effect failure
// must never block the message from still being forwarded.
func (s *Session) applySideEffects(body []byte) {
	var env sideEffectEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Method == "" {
		return
	}

	var params map[string]interface{}
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return
		}
	}

	switch env.Method {
	case "textDocument/didOpen":
		td, _ := params["textDocument"].(map[string]interface{})
		s.syncWrite(td)

	case "textDocument/didSave":
		text, hasText := params["text"].(string)
		if !hasText {
			return
		}
		td, _ := params["textDocument"].(map[string]interface{})
		uri, _ := td["uri"].(string)
		s.syncWriteText(uri, text)

	case "textDocument/didClose":
		// No filesystem effect: closing a buffer does not delete its file.

	case "workspace/didCreateFiles":
		for _, f := range asSlice(params["files"]) {
			fm, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			uri, _ := fm["uri"].(string)
			s.syncCreate(uri)
		}

	case "workspace/didRenameFiles":
		for _, f := range asSlice(params["files"]) {
			fm, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			oldURI, _ := fm["oldUri"].(string)
			newURI, _ := fm["newUri"].(string)
			s.syncRename(oldURI, newURI)
		}

	case "workspace/didDeleteFiles":
		for _, f := range asSlice(params["files"]) {
			fm, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			uri, _ := fm["uri"].(string)
			s.syncRemove(uri)
		}
	}
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func (s *Session) syncWrite(textDocument map[string]interface{}) {
	if textDocument == nil {
		return
	}
	uri, _ := textDocument["uri"].(string)
	text, _ := textDocument["text"].(string)
	s.syncWriteText(uri, text)
}

func (s *Session) syncWriteText(uri, text string) {
	rel, ok := s.relWorkspacePath(uri)
	if !ok {
		s.logger.Warn("skipping sync write: uri outside working directory", zap.String("uri", uri))
		return
	}
	if err := s.syncer.Write(rel, []byte(text)); err != nil {
		s.logger.Warn("sync write failed", zap.String("uri", uri), zap.Error(err))
	}
}

func (s *Session) syncCreate(uri string) {
	rel, ok := s.relWorkspacePath(uri)
	if !ok {
		s.logger.Warn("skipping sync create: uri outside working directory", zap.String("uri", uri))
		return
	}
	if err := s.syncer.Create(rel); err != nil {
		s.logger.Warn("sync create failed", zap.String("uri", uri), zap.Error(err))
	}
}

func (s *Session) syncRename(oldURI, newURI string) {
	oldRel, ok := s.relWorkspacePath(oldURI)
	if !ok {
		s.logger.Warn("skipping sync rename: old uri outside working directory", zap.String("uri", oldURI))
		return
	}
	newRel, ok := s.relWorkspacePath(newURI)
	if !ok {
		s.logger.Warn("skipping sync rename: new uri outside working directory", zap.String("uri", newURI))
		return
	}
	if err := s.syncer.Rename(oldRel, newRel); err != nil {
		s.logger.Warn("sync rename failed", zap.String("from", oldURI), zap.String("to", newURI), zap.Error(err))
	}
}

func (s *Session) syncRemove(uri string) {
	rel, ok := s.relWorkspacePath(uri)
	if !ok {
		s.logger.Warn("skipping sync remove: uri outside working directory", zap.String("uri", uri))
		return
	}
	if err := s.syncer.Remove(rel); err != nil {
		s.logger.Warn("sync remove failed", zap.String("uri", uri), zap.Error(err))
	}
}

// relWorkspacePath resolves a URI (either the synthetic "source://"
// scheme or a concrete "file://" URI, depending on whether remap is
// enabled) to a path relative to the working directory, the form
// internal/filesync expects. It reports ok=false for any URI that does
// not resolve inside the working directory, which the caller must treat
// as "skip and log" per spec.md §4.3.
func (s *Session) relWorkspacePath(uri string) (string, bool) {
	switch {
	case strings.HasPrefix(uri, rewrite.SourceScheme):
		rel, err := url.PathUnescape(strings.TrimPrefix(uri, rewrite.SourceScheme))
		if err != nil {
			return "", false
		}
		rel = filepath.Clean(filepath.FromSlash(rel))
		if filepath.IsAbs(rel) || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
			return "", false
		}
		return rel, true

	case strings.HasPrefix(uri, "file://"):
		c := s.rewriteCtx
		path := filenameFromFileURI(uri)
		rel, err := filepath.Rel(c.WorkingDir, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", false
		}
		return rel, true

	default:
		return "", false
	}
}
