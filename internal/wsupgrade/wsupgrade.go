// Package wsupgrade accepts the proxy's single WebSocket endpoint,
// dispatches the `?name=` query parameter to a registry.Registry entry,
// and hands the upgraded connection off to a proxysession.Supervisor.
package wsupgrade

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qualified/lsp-ws-proxy/internal/proxysession"
	"github.com/qualified/lsp-ws-proxy/internal/registry"
)

// Upgrader upgrades HTTP connections to WebSocket and starts a session
// for each one. Unlike the teacher's upgrader, it carries no
// TokenExtractor or auth handler: spec.md §1 rules out authentication
// for this process, which is expected to sit behind a fronting reverse
// proxy that handles it.
type Upgrader struct {
	registry   *registry.Registry
	supervisor *proxysession.Supervisor
	logger     *zap.Logger

	upgrader websocket.Upgrader
}

// New builds an Upgrader serving connections from reg, each handed to
// sup. permessage-deflate is advertised and honored whenever the client
// offers it, per spec.md §6.
func New(reg *registry.Registry, sup *proxysession.Supervisor, logger *zap.Logger) *Upgrader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Upgrader{
		registry:   reg,
		supervisor: sup,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				// No authentication layer exists here (spec.md §1
				// Non-goal); origin checking is likewise deferred to
				// whatever reverse proxy fronts this process.
				return true
			},
		},
	}
}

// ServeHTTP implements the `GET /?name=<label>` endpoint.
func (u *Upgrader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	var spec registry.ServerSpec
	var ok bool
	if name == "" {
		spec, ok = u.registry.Default()
	} else {
		spec, ok = u.registry.Lookup(name)
	}
	if !ok {
		http.Error(w, "no matching server spec", http.StatusNotFound)
		return
	}

	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		u.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if _, err := u.supervisor.Accept(conn, spec); err != nil {
		u.logger.Error("spawning session failed", zap.String("server", spec.Name), zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "failed to start server")
		conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
		return
	}
}
