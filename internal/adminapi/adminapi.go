// Package adminapi implements the optional administrative HTTP surface:
// a batch file-operation endpoint that lets an orchestrator seed or
// mutate the proxied workspace without going through a WebSocket
// session.
package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/qualified/lsp-ws-proxy/internal/filesync"
)

// Operation is one entry of a POST /files batch request.
type Operation struct {
	// Kind is "write", "remove", or "rename".
	Kind string `json:"kind"`
	// Path is the target path for write/remove, and the source path
	// for rename, relative to the working directory.
	Path string `json:"path"`
	// NewPath is the rename destination; only used when Kind is
	// "rename".
	NewPath string `json:"newPath,omitempty"`
	// Content is the file content for a write operation.
	Content string `json:"content,omitempty"`
}

// Result is one entry of the response, parallel to the request's
// operation list.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Handler serves POST /files.
type Handler struct {
	syncer *filesync.Syncer
	logger *zap.Logger
}

// New returns a Handler applying operations through syncer.
func New(syncer *filesync.Syncer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{syncer: syncer, logger: logger}
}

// Mount registers the handler's routes onto r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/files", h.handleFiles)
}

func (h *Handler) handleFiles(w http.ResponseWriter, r *http.Request) {
	var ops []Operation
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	results := make([]Result, len(ops))
	for i, op := range ops {
		results[i] = h.apply(op)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(results); err != nil {
		h.logger.Error("encoding /files response failed", zap.Error(err))
	}
}

func (h *Handler) apply(op Operation) Result {
	var err error
	switch op.Kind {
	case "write":
		err = h.syncer.Write(op.Path, []byte(op.Content))
	case "remove":
		err = h.syncer.Remove(op.Path)
	case "rename":
		err = h.syncer.Rename(op.Path, op.NewPath)
	default:
		return Result{OK: false, Error: "unknown operation kind"}
	}

	if err != nil {
		h.logger.Warn("admin file operation failed",
			zap.String("kind", op.Kind), zap.String("path", op.Path), zap.Error(err))
		return Result{OK: false, Error: classifyError(err)}
	}
	return Result{OK: true}
}

// classifyError reduces an error to the short "<kind>" the response
// schema asks for, rather than leaking internal error text to callers.
func classifyError(err error) string {
	switch {
	case strings.Contains(err.Error(), "escapes workspace root"):
		return "containment"
	case errors.Is(err, os.ErrNotExist):
		return "not_found"
	default:
		return "operation_failed"
	}
}
