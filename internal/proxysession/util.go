package proxysession

import (
	"time"

	lspuri "go.lsp.dev/uri"
)

// timeInPast returns a timestamp usable as an already-elapsed deadline,
// used to unblock a pending websocket.Conn.ReadMessage call promptly on
// context cancellation instead of waiting for the next client frame.
func timeInPast() time.Time {
	return time.Now().Add(-time.Hour)
}

// filenameFromFileURI converts a "file://" URI to a filesystem path.
func filenameFromFileURI(fileURI string) string {
	return lspuri.URI(fileURI).Filename()
}
