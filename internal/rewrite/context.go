// Package rewrite implements the schema-driven JSON-RPC URI rewriter: it
// walks LSP payloads by method, converting the synthetic "source://"
// scheme to concrete filesystem "file://" URIs under a working
// directory, and back.
package rewrite

import (
	"net/url"
	"path/filepath"
	"strings"

	lspuri "go.lsp.dev/uri"
)

// SourceScheme is the synthetic relative-URI scheme this proxy
// understands on the client side of the connection.
const SourceScheme = "source://"

// Direction distinguishes which half of the connection a message
// travelled on, since the two directions rewrite opposite schemes.
type Direction int

const (
	// Incoming is client → server traffic.
	Incoming Direction = iota
	// Outgoing is server → client traffic.
	Outgoing
)

// Context is the pure, stateless configuration the rewriter needs: the
// canonical absolute working directory. It accumulates no state across
// calls.
type Context struct {
	// WorkingDir is the canonical (symlink-resolved, absolute) process
	// working directory, the root "source://" URIs are relative to.
	WorkingDir string
}

// ToServerURI converts a "source://relative/path" URI into an absolute
// "file://" URI under the working directory. Returns ok=false if the
// input does not carry the source:// scheme; the caller should pass the
// original string through unchanged in that case.
func (c *Context) ToServerURI(sourceURI string) (string, bool) {
	rel, ok := strings.CutPrefix(sourceURI, SourceScheme)
	if !ok {
		return sourceURI, false
	}

	decoded, err := url.PathUnescape(rel)
	if err != nil {
		decoded = rel
	}

	abs := filepath.Join(c.WorkingDir, filepath.FromSlash(decoded))
	return string(lspuri.File(abs)), true
}

// ToClientURI converts an absolute "file://" URI back to "source://" if,
// and only if, its path is contained in the working directory. Returns
// ok=false (and the original URI) for file:// URIs outside the working
// directory, or non-file:// URIs, both of which pass through unchanged.
func (c *Context) ToClientURI(fileURI string) (string, bool) {
	if !strings.HasPrefix(fileURI, "file://") {
		return fileURI, false
	}

	path := lspuri.URI(fileURI).Filename()
	rel, err := filepath.Rel(c.WorkingDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fileURI, false
	}

	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return SourceScheme + strings.Join(segments, "/"), true
}

// Convert applies the direction-appropriate rewrite to a single URI
// string. Rewriter failures (unrecognized scheme, URI outside the
// working directory) are non-fatal: the original string is returned
// verbatim, matching spec policy that an unrecognized or unresolvable
// URI is passed through rather than failing the session.
func (c *Context) Convert(dir Direction, uri string) string {
	switch dir {
	case Incoming:
		if rewritten, ok := c.ToServerURI(uri); ok {
			return rewritten
		}
	case Outgoing:
		if rewritten, ok := c.ToClientURI(uri); ok {
			return rewritten
		}
	}
	return uri
}
