package rewrite

// Small, tolerant accessors over generically-decoded JSON
// (map[string]interface{} / []interface{} / primitives). Every accessor
// returns a zero value and ok=false on a shape mismatch instead of
// panicking, so a method whose payload doesn't match the LSP shape the
// table expects is silently skipped rather than failing the session.

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func asSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// rewriteURIKey rewrites m[key] in place if it holds a string.
func rewriteURIKey(m map[string]interface{}, key string, c *Context, dir Direction) {
	if m == nil {
		return
	}
	if s, ok := asString(m[key]); ok {
		m[key] = c.Convert(dir, s)
	}
}

// rewriteTextDocument rewrites the "uri" field of a nested
// TextDocumentIdentifier/TextDocumentItem found at m[field].
func rewriteTextDocument(m map[string]interface{}, field string, c *Context, dir Direction) {
	if m == nil {
		return
	}
	if td, ok := asMap(m[field]); ok {
		rewriteURIKey(td, "uri", c, dir)
	}
}

// rewriteLocation rewrites a Location ({uri, range}).
func rewriteLocation(loc map[string]interface{}, c *Context, dir Direction) {
	rewriteURIKey(loc, "uri", c, dir)
}

// rewriteLocationOrLink rewrites either a Location ("uri") or a
// LocationLink ("targetUri").
func rewriteLocationOrLink(v interface{}, c *Context, dir Direction) {
	m, ok := asMap(v)
	if !ok {
		return
	}
	if _, hasTarget := m["targetUri"]; hasTarget {
		rewriteURIKey(m, "targetUri", c, dir)
		return
	}
	rewriteURIKey(m, "uri", c, dir)
}

// rewriteLocationResult rewrites a result shaped as one Location, an
// array of Location, or an array of LocationLink.
func rewriteLocationResult(result interface{}, c *Context, dir Direction) {
	if m, ok := asMap(result); ok {
		rewriteLocation(m, c, dir)
		return
	}
	if items, ok := asSlice(result); ok {
		for _, item := range items {
			rewriteLocationOrLink(item, c, dir)
		}
	}
}

// rewriteURIArray rewrites the "uri" field of every element of m[field].
func rewriteURIArray(m map[string]interface{}, field string, c *Context, dir Direction) {
	items, ok := asSlice(m[field])
	if !ok {
		return
	}
	for _, item := range items {
		if im, ok := asMap(item); ok {
			rewriteURIKey(im, "uri", c, dir)
		}
	}
}

// rewriteDiagnostics rewrites Diagnostic.relatedInformation[*].location.uri
// for every diagnostic in the slice.
func rewriteDiagnostics(diagnostics []interface{}, c *Context, dir Direction) {
	for _, d := range diagnostics {
		dm, ok := asMap(d)
		if !ok {
			continue
		}
		related, ok := asSlice(dm["relatedInformation"])
		if !ok {
			continue
		}
		for _, r := range related {
			rm, ok := asMap(r)
			if !ok {
				continue
			}
			if loc, ok := asMap(rm["location"]); ok {
				rewriteLocation(loc, c, dir)
			}
		}
	}
}

// rewriteWorkspaceFolders rewrites the "uri" of every WorkspaceFolder in
// the slice.
func rewriteWorkspaceFolders(v interface{}, c *Context, dir Direction) {
	folders, ok := asSlice(v)
	if !ok {
		return
	}
	for _, f := range folders {
		if fm, ok := asMap(f); ok {
			rewriteURIKey(fm, "uri", c, dir)
		}
	}
}

// rewriteWorkspaceEdit rewrites every URI-bearing field of a
// WorkspaceEdit: the "changes" map's keys and "documentChanges" items.
func rewriteWorkspaceEdit(we map[string]interface{}, c *Context, dir Direction) {
	if we == nil {
		return
	}

	if changes, ok := asMap(we["changes"]); ok {
		rewritten := make(map[string]interface{}, len(changes))
		for uri, edits := range changes {
			rewritten[c.Convert(dir, uri)] = edits
		}
		we["changes"] = rewritten
	}

	if docChanges, ok := asSlice(we["documentChanges"]); ok {
		for _, dc := range docChanges {
			dcm, ok := asMap(dc)
			if !ok {
				continue
			}
			switch {
			case dcm["kind"] == "create" || dcm["kind"] == "delete":
				rewriteURIKey(dcm, "uri", c, dir)
			case dcm["kind"] == "rename":
				rewriteURIKey(dcm, "oldUri", c, dir)
				rewriteURIKey(dcm, "newUri", c, dir)
			default:
				// TextDocumentEdit: {textDocument: {uri, version}, edits}
				rewriteTextDocument(dcm, "textDocument", c, dir)
			}
		}
	}
}

// rewriteCallHierarchyItem rewrites the "uri" field of a
// CallHierarchyItem, optionally nested under containerField (e.g. "from"
// or "to" for call-chain results).
func rewriteCallHierarchyItem(m map[string]interface{}, containerField string, c *Context, dir Direction) {
	target := m
	if containerField != "" {
		if nested, ok := asMap(m[containerField]); ok {
			target = nested
		} else {
			return
		}
	}
	rewriteURIKey(target, "uri", c, dir)
}
