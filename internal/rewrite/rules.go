package rewrite

// paramsRule rewrites the "params" payload of a request or notification
// for the given method, in place.
type paramsRule func(params interface{}, c *Context, dir Direction)

// resultRule rewrites the "result" payload of a response, in place,
// given the method of the request it answers.
type resultRule func(result interface{}, c *Context, dir Direction)

// paramsRules is the schema table driving incoming/outgoing request and
// notification rewriting. It covers the minimum method set spec.md §4.2
// names; methods not listed here pass through untouched.
var paramsRules = map[string]paramsRule{
	"initialize": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		rewriteURIKey(m, "rootUri", c, dir)
		rewriteWorkspaceFolders(m["workspaceFolders"], c, dir)
	},

	"textDocument/didOpen":   rewriteSimpleTextDocument,
	"textDocument/didChange": rewriteSimpleTextDocument,
	"textDocument/didClose":  rewriteSimpleTextDocument,
	"textDocument/didSave":   rewriteSimpleTextDocument,
	"textDocument/willSave":  rewriteSimpleTextDocument,

	"textDocument/completion":             rewriteSimpleTextDocument,
	"textDocument/hover":                  rewriteSimpleTextDocument,
	"textDocument/signatureHelp":          rewriteSimpleTextDocument,
	"textDocument/definition":             rewriteSimpleTextDocument,
	"textDocument/declaration":            rewriteSimpleTextDocument,
	"textDocument/typeDefinition":         rewriteSimpleTextDocument,
	"textDocument/implementation":         rewriteSimpleTextDocument,
	"textDocument/references":             rewriteSimpleTextDocument,
	"textDocument/documentHighlight":      rewriteSimpleTextDocument,
	"textDocument/documentSymbol":         rewriteSimpleTextDocument,
	"textDocument/codeAction": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		rewriteTextDocument(m, "textDocument", c, dir)
		if ctx, ok := asMap(m["context"]); ok {
			if diagnostics, ok := asSlice(ctx["diagnostics"]); ok {
				rewriteDiagnostics(diagnostics, c, dir)
			}
		}
	},
	"textDocument/codeLens":               rewriteSimpleTextDocument,
	"textDocument/documentLink":           rewriteSimpleTextDocument,
	"textDocument/documentColor":          rewriteSimpleTextDocument,
	"textDocument/colorPresentation":      rewriteSimpleTextDocument,
	"textDocument/formatting":             rewriteSimpleTextDocument,
	"textDocument/rangeFormatting":        rewriteSimpleTextDocument,
	"textDocument/onTypeFormatting":       rewriteSimpleTextDocument,
	"textDocument/rename":                 rewriteSimpleTextDocument,
	"textDocument/prepareRename":          rewriteSimpleTextDocument,
	"textDocument/foldingRange":           rewriteSimpleTextDocument,
	"textDocument/selectionRange":         rewriteSimpleTextDocument,
	"textDocument/semanticTokens/full":    rewriteSimpleTextDocument,
	"textDocument/semanticTokens/range":   rewriteSimpleTextDocument,
	"textDocument/inlayHint":              rewriteSimpleTextDocument,
	"textDocument/prepareCallHierarchy":   rewriteSimpleTextDocument,
	"textDocument/moniker":                rewriteSimpleTextDocument,
	"textDocument/linkedEditingRange":     rewriteSimpleTextDocument,

	"textDocument/publishDiagnostics": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		rewriteURIKey(m, "uri", c, dir)
		if diagnostics, ok := asSlice(m["diagnostics"]); ok {
			rewriteDiagnostics(diagnostics, c, dir)
		}
	},

	"workspace/didChangeWatchedFiles": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		rewriteURIArray(m, "changes", c, dir)
	},

	"workspace/didCreateFiles": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		rewriteURIArray(m, "files", c, dir)
	},

	"workspace/didDeleteFiles": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		rewriteURIArray(m, "files", c, dir)
	},

	"workspace/willCreateFiles": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		rewriteURIArray(m, "files", c, dir)
	},

	"workspace/willDeleteFiles": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		rewriteURIArray(m, "files", c, dir)
	},

	"workspace/didRenameFiles":  rewriteRenameFiles,
	"workspace/willRenameFiles": rewriteRenameFiles,

	"workspace/didChangeWorkspaceFolders": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		event, ok := asMap(m["event"])
		if !ok {
			return
		}
		rewriteWorkspaceFolders(event["added"], c, dir)
		rewriteWorkspaceFolders(event["removed"], c, dir)
	},

	// Server-initiated request: apply a workspace edit on the client.
	"workspace/applyEdit": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		if edit, ok := asMap(m["edit"]); ok {
			rewriteWorkspaceEdit(edit, c, dir)
		}
	},

	// Server-initiated request asking the client to show a document.
	"window/showDocument": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		rewriteURIKey(m, "uri", c, dir)
	},

	"callHierarchy/incomingCalls": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		if item, ok := asMap(m["item"]); ok {
			rewriteURIKey(item, "uri", c, dir)
		}
	},
	"callHierarchy/outgoingCalls": func(p interface{}, c *Context, dir Direction) {
		m, ok := asMap(p)
		if !ok {
			return
		}
		if item, ok := asMap(m["item"]); ok {
			rewriteURIKey(item, "uri", c, dir)
		}
	},
}

// resultRules is the schema table driving response rewriting, keyed by
// the method of the request the response answers (recovered from the
// id→method tracker, since JSON-RPC responses carry no method of their
// own).
var resultRules = map[string]resultRule{
	"textDocument/definition":     rewriteLocationResult,
	"textDocument/declaration":    rewriteLocationResult,
	"textDocument/typeDefinition": rewriteLocationResult,
	"textDocument/implementation": rewriteLocationResult,
	"textDocument/references":     rewriteLocationResult,

	"textDocument/documentLink": func(result interface{}, c *Context, dir Direction) {
		items, ok := asSlice(result)
		if !ok {
			return
		}
		for _, item := range items {
			if m, ok := asMap(item); ok {
				rewriteURIKey(m, "target", c, dir)
			}
		}
	},

	"textDocument/rename": func(result interface{}, c *Context, dir Direction) {
		if m, ok := asMap(result); ok {
			rewriteWorkspaceEdit(m, c, dir)
		}
	},

	"textDocument/documentSymbol": func(result interface{}, c *Context, dir Direction) {
		items, ok := asSlice(result)
		if !ok {
			return
		}
		for _, item := range items {
			m, ok := asMap(item)
			if !ok {
				continue
			}
			// Legacy SymbolInformation shape has a Location; the
			// hierarchical DocumentSymbol shape has none and is
			// relative to its owning document, so nothing to rewrite.
			if loc, ok := asMap(m["location"]); ok {
				rewriteLocation(loc, c, dir)
			}
		}
	},

	"workspace/symbol": func(result interface{}, c *Context, dir Direction) {
		items, ok := asSlice(result)
		if !ok {
			return
		}
		for _, item := range items {
			m, ok := asMap(item)
			if !ok {
				continue
			}
			if loc, ok := asMap(m["location"]); ok {
				rewriteLocation(loc, c, dir)
			} else {
				// WorkspaceSymbol permits location to be just {uri}.
				rewriteURIKey(m, "uri", c, dir)
			}
		}
	},

	"textDocument/prepareCallHierarchy": func(result interface{}, c *Context, dir Direction) {
		items, ok := asSlice(result)
		if !ok {
			return
		}
		for _, item := range items {
			if m, ok := asMap(item); ok {
				rewriteURIKey(m, "uri", c, dir)
			}
		}
	},

	"callHierarchy/incomingCalls": func(result interface{}, c *Context, dir Direction) {
		items, ok := asSlice(result)
		if !ok {
			return
		}
		for _, item := range items {
			if m, ok := asMap(item); ok {
				rewriteCallHierarchyItem(m, "from", c, dir)
			}
		}
	},

	"callHierarchy/outgoingCalls": func(result interface{}, c *Context, dir Direction) {
		items, ok := asSlice(result)
		if !ok {
			return
		}
		for _, item := range items {
			if m, ok := asMap(item); ok {
				rewriteCallHierarchyItem(m, "to", c, dir)
			}
		}
	},
}

func rewriteSimpleTextDocument(p interface{}, c *Context, dir Direction) {
	m, ok := asMap(p)
	if !ok {
		return
	}
	rewriteTextDocument(m, "textDocument", c, dir)
}

func rewriteRenameFiles(p interface{}, c *Context, dir Direction) {
	m, ok := asMap(p)
	if !ok {
		return
	}
	files, ok := asSlice(m["files"])
	if !ok {
		return
	}
	for _, f := range files {
		if fm, ok := asMap(f); ok {
			rewriteURIKey(fm, "oldUri", c, dir)
			rewriteURIKey(fm, "newUri", c, dir)
		}
	}
}
