package rewrite

import (
	"encoding/json"
	"fmt"
	"sync"
)

// envelope is the subset of JSON-RPC 2.0 fields the rewriter needs to
// inspect. Everything else in the original message survives untouched
// because Params/Result stay as json.RawMessage until the schema table
// says otherwise.
type envelope struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// RewriteMessage rewrites the URIs in a single JSON-RPC message, given
// the direction it travelled. tracker correlates responses (which carry
// no method) back to the request that produced them.
//
// A message this package cannot parse as JSON-RPC, or whose method has
// no table entry, is returned byte-for-byte unchanged: unrecognized
// shapes are never an error here, only a no-op.
func RewriteMessage(body []byte, c *Context, dir Direction, tracker *PendingTracker) []byte {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return body
	}

	switch {
	case env.Method != "" && len(env.Params) > 0:
		// Request or notification.
		if dir == Incoming && len(env.ID) > 0 {
			tracker.Track(env.ID, env.Method)
		}
		rule, ok := paramsRules[env.Method]
		if !ok {
			return body
		}
		rewritten, err := applyRule(env.Params, c, dir, rule)
		if err != nil {
			return body
		}
		return replaceField(body, "params", rewritten)

	case env.Method == "" && len(env.Result) > 0 && len(env.ID) > 0:
		// Response.
		method, ok := tracker.Resolve(env.ID)
		if !ok {
			return body
		}
		rule, ok := resultRules[method]
		if !ok {
			return body
		}
		rewritten, err := applyResultRule(env.Result, c, dir, rule)
		if err != nil {
			return body
		}
		return replaceField(body, "result", rewritten)
	}

	return body
}

func applyRule(raw json.RawMessage, c *Context, dir Direction, rule paramsRule) (json.RawMessage, error) {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	rule(decoded, c, dir)
	return json.Marshal(decoded)
}

func applyResultRule(raw json.RawMessage, c *Context, dir Direction, rule resultRule) (json.RawMessage, error) {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	rule(decoded, c, dir)
	return json.Marshal(decoded)
}

// replaceField re-marshals body with field replaced by the already
// JSON-encoded raw value, leaving every other top-level field as it was
// decoded. It round-trips through map[string]json.RawMessage rather than
// the typed envelope so unknown top-level fields the client or server
// sent are preserved verbatim.
func replaceField(body []byte, field string, value json.RawMessage) []byte {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return body
	}
	raw[field] = value
	out, err := json.Marshal(raw)
	if err != nil {
		return body
	}
	return out
}

// PendingTracker correlates a JSON-RPC response back to the method of
// the request that produced it. Responses carry an id but no method, so
// the session records id→method when it forwards a request and looks it
// up again when the matching response arrives.
type PendingTracker struct {
	mu sync.Mutex
	m  map[string]string
}

// NewPendingTracker returns an empty tracker.
func NewPendingTracker() *PendingTracker {
	return &PendingTracker{m: make(map[string]string)}
}

// Track records that id was issued for method. Safe for concurrent use.
func (t *PendingTracker) Track(id json.RawMessage, method string) {
	key := idKey(id)
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[key] = method
}

// Resolve looks up and removes the method associated with id. A
// response is only ever matched once.
func (t *PendingTracker) Resolve(id json.RawMessage) (string, bool) {
	key := idKey(id)
	if key == "" {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	method, ok := t.m[key]
	if ok {
		delete(t.m, key)
	}
	return method, ok
}

// idKey canonicalizes a raw JSON-RPC id (string or number) into a map
// key that distinguishes the two: the wire forms 1 and "1" must not
// collide.
func idKey(id json.RawMessage) string {
	// The string form is tried first: json.Number also accepts a quoted
	// numeric string such as "1", which would otherwise collide with 1.
	var asString string
	if err := json.Unmarshal(id, &asString); err == nil {
		return fmt.Sprintf("s:%s", asString)
	}
	var asNumber json.Number
	if err := json.Unmarshal(id, &asNumber); err == nil {
		return fmt.Sprintf("n:%s", asNumber.String())
	}
	return ""
}
