package yachtapi

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fclairamb/yachtsync/internal/apperrors"
)

// Payload is a raw listing document. It is only read by the resolver and
// the normalizer; everything past them works on vessel.Record.
type Payload struct {
	root gjson.Result
}

// ParsePayload validates data and unwraps an optional top-level "data" envelope.
func ParsePayload(data []byte) (*Payload, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON payload", apperrors.ErrTransport)
	}

	root := gjson.ParseBytes(data)
	if inner := root.Get("data"); inner.IsObject() {
		root = inner
	}
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: payload is not an object", apperrors.ErrTransport)
	}

	return &Payload{root: root}, nil
}

// Get returns the value at a gjson path.
func (p *Payload) Get(path string) gjson.Result {
	return p.root.Get(path)
}

// First returns the first value along paths that is present and not blank.
func (p *Payload) First(paths ...string) gjson.Result {
	for _, path := range paths {
		v := p.root.Get(path)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if v.Type == gjson.String && strings.TrimSpace(v.Str) == "" {
			continue
		}
		return v
	}
	return gjson.Result{}
}

// Raw returns the JSON document.
func (p *Payload) Raw() string {
	return p.root.Raw
}
