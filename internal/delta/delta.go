// Package delta decodes Signal K delta documents and encodes subscription requests.
package delta

import (
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"skstream/pkg/exception"
)

// Document is one inbound delta message.
type Document struct {
	Context string   `json:"context,omitempty"`
	Updates []Update `json:"updates"`
}

// Update is one block of values reported by a single source at one time.
type Update struct {
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"$source,omitempty"`
	RawSource map[string]any `json:"source,omitempty"`
	Values    []Value        `json:"values"`
}

// Value is one path/value entry of an update.
type Value struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Event is one routed path/value entry. It is consumed immediately and never stored.
type Event struct {
	Path      string
	Value     any
	Source    string
	Timestamp string
}

// SourceID returns $source, or the serialized source object when $source is absent.
func (u Update) SourceID() string {
	if u.Source != "" {
		return u.Source
	}
	if len(u.RawSource) == 0 {
		return ""
	}
	s, err := sonic.ConfigStd.MarshalToString(u.RawSource)
	if err != nil {
		return ""
	}
	return s
}

// Parse decodes a text payload.
//
// It returns exception.ErrDeltaInvalidUTF8 or exception.ErrDeltaDecode for
// payloads that cannot be read, and exception.ErrDeltaNotDelta for valid JSON
// without an updates array, such as the server hello.
func Parse(payload []byte) (Document, error) {
	if !utf8.Valid(payload) {
		return Document{}, exception.ErrDeltaInvalidUTF8
	}
	var doc Document
	if err := sonic.ConfigFastest.Unmarshal(payload, &doc); err != nil {
		return Document{}, errors.Wrap(exception.ErrDeltaDecode, err.Error())
	}
	if doc.Updates == nil {
		return doc, exception.ErrDeltaNotDelta
	}
	return doc, nil
}

// Float converts a decoded JSON number to float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
