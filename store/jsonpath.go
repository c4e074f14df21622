package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// location is a parsed store path: the root document key and the segments
// inside it.
type location struct {
	path string
	root string
	sub  []string
}

func parsePath(path string) (location, error) {
	trimmed := strings.Trim(path, "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) < 2 {
		return location{}, fmt.Errorf("%w: %q needs at least two segments", ErrInvalidPath, path)
	}
	for _, seg := range segments {
		if seg == "" {
			return location{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
	}
	return location{
		path: trimmed,
		root: segments[0] + "/" + segments[1],
		sub:  segments[2:],
	}, nil
}

func (l location) isRoot() bool { return len(l.sub) == 0 }

const gjsonSpecial = `\.*?|#@!=<>%:,"`

func escapeSegment(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		if strings.ContainsRune(gjsonSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isNumeric(seg string) bool {
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return seg != ""
}

func (l location) gjsonPath() string {
	parts := make([]string, len(l.sub))
	for i, seg := range l.sub {
		parts[i] = escapeSegment(seg)
	}
	return strings.Join(parts, ".")
}

// sjsonPath forces numeric segments to be object keys; sjson would otherwise
// create arrays for them.
func (l location) sjsonPath() string {
	parts := make([]string, len(l.sub))
	for i, seg := range l.sub {
		if isNumeric(seg) {
			parts[i] = ":" + seg
			continue
		}
		parts[i] = escapeSegment(seg)
	}
	return strings.Join(parts, ".")
}

func isNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// compact validates value and strips insignificant whitespace so equal values
// compare equal byte-wise.
func compact(value []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return buf.Bytes(), nil
}

// readAt returns the value at l inside doc, or nil when absent.
func readAt(doc []byte, l location) json.RawMessage {
	if isNull(doc) {
		return nil
	}
	if l.isRoot() {
		return append(json.RawMessage(nil), doc...)
	}
	res := gjson.GetBytes(doc, l.gjsonPath())
	if !res.Exists() || res.Type == gjson.Null {
		return nil
	}
	return json.RawMessage(res.Raw)
}

// writeAt returns doc with value stored at l. A nil result means the root
// document is removed.
func writeAt(doc []byte, l location, value []byte) ([]byte, error) {
	if l.isRoot() {
		return value, nil
	}
	if isNull(doc) {
		doc = []byte("{}")
	}
	out, err := sjson.SetRawBytes(doc, l.sjsonPath(), value)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", l.path, err)
	}
	return compact(out)
}

// deleteAt returns doc without the value at l and whether anything changed.
func deleteAt(doc []byte, l location) ([]byte, bool, error) {
	if isNull(doc) {
		return nil, false, nil
	}
	if l.isRoot() {
		return nil, true, nil
	}
	if !gjson.GetBytes(doc, l.gjsonPath()).Exists() {
		return doc, false, nil
	}
	out, err := sjson.DeleteBytes(doc, l.sjsonPath())
	if err != nil {
		return nil, false, fmt.Errorf("delete %s: %w", l.path, err)
	}
	out, err = compact(out)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// watcher turns versioned root documents into deliveries for one path. It
// drops stale versions and values that did not change at its path. A watcher
// is driven by a single goroutine.
type watcher struct {
	loc       location
	handler   Handler
	ver       uint64
	delivered bool
	last      json.RawMessage
}

func newWatcher(loc location, h Handler) *watcher {
	return &watcher{loc: loc, handler: h}
}

func (w *watcher) offer(ver uint64, doc []byte) {
	if w.delivered && ver <= w.ver {
		return
	}
	w.ver = ver
	value := readAt(doc, w.loc)
	if w.delivered && (value == nil) == (w.last == nil) && bytes.Equal(value, w.last) {
		return
	}
	w.delivered = true
	w.last = value
	w.handler(Snapshot{Path: w.loc.path, Value: value})
}
