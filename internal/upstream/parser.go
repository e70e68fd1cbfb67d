package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// ErrMalformedRecord marks a data line whose payload is not a JSON object.
var ErrMalformedRecord = errors.New("malformed agent record")

// Record kinds that close a stream.
var terminalKinds = map[string]bool{
	"message_end": true,
	"done":        true,
	"stop":        true,
}

// field reads one value of a record. extract returns "" when the value at
// path is absent or unusable.
type field struct {
	path    []string
	extract func(any) string
}

func textAt(path ...string) field { return field{path: path, extract: asText} }
func codeAt(path ...string) field { return field{path: path, extract: asCode} }

// Text locations, tried in order. The first non-empty string wins.
var textFields = []field{
	textAt("content", "answer"),
	textAt("content", "text"),
	textAt("content", "message"),
	textAt("content", "delta", "text"),
	textAt("answer"),
	textAt("text"),
	textAt("message"),
	textAt("delta", "text"),
}

var errorCodeFields = []field{
	codeAt("code"),
	codeAt("error_code"),
	codeAt("content", "code"),
	codeAt("content", "error_code"),
	codeAt("content", "error", "code"),
}

var errorMessageFields = []field{
	textAt("msg"),
	textAt("error_message"),
	textAt("content", "msg"),
	textAt("content", "error_message"),
	textAt("content", "error", "message"),
	textAt("error", "message"),
}

// Event is one meaningful record of an agent stream.
type Event struct {
	// Kind is the record's "type" field, if any.
	Kind string
	// Text is the fragment carried by the record.
	Text string
	// End marks a terminal record.
	End bool
	// ErrorCode is set when a terminal record reports a failure.
	ErrorCode    string
	ErrorMessage string
}

// ParseLine interprets a single line of an agent stream. The boolean is false
// for lines that carry nothing: blank lines, non-data lines and comments.
// A data line that is not a JSON object also yields false, together with an
// error wrapping ErrMalformedRecord; callers log it and move on.
func ParseLine(line string) (Event, bool, error) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == "" {
		return Event{}, false, nil
	}
	if payload == doneMarker {
		return Event{End: true}, true, nil
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return Event{}, false, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	ev := Event{}
	if kind, ok := record["type"].(string); ok {
		ev.Kind = kind
	}

	if terminalKinds[ev.Kind] {
		ev.End = true
		if code := firstMatch(record, errorCodeFields); code != "" {
			ev.ErrorCode = code
			ev.ErrorMessage = firstMatch(record, errorMessageFields)
		}
		return ev, true, nil
	}

	ev.Text = firstMatch(record, textFields)
	return ev, true, nil
}

// Failed reports whether a terminal event carries an error code.
func (e Event) Failed() bool {
	return e.End && e.ErrorCode != ""
}

func firstMatch(record map[string]any, fields []field) string {
	for _, p := range fields {
		v, ok := lookup(record, p.path)
		if !ok {
			continue
		}
		if s := p.extract(v); s != "" {
			return s
		}
	}
	return ""
}

func asText(v any) string {
	s, _ := v.(string)
	return s
}

// asCode treats zero, "0", and empty values as success.
func asCode(v any) string {
	switch code := v.(type) {
	case string:
		if code == "0" {
			return ""
		}
		return code
	case float64:
		if code == 0 {
			return ""
		}
		return strconv.FormatFloat(code, 'f', -1, 64)
	default:
		return ""
	}
}

func lookup(record map[string]any, path []string) (any, bool) {
	var cur any = record
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
