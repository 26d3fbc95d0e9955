package options

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf16"
)

// Record is the flat option-name to value mapping edited by the
// configuration page.
type Record map[string]string

// ErrNotObject is returned when a payload parses as JSON but is not an object.
var ErrNotObject = errors.New("options payload is not a JSON object")

// minResponseLen is the length a close response must exceed to be considered.
const minResponseLen = 5

// Plausible applies the cheap well-formedness check to a raw close response:
// it must start with '{', end with '}' and be longer than five characters.
// It is a heuristic, not JSON validation; payloads that pass it may still
// fail to parse. Length is counted in UTF-16 code units like the page does.
func Plausible(response string) bool {
	if response == "" {
		return false
	}
	if response[0] != '{' || response[len(response)-1] != '}' {
		return false
	}
	return utf16Len(response) > minResponseLen
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// ParseResponse percent-decodes a close response and parses it as an options
// object. doc is the compacted decoded JSON, kept in its original key order so
// that it can be persisted verbatim.
func ParseResponse(response string) (doc []byte, rec Record, err error) {
	decoded, err := DecodeURIComponent(response)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding response: %w", err)
	}
	return ParseDocument([]byte(decoded))
}

// ParseDocument parses a JSON options object. String values are taken as is,
// null values are treated as absent and any other value is kept as its
// compact JSON text.
func ParseDocument(data []byte) (doc []byte, rec Record, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, nil, ErrNotObject
		}
		return nil, nil, fmt.Errorf("parsing options: %w", err)
	}
	if fields == nil {
		return nil, nil, ErrNotObject
	}

	rec = make(Record, len(fields))
	for k, raw := range fields {
		v, ok, err := scalarString(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing option %q: %w", k, err)
		}
		if ok {
			rec[k] = v
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, nil, fmt.Errorf("compacting options: %w", err)
	}
	return buf.Bytes(), rec, nil
}

func scalarString(raw json.RawMessage) (string, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		return "", false, nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return "", false, err
		}
		return buf.String(), true, nil
	}
}

// Document returns the JSON encoding of r. Keys are sorted.
func (r Record) Document() []byte {
	b, _ := json.Marshal(map[string]string(r))
	return b
}
