// Package scorm derives lesson-level signals from the runtime status
// documents a SCORM player submits.
package scorm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Runtime data model keys.
const (
	KeyCredit          = "cmi.core.credit"
	KeyLessonStatus    = "cmi.core.lesson_status"
	KeyScoreRaw        = "cmi.core.score.raw"
	KeyProgressMeasure = "cmi.progress_measure"
	KeyInteractions    = "cmi.interactions."
)

// StatusNotAttempted is the lesson status of content nobody has opened.
const StatusNotAttempted = "not attempted"

// ErrMalformed is returned for submissions that are not a JSON object.
var ErrMalformed = errors.New("status document is not a JSON object")

// Document is a raw status document: top-level "status" and "score" plus a
// "scos" object mapping SCO identifiers to SCO records. Fields the player
// adds are kept as-is.
type Document map[string]any

// SCO is one SCO record. Its "data" object holds the cmi.* values.
type SCO map[string]any

// ParseDocument decodes a submitted document. Numbers are kept as
// json.Number so re-encoding does not alter them.
func ParseDocument(data string) (Document, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc == nil {
		return nil, ErrMalformed
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	return doc, nil
}

// Encode renders the document as JSON.
func (d Document) Encode() (string, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode status document: %w", err)
	}
	return string(b), nil
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneValue(map[string]any(d)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Status is the top-level lesson status, or def.
func (d Document) Status(def string) string {
	return Lookup(d, "status", def)
}

// Score is the top-level score; "" when the player sent none.
func (d Document) Score() string {
	return Lookup(d, "score", "")
}

// SCOIDs returns the SCO identifiers in sorted order.
func (d Document) SCOIDs() []string {
	scos, _ := d["scos"].(map[string]any)
	ids := make([]string, 0, len(scos))
	for id, v := range scos {
		if _, ok := v.(map[string]any); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SCO returns the record for id, or nil.
func (d Document) SCO(id string) SCO {
	scos, _ := d["scos"].(map[string]any)
	rec, _ := scos[id].(map[string]any)
	return SCO(rec)
}

// Data returns the cmi.* values of the SCO; never nil.
func (s SCO) Data() map[string]any {
	data, _ := s["data"].(map[string]any)
	if data == nil {
		return map[string]any{}
	}
	return data
}

// Lookup returns record[key] as a string. Missing keys, nulls and blank
// strings read as def.
func Lookup(record map[string]any, key, def string) string {
	v, ok := record[key]
	if !ok || v == nil {
		return def
	}

	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		s = fmt.Sprint(t)
	}
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// LookupFloat is Lookup for numeric fields; unparseable values read as def.
func LookupFloat(record map[string]any, key string, def float64) float64 {
	s := Lookup(record, key, "")
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}
