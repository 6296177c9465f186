// Package jsonutil decodes JSON emitted by generation models, which often
// puts a number where a string belongs or a single value where a list does.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// FlexibleStringValue converts raw into a string, accepting numbers and
// booleans. Returns "" for null or empty input; objects and arrays come back
// as their raw text.
func FlexibleStringValue(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if f, err := n.Float64(); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return n.String()
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}

	return string(bytes.TrimSpace(raw))
}

// FlexibleStringList accepts ["a","b"], "a", "a, b" and lists with
// non-string scalars. Blank entries are dropped.
func FlexibleStringList(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s := strings.TrimSpace(FlexibleStringValue(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	var out []string
	for _, part := range strings.Split(FlexibleStringValue(raw), ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FlexibleStringMap decodes an object whose values should be strings. It
// returns false when raw is not an object.
func FlexibleStringMap(raw json.RawMessage) (map[string]string, bool) {
	if isNull(raw) {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = FlexibleStringValue(v)
	}
	return out, true
}
