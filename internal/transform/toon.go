package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// EncodeTOON re-serializes a JSON document in TOON (token-oriented object
// notation), a token-dense form: objects fold into `key: value` lines,
// arrays of uniform flat objects fold into one header row plus CSV-style
// data rows, so repeated keys are emitted once instead of per element.
//
// The input must parse as a JSON object or array; scalars and invalid JSON
// return ok=false and the caller keeps the original content. Output is
// deterministic: object keys are sorted, numbers keep their literal form.
func EncodeTOON(content string) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	// Trailing garbage after the document means this isn't a clean JSON
	// payload; leave it alone.
	if dec.More() {
		return "", false
	}

	switch v.(type) {
	case map[string]any, []any:
	default:
		return "", false
	}

	var b strings.Builder
	encodeValue(&b, "", v, 0)
	return strings.TrimRight(b.String(), "\n"), true
}

func encodeValue(b *strings.Builder, key string, v any, depth int) {
	indent := strings.Repeat("  ", depth)

	switch t := v.(type) {
	case map[string]any:
		if key != "" {
			fmt.Fprintf(b, "%s%s:\n", indent, key)
			depth++
			indent = strings.Repeat("  ", depth)
		}
		for _, k := range sortedKeys(t) {
			child := t[k]
			switch child.(type) {
			case map[string]any, []any:
				encodeValue(b, k, child, depth)
			default:
				fmt.Fprintf(b, "%s%s: %s\n", indent, k, scalarToken(child))
			}
		}

	case []any:
		if fields, ok := tabularFields(t); ok {
			fmt.Fprintf(b, "%s%s[%d]{%s}:\n", indent, key, len(t), strings.Join(fields, ","))
			rowIndent := strings.Repeat("  ", depth+1)
			for _, item := range t {
				row := item.(map[string]any)
				cells := make([]string, len(fields))
				for i, f := range fields {
					cells[i] = scalarToken(row[f])
				}
				fmt.Fprintf(b, "%s%s\n", rowIndent, strings.Join(cells, ","))
			}
			return
		}

		if scalars, ok := scalarItems(t); ok {
			fmt.Fprintf(b, "%s%s[%d]: %s\n", indent, key, len(t), strings.Join(scalars, ","))
			return
		}

		fmt.Fprintf(b, "%s%s[%d]:\n", indent, key, len(t))
		for _, item := range t {
			switch item.(type) {
			case map[string]any, []any:
				encodeValue(b, "-", item, depth+1)
			default:
				fmt.Fprintf(b, "%s- %s\n", strings.Repeat("  ", depth+1), scalarToken(item))
			}
		}

	default:
		fmt.Fprintf(b, "%s%s: %s\n", indent, key, scalarToken(v))
	}
}

// tabularFields reports whether every element is a flat object over the same
// key set, returning the shared field order. Only such arrays fold into the
// tabular form.
func tabularFields(items []any) ([]string, bool) {
	if len(items) < 2 {
		return nil, false
	}

	var fields []string
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		for _, v := range m {
			switch v.(type) {
			case map[string]any, []any:
				return nil, false
			}
		}
		if i == 0 {
			fields = sortedKeys(m)
			continue
		}
		if len(m) != len(fields) {
			return nil, false
		}
		for _, f := range fields {
			if _, ok := m[f]; !ok {
				return nil, false
			}
		}
	}
	return fields, true
}

func scalarItems(items []any) ([]string, bool) {
	out := make([]string, len(items))
	for i, item := range items {
		switch item.(type) {
		case map[string]any, []any:
			return nil, false
		}
		out[i] = scalarToken(item)
	}
	return out, true
}

// scalarToken renders a scalar. Strings are quoted only when they would be
// ambiguous in row context (delimiters, leading/trailing space, or forms
// that read as other scalar types).
func scalarToken(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case json.Number:
		return t.String()
	case string:
		if needsQuoting(t) {
			q, _ := json.Marshal(t)
			return string(q)
		}
		return t
	default:
		q, _ := json.Marshal(t)
		return string(q)
	}
}

func needsQuoting(s string) bool {
	if s == "" || s == "null" || s == "true" || s == "false" {
		return true
	}
	if s != strings.TrimSpace(s) {
		return true
	}
	if strings.ContainsAny(s, ",:\n\"{}[]") {
		return true
	}
	// Numeric-looking strings must stay strings.
	var n json.Number
	if err := json.Unmarshal([]byte(s), &n); err == nil {
		return true
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// looksLikeJSON is a cheap pre-check used before attempting a full decode.
func looksLikeJSON(content string) bool {
	trimmed := bytes.TrimLeft([]byte(content), " \t\n\r")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
