package jira

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Fields maps the ticket attributes the reconciler needs onto Jira field ids.
type Fields struct {
	Epic      string `json:"epic"`
	Quantity  string `json:"quantity"`
	Material  string `json:"material"`
	Thickness string `json:"thickness"`
}

// DefaultFields are the custom field ids of the Hardware project.
var DefaultFields = Fields{
	Epic:      "customfield_10110",
	Quantity:  "customfield_10206",
	Material:  "customfield_10202",
	Thickness: "customfield_10207",
}

func (f Fields) withDefaults() Fields {
	if f.Epic == "" {
		f.Epic = DefaultFields.Epic
	}
	if f.Quantity == "" {
		f.Quantity = DefaultFields.Quantity
	}
	if f.Material == "" {
		f.Material = DefaultFields.Material
	}
	if f.Thickness == "" {
		f.Thickness = DefaultFields.Thickness
	}
	return f
}

// flatten renders a Jira field value as text. Select fields arrive as
// {"value": ...}, issue links as {"key": ...}, numbers as JSON numbers.
// Anything else, including null, renders as "".
func flatten(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	case '{':
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) != nil {
			return ""
		}
		for _, k := range []string{"value", "key", "name"} {
			if v, ok := obj[k]; ok {
				return flatten(v)
			}
		}
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(raw, &items) == nil && len(items) > 0 {
			return flatten(items[0])
		}
	default:
		var f float64
		if json.Unmarshal(raw, &f) == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	return ""
}
