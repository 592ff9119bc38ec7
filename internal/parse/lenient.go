package parse

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// The adapter is a text generator, so every field type here decodes whatever
// shape arrives and falls back to the zero value instead of failing the item.

// Text accepts strings, numbers and booleans; null and other shapes decode to "".
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*t = Text(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*t = Text(strconv.FormatBool(b))
		return nil
	}
	*t = ""
	return nil
}

func (t Text) String() string { return string(t) }

// Flag accepts true/false, 0/1 and their string spellings.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag(b)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = n != 0
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes", "si", "sí":
			*f = true
		default:
			*f = false
		}
		return nil
	}
	*f = false
	return nil
}

// Confidence holds an adapter-reported score. Set is false when the value was
// missing or not numeric, so callers can apply their own default.
type Confidence struct {
	Value float64
	Set   bool
}

func (c *Confidence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = Confidence{}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*c = Confidence{Value: n, Set: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			if strings.Contains(string(data), "%") {
				v = v / 100
			}
			*c = Confidence{Value: v, Set: true}
			return nil
		}
	}
	*c = Confidence{}
	return nil
}

func (c Confidence) MarshalJSON() ([]byte, error) {
	if !c.Set {
		return []byte("null"), nil
	}
	return json.Marshal(c.Value)
}

// Strings accepts a list of strings, a single string, or a comma separated string.
type Strings []string

func (s *Strings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var raw []Text
	if err := json.Unmarshal(data, &raw); err == nil {
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if v != "" {
				out = append(out, string(v))
			}
		}
		*s = out
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		var out []string
		for _, part := range strings.Split(one, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*s = out
		return nil
	}
	*s = nil
	return nil
}

// objectList decodes an array keeping only its object elements.
func objectList(data []byte) []map[string]json.RawMessage {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	out := make([]map[string]json.RawMessage, 0, len(raw))
	for _, item := range raw {
		if obj, ok := asObject(item); ok {
			out = append(out, obj)
		}
	}
	return out
}

func asObject(data []byte) (map[string]json.RawMessage, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	return obj, true
}

// fieldAliases maps the Spanish keys emitted by prompts written for Spanish-speaking teams onto canonical keys.
var fieldAliases = map[string]string{
	"tipo":              "type",
	"categoria":         "category",
	"resumen":           "summary",
	"accion_inmediata":  "immediate_action",
	"texto_limpio":      "cleaned_text",
	"texto":             "text",
	"contexto":          "context_tag",
	"energia":           "energy",
	"tipo_compromiso":   "commitment_kind",
	"proxima_accion":    "is_next_action",
	"es_proxima_accion": "is_next_action",
	"objetivo":          "objective",
	"notas":             "notes",
	"waiting_for":       "delegation",
	"delegated_to":      "delegate",
	"prioridad":         "priority",
	"insight_principal": "key_insight",
	"accion_clave":      "key_action",
	"conexiones":        "connections",
	"resumen_destilado": "distilled_summary",
}

// canonical rewrites aliased keys; a canonical key already present wins over its alias.
func canonical(obj map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(obj))
	for k, v := range obj {
		if _, isAlias := fieldAliases[k]; !isAlias {
			out[k] = v
		}
	}
	for k, v := range obj {
		if target, ok := fieldAliases[k]; ok {
			if _, exists := out[target]; !exists {
				out[target] = v
			}
		}
	}
	return out
}

// decodeObject re-encodes a canonicalized object into dst. Lenient field types make this infallible for objects.
func decodeObject(obj map[string]json.RawMessage, dst any) {
	data, err := json.Marshal(canonical(obj))
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, dst)
}
