// Package parse extracts structured results from free-form text-completion output.
package parse

import (
	"encoding/json"
	"regexp"
	"strings"
)

type Kind string

const (
	KindSingle      Kind = "single"
	KindMulti       Kind = "multi"
	KindUnparseable Kind = "unparseable"
)

// Result is the tagged union produced for a classification response.
// Items is empty exactly when Kind is KindUnparseable.
type Result struct {
	Kind  Kind
	Items []Classification
}

func (r Result) OK() bool { return r.Kind != KindUnparseable && len(r.Items) > 0 }

type Delegation struct {
	Delegate    Text `json:"delegate"`
	Description Text `json:"description"`
}

// Classification is one item of the classification response schema.
type Classification struct {
	Type             Text        `json:"type"`
	IsProject        Flag        `json:"is_project"`
	Category         Text        `json:"category"`
	PARAType         Text        `json:"para_type"`
	SuggestedArea    Text        `json:"suggested_area"`
	SuggestedProject Text        `json:"suggested_project"`
	Summary          Text        `json:"summary"`
	ImmediateAction  Text        `json:"immediate_action"`
	AssignedTo       Text        `json:"assigned_to"`
	EstimatedTime    Text        `json:"estimated_time"`
	Priority         Text        `json:"priority"`
	Confidence       Confidence  `json:"confidence"`
	NeedsReview      Flag        `json:"needs_review"`
	ContextTag       Text        `json:"context_tag"`
	Energy           Text        `json:"energy"`
	CommitmentKind   Text        `json:"commitment_kind"`
	IsNextAction     Flag        `json:"is_next_action"`
	Objective        Text        `json:"objective"`
	Notes            Text        `json:"notes"`
	Delegation       *Delegation `json:"delegation,omitempty"`
	CleanedText      Text        `json:"cleaned_text"`
	SuggestedAgent   Text        `json:"suggested_agent"`
	SuggestedSkills  Strings     `json:"suggested_skills"`
	SubTasks         []SubTask   `json:"sub_tasks,omitempty"`
}

// SubTask is a decomposition descriptor; inline sub_tasks share the shape.
type SubTask struct {
	Text          Text `json:"text"`
	AssignedTo    Text `json:"assigned_to"`
	ContextTag    Text `json:"context_tag"`
	Energy        Text `json:"energy"`
	EstimatedTime Text `json:"estimated_time"`
	Priority      Text `json:"priority"`
	IsNextAction  Flag `json:"is_next_action"`
}

type Decomposition struct {
	ProjectName Text      `json:"project_name"`
	Objective   Text      `json:"objective"`
	SubTasks    []SubTask `json:"sub_tasks"`
}

type Distillation struct {
	KeyInsight       Text    `json:"key_insight"`
	KeyAction        Text    `json:"key_action"`
	Connections      Strings `json:"connections"`
	DistilledSummary Text    `json:"distilled_summary"`
}

func (c *Classification) UnmarshalJSON(data []byte) error {
	obj, ok := asObject(data)
	if !ok {
		return nil
	}
	type plain Classification
	var out plain
	rest := canonical(obj)
	if raw, ok := rest["delegation"]; ok {
		delete(rest, "delegation")
		if d, ok := asObject(raw); ok {
			var del Delegation
			decodeObject(d, &del)
			if del.Delegate != "" {
				out.Delegation = &del
			}
		}
	}
	if raw, ok := rest["sub_tasks"]; ok {
		delete(rest, "sub_tasks")
		out.SubTasks = subTasks(raw)
	}
	decodeObject(rest, &out)
	*c = Classification(out)
	return nil
}

func (d *Decomposition) UnmarshalJSON(data []byte) error {
	obj, ok := asObject(data)
	if !ok {
		return nil
	}
	rest := canonical(obj)
	var out Decomposition
	if raw, ok := rest["sub_tasks"]; ok {
		delete(rest, "sub_tasks")
		out.SubTasks = subTasks(raw)
	}
	type plain struct {
		ProjectName Text `json:"project_name"`
		Objective   Text `json:"objective"`
	}
	var p plain
	decodeObject(rest, &p)
	out.ProjectName, out.Objective = p.ProjectName, p.Objective
	*d = out
	return nil
}

func subTasks(raw json.RawMessage) []SubTask {
	objs := objectList(raw)
	out := make([]SubTask, 0, len(objs))
	for _, obj := range objs {
		var st SubTask
		decodeObject(obj, &st)
		if st.Text == "" {
			continue
		}
		out = append(out, st)
	}
	return out
}

var fenceRE = regexp.MustCompile("(?i)```(?:json)?")

// StripFences removes markdown code fences anywhere in the text.
func StripFences(raw string) string {
	return strings.TrimSpace(fenceRE.ReplaceAllString(raw, ""))
}

// Classifications parses a classification response. Strategies, in order:
// the whole text as one JSON value (object, or array of objects), the first
// balanced {...}, then the first balanced [...] made only of objects.
func Classifications(raw string) Result {
	objs, kind := extractObjects(raw)
	if kind == KindUnparseable {
		return Result{Kind: KindUnparseable}
	}
	items := make([]Classification, 0, len(objs))
	for _, obj := range objs {
		var c Classification
		_ = c.UnmarshalJSON(obj)
		items = append(items, c)
	}
	return Result{Kind: kind, Items: items}
}

// ParseDecomposition parses a decomposition response. A bare array of
// descriptors is accepted as the sub-task list.
func ParseDecomposition(raw string) (Decomposition, bool) {
	objs, kind := extractObjects(raw)
	switch kind {
	case KindSingle:
		var d Decomposition
		_ = d.UnmarshalJSON(objs[0])
		return d, true
	case KindMulti:
		var d Decomposition
		for _, obj := range objs {
			if m, ok := asObject(obj); ok {
				var st SubTask
				decodeObject(m, &st)
				if st.Text != "" {
					d.SubTasks = append(d.SubTasks, st)
				}
			}
		}
		return d, true
	default:
		return Decomposition{}, false
	}
}

// ParseDistillation parses a summarization response; it requires a single object
// with at least a summary or an insight.
func ParseDistillation(raw string) (Distillation, bool) {
	objs, kind := extractObjects(raw)
	if kind != KindSingle {
		return Distillation{}, false
	}
	obj, _ := asObject(objs[0])
	var d Distillation
	decodeObject(obj, &d)
	if d.DistilledSummary == "" && d.KeyInsight == "" {
		return Distillation{}, false
	}
	return d, true
}

func extractObjects(raw string) ([]json.RawMessage, Kind) {
	text := StripFences(raw)
	if text == "" {
		return nil, KindUnparseable
	}
	if objs, kind, ok := wholeValue(text); ok {
		return objs, kind
	}
	objStart := strings.IndexByte(text, '{')
	arrStart := strings.IndexByte(text, '[')
	// An object nested in an array that opens first belongs to that array.
	if arrStart >= 0 && objStart > arrStart {
		if end := balancedEnd(text, arrStart); end > objStart {
			if objs, ok := objectArray(text[arrStart : end+1]); ok {
				return objs, KindMulti
			}
		}
	}
	if objStart >= 0 {
		if end := balancedEnd(text, objStart); end > 0 {
			candidate := []byte(text[objStart : end+1])
			if _, ok := asObject(candidate); ok {
				return []json.RawMessage{candidate}, KindSingle
			}
		}
	}
	if arrStart >= 0 {
		if end := balancedEnd(text, arrStart); end > 0 {
			if objs, ok := objectArray(text[arrStart : end+1]); ok {
				return objs, KindMulti
			}
		}
	}
	return nil, KindUnparseable
}

func wholeValue(text string) ([]json.RawMessage, Kind, bool) {
	data := []byte(text)
	if !json.Valid(data) {
		return nil, KindUnparseable, false
	}
	if _, ok := asObject(data); ok {
		return []json.RawMessage{data}, KindSingle, true
	}
	if objs, ok := objectArray(text); ok {
		return objs, KindMulti, true
	}
	return nil, KindUnparseable, false
}

// objectArray accepts a non-empty JSON array only when every element is an object.
func objectArray(text string) ([]json.RawMessage, bool) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil || len(raw) == 0 {
		return nil, false
	}
	for _, item := range raw {
		if _, ok := asObject(item); !ok {
			return nil, false
		}
	}
	return raw, true
}

// balancedEnd returns the index of the bracket closing the one at start, or -1.
// Brackets inside JSON strings are ignored.
func balancedEnd(text string, start int) int {
	open := text[start]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return -1
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Preview truncates raw output for logging.
func Preview(raw string, n int) string {
	r := []rune(strings.TrimSpace(raw))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
