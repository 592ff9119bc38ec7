// Package agents holds the deterministic category to agent table used to
// attach an automation suggestion to every classified idea.
package agents

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"idealine/internal/config"
)

type Agent struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Categories  []string `json:"categories"`
	Keywords    []string `json:"keywords,omitempty"`
	Skills      []string `json:"skills"`
	Suggestable bool     `json:"suggestable"`
}

// Table is read-only after construction and safe for concurrent use.
type Table struct {
	agents     map[string]Agent
	byCategory map[string]string
	keys       []string
}

func New(cfg map[string]config.AgentConfig) Table {
	t := Table{agents: map[string]Agent{}, byCategory: map[string]string{}}
	for key, a := range cfg {
		t.keys = append(t.keys, key)
		t.agents[key] = Agent{
			Key:         key,
			Name:        a.Name,
			Categories:  append([]string(nil), a.Categories...),
			Keywords:    append([]string(nil), a.Keywords...),
			Skills:      append([]string(nil), a.Skills...),
			Suggestable: a.CanSuggest(),
		}
	}
	sort.Strings(t.keys)
	for _, key := range t.keys {
		for _, cat := range t.agents[key].Categories {
			folded := Fold(cat)
			if _, taken := t.byCategory[folded]; !taken {
				t.byCategory[folded] = key
			}
		}
	}
	return t
}

func (t Table) Get(key string) (Agent, bool) {
	a, ok := t.agents[key]
	return a, ok
}

// List returns agents ordered by key.
func (t Table) List() []Agent {
	out := make([]Agent, 0, len(t.keys))
	for _, key := range t.keys {
		out = append(out, t.agents[key])
	}
	return out
}

// Suggestable returns the agents the classifier may propose, ordered by key.
func (t Table) Suggestable() []Agent {
	var out []Agent
	for _, a := range t.List() {
		if a.Suggestable {
			out = append(out, a)
		}
	}
	return out
}

// ForCategory finds the agent owning category. Matching ignores case and accents.
func (t Table) ForCategory(category string) (Agent, bool) {
	key, ok := t.byCategory[Fold(category)]
	if !ok {
		return Agent{}, false
	}
	return t.agents[key], true
}

// Resolve picks the automation suggestion for a classified item. A suggestable
// agent proposed by the classifier wins and keeps the proposed skills, or its
// own skills when none were proposed. Otherwise the category decides. The
// returned key is empty when neither yields an agent.
func (t Table) Resolve(suggested string, skills []string, category string) (string, []string) {
	if a, ok := t.agents[strings.TrimSpace(suggested)]; ok && a.Suggestable {
		if len(clean(skills)) > 0 {
			return a.Key, clean(skills)
		}
		return a.Key, append([]string{}, a.Skills...)
	}
	if strings.TrimSpace(category) == "" {
		return "", []string{}
	}
	if a, ok := t.ForCategory(category); ok {
		return a.Key, append([]string{}, a.Skills...)
	}
	return "", []string{}
}

func clean(skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Fold lowercases s and strips diacritics, so "Capacitación" matches "capacitacion".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = strings.TrimSpace(s)
	}
	return strings.ToLower(out)
}
