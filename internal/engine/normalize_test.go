package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"idealine/internal/domain"
	"idealine/internal/parse"
)

func TestParseEstimate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30m", 30 * time.Minute, true},
		{"1h30m", 90 * time.Minute, true},
		{"30 min", 30 * time.Minute, true},
		{"2 horas", 2 * time.Hour, true},
		{"1 hora 15 minutos", 75 * time.Minute, true},
		{"1,5 h", 90 * time.Minute, true},
		{"2 días", 48 * time.Hour, true},
		{"1 semana", 7 * 24 * time.Hour, true},
		{"", 0, false},
		{"pronto", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseEstimate(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseEstimate(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func subTasks(t *testing.T, raw string) []parse.SubTask {
	t.Helper()
	var out []parse.SubTask
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestNextActionIndex(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{"empty", `[]`, -1},
		{"none flagged", `[{"text":"a"},{"text":"b"}]`, 0},
		{"one flagged", `[{"text":"a"},{"text":"b","is_next_action":true}]`, 1},
		{"earliest estimate wins", `[{"text":"a","is_next_action":true,"estimated_time":"2h"},{"text":"b","is_next_action":true,"estimated_time":"20m"}]`, 1},
		{"tie keeps first", `[{"text":"a","is_next_action":true,"estimated_time":"1h"},{"text":"b","is_next_action":true,"estimated_time":"60 min"}]`, 0},
		{"unparseable ranks last", `[{"text":"a","is_next_action":true,"estimated_time":"ya veremos"},{"text":"b","is_next_action":true,"estimated_time":"3 dias"}]`, 1},
		{"all unparseable keeps first", `[{"text":"a"},{"text":"b","is_next_action":true},{"text":"c","is_next_action":true}]`, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextActionIndex(subTasks(t, tc.raw)); got != tc.want {
				t.Fatalf("nextActionIndex = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestEnumNormalizers(t *testing.T) {
	got := map[string]string{
		"priority Alta":       normalizePriority("Alta"),
		"priority unknown":    normalizePriority("???"),
		"para Proyecto":       normalizePARA("Proyecto"),
		"para missing":        normalizePARA(""),
		"commitment Tal vez":  normalizeCommitment("Tal vez"),
		"commitment missing":  normalizeCommitment(""),
		"energy Alta":         normalizeEnergy("Alta"),
		"energy unknown":      normalizeEnergy("mucha"),
		"context @computador": normalizeContext("@computador"),
		"context by_email":    normalizeContext("by_email"),
		"context en-reunión":  normalizeContext("Reunión"),
		"context unknown":     normalizeContext("luna"),
	}
	want := map[string]string{
		"priority Alta":       domain.PriorityHigh,
		"priority unknown":    domain.PriorityMedium,
		"para Proyecto":       domain.PARAProject,
		"para missing":        domain.PARAResource,
		"commitment Tal vez":  domain.CommitmentMaybe,
		"commitment missing":  domain.CommitmentThisWeek,
		"energy Alta":         domain.EnergyHigh,
		"energy unknown":      "",
		"context @computador": "at-computer",
		"context by_email":    "by-email",
		"context en-reunión":  "meeting",
		"context unknown":     "",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("normalizers mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeConfidence(t *testing.T) {
	cases := []struct {
		in   parse.Confidence
		want float64
	}{
		{parse.Confidence{}, 0.5},
		{parse.Confidence{Value: 0.3, Set: true}, 0.3},
		{parse.Confidence{Value: 3, Set: true}, 1},
		{parse.Confidence{Value: -1, Set: true}, 0},
	}
	for _, tc := range cases {
		if got := normalizeConfidence(tc.in, 0.5); got != tc.want {
			t.Errorf("normalizeConfidence(%+v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTransitions(t *testing.T) {
	allowed := [][2]string{
		{domain.StageCaptured, domain.StageOrganized},
		{domain.StageCaptured, domain.StageExpressed},
		{domain.StageOrganized, domain.StageDistilled},
		{domain.StageOrganized, domain.StageExpressed},
		{domain.StageDistilled, domain.StageExpressed},
	}
	for _, tr := range allowed {
		if err := ensureStageTransition(tr[0], tr[1]); err != nil {
			t.Errorf("%s -> %s: %v", tr[0], tr[1], err)
		}
	}
	for _, tr := range [][2]string{
		{domain.StageCaptured, domain.StageDistilled},
		{domain.StageDistilled, domain.StageOrganized},
		{domain.StageExpressed, domain.StageDistilled},
		{domain.StageExpressed, domain.StageExpressed},
	} {
		if err := ensureStageTransition(tr[0], tr[1]); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: expected ErrInvalidTransition, got %v", tr[0], tr[1], err)
		}
	}

	if err := ensureExecutionTransition(domain.ExecutionRunning, domain.ExecutionRunning, false); !errors.Is(err, ErrConflict) {
		t.Errorf("running -> running: %v", err)
	}
	if err := ensureExecutionTransition(domain.ExecutionCompleted, domain.ExecutionRunning, false); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completed -> running: %v", err)
	}
	if err := ensureExecutionTransition(domain.ExecutionCompleted, domain.ExecutionRunning, true); err != nil {
		t.Errorf("forced completed -> running: %v", err)
	}
	if err := ensureExecutionTransition(domain.ExecutionIdle, domain.ExecutionCompleted, false); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("idle -> completed: %v", err)
	}
}

func TestSplitSource(t *testing.T) {
	for in, want := range map[string]string{"text": "text-split", "voice": "voice-split", "text-split": "text-split", "": "split"} {
		if got := splitSource(in); got != want {
			t.Errorf("splitSource(%q) = %q, want %q", in, got, want)
		}
	}
}
