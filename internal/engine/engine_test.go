package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"idealine/internal/classify"
	"idealine/internal/config"
	"idealine/internal/db"
	"idealine/internal/domain"
	"idealine/internal/engine"
	"idealine/internal/events"
	"idealine/internal/migrate"
	"idealine/internal/repo"
	"idealine/internal/skills"
)

// fakeClassifier returns scripted completions and counts calls per mode.
type fakeClassifier struct {
	mu          sync.Mutex
	classify    func(text string) (string, error)
	distill     func(text string) (string, error)
	decompose   func(text string) (string, error)
	execute     func(req classify.ExecuteRequest) (string, error)
	calls       map[string]int
	lastExecute classify.ExecuteRequest
}

func (f *fakeClassifier) count(mode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[mode]++
}

func (f *fakeClassifier) Calls(mode string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[mode]
}

func (f *fakeClassifier) Classify(_ context.Context, text string, _ classify.Snapshot) (string, error) {
	f.count("classify")
	if f.classify == nil {
		return "", &classify.Error{Kind: classify.KindUnavailable, Err: errors.New("not scripted")}
	}
	return f.classify(text)
}

func (f *fakeClassifier) Distill(_ context.Context, text string, _ classify.Snapshot) (string, error) {
	f.count("distill")
	if f.distill == nil {
		return "", &classify.Error{Kind: classify.KindUnavailable, Err: errors.New("not scripted")}
	}
	return f.distill(text)
}

func (f *fakeClassifier) Decompose(_ context.Context, text string, _ classify.Snapshot) (string, error) {
	f.count("decompose")
	if f.decompose == nil {
		return "", &classify.Error{Kind: classify.KindUnavailable, Err: errors.New("not scripted")}
	}
	return f.decompose(text)
}

func (f *fakeClassifier) Execute(_ context.Context, req classify.ExecuteRequest) (string, error) {
	f.count("execute")
	f.mu.Lock()
	f.lastExecute = req
	f.mu.Unlock()
	if f.execute == nil {
		return "", &classify.Error{Kind: classify.KindUnavailable, Err: errors.New("not scripted")}
	}
	return f.execute(req)
}

func respond(raw string) func(string) (string, error) {
	return func(string) (string, error) { return raw, nil }
}

type fakeSkills map[string]string

func (s fakeSkills) Load(refs []string) ([]skills.Doc, []string) {
	var docs []skills.Doc
	var missing []string
	for _, r := range refs {
		if c, ok := s[r]; ok {
			docs = append(docs, skills.Doc{Ref: r, Content: c})
		} else {
			missing = append(missing, r)
		}
	}
	return docs, missing
}

type testEnv struct {
	Engine engine.Engine
	Fake   *fakeClassifier
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	fake := &fakeClassifier{}
	eng := engine.New(conn, cfg, fake, zaptest.NewLogger(t))
	eng.Skills = fakeSkills{
		"core/model-opex-budget.md":            "# OPEX budget\nBuild a monthly OPEX model.",
		"core/audit-compliance-readiness.md":   "# Compliance readiness\nList the gaps.",
		"customizable/create-staffing-plan.md": "# Staffing plan",
	}
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.SeedAreas(ctx, cfg.Areas); err != nil {
		t.Fatalf("seed areas: %v", err)
	}
	return testEnv{Engine: eng, Fake: fake, Ctx: ctx}
}

func (env testEnv) audits(t *testing.T, ideaID string) []domain.AuditEntry {
	t.Helper()
	entries, err := env.Engine.ListAudit(env.Ctx, repo.AuditFilters{IdeaID: ideaID})
	require.NoError(t, err)
	return entries
}

func (env testEnv) eventTypes(t *testing.T, entityID string) []string {
	t.Helper()
	evts, err := env.Engine.ListEvents(env.Ctx, 100, 0, "", "", entityID)
	require.NoError(t, err)
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	return types
}

func (env testEnv) capture(t *testing.T, text, raw string) engine.TriageOutcome {
	t.Helper()
	env.Fake.classify = respond(raw)
	out, err := env.Engine.Capture(env.Ctx, engine.CaptureInput{Text: text, Speaker: "maria"})
	require.NoError(t, err)
	require.False(t, out.Failed(), "triage failed: %+v", out.Error)
	return out
}

func TestCaptureSingleIdeaIsOrganized(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "Reunión con cliente mañana",
		"```json\n{\"type\":\"Meeting\",\"category\":\"Operaciones\",\"para_type\":\"area\",\"suggested_area\":\"Operaciones\",\"confidence\":0.9,\"summary\":\"Reunión con cliente\",\"context_tag\":\"oficina\"}\n```")

	require.Len(t, out.Ideas, 1)
	require.False(t, out.Split)
	idea := out.Ideas[0]
	assert.Equal(t, domain.StageOrganized, idea.CodeStage)
	assert.Equal(t, engine.SourceText, idea.Source)
	assert.False(t, idea.NeedsReview)
	assert.Equal(t, "in-office", *idea.ContextTag)
	assert.Equal(t, domain.PARAArea, *idea.PARAType)
	assert.Equal(t, domain.PriorityMedium, *idea.Priority)
	assert.Equal(t, domain.CommitmentThisWeek, *idea.CommitmentKind)
	require.NotNil(t, idea.RelatedAreaID)
	require.NotNil(t, idea.SuggestedAgent)
	assert.Equal(t, "staffing", *idea.SuggestedAgent)
	assert.Equal(t, []string{"customizable/create-staffing-plan.md", "core/model-staffing-requirements.md"}, idea.SuggestedSkills)

	entries := env.audits(t, idea.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "Operaciones", entries[0].RoutedTo)
	assert.Equal(t, engine.SourceText, entries[0].Source)
	assert.JSONEq(t, `{"type":"Meeting","category":"Operaciones","para_type":"area"}`, entries[0].ClassificationJSON)
	assert.Contains(t, env.eventTypes(t, idea.ID), events.IdeaTriaged)
}

func TestCaptureUnknownAreaRoutesToInbox(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "comprar repuestos", `{"type":"Task","category":"Logistica","suggested_area":"Bodega","confidence":0.8}`)
	idea := out.Ideas[0]
	assert.Nil(t, idea.RelatedAreaID)
	assert.Nil(t, idea.SuggestedAgent)
	assert.Empty(t, idea.SuggestedSkills)
	entries := env.audits(t, idea.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "inbox", entries[0].RoutedTo)
}

func TestCaptureSplitsIntoSeveralIdeas(t *testing.T) {
	env := newTestEnv(t)
	raw := `Here you go:
[
  {"type":"Task","category":"Finanzas","summary":"Revisar presupuesto","cleaned_text":"revisar presupuesto","confidence":0.85},
  {"type":"Delegation","category":"Operaciones","summary":"Informe de Juan","cleaned_text":"avisar a Juan que prepare informe","confidence":0.7,
   "delegation":{"delegate":"Juan","description":"preparar informe"}}
]`
	out := env.capture(t, "revisar presupuesto y avisar a Juan que prepare informe", raw)

	require.True(t, out.Split)
	require.Len(t, out.Ideas, 2)
	require.Len(t, out.IdeaIDs(), 2)
	first, second := out.Ideas[0], out.Ideas[1]
	assert.Equal(t, "revisar presupuesto", first.Text)
	assert.Equal(t, engine.SourceText, first.Source)
	assert.Equal(t, "text-split", second.Source)
	assert.Equal(t, "avisar a Juan que prepare informe", second.Text)
	assert.Equal(t, domain.StageOrganized, second.CodeStage)
	assert.Equal(t, "finance", *first.SuggestedAgent)

	all, err := env.Engine.ListAudit(env.Ctx, repo.AuditFilters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	inputs := make([]string, 0, len(all))
	for _, a := range all {
		assert.Equal(t, "text-split", a.Source)
		inputs = append(inputs, a.InputText)
	}
	assert.ElementsMatch(t, []string{"revisar presupuesto", "avisar a Juan que prepare informe"}, inputs)

	dels, err := env.Engine.ListDelegations(env.Ctx, domain.DelegationPending, "")
	require.NoError(t, err)
	require.Len(t, dels, 1)
	assert.Equal(t, "Juan", dels[0].DelegatedTo)
	assert.Equal(t, "maria", dels[0].DelegatedBy)
	require.NotNil(t, dels[0].IdeaID)
	assert.Equal(t, second.ID, *dels[0].IdeaID)
}

func TestDelegationDescriptionFallsBackToImmediateAction(t *testing.T) {
	env := newTestEnv(t)
	env.capture(t, "pedirle a Juan el informe de turnos",
		`{"type":"Delegation","confidence":0.9,"immediate_action":"pedir informe de turnos","delegation":{"delegate":"Juan"}}`)

	dels, err := env.Engine.ListDelegations(env.Ctx, domain.DelegationPending, "")
	require.NoError(t, err)
	require.Len(t, dels, 1)
	assert.Equal(t, "pedir informe de turnos", dels[0].Description)
}

func TestSplitPersistenceFailureRollsBackEveryItem(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.DB.Exec(`CREATE TRIGGER reject_split_insert BEFORE INSERT ON ideas
WHEN NEW.source LIKE '%-split'
BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	env.Fake.classify = respond(`[
  {"type":"Task","category":"Finanzas","cleaned_text":"revisar presupuesto","confidence":0.9},
  {"type":"Task","category":"Operaciones","cleaned_text":"llamar a Juan","confidence":0.9}
]`)
	_, err = env.Engine.Capture(env.Ctx, engine.CaptureInput{Text: "revisar presupuesto y llamar a Juan", Speaker: "maria"})
	require.Error(t, err)

	all, err := env.Engine.ListAudit(env.Ctx, repo.AuditFilters{})
	require.NoError(t, err)
	assert.Empty(t, all)
	ideas, err := env.Engine.ListIdeas(env.Ctx, repo.IdeaFilters{})
	require.NoError(t, err)
	require.Len(t, ideas, 1)
	assert.Equal(t, domain.StageCaptured, ideas[0].CodeStage)
	assert.Equal(t, "revisar presupuesto y llamar a Juan", ideas[0].Text)
	assert.Nil(t, ideas[0].Category)
	dels, err := env.Engine.ListDelegations(env.Ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, dels)
}

func TestRetriageKeepsOriginalIDFirst(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.classify = func(string) (string, error) {
		return "", &classify.Error{Kind: classify.KindTimeout, Err: context.DeadlineExceeded}
	}
	out, err := env.Engine.Capture(env.Ctx, engine.CaptureInput{Text: "llamar proveedor y pedir cotización"})
	require.NoError(t, err)
	require.True(t, out.Failed())
	original := out.Ideas[0].ID

	env.Fake.classify = respond(`[{"type":"Task","confidence":0.9},{"type":"Task","confidence":0.9},{"type":"Task","confidence":0.9}]`)
	out, err = env.Engine.Triage(env.Ctx, original, "", "maria")
	require.NoError(t, err)
	ids := out.IdeaIDs()
	require.Len(t, ids, 3)
	assert.Equal(t, original, ids[0])
	all, err := env.Engine.ListAudit(env.Ctx, repo.AuditFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestConfidenceGatesReview(t *testing.T) {
	cases := []struct {
		name       string
		fields     string
		confidence float64
		review     bool
	}{
		{"low", `"confidence":0.3`, 0.3, true},
		{"high", `"confidence":0.95`, 0.95, false},
		{"missing defaults", `"type":"Note"`, 0.5, true},
		{"above one clamps", `"confidence":1.7`, 1, false},
		{"below zero clamps", `"confidence":-0.2`, 0, true},
		{"percent string", `"confidence":"80%"`, 0.8, false},
		{"threshold is not review", `"confidence":0.6`, 0.6, false},
		{"explicit request", `"confidence":0.9,"needs_review":true`, 0.9, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			out := env.capture(t, "idea suelta", "{"+tc.fields+"}")
			idea := out.Ideas[0]
			require.NotNil(t, idea.Confidence)
			assert.InDelta(t, tc.confidence, *idea.Confidence, 1e-9)
			assert.GreaterOrEqual(t, *idea.Confidence, 0.0)
			assert.LessOrEqual(t, *idea.Confidence, 1.0)
			assert.Equal(t, tc.review, idea.NeedsReview)
			entries := env.audits(t, idea.ID)
			require.Len(t, entries, 1)
			assert.Equal(t, tc.review, entries[0].NeedsReview)
		})
	}
}

func TestLowConfidenceLandsInReviewQueue(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "algo raro", `{"type":"Note","confidence":0.3}`)
	queue, err := env.Engine.ReviewQueue(env.Ctx, 10)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, out.Ideas[0].ID, queue[0].ID)
}

func TestClassifierFailureLeavesIdeaCaptured(t *testing.T) {
	for _, kind := range []classify.ErrorKind{classify.KindTimeout, classify.KindUnavailable} {
		t.Run(string(kind), func(t *testing.T) {
			env := newTestEnv(t)
			env.Fake.classify = func(string) (string, error) {
				return "", &classify.Error{Kind: kind, Err: errors.New("boom")}
			}
			out, err := env.Engine.Capture(env.Ctx, engine.CaptureInput{Text: "Reunión con cliente mañana"})
			require.NoError(t, err)
			require.True(t, out.Failed())
			assert.Equal(t, kind, out.ErrorKind)
			assert.Equal(t, "Error", out.Error.Type)
			assert.Zero(t, out.Error.Confidence)
			assert.True(t, out.Error.NeedsReview)

			idea, err := env.Engine.GetIdea(env.Ctx, out.Ideas[0].ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StageCaptured, idea.CodeStage)
			assert.Nil(t, idea.Type)
			assert.Nil(t, idea.Category)
			assert.Nil(t, idea.Confidence)
			assert.False(t, idea.NeedsReview)
			assert.Empty(t, env.audits(t, idea.ID))
			assert.Contains(t, env.eventTypes(t, idea.ID), events.IdeaTriageFailed)
		})
	}
}

func TestMalformedOutputIsErrorClassification(t *testing.T) {
	for name, raw := range map[string]string{
		"prose":             "Lo siento, no puedo clasificar esto.",
		"array of scalars":  `["a", "b"]`,
		"truncated object":  `{"type": "Task", "confidence": 0.`,
		"empty completion":  "",
		"fenced non-object": "```json\n42\n```",
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			env.Fake.classify = respond(raw)
			out, err := env.Engine.Capture(env.Ctx, engine.CaptureInput{Text: "texto"})
			require.NoError(t, err)
			require.True(t, out.Failed())
			assert.Equal(t, classify.KindMalformed, out.ErrorKind)
			idea, err := env.Engine.GetIdea(env.Ctx, out.Ideas[0].ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StageCaptured, idea.CodeStage)
		})
	}
}

func TestCaptureRejectsInvalidText(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Capture(env.Ctx, engine.CaptureInput{Text: "   "})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.Capture(env.Ctx, engine.CaptureInput{Text: strings.Repeat("a", 10001)})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	assert.Zero(t, env.Fake.Calls("classify"))
}

func TestPreviewThenCaptureReusesItems(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.classify = respond(`{"type":"Task","category":"HSE","confidence":0.8}`)
	res, err := env.Engine.Preview(env.Ctx, "revisar extintores", "")
	require.NoError(t, err)
	require.True(t, res.OK())
	ideas, err := env.Engine.ListIdeas(env.Ctx, repo.IdeaFilters{})
	require.NoError(t, err)
	assert.Empty(t, ideas)

	out, err := env.Engine.Capture(env.Ctx, engine.CaptureInput{Text: "revisar extintores", Items: res.Items})
	require.NoError(t, err)
	require.Len(t, out.Ideas, 1)
	assert.Equal(t, "compliance", *out.Ideas[0].SuggestedAgent)
	assert.Equal(t, 1, env.Fake.Calls("classify"))
}

const threeTasks = `{"project_name":"Plan de turnos","objective":"Cubrir turnos de verano","sub_tasks":[
 {"text":"Levantar dotación actual","context_tag":"computador","energy":"media","estimated_time":"2 horas","is_next_action":false},
 {"text":"Proponer turnos","context_tag":"@reunion","energy":"alta","estimated_time":"1h","is_next_action":false},
 {"text":"Validar con RRHH","context_tag":"teletransporte","estimated_time":"30 min","is_next_action":false}
]}`

func (env testEnv) project(t *testing.T) domain.Idea {
	t.Helper()
	env.Engine.Config.Triage.AutoDecompose = false
	out := env.capture(t, "armar plan de turnos de verano",
		`{"type":"Project","is_project":true,"category":"Operaciones","commitment_kind":"comprometida","confidence":0.9}`)
	require.True(t, out.Ideas[0].IsProject)
	return out.Ideas[0]
}

func nextActions(ideas []domain.Idea) []string {
	var ids []string
	for _, i := range ideas {
		if i.IsNextAction && !i.Completed {
			ids = append(ids, i.ID)
		}
	}
	return ids
}

func TestDecomposeMarksFirstWhenNoneFlagged(t *testing.T) {
	env := newTestEnv(t)
	project := env.project(t)
	env.Fake.decompose = respond(threeTasks)

	res, err := env.Engine.Decompose(env.Ctx, project.ID, "maria")
	require.NoError(t, err)
	assert.Equal(t, "Plan de turnos", res.ProjectName)
	assert.Equal(t, "Cubrir turnos de verano", res.Objective)
	require.Len(t, res.SubTaskIDs, 3)

	children, err := env.Engine.SubTasks(env.Ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, []string{children[0].ID}, nextActions(children))
	assert.Equal(t, res.SubTaskIDs[0], children[0].ID)
	for _, c := range children {
		assert.Equal(t, project.ID, *c.ParentIdeaID)
		assert.Equal(t, engine.SourceDecomposition, c.Source)
		assert.Equal(t, domain.StageOrganized, c.CodeStage)
		assert.Equal(t, domain.PARAProject, *c.PARAType)
		assert.Equal(t, domain.CommitmentCommitted, *c.CommitmentKind)
		assert.Equal(t, project.RelatedAreaID, c.RelatedAreaID)
		assert.Empty(t, env.audits(t, c.ID))
	}
	assert.Equal(t, "at-computer", *children[0].ContextTag)
	assert.Equal(t, "meeting", *children[1].ContextTag)
	assert.Equal(t, "at-computer", *children[2].ContextTag)
	assert.Equal(t, domain.EnergyHigh, *children[1].Energy)
	assert.Equal(t, domain.EnergyMedium, *children[2].Energy)

	updated, err := env.Engine.GetIdea(env.Ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cubrir turnos de verano", *updated.Objective)
	assert.Contains(t, env.eventTypes(t, project.ID), events.IdeaDecomposed)
}

func TestDecomposeKeepsEarliestEstimatedNextAction(t *testing.T) {
	env := newTestEnv(t)
	project := env.project(t)
	env.Fake.decompose = respond(`[
 {"text":"a","estimated_time":"2 horas","is_next_action":true},
 {"text":"b","estimated_time":"30 min","is_next_action":"true"},
 {"text":"c","estimated_time":"1h","is_next_action":1},
 {"text":"d","estimated_time":"5 min","is_next_action":false}
]`)
	_, err := env.Engine.Decompose(env.Ctx, project.ID, "")
	require.NoError(t, err)
	children, err := env.Engine.SubTasks(env.Ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, children, 4)
	assert.Equal(t, []string{children[1].ID}, nextActions(children))
}

func TestDecomposeWithNoSubTasks(t *testing.T) {
	env := newTestEnv(t)
	project := env.project(t)
	env.Fake.decompose = respond(`{"project_name":"Vacío","objective":"nada","sub_tasks":[]}`)
	res, err := env.Engine.Decompose(env.Ctx, project.ID, "")
	require.NoError(t, err)
	assert.Empty(t, res.SubTaskIDs)
	children, err := env.Engine.SubTasks(env.Ctx, project.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestDecomposeInheritsProjectAssignee(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Triage.AutoDecompose = false
	out := env.capture(t, "preparar auditoría de bodega",
		`{"type":"Project","is_project":true,"category":"Operaciones","assigned_to":"pedro","confidence":0.9}`)
	project := out.Ideas[0]
	env.Fake.decompose = respond(`{"sub_tasks":[
 {"text":"Contar inventario","estimated_time":"1h"},
 {"text":"Revisar contratos","assigned_to":"ana","estimated_time":"2h"}
]}`)
	_, err := env.Engine.Decompose(env.Ctx, project.ID, "maria")
	require.NoError(t, err)

	children, err := env.Engine.SubTasks(env.Ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assignees := map[string]string{}
	for _, c := range children {
		require.NotNil(t, c.AssignedTo)
		assignees[c.Text] = *c.AssignedTo
	}
	assert.Equal(t, map[string]string{"Contar inventario": "pedro", "Revisar contratos": "ana"}, assignees)
}

func TestDecomposeRejections(t *testing.T) {
	env := newTestEnv(t)
	project := env.project(t)

	env.Fake.decompose = respond("no JSON here")
	_, err := env.Engine.Decompose(env.Ctx, project.ID, "")
	require.ErrorIs(t, err, classify.ErrMalformed)

	env.Fake.decompose = respond(threeTasks)
	res, err := env.Engine.Decompose(env.Ctx, project.ID, "")
	require.NoError(t, err)

	_, err = env.Engine.Decompose(env.Ctx, project.ID, "")
	require.ErrorIs(t, err, engine.ErrConflict)

	_, err = env.Engine.Decompose(env.Ctx, res.SubTaskIDs[0], "")
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	_, err = env.Engine.Decompose(env.Ctx, "missing", "")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestTriageCreatesInlineSubTasks(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "organizar auditoría HSE", `{"type":"Project","is_project":true,"category":"HSE","confidence":0.9,
 "sub_tasks":[{"text":"Reunir checklist","is_next_action":true,"estimated_time":"1h"},{"text":"Agendar visita","is_next_action":true,"estimated_time":"15m"}]}`)
	require.Len(t, out.SubTaskIDs, 2)
	children, err := env.Engine.SubTasks(env.Ctx, out.Ideas[0].ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, []string{children[1].ID}, nextActions(children))
	assert.Zero(t, env.Fake.Calls("decompose"))
	assert.Len(t, env.audits(t, out.Ideas[0].ID), 1)
}

func TestTriageAutoDecomposesProjects(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.decompose = respond(threeTasks)
	out := env.capture(t, "armar plan de turnos", `{"type":"Project","is_project":true,"category":"Operaciones","confidence":0.9}`)
	assert.Equal(t, 1, env.Fake.Calls("decompose"))
	require.Len(t, out.SubTaskIDs, 3)
	assert.True(t, out.Ideas[0].IsProject)
	assert.Equal(t, "Cubrir turnos de verano", *out.Ideas[0].Objective)
}

func TestTriageSurvivesAutoDecomposeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.decompose = respond("nope")
	out := env.capture(t, "armar plan de turnos", `{"type":"Project","is_project":true,"confidence":0.9}`)
	assert.Empty(t, out.SubTaskIDs)
	assert.Equal(t, domain.StageOrganized, out.Ideas[0].CodeStage)
}

func (env testEnv) decomposed(t *testing.T) (domain.Idea, []domain.Idea) {
	t.Helper()
	project := env.project(t)
	env.Fake.decompose = respond(threeTasks)
	_, err := env.Engine.Decompose(env.Ctx, project.ID, "")
	require.NoError(t, err)
	children, err := env.Engine.SubTasks(env.Ctx, project.ID)
	require.NoError(t, err)
	return project, children
}

func TestCompleteHandsOffNextActionAndCascades(t *testing.T) {
	env := newTestEnv(t)
	project, children := env.decomposed(t)

	done, err := env.Engine.Complete(env.Ctx, children[0].ID, "maria")
	require.NoError(t, err)
	assert.True(t, done.Completed)
	assert.Equal(t, domain.StageExpressed, done.CodeStage)
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.IsNextAction)

	current, err := env.Engine.SubTasks(env.Ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{children[1].ID}, nextActions(current))

	again, err := env.Engine.Complete(env.Ctx, children[0].ID, "maria")
	require.NoError(t, err)
	assert.Equal(t, done.CompletedAt, again.CompletedAt)

	_, err = env.Engine.Complete(env.Ctx, children[1].ID, "maria")
	require.NoError(t, err)
	p, err := env.Engine.GetIdea(env.Ctx, project.ID)
	require.NoError(t, err)
	assert.False(t, p.Completed)

	_, err = env.Engine.Complete(env.Ctx, children[2].ID, "maria")
	require.NoError(t, err)
	p, err = env.Engine.GetIdea(env.Ctx, project.ID)
	require.NoError(t, err)
	assert.True(t, p.Completed)
	assert.Equal(t, domain.StageExpressed, p.CodeStage)

	reopened, err := env.Engine.Reopen(env.Ctx, children[2].ID, "maria")
	require.NoError(t, err)
	assert.False(t, reopened.Completed)
	assert.True(t, reopened.IsNextAction)
	assert.Equal(t, domain.StageExpressed, reopened.CodeStage)
	p, err = env.Engine.GetIdea(env.Ctx, project.ID)
	require.NoError(t, err)
	assert.False(t, p.Completed)

	_, err = env.Engine.Reopen(env.Ctx, children[1].ID+"x", "maria")
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.Reopen(env.Ctx, project.ID, "maria")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestUpdateGTDMovesNextAction(t *testing.T) {
	env := newTestEnv(t)
	project, children := env.decomposed(t)
	yes, no := true, false

	updated, err := env.Engine.UpdateGTD(env.Ctx, children[2].ID, engine.GTDPatch{IsNextAction: &yes}, "maria")
	require.NoError(t, err)
	assert.Equal(t, domain.StageOrganized, updated.CodeStage)
	current, err := env.Engine.SubTasks(env.Ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{children[2].ID}, nextActions(current))

	_, err = env.Engine.UpdateGTD(env.Ctx, children[2].ID, engine.GTDPatch{IsNextAction: &no}, "maria")
	require.NoError(t, err)
	current, err = env.Engine.SubTasks(env.Ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{children[0].ID}, nextActions(current))
}

func TestUpdateGTDKeepsLastIncompleteSubTaskAsNextAction(t *testing.T) {
	env := newTestEnv(t)
	project, children := env.decomposed(t)
	for _, c := range children[:2] {
		_, err := env.Engine.Complete(env.Ctx, c.ID, "maria")
		require.NoError(t, err)
	}
	no := false

	_, err := env.Engine.UpdateGTD(env.Ctx, children[2].ID, engine.GTDPatch{IsNextAction: &no}, "maria")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	current, err := env.Engine.SubTasks(env.Ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{children[2].ID}, nextActions(current))
}

func TestUpdateGTDFields(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "llamar a proveedor", `{"type":"Task","confidence":0.9}`)
	id := out.Ideas[0].ID
	ctxTag, energy, commitment, notes := "teléfono", "baja", "algún día", "  con cotización  "

	updated, err := env.Engine.UpdateGTD(env.Ctx, id, engine.GTDPatch{
		ContextTag: &ctxTag, Energy: &energy, CommitmentKind: &commitment, Notes: &notes,
	}, "maria")
	require.NoError(t, err)
	assert.Equal(t, "by-phone", *updated.ContextTag)
	assert.Equal(t, domain.EnergyLow, *updated.Energy)
	assert.Equal(t, domain.CommitmentSomeday, *updated.CommitmentKind)
	assert.Equal(t, "con cotización", *updated.Notes)
	assert.Equal(t, domain.StageOrganized, updated.CodeStage)

	bad := "turbo"
	_, err = env.Engine.UpdateGTD(env.Ctx, id, engine.GTDPatch{Energy: &bad}, "maria")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestDistillAndExpress(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "idea para reducir horas extra", `{"type":"Idea","confidence":0.9,"immediate_action":"medir horas"}`)
	id := out.Ideas[0].ID

	_, err := env.Engine.Express(env.Ctx, id, "  ", "maria")
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	env.Fake.distill = respond(`{"key_insight":"Horas extra concentradas en turno C","key_action":"rebalancear","connections":["turnos"],"distilled_summary":"Rebalancear turno C"}`)
	res, err := env.Engine.Distill(env.Ctx, id, "maria")
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, domain.StageDistilled, res.Idea.CodeStage)
	assert.Equal(t, "Rebalancear turno C", *res.Idea.DistilledSummary)

	_, err = env.Engine.Distill(env.Ctx, id, "maria")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)

	expressed, err := env.Engine.Express(env.Ctx, id, "Propuesta enviada a gerencia", "maria")
	require.NoError(t, err)
	assert.Equal(t, domain.StageExpressed, expressed.CodeStage)
	assert.Equal(t, "Propuesta enviada a gerencia", *expressed.ExpressedOutput)
}

func TestDistillFailureFallsBackWithoutPersisting(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "idea para reducir horas extra", `{"type":"Idea","confidence":0.9,"immediate_action":"medir horas"}`)
	id := out.Ideas[0].ID
	env.Fake.distill = func(string) (string, error) {
		return "", &classify.Error{Kind: classify.KindTimeout, Err: context.DeadlineExceeded}
	}
	res, err := env.Engine.Distill(env.Ctx, id, "maria")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, "could not distill", res.Distillation.KeyInsight.String())
	assert.Equal(t, "medir horas", res.Distillation.KeyAction.String())

	idea, err := env.Engine.GetIdea(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StageOrganized, idea.CodeStage)
	assert.Nil(t, idea.DistilledSummary)
}

func TestLifecycleRejectsSkippingOrganize(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.classify = respond("garbage")
	out, err := env.Engine.Capture(env.Ctx, engine.CaptureInput{Text: "pendiente"})
	require.NoError(t, err)
	id := out.Ideas[0].ID

	_, err = env.Engine.Distill(env.Ctx, id, "")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	_, err = env.Engine.Express(env.Ctx, id, "hecho", "")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)

	done, err := env.Engine.Complete(env.Ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StageExpressed, done.CodeStage)
	assert.True(t, done.Completed)
}

func TestFixNeverChangesStage(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "revisar presupuesto", `{"type":"Task","category":"Finanzas","confidence":0.3}`)
	id := out.Ideas[0].ID
	require.True(t, out.Ideas[0].NeedsReview)
	env.Fake.distill = respond(`{"key_insight":"x","distilled_summary":"resumen"}`)
	_, err := env.Engine.Distill(env.Ctx, id, "")
	require.NoError(t, err)

	priority := "alta"
	fixed, err := env.Engine.Fix(env.Ctx, id, engine.FixInput{Priority: &priority}, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, domain.StageDistilled, fixed.CodeStage)
	assert.False(t, fixed.NeedsReview)
	assert.Equal(t, domain.PriorityHigh, *fixed.Priority)
	assert.Equal(t, "Finanzas", *fixed.Category)

	stored, err := env.Engine.GetIdea(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StageDistilled, stored.CodeStage)
	for _, a := range env.audits(t, id) {
		assert.True(t, a.Reviewed)
		assert.True(t, a.NeedsReview)
	}
	queue, err := env.Engine.ReviewQueue(env.Ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestFixFields(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "capacitación de brigadas", `{"type":"Note","category":"X","confidence":0.2}`)
	id := out.Ideas[0].ID
	typ, cat, para, who, area := "Task", "Capacitacion", "proyecto", "pedro", "Capacitacion"

	fixed, err := env.Engine.Fix(env.Ctx, id, engine.FixInput{Type: &typ, Category: &cat, PARAType: &para, AssignedTo: &who, Area: &area}, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, "Task", *fixed.Type)
	assert.Equal(t, domain.PARAProject, *fixed.PARAType)
	assert.Equal(t, "pedro", *fixed.AssignedTo)
	require.NotNil(t, fixed.RelatedAreaID)
	assert.Equal(t, domain.StageOrganized, fixed.CodeStage)

	empty := ""
	fixed, err = env.Engine.Fix(env.Ctx, id, engine.FixInput{Area: &empty}, "reviewer")
	require.NoError(t, err)
	assert.Nil(t, fixed.RelatedAreaID)

	unknown := "Marte"
	_, err = env.Engine.Fix(env.Ctx, id, engine.FixInput{Area: &unknown}, "reviewer")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	badPriority := "critica-maxima"
	_, err = env.Engine.Fix(env.Ctx, id, engine.FixInput{Priority: &badPriority}, "reviewer")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestAuditLogIsAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "algo", `{"type":"Note","confidence":0.4}`)
	entries := env.audits(t, out.Ideas[0].ID)
	require.Len(t, entries, 1)
	id := entries[0].ID

	_, err := env.Engine.DB.Exec(`UPDATE audit_log SET routed_to='Finanzas' WHERE id=?`, id)
	require.Error(t, err)
	_, err = env.Engine.DB.Exec(`DELETE FROM audit_log WHERE id=?`, id)
	require.Error(t, err)

	entry, err := env.Engine.MarkAuditReviewed(env.Ctx, id, "reviewer")
	require.NoError(t, err)
	assert.True(t, entry.Reviewed)
	entry, err = env.Engine.MarkAuditReviewed(env.Ctx, id, "reviewer")
	require.NoError(t, err)
	assert.True(t, entry.Reviewed)

	_, err = env.Engine.DB.Exec(`UPDATE audit_log SET reviewed=0 WHERE id=?`, id)
	require.Error(t, err)

	evts, err := env.Engine.ListEvents(env.Ctx, 10, 0, events.AuditReviewed, "", "")
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func (env testEnv) financeIdea(t *testing.T) domain.Idea {
	t.Helper()
	out := env.capture(t, "modelar presupuesto OPEX 2025", `{"type":"Task","category":"Finanzas","confidence":0.9}`)
	require.Equal(t, "finance", *out.Ideas[0].SuggestedAgent)
	return out.Ideas[0]
}

func TestExecuteSuccess(t *testing.T) {
	env := newTestEnv(t)
	idea := env.financeIdea(t)
	env.Fake.execute = func(req classify.ExecuteRequest) (string, error) {
		return "## Modelo OPEX\n- Personal: 40%", nil
	}
	res, err := env.Engine.Execute(env.Ctx, engine.ExecuteOptions{IdeaID: idea.ID, ActorID: "maria"})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.ExecutionStatus)
	assert.Equal(t, domain.StageExpressed, res.CodeStage)
	assert.Equal(t, "## Modelo OPEX\n- Personal: 40%", *res.ExecutionOutput)
	assert.Equal(t, "Auto-executed by Finance Agent - OPEX budget analysis", *res.ExpressedOutput)
	assert.Nil(t, res.ExecutionError)

	req := env.Fake.lastExecute
	assert.Equal(t, "finance", req.AgentKey)
	require.Len(t, req.Skills, 1)
	assert.Equal(t, "core/model-opex-budget.md", req.Skills[0].Ref)

	kn, err := env.Engine.ListKnowledge(env.Ctx, 10)
	require.NoError(t, err)
	require.Len(t, kn, 1)
	assert.Equal(t, "agent:finance", kn[0].Source)

	_, err = env.Engine.Execute(env.Ctx, engine.ExecuteOptions{IdeaID: idea.ID})
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	res, err = env.Engine.Execute(env.Ctx, engine.ExecuteOptions{IdeaID: idea.ID, Force: true})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.ExecutionStatus)
	assert.Contains(t, env.eventTypes(t, idea.ID), events.IdeaExecutionDone)
}

func TestExecuteFailureKeepsStageAndAllowsRetry(t *testing.T) {
	env := newTestEnv(t)
	idea := env.financeIdea(t)
	env.Fake.execute = func(classify.ExecuteRequest) (string, error) {
		return "", &classify.Error{Kind: classify.KindTimeout, Err: context.DeadlineExceeded}
	}
	res, err := env.Engine.Execute(env.Ctx, engine.ExecuteOptions{IdeaID: idea.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, res.ExecutionStatus)
	assert.Equal(t, domain.StageOrganized, res.CodeStage)
	require.NotNil(t, res.ExecutionError)

	env.Fake.execute = func(classify.ExecuteRequest) (string, error) { return "listo", nil }
	res, err = env.Engine.Execute(env.Ctx, engine.ExecuteOptions{IdeaID: idea.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.ExecutionStatus)
	assert.Nil(t, res.ExecutionError)
}

func TestExecuteWithOverridingAgentIsReportedUnderThatAgent(t *testing.T) {
	env := newTestEnv(t)
	idea := env.financeIdea(t)
	env.Fake.execute = func(classify.ExecuteRequest) (string, error) { return "brechas listadas", nil }

	res, err := env.Engine.Execute(env.Ctx, engine.ExecuteOptions{IdeaID: idea.ID, AgentKey: "compliance", ActorID: "maria"})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.ExecutionStatus)
	assert.Equal(t, "compliance", env.Fake.lastExecute.AgentKey)
	require.Len(t, env.Fake.lastExecute.Skills, 1)
	assert.Equal(t, "core/audit-compliance-readiness.md", env.Fake.lastExecute.Skills[0].Ref)

	view, err := env.Engine.Execution(env.Ctx, idea.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Agent)
	assert.Equal(t, "compliance", *view.Agent)
	assert.Equal(t, []string{"core/audit-compliance-readiness.md"}, view.Skills)
	assert.Equal(t, "maria", *view.ExecutedBy)
}

func TestExecuteForceRestartsInterruptedRun(t *testing.T) {
	env := newTestEnv(t)
	idea := env.financeIdea(t)
	stuck, err := env.Engine.Repo.GetIdea(env.Ctx, nil, idea.ID)
	require.NoError(t, err)
	stuck.ExecutionStatus = domain.ExecutionRunning
	require.NoError(t, env.Engine.Repo.UpdateIdea(env.Ctx, nil, stuck))

	_, err = env.Engine.Execute(env.Ctx, engine.ExecuteOptions{IdeaID: idea.ID})
	require.ErrorIs(t, err, engine.ErrConflict)

	env.Fake.execute = func(classify.ExecuteRequest) (string, error) { return "listo", nil }
	res, err := env.Engine.Execute(env.Ctx, engine.ExecuteOptions{IdeaID: idea.ID, Force: true})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.ExecutionStatus)
	assert.Equal(t, "listo", *res.ExecutionOutput)
}

func TestExecuteRequiresAgentAndSkills(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "algo sin agente", `{"type":"Note","category":"Varios","confidence":0.9}`)
	_, err := env.Engine.Execute(env.Ctx, engine.ExecuteOptions{IdeaID: out.Ideas[0].ID})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.Execute(env.Ctx, engine.ExecuteOptions{IdeaID: out.Ideas[0].ID, AgentKey: "ghost"})
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	res, err := env.Engine.Execute(env.Ctx, engine.ExecuteOptions{IdeaID: out.Ideas[0].ID, AgentKey: "training"})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, res.ExecutionStatus)
	assert.Equal(t, "no skill files found", *res.ExecutionError)
	assert.Zero(t, env.Fake.Calls("execute"))

	view, err := env.Engine.Execution(env.Ctx, out.Ideas[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, view.Status)
}

func TestDelegationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	out := env.capture(t, "pedir informe", `{"type":"Task","confidence":0.9}`)
	d, err := env.Engine.CreateDelegation(env.Ctx, engine.DelegationInput{IdeaID: out.Ideas[0].ID, DelegatedTo: "Juan", Description: "informe", ActorID: "maria"})
	require.NoError(t, err)
	assert.Equal(t, domain.DelegationPending, d.Status)

	d, err = env.Engine.CompleteDelegation(env.Ctx, d.ID, "maria")
	require.NoError(t, err)
	assert.Equal(t, domain.DelegationCompleted, d.Status)
	require.NotNil(t, d.CompletedAt)

	_, err = env.Engine.CompleteDelegation(env.Ctx, d.ID, "maria")
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	_, err = env.Engine.CreateDelegation(env.Ctx, engine.DelegationInput{DelegatedTo: " "})
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.ListDelegations(env.Ctx, "lost", "")
	require.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestRecords(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.CreateArea(env.Ctx, domain.Area{Name: "HSE"}, "admin")
	require.ErrorIs(t, err, engine.ErrConflict)
	area, err := env.Engine.CreateArea(env.Ctx, domain.Area{Name: "Mantenimiento", Horizon: "H2"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "active", area.Status)
	areas, err := env.Engine.ListAreas(env.Ctx, "active")
	require.NoError(t, err)
	assert.Len(t, areas, 8)

	_, err = env.Engine.AddKnowledge(env.Ctx, engine.KnowledgeInput{Key: "turnos", Content: "El turno C concentra horas extra"})
	require.NoError(t, err)
	hits, err := env.Engine.SearchKnowledge(env.Ctx, "horas extra", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "turnos", hits[0].Key)

	p, err := env.Engine.SetPerson(env.Ctx, domain.Person{Username: "juan", Role: "Supervisor"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", p.CreatedAt)
	_, err = env.Engine.SetPerson(env.Ctx, domain.Person{Username: "juan", Role: "Jefe de turno"}, "admin")
	require.NoError(t, err)
	got, err := env.Engine.GetPerson(env.Ctx, "juan")
	require.NoError(t, err)
	assert.Equal(t, "Jefe de turno", got.Role)

	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, "bot", "ingest")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, "il_"))
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	require.NoError(t, err)
	assert.Equal(t, key.ID, stored.ID)
	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID, "admin"))
	_, err = env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	require.ErrorIs(t, err, repo.ErrNotFound)
	require.ErrorIs(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID, "admin"), repo.ErrNotFound)

	cfg := config.Default()
	cfg.Areas = append(cfg.Areas, config.AreaConfig{Name: "Calidad"})
	require.NoError(t, env.Engine.ImportConfig(env.Ctx, cfg, "admin"))
	loaded, err := env.Engine.Repo.GetConfig(env.Ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Areas, len(cfg.Areas))
	areas, err = env.Engine.ListAreas(env.Ctx, "")
	require.NoError(t, err)
	assert.Len(t, areas, 9)

	archived, err := env.Engine.ArchiveArea(env.Ctx, "mantenimiento", "admin")
	require.NoError(t, err)
	assert.Equal(t, "archived", archived.Status)
	areas, err = env.Engine.ListAreas(env.Ctx, "active")
	require.NoError(t, err)
	assert.Len(t, areas, 8)

	evts, err := env.Engine.ListEvents(env.Ctx, 100, 0, "", "", "")
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, e := range evts {
		seen[e.Type] = true
	}
	for _, typ := range []string{events.AreaCreated, events.KnowledgeAdded, events.PersonUpserted, events.APIKeyCreated, events.APIKeyRevoked, events.AreaArchived, events.ConfigImported} {
		assert.True(t, seen[typ], fmt.Sprintf("missing %s", typ))
	}
}
