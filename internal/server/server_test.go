package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

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
)

const testSecret = "test-secret"

type scriptedClassifier struct {
	mu        sync.Mutex
	classify  string
	decompose string
	err       error
}

func (s *scriptedClassifier) reply(out string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return out, nil
}

func (s *scriptedClassifier) Classify(context.Context, string, classify.Snapshot) (string, error) {
	return s.reply(s.classify)
}

func (s *scriptedClassifier) Distill(context.Context, string, classify.Snapshot) (string, error) {
	return s.reply(`{"key_insight":"Turnos cubiertos","key_action":"Publicar","connections":["RRHH"],"distilled_summary":"Cubrir turnos"}`)
}

func (s *scriptedClassifier) Decompose(context.Context, string, classify.Snapshot) (string, error) {
	return s.reply(s.decompose)
}

func (s *scriptedClassifier) Execute(context.Context, classify.ExecuteRequest) (string, error) {
	return s.reply("listo")
}

func (s *scriptedClassifier) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type testServer struct {
	*httptest.Server
	Engine     engine.Engine
	Classifier *scriptedClassifier
	token      string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Triage.AutoDecompose = false
	fake := &scriptedClassifier{}
	logger := zaptest.NewLogger(t)
	e := engine.New(conn, cfg, fake, logger)
	require.NoError(t, e.SeedAreas(context.Background(), cfg.Areas))

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, EnableDevLogin: true},
		Logger:   logger,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ts := &testServer{Server: srv, Engine: e, Classifier: fake}
	res, data := ts.do(t, http.MethodPost, "/v0/auth/dev/login", map[string]any{"actor_id": "maria"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	ts.token = login.Token
	return ts
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

// authed sends the request with the test actor's bearer token and decodes a
// 2xx response into out.
func (s *testServer) authed(t *testing.T, method, path string, body any, wantStatus int, out any) []byte {
	t.Helper()
	res, data := s.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + s.token})
	require.Equal(t, wantStatus, res.StatusCode, string(data))
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}
	return data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	res, data := srv.do(t, http.MethodGet, "/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, health.LatestMigration, health.SchemaVersion)
	assert.Positive(t, health.SchemaVersion)
}

func TestRequestsRequireAuthentication(t *testing.T) {
	srv := newTestServer(t)
	res, data := srv.do(t, http.MethodGet, "/v0/ideas", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = srv.do(t, http.MethodGet, "/v0/ideas", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	var me WhoAmIResponse
	srv.authed(t, http.MethodGet, "/v0/me", nil, http.StatusOK, &me)
	assert.Equal(t, "maria", me.ActorID)
	assert.Equal(t, "jwt", me.Source)
}

func TestPrincipalFallsBackToRosterRole(t *testing.T) {
	srv := newTestServer(t)
	var me WhoAmIResponse
	srv.authed(t, http.MethodGet, "/v0/me", nil, http.StatusOK, &me)
	assert.Empty(t, me.Roles)

	_, err := srv.Engine.SetPerson(context.Background(), domain.Person{Username: "maria", Role: "jefa de compras"}, "admin")
	require.NoError(t, err)
	srv.authed(t, http.MethodGet, "/v0/me", nil, http.StatusOK, &me)
	assert.Equal(t, []string{"jefa de compras"}, me.Roles)

	res, data := srv.do(t, http.MethodPost, "/v0/auth/dev/login", map[string]any{"actor_id": "maria", "roles": []string{"admin"}}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	res, data = srv.do(t, http.MethodGet, "/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, []string{"admin"}, me.Roles)
}

func TestAPIKeyLifecycle(t *testing.T) {
	srv := newTestServer(t)
	var created CreateAPIKeyResponse
	srv.authed(t, http.MethodPost, "/v0/me/api-keys", map[string]any{"name": "bot"}, http.StatusCreated, &created)
	require.NotEmpty(t, created.Secret)

	res, data := srv.do(t, http.MethodGet, "/v0/me", nil, map[string]string{"X-Api-Key": created.Secret})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "maria", me.ActorID)
	assert.Equal(t, "api_key", me.Source)

	var keys []domain.APIKey
	srv.authed(t, http.MethodGet, "/v0/me/api-keys", nil, http.StatusOK, &keys)
	require.Len(t, keys, 1)

	srv.authed(t, http.MethodDelete, "/v0/me/api-keys/"+created.Key.ID, nil, http.StatusNoContent, nil)
	res, _ = srv.do(t, http.MethodGet, "/v0/me", nil, map[string]string{"X-Api-Key": created.Secret})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestCaptureReviewAndFix(t *testing.T) {
	srv := newTestServer(t)
	srv.Classifier.classify = `{"type":"Task","category":"Finanzas","suggested_area":"Finanzas","confidence":0.3,"summary":"Revisar presupuesto"}`

	var out TriageResponse
	srv.authed(t, http.MethodPost, "/v0/captures", map[string]any{"text": "revisar presupuesto de mantención"}, http.StatusCreated, &out)
	require.Nil(t, out.Error)
	require.Len(t, out.Ideas, 1)
	idea := out.Ideas[0]
	assert.Equal(t, domain.StageOrganized, idea.CodeStage)
	assert.True(t, idea.NeedsReview)
	assert.Equal(t, "maria", idea.CreatedBy)

	var queue []domain.Idea
	srv.authed(t, http.MethodGet, "/v0/review", nil, http.StatusOK, &queue)
	require.Len(t, queue, 1)
	assert.Equal(t, idea.ID, queue[0].ID)

	var fixed domain.Idea
	srv.authed(t, http.MethodPost, "/v0/ideas/"+idea.ID+"/fix", map[string]any{"priority": "alta", "area": "HSE"}, http.StatusOK, &fixed)
	assert.False(t, fixed.NeedsReview)
	assert.Equal(t, domain.PriorityHigh, *fixed.Priority)
	assert.Equal(t, domain.StageOrganized, fixed.CodeStage)

	srv.authed(t, http.MethodGet, "/v0/review", nil, http.StatusOK, &queue)
	assert.Empty(t, queue)

	var audit paginatedAudit
	srv.authed(t, http.MethodGet, "/v0/audit?idea_id="+idea.ID, nil, http.StatusOK, &audit)
	require.Len(t, audit.Items, 1)
	assert.True(t, audit.Items[0].Reviewed)
	assert.True(t, audit.Items[0].NeedsReview)

	res, data := srv.do(t, http.MethodPost, "/v0/ideas/"+idea.ID+"/fix", map[string]any{"priority": "urgentísima"},
		map[string]string{"Authorization": "Bearer " + srv.token})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "bad_request", errorCode(t, data))
}

func TestCaptureWithClassifierFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.Classifier.fail(&classify.Error{Kind: classify.KindUnavailable, Err: errors.New("connection refused")})

	var out TriageResponse
	srv.authed(t, http.MethodPost, "/v0/captures", map[string]any{"text": "llamar a proveedor"}, http.StatusCreated, &out)
	require.NotNil(t, out.Error)
	assert.Equal(t, "Error", out.Error.Type)
	assert.Equal(t, "unavailable", out.Error.Kind)
	require.Len(t, out.Ideas, 1)
	assert.Equal(t, domain.StageCaptured, out.Ideas[0].CodeStage)

	res, data := srv.do(t, http.MethodPost, "/v0/captures/preview", map[string]any{"text": "llamar a proveedor"},
		map[string]string{"Authorization": "Bearer " + srv.token})
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "classifier_unavailable", errorCode(t, data))
}

func TestPreviewThenCapture(t *testing.T) {
	srv := newTestServer(t)
	srv.Classifier.classify = `[{"type":"Task","summary":"Comprar EPP","confidence":0.9},{"type":"Task","summary":"Agendar charla","confidence":0.9}]`

	var preview PreviewResponse
	srv.authed(t, http.MethodPost, "/v0/captures/preview", map[string]any{"text": "comprar EPP y agendar charla"}, http.StatusOK, &preview)
	assert.Equal(t, "multi", preview.Kind)
	require.Len(t, preview.Items, 2)

	var ideas paginatedIdeas
	srv.authed(t, http.MethodGet, "/v0/ideas", nil, http.StatusOK, &ideas)
	assert.Empty(t, ideas.Items)

	srv.Classifier.fail(errors.New("must not be called"))
	var out TriageResponse
	srv.authed(t, http.MethodPost, "/v0/captures", map[string]any{"text": "comprar EPP y agendar charla", "items": preview.Items}, http.StatusCreated, &out)
	require.Nil(t, out.Error)
	assert.True(t, out.Split)
	assert.Len(t, out.IdeaIDs, 2)
}

func TestLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	srv.Classifier.classify = `{"type":"Project","is_project":true,"category":"Operaciones","confidence":0.9}`
	srv.Classifier.decompose = `{"project_name":"Turnos","objective":"Cubrir verano","sub_tasks":[{"text":"Listar turnos"},{"text":"Validar con RRHH"}]}`

	var out TriageResponse
	srv.authed(t, http.MethodPost, "/v0/captures", map[string]any{"text": "plan de turnos de verano"}, http.StatusCreated, &out)
	project := out.Ideas[0]

	var dec engine.DecomposeResult
	srv.authed(t, http.MethodPost, "/v0/ideas/"+project.ID+"/decompose", nil, http.StatusCreated, &dec)
	require.Len(t, dec.SubTaskIDs, 2)

	res, data := srv.do(t, http.MethodPost, "/v0/ideas/"+project.ID+"/decompose", nil, map[string]string{"Authorization": "Bearer " + srv.token})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "conflict", errorCode(t, data))

	var sub domain.Idea
	srv.authed(t, http.MethodPost, "/v0/ideas/"+dec.SubTaskIDs[0]+"/complete", nil, http.StatusOK, &sub)
	assert.True(t, sub.Completed)
	var children []domain.Idea
	srv.authed(t, http.MethodGet, "/v0/ideas/"+project.ID+"/subtasks", nil, http.StatusOK, &children)
	require.Len(t, children, 2)
	assert.True(t, children[1].IsNextAction)

	var gtd domain.Idea
	srv.authed(t, http.MethodPatch, "/v0/ideas/"+dec.SubTaskIDs[1]+"/gtd", map[string]any{"energy": "baja", "notes": "con RRHH"}, http.StatusOK, &gtd)
	assert.Equal(t, domain.EnergyLow, *gtd.Energy)
	res, data = srv.do(t, http.MethodPatch, "/v0/ideas/"+dec.SubTaskIDs[1]+"/gtd", map[string]any{}, map[string]string{"Authorization": "Bearer " + srv.token})
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	var distilled DistillResponse
	srv.authed(t, http.MethodPost, "/v0/ideas/"+project.ID+"/distill", nil, http.StatusOK, &distilled)
	assert.False(t, distilled.Fallback)
	assert.Equal(t, domain.StageDistilled, distilled.Idea.CodeStage)
	assert.Equal(t, []string{"RRHH"}, distilled.Connections)

	res, data = srv.do(t, http.MethodPost, "/v0/ideas/"+project.ID+"/distill", nil, map[string]string{"Authorization": "Bearer " + srv.token})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "invalid_transition", errorCode(t, data))

	var expressed domain.Idea
	srv.authed(t, http.MethodPost, "/v0/ideas/"+project.ID+"/express", map[string]any{"output": "Plan publicado"}, http.StatusOK, &expressed)
	assert.Equal(t, domain.StageExpressed, expressed.CodeStage)

	var counts map[string]int
	srv.authed(t, http.MethodGet, "/v0/stats/stages", nil, http.StatusOK, &counts)
	assert.Equal(t, 2, counts[domain.StageExpressed])
	assert.Equal(t, 1, counts[domain.StageOrganized])
	assert.Equal(t, 0, counts[domain.StageCaptured])

	res, data = srv.do(t, http.MethodGet, "/v0/ideas/missing", nil, map[string]string{"Authorization": "Bearer " + srv.token})
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))
}

func TestListIdeasPaginates(t *testing.T) {
	srv := newTestServer(t)
	srv.Classifier.classify = `{"type":"Task","confidence":0.9}`
	for _, text := range []string{"uno", "dos", "tres"} {
		srv.authed(t, http.MethodPost, "/v0/captures", map[string]any{"text": text}, http.StatusCreated, nil)
	}
	seen := map[string]bool{}
	cursor := ""
	for page := 0; page < 3; page++ {
		path := "/v0/ideas?limit=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		var resp paginatedIdeas
		srv.authed(t, http.MethodGet, path, nil, http.StatusOK, &resp)
		for _, i := range resp.Items {
			assert.False(t, seen[i.ID], "duplicate %s", i.ID)
			seen[i.ID] = true
		}
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	assert.Len(t, seen, 3)
}

func TestRecordsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var area domain.Area
	srv.authed(t, http.MethodPost, "/v0/areas", map[string]any{"name": "Calidad", "horizon": "H2"}, http.StatusCreated, &area)
	res, data := srv.do(t, http.MethodPost, "/v0/areas", map[string]any{"name": "calidad"}, map[string]string{"Authorization": "Bearer " + srv.token})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "conflict", errorCode(t, data))
	srv.authed(t, http.MethodPost, "/v0/areas/Calidad/archive", nil, http.StatusOK, &area)
	assert.Equal(t, "archived", area.Status)

	var d domain.Delegation
	srv.authed(t, http.MethodPost, "/v0/delegations", map[string]any{"delegated_to": "juan", "description": "cotizar"}, http.StatusCreated, &d)
	assert.Equal(t, "maria", d.DelegatedBy)
	srv.authed(t, http.MethodPost, "/v0/delegations/"+d.ID+"/complete", nil, http.StatusOK, &d)
	assert.Equal(t, domain.DelegationCompleted, d.Status)
	res, _ = srv.do(t, http.MethodPost, "/v0/delegations/"+d.ID+"/complete", nil, map[string]string{"Authorization": "Bearer " + srv.token})
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	srv.authed(t, http.MethodPost, "/v0/knowledge", map[string]any{"key": "turnos", "content": "El turno C concentra horas extra"}, http.StatusCreated, nil)
	var hits []domain.KnowledgeEntry
	srv.authed(t, http.MethodGet, "/v0/knowledge?q=horas", nil, http.StatusOK, &hits)
	require.Len(t, hits, 1)

	var p domain.Person
	srv.authed(t, http.MethodPut, "/v0/people/juan", map[string]any{"role": "Supervisor"}, http.StatusOK, &p)
	srv.authed(t, http.MethodGet, "/v0/people/juan", nil, http.StatusOK, &p)
	assert.Equal(t, "Supervisor", p.Role)

	var cfg ConfigResponse
	srv.authed(t, http.MethodPut, "/v0/config", map[string]any{
		"format":  "toml",
		"content": "[triage]\nreview_threshold = 0.7\ndefault_confidence = 0.5\ninput_preview_chars = 100\n\n[classifier]\ntimeout_seconds = 10\n\n[agents.legal]\nname = \"Legal\"\ncategories = [\"Legal\"]\n\n[[areas]]\nname = \"Legal\"\n",
	}, http.StatusOK, &cfg)
	assert.Contains(t, cfg.Content, "review_threshold: 0.7")
	res, data = srv.do(t, http.MethodPut, "/v0/config", map[string]any{"content": "triage: {review_threshold: 4}"}, map[string]string{"Authorization": "Bearer " + srv.token})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "invalid_config", errorCode(t, data))

	var evts paginatedEvents
	srv.authed(t, http.MethodGet, "/v0/events?entity_kind=delegation", nil, http.StatusOK, &evts)
	require.Len(t, evts.Items, 2)
	assert.Equal(t, events.DelegationCompleted, evts.Items[0].Type)
	assert.Equal(t, "maria", evts.Items[0].ActorID)
}

func TestOpenAPIMarksPublicRoutes(t *testing.T) {
	srv := newTestServer(t)
	res, data := srv.do(t, http.MethodGet, "/v0/openapi.json", nil, map[string]string{"Authorization": "Bearer " + srv.token})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc struct {
		Paths map[string]map[string]struct {
			Security []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Empty(t, doc.Paths["/v0/health"]["get"].Security)
	assert.NotEmpty(t, doc.Paths["/v0/ideas"]["get"].Security)
}
