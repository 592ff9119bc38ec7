package idealinesdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"idealine/internal/classify"
	"idealine/internal/config"
	"idealine/internal/db"
	"idealine/internal/engine"
	"idealine/internal/migrate"
	"idealine/internal/server"
)

type cannedClassifier struct {
	reply string
}

func (c cannedClassifier) Classify(context.Context, string, classify.Snapshot) (string, error) {
	return c.reply, nil
}

func (c cannedClassifier) Distill(context.Context, string, classify.Snapshot) (string, error) {
	return `{"key_insight":"Presupuesto al día","key_action":"Cerrar planilla","connections":[],"distilled_summary":"Cerrar presupuesto"}`, nil
}

func (c cannedClassifier) Decompose(context.Context, string, classify.Snapshot) (string, error) {
	return `{"sub_tasks":[]}`, nil
}

func (c cannedClassifier) Execute(context.Context, classify.ExecuteRequest) (string, error) {
	return "ok", nil
}

func newTestClient(t *testing.T, reply string) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Triage.AutoDecompose = false
	logger := zaptest.NewLogger(t)
	e := engine.New(conn, cfg, cannedClassifier{reply: reply}, logger)
	require.NoError(t, e.SeedAreas(context.Background(), cfg.Areas))
	_, secret, err := e.CreateAPIKey(context.Background(), "sdk-bot", "sdk")
	require.NoError(t, err)

	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0", Logger: logger})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(srv.URL + "/")
	client.HTTPClient = srv.Client()
	client.APIKey = secret
	return client
}

func TestClientCaptureReviewAndComplete(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, `{"type":"Task","category":"Finanzas","confidence":0.4,"summary":"Cerrar presupuesto"}`)

	me, err := client.WhoAmI(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sdk-bot", me.ActorID)
	assert.Equal(t, "api_key", me.Source)

	out, err := client.Capture(ctx, "cerrar el presupuesto de marzo", "")
	require.NoError(t, err)
	require.Nil(t, out.Error)
	require.Len(t, out.Ideas, 1)
	idea := out.Ideas[0]
	assert.Equal(t, "organized", idea.CodeStage)
	assert.True(t, idea.NeedsReview)
	assert.Equal(t, []string{idea.ID}, out.IdeaIDs)

	queue, err := client.ReviewQueue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queue, 1)

	priority := "high"
	fixed, err := client.Fix(ctx, idea.ID, Fix{Priority: &priority})
	require.NoError(t, err)
	assert.False(t, fixed.NeedsReview)
	require.NotNil(t, fixed.Priority)
	assert.Equal(t, "high", *fixed.Priority)

	audit, err := client.Audit(ctx, idea.ID, 0, "")
	require.NoError(t, err)
	require.Len(t, audit.Items, 1)
	assert.True(t, audit.Items[0].Reviewed)

	distilled, err := client.Distill(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, "distilled", distilled.Idea.CodeStage)
	assert.Equal(t, "Presupuesto al día", distilled.KeyInsight)
	assert.NotNil(t, distilled.Connections)

	done, err := client.Complete(ctx, idea.ID)
	require.NoError(t, err)
	assert.True(t, done.Completed)
	assert.Equal(t, "expressed", done.CodeStage)

	reopened, err := client.Reopen(ctx, idea.ID)
	require.NoError(t, err)
	assert.False(t, reopened.Completed)

	fetched, err := client.Idea(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, reopened.UpdatedAt, fetched.UpdatedAt)

	evts, err := client.Events(ctx, 100)
	require.NoError(t, err)
	types := make([]string, 0, len(evts))
	for _, evt := range evts {
		types = append(types, evt.Type)
	}
	assert.Contains(t, types, "idea.captured")
	assert.Contains(t, types, "idea.fixed")
	assert.Contains(t, types, "idea.completed")
}

func TestClientPaginatesIdeas(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, `{"type":"Task","confidence":0.9}`)
	for _, text := range []string{"uno", "dos", "tres"} {
		_, err := client.Capture(ctx, text, "")
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := client.Ideas(ctx, IdeaQuery{Stage: "organized", Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		pages++
		for _, idea := range page.Items {
			seen[idea.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, 2, pages)
	assert.Len(t, seen, 3)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, `{"type":"Task","confidence":0.9}`)

	_, err := client.Idea(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsCode(err, "not_found"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	_, err = client.Express(ctx, "missing", "texto")
	assert.True(t, IsCode(err, "not_found"))

	client.APIKey = "wrong"
	_, err = client.WhoAmI(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
