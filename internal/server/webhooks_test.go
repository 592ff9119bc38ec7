package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"idealine/internal/config"
	"idealine/internal/domain"
	"idealine/internal/events"
)

type hookRecorder struct {
	mu       sync.Mutex
	status   int
	requests []recordedHook
}

type recordedHook struct {
	event     string
	delivery  string
	signature string
	body      []byte
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	h.mu.Lock()
	h.requests = append(h.requests, recordedHook{
		event:     r.Header.Get("X-Idealine-Event"),
		delivery:  r.Header.Get("X-Idealine-Delivery"),
		signature: r.Header.Get("X-Idealine-Signature"),
		body:      body,
	})
	status := h.status
	h.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (h *hookRecorder) snapshot() []recordedHook {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedHook(nil), h.requests...)
}

func (h *hookRecorder) setStatus(status int) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

func TestWebhookDispatcherDeliversFilteredEvents(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	rec := &hookRecorder{}
	hookSrv := httptest.NewServer(rec)
	t.Cleanup(hookSrv.Close)

	d := NewWebhookDispatcher(ts.Engine.Repo, []config.WebhookConfig{{
		URL:    hookSrv.URL,
		Events: []string{"area.*"},
		Secret: "hook-secret",
	}}, zaptest.NewLogger(t))

	// First poll only pins the cursor at the newest existing event.
	d.DispatchAll(ctx)
	assert.Empty(t, rec.snapshot())

	_, err := ts.Engine.CreateArea(ctx, domain.Area{Name: "Compras"}, "maria")
	require.NoError(t, err)
	_, err = ts.Engine.SetPerson(ctx, domain.Person{Username: "jorge", Role: "chef"}, "maria")
	require.NoError(t, err)

	d.DispatchAll(ctx)
	got := rec.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, events.AreaCreated, got[0].event)
	assert.NotEmpty(t, got[0].delivery)
	assert.Equal(t, "sha256="+signPayload("hook-secret", got[0].body), got[0].signature)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got[0].body, &payload))
	assert.Equal(t, "area", payload["entity_kind"])
	assert.Equal(t, "maria", payload["actor_id"])
	inner, ok := payload["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Compras", inner["name"])

	// Nothing new, nothing sent.
	d.DispatchAll(ctx)
	assert.Len(t, rec.snapshot(), 1)
}

func TestWebhookDispatcherRetriesRejectedEventOnNextPoll(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	rec := &hookRecorder{status: http.StatusBadRequest}
	hookSrv := httptest.NewServer(rec)
	t.Cleanup(hookSrv.Close)

	d := NewWebhookDispatcher(ts.Engine.Repo, []config.WebhookConfig{{URL: hookSrv.URL}}, zaptest.NewLogger(t))
	d.DispatchAll(ctx)

	_, err := ts.Engine.CreateArea(ctx, domain.Area{Name: "Compras"}, "maria")
	require.NoError(t, err)

	d.DispatchAll(ctx)
	require.Len(t, rec.snapshot(), 1, "4xx responses are not retried within a poll")

	rec.setStatus(http.StatusOK)
	d.DispatchAll(ctx)
	got := rec.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, got[0].delivery, got[1].delivery)
	assert.Empty(t, got[1].signature)
}

func TestWebhookDispatcherSkipsDisabledHooks(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	rec := &hookRecorder{}
	hookSrv := httptest.NewServer(rec)
	t.Cleanup(hookSrv.Close)

	disabled := false
	d := NewWebhookDispatcher(ts.Engine.Repo, []config.WebhookConfig{{URL: hookSrv.URL, Enabled: &disabled}}, zaptest.NewLogger(t))
	d.DispatchAll(ctx)
	_, err := ts.Engine.CreateArea(ctx, domain.Area{Name: "Compras"}, "maria")
	require.NoError(t, err)
	d.DispatchAll(ctx)
	assert.Empty(t, rec.snapshot())
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter(nil)
	assert.True(t, all.match("idea.captured"))

	blank := newEventFilter([]string{" ", ""})
	assert.True(t, blank.match("area.created"))

	f := newEventFilter([]string{"idea.execution.*", "area.created"})
	assert.True(t, f.match("idea.execution.failed"))
	assert.True(t, f.match("area.created"))
	assert.False(t, f.match("area.archived"))
	assert.False(t, f.match("idea.captured"))
}

func TestEncodeWebhookEventKeepsInvalidPayloadRaw(t *testing.T) {
	data, err := encodeWebhookEvent(domain.Event{ID: 7, Type: events.IdeaCaptured, EntityKind: "idea", Payload: "not json"})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, map[string]any{}, out["payload"])
	assert.Equal(t, "not json", out["payload_raw"])
	assert.EqualValues(t, 7, out["id"])
}
