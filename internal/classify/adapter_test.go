package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"idealine/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, call int) (string, error)
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Complete(ctx context.Context, _ Prompt) (string, error) {
	n := int(s.calls.Add(1))
	return s.fn(ctx, n)
}

func (s *scriptedProvider) Close() error { return nil }

func fastAdapter(p Provider, retries int) *Adapter {
	return &Adapter{
		Provider:       p,
		Timeout:        50 * time.Millisecond,
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestAdapterRetriesUnavailable(t *testing.T) {
	p := &scriptedProvider{name: "flaky", fn: func(_ context.Context, call int) (string, error) {
		if call < 3 {
			return "", errors.New("connection refused")
		}
		return `{"type":"Nota"}`, nil
	}}
	out, err := fastAdapter(p, 3).Classify(context.Background(), "hola", Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Nota"}`, out)
	assert.EqualValues(t, 3, p.calls.Load())
}

func TestAdapterTimeoutIsBoundedAndRetried(t *testing.T) {
	p := &scriptedProvider{name: "slow", fn: func(ctx context.Context, _ int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	start := time.Now()
	_, err := fastAdapter(p, 2).Classify(context.Background(), "hola", Snapshot{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.EqualValues(t, 3, p.calls.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAdapterDoesNotRetryMalformed(t *testing.T) {
	p := &scriptedProvider{name: "blank", fn: func(context.Context, int) (string, error) {
		return "   ", nil
	}}
	_, err := fastAdapter(p, 5).Distill(context.Background(), "text", Snapshot{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestAdapterWithoutProvider(t *testing.T) {
	_, err := (&Adapter{}).Classify(context.Background(), "x", Snapshot{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAdapterStopsOnCancelledContext(t *testing.T) {
	p := &scriptedProvider{name: "down", fn: func(context.Context, int) (string, error) {
		return "", errors.New("503")
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fastAdapter(p, 10).Classify(ctx, "x", Snapshot{})
	require.Error(t, err)
	assert.LessOrEqual(t, p.calls.Load(), int32(1))
}

func TestChainFallsBack(t *testing.T) {
	first := &scriptedProvider{name: "primary", fn: func(context.Context, int) (string, error) {
		return "", &Error{Kind: KindUnavailable, Err: errors.New("quota")}
	}}
	second := &scriptedProvider{name: "secondary", fn: func(context.Context, int) (string, error) {
		return `[{"type":"Nota"}]`, nil
	}}
	chain := Chain{Providers: []Provider{first, second}}
	out, err := fastAdapter(chain, 0).Decompose(context.Background(), "project", Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, `[{"type":"Nota"}]`, out)
	assert.EqualValues(t, 1, first.calls.Load())
	assert.EqualValues(t, 1, second.calls.Load())
	assert.Equal(t, "primary>secondary", chain.Name())
}

func TestChainGivesFallbackItsOwnDeadline(t *testing.T) {
	hung := &scriptedProvider{name: "gemini", fn: func(ctx context.Context, _ int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	local := &scriptedProvider{name: "ollama", fn: func(ctx context.Context, _ int) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return `{"type":"Nota"}`, nil
	}}
	out, err := fastAdapter(Chain{Providers: []Provider{hung, local}}, 0).Classify(context.Background(), "hola", Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Nota"}`, out)
	assert.EqualValues(t, 1, hung.calls.Load())
	assert.EqualValues(t, 1, local.calls.Load())
}

func TestChainReportsProviderTimeout(t *testing.T) {
	hung := &scriptedProvider{name: "gemini", fn: func(ctx context.Context, _ int) (string, error) {
		<-ctx.Done()
		return "", errors.New("stream closed")
	}}
	_, err := Chain{Providers: []Provider{hung}, Timeout: 10 * time.Millisecond}.Complete(context.Background(), Prompt{User: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestChainEmpty(t *testing.T) {
	_, err := Chain{}.Complete(context.Background(), Prompt{User: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenAIProvider(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"type\":\"Tarea\"}"}}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "llama"}, nil)
	require.NoError(t, err)
	out, err := p.Complete(context.Background(), Prompt{System: "sys", User: "hola", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"Tarea"}`, out)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	srv.CloseClientConnections()
	srv.Client().CloseIdleConnections()
	p.httpClient.CloseIdleConnections()
}

func TestOpenAIProviderStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, Model: "llama"}, nil)
	require.NoError(t, err)
	_, err = p.Complete(context.Background(), Prompt{User: "hola"})
	assert.ErrorIs(t, err, ErrUnavailable)
	p.httpClient.CloseIdleConnections()
}

func TestClassifyPromptCarriesSnapshot(t *testing.T) {
	snap := Snapshot{
		Knowledge: []domain.KnowledgeEntry{{Key: "client", Content: "ACME renews in March"}},
		Areas:     []domain.Area{{Name: "Finanzas"}, {Name: "HSE"}},
		Roster:    []domain.Person{{Username: "jose", Role: "analyst", Department: "Finanzas"}},
		Speaker:   &domain.Person{Username: "gonzalo", Role: "manager", Department: "Operaciones"},
		Agents:    []AgentHint{{Key: "finance", Keywords: []string{"budget"}}},
	}
	p := classifyPrompt("revisar presupuesto", snap)
	assert.True(t, p.JSON)
	assert.Contains(t, p.User, "ACME renews in March")
	assert.Contains(t, p.User, "Finanzas, HSE")
	assert.Contains(t, p.User, "jose(analyst,Finanzas)")
	assert.Contains(t, p.User, "SPEAKER: gonzalo")
	assert.Contains(t, p.User, "finance (budget)")
	assert.Contains(t, p.User, `"revisar presupuesto"`)
}
