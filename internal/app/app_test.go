package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"idealine/internal/app"
	"idealine/internal/config"
)

func TestOpenSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	a, err := app.Open(ctx, app.Options{Workspace: ws, Offline: true, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	areas, err := a.Engine.ListAreas(ctx, "active")
	require.NoError(t, err)
	require.Len(t, areas, len(config.Default().Areas))
	require.Equal(t, filepath.Join(ws, "skills"), a.Skills.Dir)
	require.Nil(t, a.Engine.Classifier)
	require.NoError(t, a.Close())

	// A stored config wins over the defaults on reopen.
	a, err = app.Open(ctx, app.Options{Workspace: ws, Offline: true})
	require.NoError(t, err)
	defer a.Close()
	require.Equal(t, 0.6, a.Config.Triage.ReviewThreshold)
}

func TestOpenImportsTOMLConfig(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	path := filepath.Join(ws, "idealine.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[triage]
review_threshold = 0.7
default_confidence = 0.5
input_preview_chars = 120
knowledge_limit = 5

[classifier]
timeout_seconds = 10
max_retries = 1

[[classifier.providers]]
type = "openai"
model = "llama3.1"
base_url = "http://127.0.0.1:11434/v1"

[agents.finance]
name = "Finance"
categories = ["Finanzas"]
skills = ["core/model-opex-budget.md"]

[[areas]]
name = "Finanzas"
`), 0o644))

	a, err := app.Open(ctx, app.Options{Workspace: ws, ConfigPath: path, Getenv: func(string) string { return "" }})
	require.NoError(t, err)
	defer a.Close()
	require.Equal(t, 0.7, a.Config.Triage.ReviewThreshold)
	require.NotNil(t, a.Classifier)
	require.Equal(t, "openai:llama3.1", a.Classifier.Provider.Name())
	areas, err := a.Engine.ListAreas(ctx, "")
	require.NoError(t, err)
	require.Len(t, areas, 1)
}

func TestBuildClassifierSkipsProvidersWithoutKeys(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := config.Default().Classifier

	adapter := app.BuildClassifier(context.Background(), cfg, func(string) string { return "" }, logger)
	require.NotNil(t, adapter.Provider)
	require.Equal(t, "openai:llama3.1", adapter.Provider.Name())

	cfg.Providers = cfg.Providers[:1]
	adapter = app.BuildClassifier(context.Background(), cfg, func(string) string { return "" }, logger)
	require.Nil(t, adapter.Provider)
}
