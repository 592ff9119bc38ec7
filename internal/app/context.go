package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"idealine/internal/config"
	"idealine/internal/engine"
	"idealine/internal/repo"
)

// ResolveConfig returns the active config. A config stored in the database
// wins; otherwise the file at path (or idealine.yml in the workspace) is
// imported, falling back to the built-in defaults. Importing seeds the
// configured areas.
func ResolveConfig(ctx context.Context, eng engine.Engine, workspace, path, actorID string) (*config.Config, error) {
	if path == "" {
		stored, err := eng.Repo.GetConfig(ctx)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("load stored config: %w", err)
		}
	}
	cfg, source, err := loadConfigFile(workspace, path)
	if err != nil {
		return nil, err
	}
	if actorID == "" {
		actorID = "system"
	}
	if err := eng.ImportConfig(ctx, cfg, actorID); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	if eng.Logger != nil {
		eng.Logger.Info("config imported", zap.String("source", source))
	}
	return cfg, nil
}

func loadConfigFile(workspace, path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", path, err)
		}
		return cfg, path, nil
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", config.Path(workspace), err)
	}
	if cfg == nil {
		return config.Default(), "defaults", nil
	}
	return cfg, config.Path(workspace), nil
}
