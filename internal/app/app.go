// Package app wires the database, configuration, classifier and engine
// shared by the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"idealine/internal/classify"
	"idealine/internal/config"
	"idealine/internal/db"
	"idealine/internal/engine"
	"idealine/internal/migrate"
	"idealine/internal/skills"
)

type Options struct {
	Workspace  string
	ConfigPath string
	ActorID    string
	Logger     *zap.Logger
	// Getenv resolves provider API keys; os.Getenv when nil.
	Getenv func(string) string
	// Offline skips building classifier providers.
	Offline bool
}

type App struct {
	DB         *sql.DB
	Engine     engine.Engine
	Config     *config.Config
	Skills     *skills.Library
	Classifier *classify.Adapter
	Logger     *zap.Logger
}

// Open opens the workspace database, applies migrations, resolves the config
// and builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	applied, err := migrate.Migrate(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Ints("versions", applied))
	}
	cfg, err := ResolveConfig(ctx, engine.New(conn, nil, nil, logger), opts.Workspace, opts.ConfigPath, opts.ActorID)
	if err != nil {
		conn.Close()
		return nil, err
	}

	a := &App{DB: conn, Config: cfg, Logger: logger}
	var classifier engine.Classifier
	if !opts.Offline {
		getenv := opts.Getenv
		if getenv == nil {
			getenv = os.Getenv
		}
		a.Classifier = BuildClassifier(ctx, cfg.Classifier, getenv, logger)
		classifier = a.Classifier
	}
	a.Engine = engine.New(conn, cfg, classifier, logger)
	a.Skills = skills.New(skillsDir(opts.Workspace, cfg.Skills.Dir), logger)
	a.Engine.Skills = a.Skills
	return a, nil
}

func (a *App) Close() error {
	var err error
	if a.Classifier != nil {
		err = a.Classifier.Close()
	}
	if cerr := a.DB.Close(); err == nil {
		err = cerr
	}
	return err
}

func skillsDir(workspace, dir string) string {
	if dir == "" {
		dir = "skills"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dir)
}
