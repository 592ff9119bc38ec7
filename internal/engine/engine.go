package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"idealine/internal/agents"
	"idealine/internal/classify"
	"idealine/internal/config"
	"idealine/internal/domain"
	"idealine/internal/events"
	"idealine/internal/repo"
	"idealine/internal/skills"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
)

const maxCaptureChars = 10000

// Classifier is the text-completion capability the engine drives.
// *classify.Adapter implements it.
type Classifier interface {
	Classify(ctx context.Context, text string, snap classify.Snapshot) (string, error)
	Distill(ctx context.Context, text string, snap classify.Snapshot) (string, error)
	Decompose(ctx context.Context, text string, snap classify.Snapshot) (string, error)
	Execute(ctx context.Context, req classify.ExecuteRequest) (string, error)
}

// SkillSource loads skill documents for execution runs.
type SkillSource interface {
	Load(refs []string) ([]skills.Doc, []string)
}

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Classifier Classifier
	Agents     agents.Table
	Skills     SkillSource
	Logger     *zap.Logger
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config, classifier Classifier, logger *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Classifier: classifier,
		Agents:     agents.New(cfg.Agents),
		Skills:     skills.New(cfg.Skills.Dir, logger),
		Logger:     logger,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) triageConfig() config.TriageConfig {
	if e.Config == nil {
		return config.Default().Triage
	}
	return e.Config.Triage
}

// events.Writer stamps rows with its own clock; keep it in step with the engine's.
func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

func newID() string {
	return uuid.NewString()
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// advanceStage returns the later of the current and target stages.
func advanceStage(current, target string) string {
	if domain.StageRank(target) > domain.StageRank(current) {
		return target
	}
	return current
}

// GetIdea returns one idea.
func (e Engine) GetIdea(ctx context.Context, id string) (domain.Idea, error) {
	return e.Repo.GetIdea(ctx, nil, id)
}

func (e Engine) ListIdeas(ctx context.Context, f repo.IdeaFilters) ([]domain.Idea, error) {
	return e.Repo.ListIdeas(ctx, f)
}

// SubTasks returns the children of a project idea in creation order.
func (e Engine) SubTasks(ctx context.Context, projectID string) ([]domain.Idea, error) {
	if _, err := e.Repo.GetIdea(ctx, nil, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListChildren(ctx, nil, projectID)
}
