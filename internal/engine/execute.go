package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"idealine/internal/classify"
	"idealine/internal/domain"
	"idealine/internal/events"
	"idealine/internal/parse"
)

var errNoSkillFiles = errors.New("no skill files found")

func ensureExecutionTransition(from, to string, force bool) error {
	switch from {
	case domain.ExecutionIdle, domain.ExecutionFailed:
		if to == domain.ExecutionRunning {
			return nil
		}
	case domain.ExecutionRunning:
		if to == domain.ExecutionCompleted || to == domain.ExecutionFailed {
			return nil
		}
		if to == domain.ExecutionRunning {
			if force {
				return nil
			}
			return fmt.Errorf("%w: execution already running", ErrConflict)
		}
	case domain.ExecutionCompleted:
		if to == domain.ExecutionRunning && force {
			return nil
		}
	}
	return fmt.Errorf("%w: execution %s -> %s", ErrInvalidTransition, from, to)
}

type ExecuteOptions struct {
	IdeaID   string
	AgentKey string
	Skills   []string
	// Context is extra organizational context appended to the knowledge snapshot.
	Context string
	ActorID string
	// Force re-runs an idea whose execution already completed, or restarts a
	// run left in running by an interrupted process.
	Force bool
}

// Execute runs an agent over an idea using its skill documents. A failed run
// is recorded on the idea and returned without error so it can be retried.
func (e Engine) Execute(ctx context.Context, opts ExecuteOptions) (domain.Idea, error) {
	idea, err := e.Repo.GetIdea(ctx, nil, opts.IdeaID)
	if err != nil {
		return idea, err
	}
	agentKey := strings.TrimSpace(opts.AgentKey)
	if agentKey == "" {
		agentKey = deref(idea.SuggestedAgent)
	}
	if agentKey == "" {
		return idea, invalidInput("no agent resolved for idea %s", idea.ID)
	}
	agent, ok := e.Agents.Get(agentKey)
	if !ok {
		return idea, invalidInput("unknown agent %q", agentKey)
	}
	refs := opts.Skills
	if len(refs) == 0 && agent.Key == deref(idea.SuggestedAgent) {
		refs = idea.SuggestedSkills
	}
	if len(refs) == 0 {
		refs = agent.Skills
	}
	if len(refs) == 0 {
		return idea, invalidInput("at least one skill reference is required")
	}
	if err := ensureExecutionTransition(idea.ExecutionStatus, domain.ExecutionRunning, opts.Force); err != nil {
		return idea, err
	}
	if idea, err = e.startExecution(ctx, idea.ID, agent.Key, refs, opts); err != nil {
		return idea, err
	}

	logger := e.logger().With(zap.String("idea_id", idea.ID), zap.String("agent", agent.Key))
	// The run's outcome is recorded even when the caller goes away mid-run.
	finishCtx := context.WithoutCancel(ctx)
	var docs []classify.SkillDoc
	if e.Skills != nil {
		loaded, missing := e.Skills.Load(refs)
		if len(missing) > 0 {
			logger.Warn("skill references not loaded", zap.Strings("refs", missing))
		}
		for _, d := range loaded {
			docs = append(docs, classify.SkillDoc{Ref: d.Ref, Content: d.Content})
		}
	}
	if len(docs) == 0 {
		return e.finishExecution(finishCtx, idea.ID, agent.Key, agent.Name, "", errNoSkillFiles, opts.ActorID)
	}
	if e.Classifier == nil {
		return e.finishExecution(finishCtx, idea.ID, agent.Key, agent.Name, "", errors.New("no classifier configured"), opts.ActorID)
	}
	knowledge, err := e.relevantKnowledge(ctx, idea.Text)
	if err != nil {
		logger.Warn("execution context", zap.Error(err))
	}
	req := classify.ExecuteRequest{
		Text:      idea.Text,
		AgentKey:  agent.Key,
		AgentName: agent.Name,
		Skills:    docs,
		Context:   executionContext(knowledge, opts.Context),
	}
	output, runErr := e.Classifier.Execute(ctx, req)
	if runErr == nil && strings.TrimSpace(output) == "" {
		runErr = errors.New("agent returned empty output")
	}
	if runErr != nil {
		logger.Warn("execution failed", zap.Error(runErr))
	} else {
		logger.Info("execution completed", zap.Int("bytes", len(output)))
	}
	return e.finishExecution(finishCtx, idea.ID, agent.Key, agent.Name, output, runErr, opts.ActorID)
}

func executionContext(knowledge []domain.KnowledgeEntry, extra string) string {
	var parts []string
	for _, k := range knowledge {
		parts = append(parts, fmt.Sprintf("%s: %s", k.Key, k.Content))
	}
	if s := strings.TrimSpace(extra); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

func (e Engine) startExecution(ctx context.Context, id, agentKey string, refs []string, opts ExecuteOptions) (domain.Idea, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Idea{}, err
	}
	defer tx.Rollback()
	idea, err := e.Repo.GetIdea(ctx, tx, id)
	if err != nil {
		return idea, err
	}
	if err := ensureExecutionTransition(idea.ExecutionStatus, domain.ExecutionRunning, opts.Force); err != nil {
		return idea, err
	}
	from := idea.ExecutionStatus
	idea.ExecutionStatus = domain.ExecutionRunning
	idea.ExecutionError = nil
	idea.SuggestedAgent = &agentKey
	idea.SuggestedSkills = refs
	idea.ExecutedBy = optionalString(opts.ActorID)
	idea.UpdatedAt = e.ts()
	if err := e.Repo.UpdateIdea(ctx, tx, idea); err != nil {
		return idea, err
	}
	if err := e.appendEvent(ctx, tx, events.IdeaExecutionStarted, "idea", id, opts.ActorID, events.EventPayload{
		"agent":  agentKey,
		"skills": refs,
		"from":   from,
	}); err != nil {
		return idea, err
	}
	return idea, tx.Commit()
}

func (e Engine) finishExecution(ctx context.Context, id, agentKey, agentName, output string, runErr error, actorID string) (domain.Idea, error) {
	to := domain.ExecutionCompleted
	if runErr != nil {
		to = domain.ExecutionFailed
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Idea{}, err
	}
	defer tx.Rollback()
	idea, err := e.Repo.GetIdea(ctx, tx, id)
	if err != nil {
		return idea, err
	}
	if err := ensureExecutionTransition(idea.ExecutionStatus, to, false); err != nil {
		return idea, err
	}
	now := e.ts()
	idea.ExecutionStatus = to
	idea.ExecutedAt = &now
	idea.UpdatedAt = now
	if runErr != nil {
		msg := runErr.Error()
		idea.ExecutionError = &msg
		if err := e.Repo.UpdateIdea(ctx, tx, idea); err != nil {
			return idea, err
		}
		if err := e.appendEvent(ctx, tx, events.IdeaExecutionFailed, "idea", id, actorID, events.EventPayload{
			"agent": agentKey,
			"error": msg,
		}); err != nil {
			return idea, err
		}
		return idea, tx.Commit()
	}

	expressed := "Auto-executed by " + agentName
	idea.ExecutionOutput = &output
	idea.ExecutionError = nil
	idea.ExpressedOutput = &expressed
	idea.CodeStage = domain.StageExpressed
	if err := e.Repo.UpdateIdea(ctx, tx, idea); err != nil {
		return idea, err
	}
	ideaID := idea.ID
	entry := domain.KnowledgeEntry{
		ID:        newID(),
		Key:       fmt.Sprintf("%s: %s", agentKey, parse.Preview(idea.Text, 80)),
		Content:   output,
		Category:  deref(idea.Category),
		PARAType:  domain.PARAResource,
		CodeStage: domain.StageExpressed,
		Source:    "agent:" + agentKey,
		IdeaID:    &ideaID,
		CreatedAt: now,
	}
	if err := e.Repo.InsertKnowledge(ctx, tx, entry); err != nil {
		return idea, fmt.Errorf("store execution output: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.IdeaExecutionDone, "idea", id, actorID, events.EventPayload{
		"agent":        agentKey,
		"knowledge_id": entry.ID,
	}); err != nil {
		return idea, err
	}
	if err := e.appendEvent(ctx, tx, events.KnowledgeAdded, "knowledge", entry.ID, actorID, events.EventPayload{"source": entry.Source}); err != nil {
		return idea, err
	}
	return idea, tx.Commit()
}

// ExecutionView is the execution sub-state of one idea.
type ExecutionView struct {
	IdeaID     string   `json:"idea_id"`
	Status     string   `json:"status"`
	Agent      *string  `json:"agent,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	Output     *string  `json:"output,omitempty"`
	Error      *string  `json:"error,omitempty"`
	ExecutedBy *string  `json:"executed_by,omitempty"`
	ExecutedAt *string  `json:"executed_at,omitempty"`
}

func (e Engine) Execution(ctx context.Context, id string) (ExecutionView, error) {
	idea, err := e.Repo.GetIdea(ctx, nil, id)
	if err != nil {
		return ExecutionView{}, err
	}
	return ExecutionView{
		IdeaID:     idea.ID,
		Status:     idea.ExecutionStatus,
		Agent:      idea.SuggestedAgent,
		Skills:     idea.SuggestedSkills,
		Output:     idea.ExecutionOutput,
		Error:      idea.ExecutionError,
		ExecutedBy: idea.ExecutedBy,
		ExecutedAt: idea.ExecutedAt,
	}, nil
}
