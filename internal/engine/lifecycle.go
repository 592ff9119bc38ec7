package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"idealine/internal/domain"
	"idealine/internal/events"
	"idealine/internal/parse"
)

// ensureStageTransition allows only the explicit forward moves of the
// capture, organize, distill, express pipeline.
func ensureStageTransition(from, to string) error {
	switch from {
	case domain.StageCaptured:
		if to == domain.StageOrganized || to == domain.StageExpressed {
			return nil
		}
	case domain.StageOrganized:
		if to == domain.StageDistilled || to == domain.StageExpressed {
			return nil
		}
	case domain.StageDistilled:
		if to == domain.StageExpressed {
			return nil
		}
	}
	return fmt.Errorf("%w: stage %s -> %s", ErrInvalidTransition, from, to)
}

type DistillResult struct {
	Idea         domain.Idea        `json:"idea"`
	Distillation parse.Distillation `json:"distillation"`
	// Fallback is set when the classifier failed; nothing was persisted.
	Fallback     bool               `json:"fallback"`
}

// Distill summarizes an organized idea and advances it to distilled. When the
// classifier fails a locally built fallback is returned and the idea stays
// organized.
func (e Engine) Distill(ctx context.Context, id, actorID string) (DistillResult, error) {
	idea, err := e.Repo.GetIdea(ctx, nil, id)
	if err != nil {
		return DistillResult{}, err
	}
	if idea.CodeStage != domain.StageOrganized {
		return DistillResult{}, fmt.Errorf("%w: stage %s -> %s", ErrInvalidTransition, idea.CodeStage, domain.StageDistilled)
	}
	d, ok := e.distill(ctx, idea, actorID)
	if !ok {
		return DistillResult{Idea: idea, Distillation: distillFallback(idea), Fallback: true}, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DistillResult{}, err
	}
	defer tx.Rollback()
	idea, err = e.Repo.GetIdea(ctx, tx, id)
	if err != nil {
		return DistillResult{}, err
	}
	if err := ensureStageTransition(idea.CodeStage, domain.StageDistilled); err != nil {
		return DistillResult{}, err
	}
	summary := strings.TrimSpace(d.DistilledSummary.String())
	if summary == "" {
		summary = strings.TrimSpace(d.KeyInsight.String())
	}
	idea.DistilledSummary = &summary
	idea.CodeStage = domain.StageDistilled
	idea.UpdatedAt = e.ts()
	if err := e.Repo.UpdateIdea(ctx, tx, idea); err != nil {
		return DistillResult{}, err
	}
	if err := e.appendEvent(ctx, tx, events.IdeaDistilled, "idea", id, actorID, events.EventPayload{
		"key_insight": d.KeyInsight.String(),
		"key_action":  d.KeyAction.String(),
		"connections": []string(d.Connections),
	}); err != nil {
		return DistillResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return DistillResult{}, err
	}
	return DistillResult{Idea: idea, Distillation: d}, nil
}

func (e Engine) distill(ctx context.Context, idea domain.Idea, actorID string) (parse.Distillation, bool) {
	logger := e.logger().With(zap.String("idea_id", idea.ID))
	if e.Classifier == nil {
		logger.Warn("distill skipped: no classifier configured")
		return parse.Distillation{}, false
	}
	snap, err := e.snapshot(ctx, idea.Text, actorID)
	if err != nil {
		logger.Warn("distill context", zap.Error(err))
		return parse.Distillation{}, false
	}
	raw, err := e.Classifier.Distill(ctx, idea.Text, snap)
	if err != nil {
		logger.Warn("distill failed", zap.Error(err))
		return parse.Distillation{}, false
	}
	d, ok := parse.ParseDistillation(raw)
	if !ok {
		logger.Warn("distill output has no valid JSON", zap.String("preview", parse.Preview(raw, 300)))
	}
	return d, ok
}

func distillFallback(idea domain.Idea) parse.Distillation {
	action := deref(idea.ImmediateAction)
	if action == "" {
		action = "review manually"
	}
	return parse.Distillation{
		KeyInsight:       "could not distill",
		KeyAction:        parse.Text(action),
		Connections:      parse.Strings{},
		DistilledSummary: parse.Text(parse.Preview(idea.Text, 200)),
	}
}

// Express records the produced output and advances an organized or distilled idea to expressed.
func (e Engine) Express(ctx context.Context, id, output, actorID string) (domain.Idea, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return domain.Idea{}, invalidInput("output is required")
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
	if idea.CodeStage == domain.StageCaptured {
		return idea, fmt.Errorf("%w: stage %s -> %s", ErrInvalidTransition, idea.CodeStage, domain.StageExpressed)
	}
	if err := ensureStageTransition(idea.CodeStage, domain.StageExpressed); err != nil {
		return idea, err
	}
	from := idea.CodeStage
	idea.ExpressedOutput = &output
	idea.CodeStage = domain.StageExpressed
	idea.UpdatedAt = e.ts()
	if err := e.Repo.UpdateIdea(ctx, tx, idea); err != nil {
		return idea, err
	}
	if err := e.appendEvent(ctx, tx, events.IdeaExpressed, "idea", id, actorID, events.EventPayload{"from": from}); err != nil {
		return idea, err
	}
	if err := tx.Commit(); err != nil {
		return idea, err
	}
	return idea, nil
}

// Complete marks an idea done and moves it to expressed. For a sub-task the
// next-action flag passes to the earliest incomplete sibling, and finishing
// the last one completes the parent project. Completing a completed idea is a
// no-op.
func (e Engine) Complete(ctx context.Context, id, actorID string) (domain.Idea, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Idea{}, err
	}
	defer tx.Rollback()
	idea, err := e.Repo.GetIdea(ctx, tx, id)
	if err != nil {
		return idea, err
	}
	if idea.Completed {
		return idea, nil
	}
	if err := e.completeTx(ctx, tx, &idea, actorID, ""); err != nil {
		return idea, err
	}
	if idea.ParentIdeaID != nil {
		if err := e.afterSubTaskCompleted(ctx, tx, *idea.ParentIdeaID, actorID); err != nil {
			return idea, err
		}
	}
	if err := tx.Commit(); err != nil {
		return idea, err
	}
	return idea, nil
}

func (e Engine) completeTx(ctx context.Context, tx *sql.Tx, idea *domain.Idea, actorID, cascadeFrom string) error {
	if idea.CodeStage != domain.StageExpressed {
		if err := ensureStageTransition(idea.CodeStage, domain.StageExpressed); err != nil {
			return err
		}
	}
	now := e.ts()
	idea.Completed = true
	idea.CompletedAt = &now
	idea.CodeStage = domain.StageExpressed
	idea.IsNextAction = false
	idea.UpdatedAt = now
	if err := e.Repo.UpdateIdea(ctx, tx, *idea); err != nil {
		return err
	}
	payload := events.EventPayload{}
	if cascadeFrom != "" {
		payload["cascade_from"] = cascadeFrom
	}
	return e.appendEvent(ctx, tx, events.IdeaCompleted, "idea", idea.ID, actorID, payload)
}

func (e Engine) afterSubTaskCompleted(ctx context.Context, tx *sql.Tx, parentID, actorID string) error {
	siblings, err := e.Repo.ListChildren(ctx, tx, parentID)
	if err != nil {
		return err
	}
	first := firstIncomplete(siblings, "")
	if first == nil {
		parent, err := e.Repo.GetIdea(ctx, tx, parentID)
		if err != nil {
			return err
		}
		if parent.Completed {
			return nil
		}
		e.logger().Info("last sub-task done, completing project", zap.String("project_id", parentID))
		return e.completeTx(ctx, tx, &parent, actorID, "sub-tasks")
	}
	if hasIncompleteNextAction(siblings) {
		return nil
	}
	return e.Repo.SetNextAction(ctx, tx, parentID, first.ID, e.ts())
}

// Reopen clears completion. The stage stays where it is. A reopened sub-task
// reopens its parent project and takes the next-action flag when no other
// incomplete sibling holds it.
func (e Engine) Reopen(ctx context.Context, id, actorID string) (domain.Idea, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Idea{}, err
	}
	defer tx.Rollback()
	idea, err := e.Repo.GetIdea(ctx, tx, id)
	if err != nil {
		return idea, err
	}
	if !idea.Completed {
		return idea, fmt.Errorf("%w: idea %s is not completed", ErrInvalidTransition, id)
	}
	now := e.ts()
	idea.Completed = false
	idea.CompletedAt = nil
	idea.UpdatedAt = now
	if idea.ParentIdeaID != nil {
		siblings, err := e.Repo.ListChildren(ctx, tx, *idea.ParentIdeaID)
		if err != nil {
			return idea, err
		}
		idea.IsNextAction = !hasIncompleteNextAction(siblings)
	}
	if err := e.Repo.UpdateIdea(ctx, tx, idea); err != nil {
		return idea, err
	}
	if idea.ParentIdeaID != nil {
		parent, err := e.Repo.GetIdea(ctx, tx, *idea.ParentIdeaID)
		if err != nil {
			return idea, err
		}
		if parent.Completed {
			parent.Completed = false
			parent.CompletedAt = nil
			parent.UpdatedAt = now
			if err := e.Repo.UpdateIdea(ctx, tx, parent); err != nil {
				return idea, err
			}
			if err := e.appendEvent(ctx, tx, events.IdeaReopened, "idea", parent.ID, actorID, events.EventPayload{"cascade_from": id}); err != nil {
				return idea, err
			}
		}
	}
	if err := e.appendEvent(ctx, tx, events.IdeaReopened, "idea", id, actorID, nil); err != nil {
		return idea, err
	}
	if err := tx.Commit(); err != nil {
		return idea, err
	}
	return idea, nil
}

// GTDPatch carries the GTD fields to change; nil fields are left alone and
// empty strings clear the field.
type GTDPatch struct {
	ContextTag     *string
	Energy         *string
	CommitmentKind *string
	IsNextAction   *bool
	Objective      *string
	Notes          *string
	AssignedTo     *string
	Priority       *string
	EstimatedTime  *string
}

// UpdateGTD patches GTD fields without touching the stage. Flagging a
// sub-task as next action clears its siblings; unflagging it hands the flag
// to the earliest other incomplete sibling.
func (e Engine) UpdateGTD(ctx context.Context, id string, patch GTDPatch, actorID string) (domain.Idea, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Idea{}, err
	}
	defer tx.Rollback()
	idea, err := e.Repo.GetIdea(ctx, tx, id)
	if err != nil {
		return idea, err
	}
	changed := []string{}
	if patch.ContextTag != nil {
		v, err := strictEnum(*patch.ContextTag, normalizeContext, "context_tag")
		if err != nil {
			return idea, err
		}
		idea.ContextTag = optionalString(v)
		changed = append(changed, "context_tag")
	}
	if patch.Energy != nil {
		v, err := strictEnum(*patch.Energy, normalizeEnergy, "energy")
		if err != nil {
			return idea, err
		}
		idea.Energy = optionalString(v)
		changed = append(changed, "energy")
	}
	if patch.CommitmentKind != nil {
		v, err := strictEnum(*patch.CommitmentKind, wordsOnly(commitmentWords), "commitment_kind")
		if err != nil {
			return idea, err
		}
		idea.CommitmentKind = optionalString(v)
		changed = append(changed, "commitment_kind")
	}
	if patch.Priority != nil {
		v, err := strictEnum(*patch.Priority, wordsOnly(priorityWords), "priority")
		if err != nil {
			return idea, err
		}
		idea.Priority = optionalString(v)
		changed = append(changed, "priority")
	}
	for _, f := range []struct {
		name  string
		value *string
		dst   **string
	}{
		{"objective", patch.Objective, &idea.Objective},
		{"notes", patch.Notes, &idea.Notes},
		{"assigned_to", patch.AssignedTo, &idea.AssignedTo},
		{"estimated_time", patch.EstimatedTime, &idea.EstimatedTime},
	} {
		if f.value != nil {
			*f.dst = optionalString(strings.TrimSpace(*f.value))
			changed = append(changed, f.name)
		}
	}
	now := e.ts()
	handOff := false
	if patch.IsNextAction != nil {
		if *patch.IsNextAction && idea.Completed {
			return idea, invalidInput("a completed idea cannot be the next action")
		}
		handOff = idea.IsNextAction && !*patch.IsNextAction && idea.ParentIdeaID != nil
		if handOff && !idea.Completed {
			siblings, err := e.Repo.ListChildren(ctx, tx, *idea.ParentIdeaID)
			if err != nil {
				return idea, err
			}
			if firstIncomplete(siblings, idea.ID) == nil {
				return idea, invalidInput("the only incomplete sub-task must stay the next action")
			}
		}
		idea.IsNextAction = *patch.IsNextAction
		changed = append(changed, "is_next_action")
	}
	idea.UpdatedAt = now
	if err := e.Repo.UpdateIdea(ctx, tx, idea); err != nil {
		return idea, err
	}
	if patch.IsNextAction != nil && idea.ParentIdeaID != nil {
		parentID := *idea.ParentIdeaID
		switch {
		case idea.IsNextAction:
			if err := e.Repo.SetNextAction(ctx, tx, parentID, idea.ID, now); err != nil {
				return idea, err
			}
		case handOff:
			siblings, err := e.Repo.ListChildren(ctx, tx, parentID)
			if err != nil {
				return idea, err
			}
			if next := firstIncomplete(siblings, idea.ID); next != nil {
				if err := e.Repo.SetNextAction(ctx, tx, parentID, next.ID, now); err != nil {
					return idea, err
				}
			}
		}
	}
	if err := e.appendEvent(ctx, tx, events.IdeaGTDUpdated, "idea", id, actorID, events.EventPayload{"fields": changed}); err != nil {
		return idea, err
	}
	if err := tx.Commit(); err != nil {
		return idea, err
	}
	return idea, nil
}

// strictEnum normalizes v, rejecting values the normalizer does not know. An
// empty v clears the field.
func strictEnum(v string, normalize func(string) string, field string) (string, error) {
	if strings.TrimSpace(v) == "" {
		return "", nil
	}
	out := normalize(v)
	if out == "" {
		return "", invalidInput("unknown %s %q", field, v)
	}
	return out, nil
}

// wordsOnly normalizes through a synonym table without a default.
func wordsOnly(words map[string]string) func(string) string {
	return func(s string) string {
		v, _ := lookup(words, s)
		return v
	}
}

func firstIncomplete(ideas []domain.Idea, exclude string) *domain.Idea {
	for i := range ideas {
		if !ideas[i].Completed && ideas[i].ID != exclude {
			return &ideas[i]
		}
	}
	return nil
}

func hasIncompleteNextAction(ideas []domain.Idea) bool {
	for _, i := range ideas {
		if !i.Completed && i.IsNextAction {
			return true
		}
	}
	return false
}
