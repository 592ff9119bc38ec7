package engine

import (
	"context"
	"errors"
	"strings"

	"idealine/internal/domain"
	"idealine/internal/events"
	"idealine/internal/repo"
)

// FixInput holds a reviewer's corrections; nil fields are left alone.
type FixInput struct {
	Type       *string
	Category   *string
	PARAType   *string
	AssignedTo *string
	Priority   *string
	// Area is an area name; an empty string clears the relation.
	Area *string
}

// Fix applies a reviewer's corrections, clears needs_review and marks the
// idea's audit entries reviewed. The stage never changes.
func (e Engine) Fix(ctx context.Context, id string, in FixInput, actorID string) (domain.Idea, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Idea{}, err
	}
	defer tx.Rollback()
	idea, err := e.Repo.GetIdea(ctx, tx, id)
	if err != nil {
		return idea, err
	}
	var fields []string
	if in.Type != nil {
		idea.Type = optionalString(strings.TrimSpace(*in.Type))
		fields = append(fields, "type")
	}
	if in.Category != nil {
		idea.Category = optionalString(strings.TrimSpace(*in.Category))
		fields = append(fields, "category")
	}
	if in.PARAType != nil {
		v, err := strictEnum(*in.PARAType, func(s string) string { v, _ := lookup(paraWords, s); return v }, "para_type")
		if err != nil {
			return idea, err
		}
		idea.PARAType = optionalString(v)
		fields = append(fields, "para_type")
	}
	if in.AssignedTo != nil {
		idea.AssignedTo = optionalString(strings.TrimSpace(*in.AssignedTo))
		fields = append(fields, "assigned_to")
	}
	if in.Priority != nil {
		v, err := strictEnum(*in.Priority, func(s string) string { v, _ := lookup(priorityWords, s); return v }, "priority")
		if err != nil {
			return idea, err
		}
		idea.Priority = optionalString(v)
		fields = append(fields, "priority")
	}
	if in.Area != nil {
		name := strings.TrimSpace(*in.Area)
		if name == "" {
			idea.RelatedAreaID = nil
		} else {
			a, err := e.Repo.GetAreaByName(ctx, tx, name)
			if errors.Is(err, repo.ErrNotFound) {
				return idea, invalidInput("unknown area %q", name)
			}
			if err != nil {
				return idea, err
			}
			idea.RelatedAreaID = &a.ID
		}
		fields = append(fields, "area")
	}
	wasFlagged := idea.NeedsReview
	idea.NeedsReview = false
	idea.UpdatedAt = e.ts()
	if err := e.Repo.UpdateIdea(ctx, tx, idea); err != nil {
		return idea, err
	}
	reviewed, err := e.Repo.MarkAuditReviewedForIdea(ctx, tx, id)
	if err != nil {
		return idea, err
	}
	if err := e.appendEvent(ctx, tx, events.IdeaFixed, "idea", id, actorID, events.EventPayload{
		"fields":           fields,
		"was_flagged":      wasFlagged,
		"audits_reviewed":  reviewed,
		"code_stage_after": idea.CodeStage,
	}); err != nil {
		return idea, err
	}
	if err := tx.Commit(); err != nil {
		return idea, err
	}
	return idea, nil
}

// ReviewQueue lists ideas awaiting review, oldest first.
func (e Engine) ReviewQueue(ctx context.Context, limit int) ([]domain.Idea, error) {
	return e.Repo.ListReviewQueue(ctx, limit)
}

func (e Engine) ListAudit(ctx context.Context, f repo.AuditFilters) ([]domain.AuditEntry, error) {
	return e.Repo.ListAudit(ctx, f)
}

// MarkAuditReviewed flips one audit entry to reviewed. Reviewing a reviewed entry is a no-op.
func (e Engine) MarkAuditReviewed(ctx context.Context, id, actorID string) (domain.AuditEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	defer tx.Rollback()
	entry, err := e.Repo.GetAudit(ctx, tx, id)
	if err != nil {
		return entry, err
	}
	if entry.Reviewed {
		return entry, nil
	}
	if err := e.Repo.MarkAuditReviewed(ctx, tx, id); err != nil {
		return entry, err
	}
	if err := e.appendEvent(ctx, tx, events.AuditReviewed, "audit", id, actorID, events.EventPayload{"idea_id": entry.IdeaID}); err != nil {
		return entry, err
	}
	if err := tx.Commit(); err != nil {
		return entry, err
	}
	entry.Reviewed = true
	return entry, nil
}
