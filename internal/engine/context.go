package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"idealine/internal/classify"
	"idealine/internal/domain"
	"idealine/internal/repo"
)

// snapshot assembles the context sent with every classification call:
// knowledge relevant to text (full-text matches first, then the most recent
// entries), active areas, the roster and the speaker's profile when known.
func (e Engine) snapshot(ctx context.Context, text, speaker string) (classify.Snapshot, error) {
	var snap classify.Snapshot
	knowledge, err := e.relevantKnowledge(ctx, text)
	if err != nil {
		return snap, err
	}
	snap.Knowledge = knowledge
	if snap.Areas, err = e.Repo.ListAreas(ctx, "active"); err != nil {
		return snap, fmt.Errorf("list areas: %w", err)
	}
	if snap.Roster, err = e.Repo.ListPeople(ctx); err != nil {
		return snap, fmt.Errorf("list people: %w", err)
	}
	if speaker != "" {
		p, err := e.Repo.GetPerson(ctx, speaker)
		switch {
		case err == nil:
			snap.Speaker = &p
		case errors.Is(err, repo.ErrNotFound):
		default:
			return snap, fmt.Errorf("load speaker: %w", err)
		}
	}
	for _, a := range e.Agents.Suggestable() {
		snap.Agents = append(snap.Agents, classify.AgentHint{Key: a.Key, Keywords: a.Keywords})
	}
	return snap, nil
}

func (e Engine) relevantKnowledge(ctx context.Context, text string) ([]domain.KnowledgeEntry, error) {
	limit := e.triageConfig().KnowledgeLimit
	if limit <= 0 {
		return nil, nil
	}
	matches, err := e.Repo.SearchKnowledge(ctx, text, limit)
	if err != nil {
		// Search failures degrade to recency.
		e.logger().Warn("knowledge search failed", zap.Error(err))
		matches = nil
	}
	if len(matches) >= limit {
		return matches, nil
	}
	recent, err := e.Repo.RecentKnowledge(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent knowledge: %w", err)
	}
	seen := make(map[string]bool, len(matches))
	for _, k := range matches {
		seen[k.ID] = true
	}
	for _, k := range recent {
		if len(matches) >= limit {
			break
		}
		if !seen[k.ID] {
			matches = append(matches, k)
		}
	}
	return matches, nil
}
