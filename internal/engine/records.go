package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"idealine/internal/config"
	"idealine/internal/domain"
	"idealine/internal/events"
	"idealine/internal/repo"
)

func (e Engine) insertDelegation(ctx context.Context, tx *sql.Tx, ideaID *string, to, description, by string) (domain.Delegation, error) {
	d := domain.Delegation{
		ID:          newID(),
		IdeaID:      ideaID,
		DelegatedTo: strings.TrimSpace(to),
		DelegatedBy: by,
		Description: strings.TrimSpace(description),
		Status:      domain.DelegationPending,
		CreatedAt:   e.ts(),
	}
	if d.DelegatedBy == "" {
		d.DelegatedBy = "system"
	}
	if err := e.Repo.InsertDelegation(ctx, tx, d); err != nil {
		return d, err
	}
	payload := events.EventPayload{"delegated_to": d.DelegatedTo}
	if ideaID != nil {
		payload["idea_id"] = *ideaID
	}
	return d, e.appendEvent(ctx, tx, events.DelegationCreated, "delegation", d.ID, by, payload)
}

type DelegationInput struct {
	IdeaID      string
	DelegatedTo string
	Description string
	ActorID     string
}

func (e Engine) CreateDelegation(ctx context.Context, in DelegationInput) (domain.Delegation, error) {
	if strings.TrimSpace(in.DelegatedTo) == "" {
		return domain.Delegation{}, invalidInput("delegated_to is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Delegation{}, err
	}
	defer tx.Rollback()
	var ideaID *string
	if in.IdeaID != "" {
		if _, err := e.Repo.GetIdea(ctx, tx, in.IdeaID); err != nil {
			return domain.Delegation{}, err
		}
		ideaID = &in.IdeaID
	}
	d, err := e.insertDelegation(ctx, tx, ideaID, in.DelegatedTo, in.Description, in.ActorID)
	if err != nil {
		return d, err
	}
	return d, tx.Commit()
}

func (e Engine) CompleteDelegation(ctx context.Context, id, actorID string) (domain.Delegation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Delegation{}, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDelegation(ctx, tx, id)
	if err != nil {
		return d, err
	}
	if d.Status != domain.DelegationPending {
		return d, fmt.Errorf("%w: delegation %s -> %s", ErrInvalidTransition, d.Status, domain.DelegationCompleted)
	}
	now := e.ts()
	if err := e.Repo.CompleteDelegation(ctx, tx, id, now); err != nil {
		return d, err
	}
	if err := e.appendEvent(ctx, tx, events.DelegationCompleted, "delegation", id, actorID, nil); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	d.Status = domain.DelegationCompleted
	d.CompletedAt = &now
	return d, nil
}

func (e Engine) ListDelegations(ctx context.Context, status, ideaID string) ([]domain.Delegation, error) {
	if status != "" && status != domain.DelegationPending && status != domain.DelegationCompleted {
		return nil, invalidInput("unknown delegation status %q", status)
	}
	return e.Repo.ListDelegations(ctx, status, ideaID)
}

func (e Engine) CreateArea(ctx context.Context, a domain.Area, actorID string) (domain.Area, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return a, invalidInput("area name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetAreaByName(ctx, tx, a.Name); err == nil {
		return a, fmt.Errorf("%w: area %s exists", ErrConflict, a.Name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return a, err
	}
	a.ID = newID()
	a.Status = "active"
	a.CreatedAt = e.ts()
	if err := e.Repo.InsertArea(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.appendEvent(ctx, tx, events.AreaCreated, "area", a.ID, actorID, events.EventPayload{"name": a.Name}); err != nil {
		return a, err
	}
	return a, tx.Commit()
}

func (e Engine) ListAreas(ctx context.Context, status string) ([]domain.Area, error) {
	return e.Repo.ListAreas(ctx, status)
}

// ArchiveArea hides an area from triage routing. Ideas keep their relation.
func (e Engine) ArchiveArea(ctx context.Context, name, actorID string) (domain.Area, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Area{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetAreaByName(ctx, tx, strings.TrimSpace(name))
	if err != nil {
		return a, err
	}
	if a.Status == "archived" {
		return a, nil
	}
	if err := e.Repo.SetAreaStatus(ctx, tx, a.ID, "archived"); err != nil {
		return a, err
	}
	a.Status = "archived"
	if err := e.appendEvent(ctx, tx, events.AreaArchived, "area", a.ID, actorID, events.EventPayload{"name": a.Name}); err != nil {
		return a, err
	}
	return a, tx.Commit()
}

// SeedAreas inserts configured areas that do not exist yet.
func (e Engine) SeedAreas(ctx context.Context, areas []config.AreaConfig) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.seedAreasTx(ctx, tx, areas); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) seedAreasTx(ctx context.Context, tx *sql.Tx, areas []config.AreaConfig) error {
	now := e.ts()
	for _, a := range areas {
		if err := e.Repo.EnsureArea(ctx, tx, domain.Area{
			ID:          newID(),
			Name:        a.Name,
			Description: a.Description,
			Horizon:     a.Horizon,
			Status:      "active",
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("seed area %s: %w", a.Name, err)
		}
	}
	return nil
}

// ImportConfig validates and stores cfg, seeding its areas.
func (e Engine) ImportConfig(ctx context.Context, cfg *config.Config, actorID string) error {
	if cfg == nil {
		return invalidInput("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertConfig(ctx, tx, cfg); err != nil {
		return err
	}
	if err := e.seedAreasTx(ctx, tx, cfg.Areas); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.ConfigImported, "config", "config", actorID, events.EventPayload{
		"agents":    len(cfg.Agents),
		"providers": len(cfg.Classifier.Providers),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

type KnowledgeInput struct {
	Key      string
	Content  string
	Category string
	PARAType string
	IdeaID   string
	ActorID  string
}

func (e Engine) AddKnowledge(ctx context.Context, in KnowledgeInput) (domain.KnowledgeEntry, error) {
	k := domain.KnowledgeEntry{
		ID:        newID(),
		Key:       strings.TrimSpace(in.Key),
		Content:   strings.TrimSpace(in.Content),
		Category:  strings.TrimSpace(in.Category),
		PARAType:  domain.PARAResource,
		CodeStage: domain.StageOrganized,
		Source:    "manual",
		IdeaID:    optionalString(in.IdeaID),
		CreatedAt: e.ts(),
	}
	if k.Key == "" || k.Content == "" {
		return k, invalidInput("key and content are required")
	}
	if in.PARAType != "" {
		v, err := strictEnum(in.PARAType, func(s string) string { v, _ := lookup(paraWords, s); return v }, "para_type")
		if err != nil {
			return k, err
		}
		k.PARAType = v
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return k, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertKnowledge(ctx, tx, k); err != nil {
		return k, err
	}
	if err := e.appendEvent(ctx, tx, events.KnowledgeAdded, "knowledge", k.ID, in.ActorID, events.EventPayload{"key": k.Key}); err != nil {
		return k, err
	}
	return k, tx.Commit()
}

func (e Engine) ListKnowledge(ctx context.Context, limit int) ([]domain.KnowledgeEntry, error) {
	return e.Repo.RecentKnowledge(ctx, limit)
}

func (e Engine) SearchKnowledge(ctx context.Context, query string, limit int) ([]domain.KnowledgeEntry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, invalidInput("query is required")
	}
	return e.Repo.SearchKnowledge(ctx, query, limit)
}

func (e Engine) SetPerson(ctx context.Context, p domain.Person, actorID string) (domain.Person, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.Role = strings.TrimSpace(p.Role)
	if p.Username == "" || p.Role == "" {
		return p, invalidInput("username and role are required")
	}
	now := e.ts()
	existing, err := e.Repo.GetPerson(ctx, p.Username)
	switch {
	case err == nil:
		p.CreatedAt = existing.CreatedAt
	case errors.Is(err, repo.ErrNotFound):
		p.CreatedAt = now
	default:
		return p, err
	}
	p.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertPerson(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.appendEvent(ctx, tx, events.PersonUpserted, "person", p.Username, actorID, events.EventPayload{"role": p.Role}); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

func (e Engine) GetPerson(ctx context.Context, username string) (domain.Person, error) {
	return e.Repo.GetPerson(ctx, username)
}

func (e Engine) ListPeople(ctx context.Context) ([]domain.Person, error) {
	return e.Repo.ListPeople(ctx)
}

// CreateAPIKey issues a key for actorID. The plaintext key is returned once;
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.APIKey{}, "", invalidInput("actor id is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "il_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        newID(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.ts(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return key, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return key, "", err
	}
	if err := e.appendEvent(ctx, tx, events.APIKeyCreated, "apikey", key.ID, actorID, events.EventPayload{"name": key.Name}); err != nil {
		return key, "", err
	}
	return key, secret, tx.Commit()
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.APIKeyRevoked, "apikey", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// StageCounts returns the number of ideas per lifecycle stage.
func (e Engine) StageCounts(ctx context.Context) (map[string]int, error) {
	return e.Repo.CountIdeasByStage(ctx)
}

// ListEvents returns domain events newest first.
func (e Engine) ListEvents(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.Repo.LatestEvents(ctx, limit, cursor, evtType, entityKind, entityID)
}
