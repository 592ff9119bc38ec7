package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	IdeaCaptured         = "idea.captured"
	IdeaTriaged          = "idea.triaged"
	IdeaTriageFailed     = "idea.triage_failed"
	IdeaDistilled        = "idea.distilled"
	IdeaExpressed        = "idea.expressed"
	IdeaCompleted        = "idea.completed"
	IdeaReopened         = "idea.reopened"
	IdeaDecomposed       = "idea.decomposed"
	IdeaFixed            = "idea.fixed"
	IdeaGTDUpdated       = "idea.gtd_updated"
	IdeaExecutionStarted = "idea.execution.started"
	IdeaExecutionDone    = "idea.execution.completed"
	IdeaExecutionFailed  = "idea.execution.failed"
	DelegationCreated    = "delegation.created"
	DelegationCompleted  = "delegation.completed"
	AuditReviewed        = "audit.reviewed"
	AreaCreated          = "area.created"
	AreaArchived         = "area.archived"
	KnowledgeAdded       = "knowledge.added"
	PersonUpserted       = "person.upserted"
	ConfigImported       = "config.imported"
	APIKeyCreated        = "apikey.created"
	APIKeyRevoked        = "apikey.revoked"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event row inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if actorID == "" {
		actorID = "system"
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
