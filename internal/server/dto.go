package server

import (
	"encoding/json"

	"idealine/internal/domain"
	"idealine/internal/engine"
	"idealine/internal/parse"
)

// Request payloads

type CaptureRequest struct {
	Text     string `json:"text" maxLength:"10000"`
	Speaker  string `json:"speaker,omitempty"`
	Source   string `json:"source,omitempty" enum:"text,voice"`
	AudioRef string `json:"audio_ref,omitempty"`
	// Items are classifications returned by the preview endpoint.
	Items []map[string]any `json:"items,omitempty"`
}

type PreviewRequest struct {
	Text    string `json:"text" maxLength:"10000"`
	Speaker string `json:"speaker,omitempty"`
}

type RetriageRequest struct {
	Text    string `json:"text,omitempty"`
	Speaker string `json:"speaker,omitempty"`
}

type UpdateGTDRequest struct {
	ContextTag     *string `json:"context_tag,omitempty"`
	Energy         *string `json:"energy,omitempty"`
	CommitmentKind *string `json:"commitment_kind,omitempty"`
	IsNextAction   *bool   `json:"is_next_action,omitempty"`
	Objective      *string `json:"objective,omitempty"`
	Notes          *string `json:"notes,omitempty"`
	AssignedTo     *string `json:"assigned_to,omitempty"`
	Priority       *string `json:"priority,omitempty"`
	EstimatedTime  *string `json:"estimated_time,omitempty"`
}

type FixRequest struct {
	Type       *string `json:"type,omitempty"`
	Category   *string `json:"category,omitempty"`
	PARAType   *string `json:"para_type,omitempty"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	Priority   *string `json:"priority,omitempty"`
	Area       *string `json:"area,omitempty"`
}

type ExpressRequest struct {
	Output string `json:"output"`
}

type ExecuteRequest struct {
	Agent   string   `json:"agent,omitempty"`
	Skills  []string `json:"skills,omitempty"`
	Context string   `json:"context,omitempty"`
	Force   bool     `json:"force,omitempty"`
}

type CreateDelegationRequest struct {
	IdeaID      string `json:"idea_id,omitempty"`
	DelegatedTo string `json:"delegated_to"`
	Description string `json:"description,omitempty"`
}

type CreateAreaRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Horizon     string `json:"horizon,omitempty"`
}

type AddKnowledgeRequest struct {
	Key      string `json:"key"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
	PARAType string `json:"para_type,omitempty" enum:"project,area,resource,archive"`
	IdeaID   string `json:"idea_id,omitempty"`
}

type SetPersonRequest struct {
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	Expertise  string `json:"expertise,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type ImportConfigRequest struct {
	Format  string `json:"format,omitempty" enum:"yaml,toml"`
	Content string `json:"content"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
}

// Response payloads

type HealthResponse struct {
	Status          string `json:"status"`
	SchemaVersion   int    `json:"schema_version"`
	LatestMigration int    `json:"latest_migration"`
}

type ErrorClassificationResponse struct {
	Type            string  `json:"type"`
	Kind            string  `json:"kind" enum:"timeout,unavailable,malformed"`
	Confidence      float64 `json:"confidence"`
	NeedsReview     bool    `json:"needs_review"`
	ImmediateAction string  `json:"immediate_action"`
	Message         string  `json:"message"`
}

type TriageResponse struct {
	IdeaIDs    []string                     `json:"idea_ids"`
	Ideas      []domain.Idea                `json:"ideas"`
	Split      bool                         `json:"split"`
	SubTaskIDs []string                     `json:"sub_task_ids"`
	Error      *ErrorClassificationResponse `json:"error,omitempty"`
}

type PreviewResponse struct {
	Kind  string           `json:"kind" enum:"single,multi,unparseable"`
	Items []map[string]any `json:"items"`
}

type DistillResponse struct {
	Idea             domain.Idea `json:"idea"`
	KeyInsight       string      `json:"key_insight"`
	KeyAction        string      `json:"key_action"`
	Connections      []string    `json:"connections"`
	DistilledSummary string      `json:"distilled_summary"`
	Fallback         bool        `json:"fallback"`
}

type CreateAPIKeyResponse struct {
	Key    domain.APIKey `json:"key"`
	Secret string        `json:"secret"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ConfigResponse struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

type paginatedIdeas struct {
	Items      []domain.Idea `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedAudit struct {
	Items      []domain.AuditEntry `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func triageResponse(out engine.TriageOutcome) TriageResponse {
	resp := TriageResponse{
		IdeaIDs:    out.IdeaIDs(),
		Ideas:      nonNilSlice(out.Ideas),
		Split:      out.Split,
		SubTaskIDs: nonNilSlice(out.SubTaskIDs),
	}
	if out.Error != nil {
		resp.Error = &ErrorClassificationResponse{
			Type:            out.Error.Type,
			Kind:            string(out.ErrorKind),
			Confidence:      out.Error.Confidence,
			NeedsReview:     out.Error.NeedsReview,
			ImmediateAction: out.Error.ImmediateAction,
			Message:         out.Error.Message,
		}
	}
	return resp
}

func distillResponse(res engine.DistillResult) DistillResponse {
	d := res.Distillation
	connections := make([]string, 0, len(d.Connections))
	connections = append(connections, d.Connections...)
	return DistillResponse{
		Idea:             res.Idea,
		KeyInsight:       d.KeyInsight.String(),
		KeyAction:        d.KeyAction.String(),
		Connections:      connections,
		DistilledSummary: d.DistilledSummary.String(),
		Fallback:         res.Fallback,
	}
}

// classificationMaps round-trips classifications through JSON so the API
// exposes the plain response schema.
func classificationMaps(items []parse.Classification) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func classificationsFromMaps(items []map[string]any) ([]parse.Classification, error) {
	if len(items) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	var out []parse.Classification
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func gtdPatch(req UpdateGTDRequest) engine.GTDPatch {
	return engine.GTDPatch{
		ContextTag:     req.ContextTag,
		Energy:         req.Energy,
		CommitmentKind: req.CommitmentKind,
		IsNextAction:   req.IsNextAction,
		Objective:      req.Objective,
		Notes:          req.Notes,
		AssignedTo:     req.AssignedTo,
		Priority:       req.Priority,
		EstimatedTime:  req.EstimatedTime,
	}
}

func fixInput(req FixRequest) engine.FixInput {
	return engine.FixInput{
		Type:       req.Type,
		Category:   req.Category,
		PARAType:   req.PARAType,
		AssignedTo: req.AssignedTo,
		Priority:   req.Priority,
		Area:       req.Area,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
