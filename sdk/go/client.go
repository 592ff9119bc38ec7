package idealinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Idealine HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Classification calls can be slow,
// so the default timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 60 * time.Second,
	}
}

// Idea represents the API idea model (partial).
type Idea struct {
	ID              string   `json:"id"`
	ParentIdeaID    *string  `json:"parent_idea_id,omitempty"`
	Text            string   `json:"text"`
	Source          string   `json:"source"`
	CodeStage       string   `json:"code_stage"`
	PARAType        *string  `json:"para_type,omitempty"`
	Type            *string  `json:"type,omitempty"`
	Category        *string  `json:"category,omitempty"`
	Summary         *string  `json:"summary,omitempty"`
	ImmediateAction *string  `json:"immediate_action,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	NeedsReview     bool     `json:"needs_review"`
	IsNextAction    bool     `json:"is_next_action"`
	IsProject       bool     `json:"is_project"`
	AssignedTo      *string  `json:"assigned_to,omitempty"`
	Priority        *string  `json:"priority,omitempty"`
	Completed       bool     `json:"completed"`
	ExecutionStatus string   `json:"execution_status"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// TriageError describes a classification that could not be produced.
type TriageError struct {
	Type            string  `json:"type"`
	Kind            string  `json:"kind"`
	Confidence      float64 `json:"confidence"`
	NeedsReview     bool    `json:"needs_review"`
	ImmediateAction string  `json:"immediate_action"`
	Message         string  `json:"message"`
}

// Triage is the result of a capture or re-triage.
type Triage struct {
	IdeaIDs    []string     `json:"idea_ids"`
	Ideas      []Idea       `json:"ideas"`
	Split      bool         `json:"split"`
	SubTaskIDs []string     `json:"sub_task_ids"`
	Error      *TriageError `json:"error,omitempty"`
}

// Preview is a classification that was not persisted.
type Preview struct {
	Kind  string           `json:"kind"`
	Items []map[string]any `json:"items"`
}

// Decomposition lists the sub-tasks created for a project.
type Decomposition struct {
	ProjectName string   `json:"project_name"`
	Objective   string   `json:"objective"`
	SubTaskIDs  []string `json:"sub_task_ids"`
	SubTasks    []Idea   `json:"sub_tasks"`
}

// Distillation is the outcome of distilling an idea.
type Distillation struct {
	Idea             Idea     `json:"idea"`
	KeyInsight       string   `json:"key_insight"`
	KeyAction        string   `json:"key_action"`
	Connections      []string `json:"connections"`
	DistilledSummary string   `json:"distilled_summary"`
	Fallback         bool     `json:"fallback"`
}

// Fix carries reviewer corrections; nil fields are left unchanged.
type Fix struct {
	Type       *string `json:"type,omitempty"`
	Category   *string `json:"category,omitempty"`
	PARAType   *string `json:"para_type,omitempty"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	Priority   *string `json:"priority,omitempty"`
	Area       *string `json:"area,omitempty"`
}

// AuditEntry represents a triage audit record.
type AuditEntry struct {
	ID          string  `json:"id"`
	IdeaID      string  `json:"idea_id"`
	Source      string  `json:"source"`
	InputText   string  `json:"input_text"`
	Confidence  float64 `json:"confidence"`
	RoutedTo    string  `json:"routed_to"`
	NeedsReview bool    `json:"needs_review"`
	Reviewed    bool    `json:"reviewed"`
	CreatedAt   string  `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// WhoAmI describes the authenticated caller.
type WhoAmI struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given error code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// PaginatedIdeas wraps idea listings with cursors.
type PaginatedIdeas struct {
	Items      []Idea `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedAudit wraps audit listings with cursors.
type PaginatedAudit struct {
	Items      []AuditEntry `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// IdeaQuery filters idea listings.
type IdeaQuery struct {
	Stage       string
	NeedsReview *bool
	Completed   *bool
	IsProject   *bool
	ParentID    string
	AssignedTo  string
	Limit       int
	Cursor      string
}

// Capture stores raw text and triages it.
func (c *Client) Capture(ctx context.Context, text, speaker string) (Triage, error) {
	body := map[string]any{"text": text}
	if speaker != "" {
		body["speaker"] = speaker
	}
	var resp Triage
	err := c.do(ctx, http.MethodPost, "captures", body, &resp)
	return resp, err
}

// CapturePreviewed stores text using items returned by Preview, without a
// second classifier call.
func (c *Client) CapturePreviewed(ctx context.Context, text, speaker string, items []map[string]any) (Triage, error) {
	body := map[string]any{"text": text, "items": items}
	if speaker != "" {
		body["speaker"] = speaker
	}
	var resp Triage
	err := c.do(ctx, http.MethodPost, "captures", body, &resp)
	return resp, err
}

// Preview classifies text without storing anything.
func (c *Client) Preview(ctx context.Context, text, speaker string) (Preview, error) {
	body := map[string]any{"text": text}
	if speaker != "" {
		body["speaker"] = speaker
	}
	var resp Preview
	err := c.do(ctx, http.MethodPost, "captures/preview", body, &resp)
	return resp, err
}

// Idea fetches an idea by id.
func (c *Client) Idea(ctx context.Context, id string) (Idea, error) {
	var resp Idea
	err := c.do(ctx, http.MethodGet, "ideas/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Ideas returns a page of ideas, newest first.
func (c *Client) Ideas(ctx context.Context, q IdeaQuery) (PaginatedIdeas, error) {
	values := url.Values{}
	if q.Stage != "" {
		values.Set("stage", q.Stage)
	}
	if q.ParentID != "" {
		values.Set("parent_id", q.ParentID)
	}
	if q.AssignedTo != "" {
		values.Set("assigned_to", q.AssignedTo)
	}
	setBool(values, "needs_review", q.NeedsReview)
	setBool(values, "completed", q.Completed)
	setBool(values, "is_project", q.IsProject)
	setPage(values, q.Limit, q.Cursor)
	var resp PaginatedIdeas
	err := c.do(ctx, http.MethodGet, withQuery("ideas", values), nil, &resp)
	return resp, err
}

// SubTasks lists the children of a project idea.
func (c *Client) SubTasks(ctx context.Context, projectID string) ([]Idea, error) {
	var resp []Idea
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("ideas/%s/subtasks", url.PathEscape(projectID)), nil, &resp)
	return resp, err
}

// Complete marks an idea done.
func (c *Client) Complete(ctx context.Context, id string) (Idea, error) {
	return c.ideaAction(ctx, id, "complete", nil)
}

// Reopen clears the completed flag of an idea.
func (c *Client) Reopen(ctx context.Context, id string) (Idea, error) {
	return c.ideaAction(ctx, id, "reopen", nil)
}

// Express records the produced output of a distilled idea.
func (c *Client) Express(ctx context.Context, id, output string) (Idea, error) {
	return c.ideaAction(ctx, id, "express", map[string]any{"output": output})
}

// Fix applies reviewer corrections to an idea.
func (c *Client) Fix(ctx context.Context, id string, fix Fix) (Idea, error) {
	return c.ideaAction(ctx, id, "fix", fix)
}

// Distill asks for the key insight of an organized idea.
func (c *Client) Distill(ctx context.Context, id string) (Distillation, error) {
	var resp Distillation
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("ideas/%s/distill", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Decompose splits a project idea into sub-tasks.
func (c *Client) Decompose(ctx context.Context, id string) (Decomposition, error) {
	var resp Decomposition
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("ideas/%s/decompose", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ReviewQueue lists ideas flagged for review.
func (c *Client) ReviewQueue(ctx context.Context, limit int) ([]Idea, error) {
	values := url.Values{}
	setPage(values, limit, "")
	var resp []Idea
	err := c.do(ctx, http.MethodGet, withQuery("review", values), nil, &resp)
	return resp, err
}

// Audit returns a page of audit entries, optionally for one idea.
func (c *Client) Audit(ctx context.Context, ideaID string, limit int, cursor string) (PaginatedAudit, error) {
	values := url.Values{}
	if ideaID != "" {
		values.Set("idea_id", ideaID)
	}
	setPage(values, limit, cursor)
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, withQuery("audit", values), nil, &resp)
	return resp, err
}

// MarkReviewed flags an audit entry as reviewed.
func (c *Client) MarkReviewed(ctx context.Context, auditID string) (AuditEntry, error) {
	var resp AuditEntry
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("audit/%s/reviewed", url.PathEscape(auditID)), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	values := url.Values{}
	setPage(values, limit, cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", values), nil, &resp)
	return resp, err
}

// WhoAmI returns the caller's identity as seen by the server.
func (c *Client) WhoAmI(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) ideaAction(ctx context.Context, id, action string, body any) (Idea, error) {
	var resp Idea
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("ideas/%s/%s", url.PathEscape(id), action), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func setPage(values url.Values, limit int, cursor string) {
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		values.Set("cursor", cursor)
	}
}

func setBool(values url.Values, key string, v *bool) {
	if v != nil {
		values.Set(key, strconv.FormatBool(*v))
	}
}

func withQuery(endpoint string, values url.Values) string {
	if len(values) == 0 {
		return endpoint
	}
	return endpoint + "?" + values.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
