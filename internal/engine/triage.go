package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"idealine/internal/classify"
	"idealine/internal/config"
	"idealine/internal/domain"
	"idealine/internal/events"
	"idealine/internal/parse"
	"idealine/internal/repo"
)

const (
	SourceText          = "text"
	SourceVoice         = "voice"
	SourceDecomposition = "decomposition"

	routedInbox = "inbox"
)

// ErrorClassification is the terminal result reported when the classifier
// fails or its output cannot be parsed.
type ErrorClassification struct {
	Type            string  `json:"type"`
	Confidence      float64 `json:"confidence"`
	NeedsReview     bool    `json:"needs_review"`
	ImmediateAction string  `json:"immediate_action"`
	Message         string  `json:"message"`
}

// TriageOutcome lists the ideas produced by one triage call. On failure
// Error is set and Ideas holds the untouched originating idea.
type TriageOutcome struct {
	Ideas      []domain.Idea
	Items      []parse.Classification
	Split      bool
	SubTaskIDs []string
	Error      *ErrorClassification
	ErrorKind  classify.ErrorKind
}

func (o TriageOutcome) IdeaIDs() []string {
	ids := make([]string, 0, len(o.Ideas))
	for _, i := range o.Ideas {
		ids = append(ids, i.ID)
	}
	return ids
}

func (o TriageOutcome) Failed() bool { return o.Error != nil }

type CaptureInput struct {
	Text     string
	Speaker  string
	Source   string
	AudioRef string
	// Items are classifications returned by an earlier Preview. When set the
	// classifier is not called again.
	Items []parse.Classification
}

func validateText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", invalidInput("text is required")
	}
	if len([]rune(text)) > maxCaptureChars {
		return "", invalidInput("text exceeds %d characters", maxCaptureChars)
	}
	return text, nil
}

// Capture stores raw input as a captured idea and triages it.
func (e Engine) Capture(ctx context.Context, in CaptureInput) (TriageOutcome, error) {
	text, err := validateText(in.Text)
	if err != nil {
		return TriageOutcome{}, err
	}
	source := strings.TrimSpace(in.Source)
	if source == "" {
		source = SourceText
	}
	idea, err := e.createCaptured(ctx, text, source, in.AudioRef, in.Speaker)
	if err != nil {
		return TriageOutcome{}, err
	}
	return e.triage(ctx, idea, text, in.Speaker, in.Items)
}

// Triage classifies rawText and routes the results. An empty ideaID creates
// the originating idea first; otherwise that idea is reused for the first
// result, and an empty rawText falls back to its stored text.
func (e Engine) Triage(ctx context.Context, ideaID, rawText, speaker string) (TriageOutcome, error) {
	var idea domain.Idea
	var err error
	text := strings.TrimSpace(rawText)
	if ideaID == "" {
		if text, err = validateText(text); err != nil {
			return TriageOutcome{}, err
		}
		if idea, err = e.createCaptured(ctx, text, SourceText, "", speaker); err != nil {
			return TriageOutcome{}, err
		}
	} else {
		if idea, err = e.Repo.GetIdea(ctx, nil, ideaID); err != nil {
			return TriageOutcome{}, err
		}
		if text == "" {
			text = idea.Text
		}
	}
	return e.triage(ctx, idea, text, speaker, nil)
}

// Preview classifies text without persisting anything.
func (e Engine) Preview(ctx context.Context, text, speaker string) (parse.Result, error) {
	text, err := validateText(text)
	if err != nil {
		return parse.Result{}, err
	}
	snap, err := e.snapshot(ctx, text, speaker)
	if err != nil {
		return parse.Result{}, err
	}
	return e.runClassifier(ctx, text, snap)
}

func (e Engine) createCaptured(ctx context.Context, text, source, audioRef, createdBy string) (domain.Idea, error) {
	now := e.ts()
	idea := domain.Idea{
		ID:              newID(),
		Text:            text,
		AudioRef:        optionalString(audioRef),
		Source:          source,
		CodeStage:       domain.StageCaptured,
		ExecutionStatus: domain.ExecutionIdle,
		SuggestedSkills: []string{},
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if idea.CreatedBy == "" {
		idea.CreatedBy = "system"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return idea, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertIdea(ctx, tx, idea); err != nil {
		return idea, fmt.Errorf("insert idea: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.IdeaCaptured, "idea", idea.ID, createdBy, events.EventPayload{"source": source}); err != nil {
		return idea, err
	}
	if err := tx.Commit(); err != nil {
		return idea, err
	}
	return idea, nil
}

func (e Engine) runClassifier(ctx context.Context, text string, snap classify.Snapshot) (parse.Result, error) {
	if e.Classifier == nil {
		return parse.Result{Kind: parse.KindUnparseable}, &classify.Error{Kind: classify.KindUnavailable, Err: errors.New("no classifier configured")}
	}
	raw, err := e.Classifier.Classify(ctx, text, snap)
	if err != nil {
		return parse.Result{Kind: parse.KindUnparseable}, err
	}
	res := parse.Classifications(raw)
	if !res.OK() {
		e.logger().Warn("classifier output has no valid JSON object", zap.String("preview", parse.Preview(raw, 300)))
		return res, &classify.Error{Kind: classify.KindMalformed, Err: errors.New("no valid JSON object in classifier output")}
	}
	return res, nil
}

func (e Engine) triage(ctx context.Context, idea domain.Idea, text, speaker string, items []parse.Classification) (TriageOutcome, error) {
	logger := e.logger().With(zap.String("idea_id", idea.ID))
	if len(items) == 0 {
		snap, err := e.snapshot(ctx, text, speaker)
		if err != nil {
			return TriageOutcome{}, fmt.Errorf("build context: %w", err)
		}
		res, err := e.runClassifier(ctx, text, snap)
		if err != nil {
			return e.triageFailed(ctx, idea, speaker, err), nil
		}
		items = res.Items
	}

	cfg := e.triageConfig()
	split := len(items) > 1
	source := idea.Source
	if split {
		source = splitSource(source)
	}
	now := e.ts()
	delegator := speaker
	if delegator == "" {
		delegator = "system"
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TriageOutcome{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetIdea(ctx, tx, idea.ID)
	if err != nil {
		return TriageOutcome{}, err
	}
	out := TriageOutcome{Items: items, Split: split}
	ids := make([]string, 0, len(items))
	var toDecompose []string
	for i, item := range items {
		var target domain.Idea
		if i == 0 {
			target = current
			if cleaned := strings.TrimSpace(item.CleanedText.String()); cleaned != "" && cleaned != text {
				target.Text = cleaned
			}
		} else {
			target = domain.Idea{
				ID:              newID(),
				Text:            seedText(item, text),
				AudioRef:        current.AudioRef,
				Source:          source,
				CodeStage:       domain.StageCaptured,
				ExecutionStatus: domain.ExecutionIdle,
				CreatedBy:       current.CreatedBy,
				CreatedAt:       now,
			}
		}
		areaID, routedTo, err := e.resolveArea(ctx, tx, item.SuggestedArea.String())
		if err != nil {
			return TriageOutcome{}, err
		}
		e.applyClassification(&target, item, cfg, areaID)
		target.UpdatedAt = now
		if i == 0 {
			err = e.Repo.UpdateIdea(ctx, tx, target)
		} else {
			err = e.Repo.InsertIdea(ctx, tx, target)
		}
		if err != nil {
			logger.Error("persist triage item", zap.Int("index", i), zap.Error(err))
			return TriageOutcome{}, fmt.Errorf("persist triage item %d: %w", i, err)
		}

		entry, err := e.writeAudit(ctx, tx, target, source, seedText(item, text), routedTo, cfg)
		if err != nil {
			return TriageOutcome{}, fmt.Errorf("audit triage item %d: %w", i, err)
		}
		if d := item.Delegation; d != nil && strings.TrimSpace(d.Delegate.String()) != "" {
			description := strings.TrimSpace(d.Description.String())
			if description == "" {
				description = strings.TrimSpace(item.ImmediateAction.String())
			}
			if _, err := e.insertDelegation(ctx, tx, &target.ID, d.Delegate.String(), description, delegator); err != nil {
				return TriageOutcome{}, fmt.Errorf("delegation for item %d: %w", i, err)
			}
		}
		if target.IsProject {
			existing, err := e.Repo.ListChildren(ctx, tx, target.ID)
			if err != nil {
				return TriageOutcome{}, err
			}
			switch {
			case len(existing) > 0:
				logger.Info("project already has sub-tasks, skipping inline decomposition", zap.String("project_id", target.ID))
			case len(item.SubTasks) > 0:
				children, err := e.createSubTasks(ctx, tx, target, item.SubTasks, speaker)
				if err != nil {
					return TriageOutcome{}, fmt.Errorf("sub-tasks for item %d: %w", i, err)
				}
				for _, c := range children {
					out.SubTaskIDs = append(out.SubTaskIDs, c.ID)
				}
			case cfg.AutoDecompose:
				toDecompose = append(toDecompose, target.ID)
			}
		}
		if err := e.appendEvent(ctx, tx, events.IdeaTriaged, "idea", target.ID, speaker, events.EventPayload{
			"index":        i,
			"split":        split,
			"confidence":   deref64(target.Confidence),
			"needs_review": target.NeedsReview,
			"routed_to":    routedTo,
			"audit_id":     entry.ID,
		}); err != nil {
			return TriageOutcome{}, err
		}
		ids = append(ids, target.ID)
	}
	if err := tx.Commit(); err != nil {
		logger.Error("commit triage", zap.Int("items", len(items)), zap.Error(err))
		return TriageOutcome{}, err
	}
	logger.Info("idea triaged", zap.Int("items", len(items)), zap.Bool("split", split))

	for _, projectID := range toDecompose {
		res, err := e.Decompose(ctx, projectID, speaker)
		if err != nil {
			logger.Warn("auto decomposition failed", zap.String("project_id", projectID), zap.Error(err))
			continue
		}
		out.SubTaskIDs = append(out.SubTaskIDs, res.SubTaskIDs...)
	}

	for _, id := range ids {
		i, err := e.Repo.GetIdea(ctx, nil, id)
		if err != nil {
			return out, err
		}
		out.Ideas = append(out.Ideas, i)
	}
	return out, nil
}

// triageFailed reports the terminal Error classification. The idea row is not touched.
func (e Engine) triageFailed(ctx context.Context, idea domain.Idea, speaker string, cause error) TriageOutcome {
	kind := classify.KindOf(cause)
	e.logger().Warn("triage failed", zap.String("idea_id", idea.ID), zap.String("kind", string(kind)), zap.Error(cause))
	if err := e.recordTriageFailure(context.WithoutCancel(ctx), idea.ID, speaker, kind, cause); err != nil {
		e.logger().Error("record triage failure", zap.String("idea_id", idea.ID), zap.Error(err))
	}
	return TriageOutcome{
		Ideas: []domain.Idea{idea},
		Error: &ErrorClassification{
			Type:            "Error",
			Confidence:      0,
			NeedsReview:     true,
			ImmediateAction: "retry manually",
			Message:         cause.Error(),
		},
		ErrorKind: kind,
	}
}

func (e Engine) recordTriageFailure(ctx context.Context, ideaID, speaker string, kind classify.ErrorKind, cause error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.appendEvent(ctx, tx, events.IdeaTriageFailed, "idea", ideaID, speaker, events.EventPayload{
		"error_kind": string(kind),
		"error":      cause.Error(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) applyClassification(target *domain.Idea, item parse.Classification, cfg config.TriageConfig, areaID *string) {
	conf := normalizeConfidence(item.Confidence, cfg.DefaultConfidence)
	para := normalizePARA(item.PARAType.String())
	priority := normalizePriority(item.Priority.String())
	commitment := normalizeCommitment(item.CommitmentKind.String())

	target.Type = optionalString(strings.TrimSpace(item.Type.String()))
	target.Category = optionalString(strings.TrimSpace(item.Category.String()))
	target.PARAType = &para
	target.Summary = optionalString(strings.TrimSpace(item.Summary.String()))
	target.ImmediateAction = optionalString(strings.TrimSpace(item.ImmediateAction.String()))
	target.Confidence = &conf
	target.NeedsReview = conf < cfg.ReviewThreshold || bool(item.NeedsReview)
	target.ContextTag = optionalString(normalizeContext(item.ContextTag.String()))
	target.Energy = optionalString(normalizeEnergy(item.Energy.String()))
	target.CommitmentKind = &commitment
	if target.ParentIdeaID == nil {
		target.IsNextAction = bool(item.IsNextAction)
	}
	target.Objective = optionalString(strings.TrimSpace(item.Objective.String()))
	target.Notes = optionalString(strings.TrimSpace(item.Notes.String()))
	target.AssignedTo = optionalString(strings.TrimSpace(item.AssignedTo.String()))
	target.Priority = &priority
	target.EstimatedTime = optionalString(strings.TrimSpace(item.EstimatedTime.String()))
	target.IsProject = bool(item.IsProject)
	target.SuggestedProject = optionalString(strings.TrimSpace(item.SuggestedProject.String()))
	agent, skills := e.Agents.Resolve(item.SuggestedAgent.String(), item.SuggestedSkills, item.Category.String())
	target.SuggestedAgent = optionalString(agent)
	target.SuggestedSkills = skills
	target.RelatedAreaID = areaID
	target.CodeStage = advanceStage(target.CodeStage, domain.StageOrganized)
}

// resolveArea maps a suggested area name to an active area. Unknown names
// route to the inbox with no area relation.
func (e Engine) resolveArea(ctx context.Context, tx *sql.Tx, name string) (*string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, routedInbox, nil
	}
	a, err := e.Repo.GetAreaByName(ctx, tx, name)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, routedInbox, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("resolve area %q: %w", name, err)
	}
	if a.Status != "active" {
		return nil, routedInbox, nil
	}
	id := a.ID
	return &id, a.Name, nil
}

type auditSummary struct {
	Type     string `json:"type"`
	Category string `json:"category"`
	PARAType string `json:"para_type"`
}

func (e Engine) writeAudit(ctx context.Context, tx *sql.Tx, idea domain.Idea, source, input, routedTo string, cfg config.TriageConfig) (domain.AuditEntry, error) {
	summary, err := json.Marshal(auditSummary{Type: deref(idea.Type), Category: deref(idea.Category), PARAType: deref(idea.PARAType)})
	if err != nil {
		return domain.AuditEntry{}, err
	}
	entry := domain.AuditEntry{
		ID:                 newID(),
		IdeaID:             idea.ID,
		Source:             source,
		InputText:          parse.Preview(input, cfg.InputPreviewChars),
		Confidence:         deref64(idea.Confidence),
		ClassificationJSON: string(summary),
		RoutedTo:           routedTo,
		NeedsReview:        idea.NeedsReview,
		CreatedAt:          e.ts(),
	}
	return entry, e.Repo.InsertAudit(ctx, tx, entry)
}

func splitSource(source string) string {
	switch {
	case source == "":
		return "split"
	case strings.HasSuffix(source, "-split"):
		return source
	default:
		return source + "-split"
	}
}

func seedText(item parse.Classification, fallback string) string {
	if s := strings.TrimSpace(item.CleanedText.String()); s != "" {
		return s
	}
	if s := strings.TrimSpace(item.Summary.String()); s != "" {
		return s
	}
	return fallback
}

func deref64(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
