package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"idealine/internal/classify"
	"idealine/internal/domain"
	"idealine/internal/events"
	"idealine/internal/parse"
)

type DecomposeResult struct {
	ProjectName string        `json:"project_name"`
	Objective   string        `json:"objective"`
	SubTaskIDs  []string      `json:"sub_task_ids"`
	SubTasks    []domain.Idea `json:"sub_tasks"`
}

// Decompose asks the classifier for the sub-tasks of a project idea and stores
// them as child ideas with exactly one next action. A project that already
// has sub-tasks is rejected with ErrConflict.
func (e Engine) Decompose(ctx context.Context, projectID, actorID string) (DecomposeResult, error) {
	project, err := e.Repo.GetIdea(ctx, nil, projectID)
	if err != nil {
		return DecomposeResult{}, err
	}
	if project.ParentIdeaID != nil {
		return DecomposeResult{}, invalidInput("idea %s is a sub-task and cannot be decomposed", projectID)
	}
	existing, err := e.Repo.ListChildren(ctx, nil, projectID)
	if err != nil {
		return DecomposeResult{}, err
	}
	if len(existing) > 0 {
		return DecomposeResult{}, fmt.Errorf("%w: project %s already has %d sub-tasks", ErrConflict, projectID, len(existing))
	}
	if e.Classifier == nil {
		return DecomposeResult{}, &classify.Error{Kind: classify.KindUnavailable, Err: errors.New("no classifier configured")}
	}
	snap, err := e.snapshot(ctx, project.Text, actorID)
	if err != nil {
		return DecomposeResult{}, fmt.Errorf("build context: %w", err)
	}
	raw, err := e.Classifier.Decompose(ctx, project.Text, snap)
	if err != nil {
		return DecomposeResult{}, err
	}
	dec, ok := parse.ParseDecomposition(raw)
	if !ok {
		e.logger().Warn("decomposition output has no valid JSON", zap.String("idea_id", projectID), zap.String("preview", parse.Preview(raw, 300)))
		return DecomposeResult{}, &classify.Error{Kind: classify.KindMalformed, Err: errors.New("no valid JSON in decomposition output")}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DecomposeResult{}, err
	}
	defer tx.Rollback()
	project, err = e.Repo.GetIdea(ctx, tx, projectID)
	if err != nil {
		return DecomposeResult{}, err
	}
	project.IsProject = true
	if project.Objective == nil {
		project.Objective = optionalString(strings.TrimSpace(dec.Objective.String()))
	}
	project.UpdatedAt = e.ts()
	if err := e.Repo.UpdateIdea(ctx, tx, project); err != nil {
		return DecomposeResult{}, err
	}
	children, err := e.createSubTasks(ctx, tx, project, dec.SubTasks, actorID)
	if err != nil {
		return DecomposeResult{}, err
	}
	res := DecomposeResult{
		ProjectName: strings.TrimSpace(dec.ProjectName.String()),
		Objective:   strings.TrimSpace(dec.Objective.String()),
		SubTaskIDs:  make([]string, 0, len(children)),
		SubTasks:    children,
	}
	for _, c := range children {
		res.SubTaskIDs = append(res.SubTaskIDs, c.ID)
	}
	if err := e.appendEvent(ctx, tx, events.IdeaDecomposed, "idea", projectID, actorID, events.EventPayload{
		"project_name": res.ProjectName,
		"sub_task_ids": res.SubTaskIDs,
	}); err != nil {
		return DecomposeResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return DecomposeResult{}, err
	}
	if res.ProjectName == "" {
		res.ProjectName = deref(project.Summary)
	}
	return res, nil
}

// createSubTasks inserts descriptors as children of parent in order. The
// next-action flag lands on exactly one child.
func (e Engine) createSubTasks(ctx context.Context, tx *sql.Tx, parent domain.Idea, tasks []parse.SubTask, actorID string) ([]domain.Idea, error) {
	next := nextActionIndex(tasks)
	now := e.ts()
	createdBy := actorID
	if createdBy == "" {
		createdBy = parent.CreatedBy
	}
	commitment := domain.CommitmentThisWeek
	if parent.CommitmentKind != nil {
		commitment = *parent.CommitmentKind
	}
	out := make([]domain.Idea, 0, len(tasks))
	for i, st := range tasks {
		contextTag := normalizeContext(st.ContextTag.String())
		if contextTag == "" {
			contextTag = "at-computer"
		}
		energy := normalizeEnergy(st.Energy.String())
		if energy == "" {
			energy = domain.EnergyMedium
		}
		priority := normalizePriority(st.Priority.String())
		assignee := optionalString(strings.TrimSpace(st.AssignedTo.String()))
		if assignee == nil {
			assignee = parent.AssignedTo
		}
		para := domain.PARAProject
		typ := "Task"
		c := commitment
		parentID := parent.ID
		child := domain.Idea{
			ID:              newID(),
			ParentIdeaID:    &parentID,
			Text:            strings.TrimSpace(st.Text.String()),
			Source:          SourceDecomposition,
			CodeStage:       domain.StageOrganized,
			PARAType:        &para,
			Type:            &typ,
			Category:        parent.Category,
			ContextTag:      &contextTag,
			Energy:          &energy,
			CommitmentKind:  &c,
			IsNextAction:    i == next,
			AssignedTo:      assignee,
			Priority:        &priority,
			EstimatedTime:   optionalString(strings.TrimSpace(st.EstimatedTime.String())),
			SuggestedSkills: []string{},
			ExecutionStatus: domain.ExecutionIdle,
			RelatedAreaID:   parent.RelatedAreaID,
			CreatedBy:       createdBy,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.Repo.InsertIdea(ctx, tx, child); err != nil {
			return nil, fmt.Errorf("insert sub-task %d: %w", i, err)
		}
		out = append(out, child)
	}
	return out, nil
}
