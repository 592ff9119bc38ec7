package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"idealine/internal/domain"
)

const ideaColumns = `id,parent_idea_id,text,audio_ref,source,code_stage,para_type,type,category,summary,immediate_action,confidence,needs_review,
context_tag,energy,commitment_kind,is_next_action,objective,notes,assigned_to,priority,estimated_time,is_project,suggested_project,
suggested_agent,suggested_skills_json,distilled_summary,expressed_output,completed,completed_at,execution_status,execution_output,
execution_error,executed_by,executed_at,related_area_id,created_by,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdea(row rowScanner) (domain.Idea, error) {
	var i domain.Idea
	var parentID, audioRef, paraType, typ, category, summary, action, contextTag, energy, commitment sql.NullString
	var objective, notes, assignedTo, priority, estimated, suggestedProject, suggestedAgent sql.NullString
	var distilled, expressed, completedAt, execOutput, execError, executedBy, executedAt, areaID sql.NullString
	var confidence sql.NullFloat64
	var needsReview, nextAction, isProject, completed int
	var skills string
	err := row.Scan(&i.ID, &parentID, &i.Text, &audioRef, &i.Source, &i.CodeStage, &paraType, &typ, &category, &summary, &action,
		&confidence, &needsReview, &contextTag, &energy, &commitment, &nextAction, &objective, &notes, &assignedTo, &priority,
		&estimated, &isProject, &suggestedProject, &suggestedAgent, &skills, &distilled, &expressed, &completed, &completedAt,
		&i.ExecutionStatus, &execOutput, &execError, &executedBy, &executedAt, &areaID, &i.CreatedBy, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	i.ParentIdeaID = stringPtr(parentID)
	i.AudioRef = stringPtr(audioRef)
	i.PARAType = stringPtr(paraType)
	i.Type = stringPtr(typ)
	i.Category = stringPtr(category)
	i.Summary = stringPtr(summary)
	i.ImmediateAction = stringPtr(action)
	if confidence.Valid {
		c := confidence.Float64
		i.Confidence = &c
	}
	i.NeedsReview = needsReview == 1
	i.ContextTag = stringPtr(contextTag)
	i.Energy = stringPtr(energy)
	i.CommitmentKind = stringPtr(commitment)
	i.IsNextAction = nextAction == 1
	i.Objective = stringPtr(objective)
	i.Notes = stringPtr(notes)
	i.AssignedTo = stringPtr(assignedTo)
	i.Priority = stringPtr(priority)
	i.EstimatedTime = stringPtr(estimated)
	i.IsProject = isProject == 1
	i.SuggestedProject = stringPtr(suggestedProject)
	i.SuggestedAgent = stringPtr(suggestedAgent)
	if err := json.Unmarshal([]byte(skills), &i.SuggestedSkills); err != nil {
		return i, fmt.Errorf("decode suggested_skills for %s: %w", i.ID, err)
	}
	if i.SuggestedSkills == nil {
		i.SuggestedSkills = []string{}
	}
	i.DistilledSummary = stringPtr(distilled)
	i.ExpressedOutput = stringPtr(expressed)
	i.Completed = completed == 1
	i.CompletedAt = stringPtr(completedAt)
	i.ExecutionOutput = stringPtr(execOutput)
	i.ExecutionError = stringPtr(execError)
	i.ExecutedBy = stringPtr(executedBy)
	i.ExecutedAt = stringPtr(executedAt)
	i.RelatedAreaID = stringPtr(areaID)
	return i, nil
}

func ideaArgs(i domain.Idea) ([]any, error) {
	skills := i.SuggestedSkills
	if skills == nil {
		skills = []string{}
	}
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return nil, err
	}
	execStatus := i.ExecutionStatus
	if execStatus == "" {
		execStatus = domain.ExecutionIdle
	}
	return []any{
		nullableStringPtr(i.ParentIdeaID), i.Text, nullableStringPtr(i.AudioRef), i.Source, i.CodeStage, nullableStringPtr(i.PARAType),
		nullableStringPtr(i.Type), nullableStringPtr(i.Category), nullableStringPtr(i.Summary), nullableStringPtr(i.ImmediateAction),
		nullableFloatPtr(i.Confidence), boolInt(i.NeedsReview), nullableStringPtr(i.ContextTag), nullableStringPtr(i.Energy),
		nullableStringPtr(i.CommitmentKind), boolInt(i.IsNextAction), nullableStringPtr(i.Objective), nullableStringPtr(i.Notes),
		nullableStringPtr(i.AssignedTo), nullableStringPtr(i.Priority), nullableStringPtr(i.EstimatedTime), boolInt(i.IsProject),
		nullableStringPtr(i.SuggestedProject), nullableStringPtr(i.SuggestedAgent), string(skillsJSON), nullableStringPtr(i.DistilledSummary),
		nullableStringPtr(i.ExpressedOutput), boolInt(i.Completed), nullableStringPtr(i.CompletedAt), execStatus,
		nullableStringPtr(i.ExecutionOutput), nullableStringPtr(i.ExecutionError), nullableStringPtr(i.ExecutedBy), nullableStringPtr(i.ExecutedAt),
		nullableStringPtr(i.RelatedAreaID), i.CreatedBy, i.CreatedAt, i.UpdatedAt,
	}, nil
}

func (r Repo) InsertIdea(ctx context.Context, tx *sql.Tx, i domain.Idea) error {
	args, err := ideaArgs(i)
	if err != nil {
		return err
	}
	args = append([]any{i.ID}, args...)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO ideas(`+ideaColumns+`) VALUES (`+placeholders+`)`, args...)
	return err
}

// UpdateIdea rewrites every mutable column of the idea row.
func (r Repo) UpdateIdea(ctx context.Context, tx *sql.Tx, i domain.Idea) error {
	args, err := ideaArgs(i)
	if err != nil {
		return err
	}
	args = append(args, i.ID)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE ideas SET parent_idea_id=?, text=?, audio_ref=?, source=?, code_stage=?, para_type=?, type=?,
category=?, summary=?, immediate_action=?, confidence=?, needs_review=?, context_tag=?, energy=?, commitment_kind=?, is_next_action=?,
objective=?, notes=?, assigned_to=?, priority=?, estimated_time=?, is_project=?, suggested_project=?, suggested_agent=?,
suggested_skills_json=?, distilled_summary=?, expressed_output=?, completed=?, completed_at=?, execution_status=?, execution_output=?,
execution_error=?, executed_by=?, executed_at=?, related_area_id=?, created_by=?, created_at=?, updated_at=? WHERE id=?`, args...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) GetIdea(ctx context.Context, tx *sql.Tx, id string) (domain.Idea, error) {
	return scanIdea(r.q(tx).QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=?`, id))
}

type IdeaFilters struct {
	Stage           string
	NeedsReview     *bool
	Completed       *bool
	ParentID        string
	AssignedTo      string
	IsProject       *bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListIdeas(ctx context.Context, f IdeaFilters) ([]domain.Idea, error) {
	var clauses []string
	var args []any
	if f.Stage != "" {
		clauses = append(clauses, "code_stage=?")
		args = append(args, f.Stage)
	}
	if f.NeedsReview != nil {
		clauses = append(clauses, "needs_review=?")
		args = append(args, boolInt(*f.NeedsReview))
	}
	if f.Completed != nil {
		clauses = append(clauses, "completed=?")
		args = append(args, boolInt(*f.Completed))
	}
	if f.IsProject != nil {
		clauses = append(clauses, "is_project=?")
		args = append(args, boolInt(*f.IsProject))
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_idea_id=?")
		args = append(args, f.ParentID)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + ideaColumns + ` FROM ideas ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryIdeas(ctx, nil, query, args...)
}

// ListReviewQueue returns ideas flagged for review, oldest first.
func (r Repo) ListReviewQueue(ctx context.Context, limit int) ([]domain.Idea, error) {
	query := `SELECT ` + ideaColumns + ` FROM ideas WHERE needs_review=1 ORDER BY created_at ASC, rowid ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryIdeas(ctx, nil, query, args...)
}

// ListChildren returns sub-tasks of a parent in insertion order.
func (r Repo) ListChildren(ctx context.Context, tx *sql.Tx, parentID string) ([]domain.Idea, error) {
	return r.queryIdeas(ctx, tx, `SELECT `+ideaColumns+` FROM ideas WHERE parent_idea_id=? ORDER BY created_at ASC, rowid ASC`, parentID)
}

func (r Repo) queryIdeas(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]domain.Idea, error) {
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Idea
	for rows.Next() {
		i, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// SetNextAction makes id the only sub-task of parentID flagged as next action.
// An empty id clears the flag on every sub-task.
func (r Repo) SetNextAction(ctx context.Context, tx *sql.Tx, parentID, id, updatedAt string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE ideas SET is_next_action = CASE WHEN id=? THEN 1 ELSE 0 END, updated_at=?
WHERE parent_idea_id=? AND (is_next_action=1 OR id=?)`, id, updatedAt, parentID, id)
	return err
}

func (r Repo) CountIdeasByStage(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT code_stage, COUNT(*) FROM ideas GROUP BY code_stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		out[stage] = n
	}
	return out, rows.Err()
}
