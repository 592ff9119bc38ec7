package repo

import (
	"context"
	"database/sql"
	"strings"

	"idealine/internal/domain"
)

const auditColumns = `id,idea_id,source,input_text,confidence,classification_json,routed_to,needs_review,reviewed,created_at`

func scanAudit(row rowScanner) (domain.AuditEntry, error) {
	var a domain.AuditEntry
	var needsReview, reviewed int
	err := row.Scan(&a.ID, &a.IdeaID, &a.Source, &a.InputText, &a.Confidence, &a.ClassificationJSON, &a.RoutedTo, &needsReview, &reviewed, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.NeedsReview = needsReview == 1
	a.Reviewed = reviewed == 1
	return a, err
}

// InsertAudit appends an audit entry. Entries are never updated except for the reviewed flag.
func (r Repo) InsertAudit(ctx context.Context, tx *sql.Tx, a domain.AuditEntry) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO audit_log(`+auditColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.IdeaID, a.Source, a.InputText, a.Confidence, a.ClassificationJSON, a.RoutedTo, boolInt(a.NeedsReview), boolInt(a.Reviewed), a.CreatedAt)
	return err
}

func (r Repo) GetAudit(ctx context.Context, tx *sql.Tx, id string) (domain.AuditEntry, error) {
	return scanAudit(r.q(tx).QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE id=?`, id))
}

type AuditFilters struct {
	IdeaID      string
	NeedsReview *bool
	Reviewed    *bool
	Limit       int
	// Cursor is the created_at/id pair of the last entry of the previous page.
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListAudit(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	var clauses []string
	var args []any
	if f.IdeaID != "" {
		clauses = append(clauses, "idea_id=?")
		args = append(args, f.IdeaID)
	}
	if f.NeedsReview != nil {
		clauses = append(clauses, "needs_review=?")
		args = append(args, boolInt(*f.NeedsReview))
	}
	if f.Reviewed != nil {
		clauses = append(clauses, "reviewed=?")
		args = append(args, boolInt(*f.Reviewed))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + auditColumns + ` FROM audit_log ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// MarkAuditReviewed flips reviewed to true for one entry.
func (r Repo) MarkAuditReviewed(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE audit_log SET reviewed=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// MarkAuditReviewedForIdea flips reviewed on every unreviewed entry of an idea and returns how many changed.
func (r Repo) MarkAuditReviewedForIdea(ctx context.Context, tx *sql.Tx, ideaID string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE audit_log SET reviewed=1 WHERE idea_id=? AND reviewed=0`, ideaID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
