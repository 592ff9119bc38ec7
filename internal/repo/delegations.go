package repo

import (
	"context"
	"database/sql"

	"idealine/internal/domain"
)

const delegationColumns = `id,idea_id,delegated_to,delegated_by,description,status,created_at,completed_at`

func scanDelegation(row rowScanner) (domain.Delegation, error) {
	var d domain.Delegation
	var ideaID, desc, completedAt sql.NullString
	err := row.Scan(&d.ID, &ideaID, &d.DelegatedTo, &d.DelegatedBy, &desc, &d.Status, &d.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.IdeaID = stringPtr(ideaID)
	if desc.Valid {
		d.Description = desc.String
	}
	d.CompletedAt = stringPtr(completedAt)
	return d, nil
}

func (r Repo) InsertDelegation(ctx context.Context, tx *sql.Tx, d domain.Delegation) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO delegations(`+delegationColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, nullableStringPtr(d.IdeaID), d.DelegatedTo, d.DelegatedBy, nullable(d.Description), d.Status, d.CreatedAt, nullableStringPtr(d.CompletedAt))
	return err
}

func (r Repo) GetDelegation(ctx context.Context, tx *sql.Tx, id string) (domain.Delegation, error) {
	return scanDelegation(r.q(tx).QueryRowContext(ctx, `SELECT `+delegationColumns+` FROM delegations WHERE id=?`, id))
}

// ListDelegations returns delegations newest first, optionally filtered by status and idea.
func (r Repo) ListDelegations(ctx context.Context, status, ideaID string) ([]domain.Delegation, error) {
	query := `SELECT ` + delegationColumns + ` FROM delegations WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	if ideaID != "" {
		query += ` AND idea_id=?`
		args = append(args, ideaID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) CompleteDelegation(ctx context.Context, tx *sql.Tx, id, completedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE delegations SET status=?, completed_at=? WHERE id=?`, domain.DelegationCompleted, completedAt, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
