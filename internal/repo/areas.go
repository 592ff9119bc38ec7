package repo

import (
	"context"
	"database/sql"

	"idealine/internal/domain"
)

func scanArea(row rowScanner) (domain.Area, error) {
	var a domain.Area
	var desc, horizon sql.NullString
	err := row.Scan(&a.ID, &a.Name, &desc, &horizon, &a.Status, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if desc.Valid {
		a.Description = desc.String
	}
	if horizon.Valid {
		a.Horizon = horizon.String
	}
	return a, err
}

func (r Repo) InsertArea(ctx context.Context, tx *sql.Tx, a domain.Area) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO areas(id,name,description,horizon,status,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.Name, nullable(a.Description), nullable(a.Horizon), a.Status, a.CreatedAt)
	return err
}

// EnsureArea inserts the area unless one with the same name exists.
func (r Repo) EnsureArea(ctx context.Context, tx *sql.Tx, a domain.Area) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO areas(id,name,description,horizon,status,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(name) DO NOTHING`, a.ID, a.Name, nullable(a.Description), nullable(a.Horizon), a.Status, a.CreatedAt)
	return err
}

func (r Repo) GetAreaByName(ctx context.Context, tx *sql.Tx, name string) (domain.Area, error) {
	return scanArea(r.q(tx).QueryRowContext(ctx, `SELECT id,name,description,horizon,status,created_at FROM areas WHERE name=? COLLATE NOCASE`, name))
}

func (r Repo) GetArea(ctx context.Context, tx *sql.Tx, id string) (domain.Area, error) {
	return scanArea(r.q(tx).QueryRowContext(ctx, `SELECT id,name,description,horizon,status,created_at FROM areas WHERE id=?`, id))
}

func (r Repo) ListAreas(ctx context.Context, status string) ([]domain.Area, error) {
	query := `SELECT id,name,description,horizon,status,created_at FROM areas`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY name`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) SetAreaStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE areas SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
