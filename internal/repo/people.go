package repo

import (
	"context"
	"database/sql"

	"idealine/internal/domain"
)

func scanPerson(row rowScanner) (domain.Person, error) {
	var p domain.Person
	var dept, expertise sql.NullString
	err := row.Scan(&p.Username, &p.Role, &dept, &expertise, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if dept.Valid {
		p.Department = dept.String
	}
	if expertise.Valid {
		p.Expertise = expertise.String
	}
	return p, err
}

func (r Repo) UpsertPerson(ctx context.Context, tx *sql.Tx, p domain.Person) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO people(username,role,department,expertise,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(username) DO UPDATE SET role=excluded.role, department=excluded.department, expertise=excluded.expertise, updated_at=excluded.updated_at`,
		p.Username, p.Role, nullable(p.Department), nullable(p.Expertise), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPerson(ctx context.Context, username string) (domain.Person, error) {
	return scanPerson(r.DB.QueryRowContext(ctx, `SELECT username,role,department,expertise,created_at,updated_at FROM people WHERE username=?`, username))
}

func (r Repo) ListPeople(ctx context.Context) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT username,role,department,expertise,created_at,updated_at FROM people ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
