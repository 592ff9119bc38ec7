package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"idealine/internal/domain"
)

const knowledgeColumns = `k.id,k.key,k.content,k.category,k.para_type,k.code_stage,k.source,k.idea_id,k.created_at`

func scanKnowledge(row rowScanner) (domain.KnowledgeEntry, error) {
	var k domain.KnowledgeEntry
	var category, ideaID sql.NullString
	err := row.Scan(&k.ID, &k.Key, &k.Content, &category, &k.PARAType, &k.CodeStage, &k.Source, &ideaID, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return k, ErrNotFound
	}
	if category.Valid {
		k.Category = category.String
	}
	k.IdeaID = stringPtr(ideaID)
	return k, err
}

func (r Repo) InsertKnowledge(ctx context.Context, tx *sql.Tx, k domain.KnowledgeEntry) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO knowledge(id,key,content,category,para_type,code_stage,source,idea_id,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		k.ID, k.Key, k.Content, nullable(k.Category), k.PARAType, k.CodeStage, k.Source, nullableStringPtr(k.IdeaID), k.CreatedAt)
	return err
}

// RecentKnowledge returns the most recently added entries.
func (r Repo) RecentKnowledge(ctx context.Context, limit int) ([]domain.KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.queryKnowledge(ctx, `SELECT `+knowledgeColumns+` FROM knowledge k ORDER BY k.created_at DESC, k.rowid DESC LIMIT ?`, limit)
}

// SearchKnowledge runs a BM25-ranked full-text search over key and content.
func (r Repo) SearchKnowledge(ctx context.Context, query string, limit int) ([]domain.KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	match := sanitizeFTS5Query(query)
	if match == "" {
		return nil, nil
	}
	res, err := r.queryKnowledge(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_fts JOIN knowledge k ON k.rowid = knowledge_fts.rowid
WHERE knowledge_fts MATCH ? ORDER BY bm25(knowledge_fts) LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	return res, nil
}

func (r Repo) queryKnowledge(ctx context.Context, query string, args ...any) ([]domain.KnowledgeEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.KnowledgeEntry
	for rows.Next() {
		k, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

// sanitizeFTS5Query quotes each word and ORs them so free text cannot be read as FTS5 syntax.
func sanitizeFTS5Query(query string) string {
	words := strings.Fields(query)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		clean := strings.Map(func(r rune) rune {
			if r == '"' {
				return -1
			}
			return r
		}, w)
		if clean != "" {
			quoted = append(quoted, `"`+clean+`"`)
		}
	}
	return strings.Join(quoted, " OR ")
}
