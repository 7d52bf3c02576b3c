package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgCase implements Searcher with a JSONB scan over stored mailbox tables,
// as a fallback when Meilisearch is absent or unhealthy.
type PgCase struct {
	db *sql.DB
}

func NewPgCase(db *sql.DB) *PgCase {
	return &PgCase{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgCase) Healthy() bool {
	return true
}

// Search unnests the assignments array of every stored mailbox table and
// substring-matches the case number and description.
func (p *PgCase) Search(ctx context.Context, q Query) ([]Record, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT d.key,
			a->>'id',
			COALESCE(a->>'caseNo', ''),
			COALESCE(a->>'desc', ''),
			COALESCE(a->>'assigneeId', '')
		FROM documents d,
			jsonb_array_elements(COALESCE(d.value->'assignments', '[]'::jsonb)) a
		WHERE d.key LIKE 'mailbox:%'
			AND (a->>'caseNo' ILIKE '%' || $1 || '%' OR a->>'desc' ILIKE '%' || $1 || '%')
		ORDER BY d.updated_at DESC
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, query, q.Text, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("search assignments: %w", err)
	}
	defer rows.Close()

	results := make([]Record, 0)
	for rows.Next() {
		var key, id, caseNo, desc, assigneeID string
		if err := rows.Scan(&key, &id, &caseNo, &desc, &assigneeID); err != nil {
			return nil, 0, fmt.Errorf("scan assignment hit: %w", err)
		}
		shiftKey := strings.TrimPrefix(key, "mailbox:")
		teamID := shiftKey
		if i := strings.IndexByte(shiftKey, '|'); i >= 0 {
			teamID = shiftKey[:i]
		}
		results = append(results, Record{
			ID:         shiftKey + "/" + id,
			CaseNo:     caseNo,
			Desc:       desc,
			AssigneeID: assigneeID,
			ShiftKey:   shiftKey,
			TeamID:     teamID,
		})
	}
	return results, len(results), rows.Err()
}
