package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DefaultPageSize applies when a listing is requested without a limit.
const DefaultPageSize = 50

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Where accumulates AND-ed conditions with positional arguments.
type Where struct {
	conds []string
	Args  []any
}

// Add appends a condition. format must contain one %d for the placeholder index.
func (w *Where) Add(format string, arg any) {
	w.Args = append(w.Args, arg)
	w.conds = append(w.conds, fmt.Sprintf(format, len(w.Args)))
}

// Search appends a case-insensitive substring match over columns.
func (w *Where) Search(term string, columns ...string) {
	w.Args = append(w.Args, "%"+term+"%")
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf("%s ILIKE $%d", col, len(w.Args))
	}
	w.conds = append(w.conds, "("+strings.Join(parts, " OR ")+")")
}

// Clause renders the WHERE clause, or "" without conditions.
func (w *Where) Clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// Page appends limit and offset arguments and renders the LIMIT clause.
func (w *Where) Page(limit, offset int) string {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	w.Args = append(w.Args, limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(w.Args)-1, len(w.Args))
}

// OrderBy resolves sortBy against allowed columns and renders ORDER BY.
func OrderBy(sortBy string, desc bool, allowed map[string]string, fallback string) string {
	col, ok := allowed[sortBy]
	if !ok {
		col = fallback
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", col, dir)
}

// Count runs a COUNT(*) query.
func Count(ctx context.Context, q Querier, query string, args []any) (int, error) {
	var total int
	if err := q.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
