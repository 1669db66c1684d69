package tickets

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizdesk/bizdesk/internal/platform/db"
)

// Repository is the persistence port used by Service.
type Repository interface {
	Create(ctx context.Context, t Ticket) (int64, error)
	Get(ctx context.Context, id int64) (*Ticket, error)
	List(ctx context.Context, filter ListFilter) ([]Ticket, int, error)
	// UpdateStatus moves the ticket only while it is still in status from.
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	AddUpdate(ctx context.Context, u Update) (int64, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const ticketColumns = `t.id, t.client_id, c.name, t.subject, t.description, t.priority, t.status, t.created_by,
       t.created_at, t.updated_at`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	if err := row.Scan(&t.ID, &t.ClientID, &t.ClientName, &t.Subject, &t.Description, &t.Priority, &t.Status,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *pgRepository) Create(ctx context.Context, t Ticket) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO tickets (client_id, subject, description, priority, status, created_by)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		t.ClientID, t.Subject, t.Description, string(t.Priority), string(t.Status), t.CreatedBy).Scan(&id)
	if db.IsForeignKeyViolation(err) {
		return 0, ErrClientNotFound
	}
	return id, err
}

func (r *pgRepository) Get(ctx context.Context, id int64) (*Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+`
FROM tickets t JOIN clients c ON c.id = t.client_id WHERE t.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, ticket_id, author_id, author_role, message, created_at
FROM updates WHERE ticket_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var u Update
		if err := rows.Scan(&u.ID, &u.TicketID, &u.AuthorID, &u.AuthorRole, &u.Message, &u.CreatedAt); err != nil {
			return nil, err
		}
		t.Updates = append(t.Updates, u)
	}
	return t, rows.Err()
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Ticket, int, error) {
	var w db.Where
	if filter.ClientID != nil {
		w.Add("t.client_id = $%d", *filter.ClientID)
	}
	if filter.Status != nil {
		w.Add("t.status = $%d", string(*filter.Status))
	}
	if filter.Search != "" {
		w.Search(filter.Search, "t.subject", "t.description", "c.name")
	}
	from := ` FROM tickets t JOIN clients c ON c.id = t.client_id`
	total, err := db.Count(ctx, r.pool, `SELECT COUNT(*)`+from+w.Clause(), w.Args)
	if err != nil {
		return nil, 0, err
	}
	order := db.OrderBy(filter.SortBy, filter.SortDesc, map[string]string{
		"subject":    "t.subject",
		"priority":   "t.priority",
		"status":     "t.status",
		"created_at": "t.created_at",
		"updated_at": "t.updated_at",
	}, "t.updated_at")
	query := `SELECT ` + ticketColumns + from + w.Clause() + order + w.Page(filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, query, w.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

func (r *pgRepository) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tickets SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *pgRepository) AddUpdate(ctx context.Context, u Update) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO updates (ticket_id, author_id, author_role, message)
VALUES ($1, $2, $3, $4) RETURNING id`, u.TicketID, u.AuthorID, string(u.AuthorRole), u.Message).Scan(&id); err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrTicketNotFound
			}
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE tickets SET updated_at = NOW() WHERE id = $1`, u.TicketID)
		return err
	})
	return id, err
}
