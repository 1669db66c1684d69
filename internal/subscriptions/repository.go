package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizdesk/bizdesk/internal/platform/db"
)

// Repository is the persistence port used by Service.
type Repository interface {
	Create(ctx context.Context, s Subscription) (int64, error)
	Get(ctx context.Context, id int64) (*Subscription, error)
	List(ctx context.Context, filter ListFilter) ([]Subscription, int, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	// ListDue returns active subscriptions whose next payment date is before asOf.
	ListDue(ctx context.Context, asOf time.Time) ([]Subscription, error)
	// Advance sets the next payment date only while it still equals from.
	// ok is false when another writer moved it first.
	Advance(ctx context.Context, id int64, from, to time.Time) (ok bool, err error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const subscriptionColumns = `s.id, s.client_id, c.name, s.name, s.amount, s.billing_cycle, s.start_date,
       s.next_payment_date, s.status, s.notes, s.created_at, s.updated_at`

const subscriptionFrom = ` FROM subscriptions s JOIN clients c ON c.id = s.client_id`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	if err := row.Scan(&s.ID, &s.ClientID, &s.ClientName, &s.Name, &s.Amount, &s.BillingCycle, &s.StartDate,
		&s.NextPaymentDate, &s.Status, &s.Notes, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *pgRepository) Create(ctx context.Context, s Subscription) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO subscriptions
    (client_id, name, amount, billing_cycle, start_date, next_payment_date, status, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		s.ClientID, s.Name, s.Amount, string(s.BillingCycle), s.StartDate, s.NextPaymentDate, string(s.Status), s.Notes).Scan(&id)
	if db.IsForeignKeyViolation(err) {
		return 0, ErrClientNotFound
	}
	return id, err
}

func (r *pgRepository) Get(ctx context.Context, id int64) (*Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+subscriptionFrom+` WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	return s, err
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Subscription, int, error) {
	var w db.Where
	if filter.ClientID != nil {
		w.Add("s.client_id = $%d", *filter.ClientID)
	}
	if filter.Status != nil {
		w.Add("s.status = $%d", string(*filter.Status))
	}
	if filter.Search != "" {
		w.Search(filter.Search, "s.name", "c.name")
	}
	total, err := db.Count(ctx, r.pool, `SELECT COUNT(*)`+subscriptionFrom+w.Clause(), w.Args)
	if err != nil {
		return nil, 0, err
	}
	order := db.OrderBy(filter.SortBy, filter.SortDesc, map[string]string{
		"name":              "s.name",
		"amount":            "s.amount",
		"next_payment_date": "s.next_payment_date",
		"client_name":       "c.name",
		"status":            "s.status",
	}, "s.next_payment_date")
	query := `SELECT ` + subscriptionColumns + subscriptionFrom + w.Clause() + order + w.Page(filter.Limit, filter.Offset)
	return r.collect(ctx, query, w.Args, total)
}

func (r *pgRepository) collect(ctx context.Context, query string, args []any, total int) ([]Subscription, int, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *s)
	}
	return out, total, rows.Err()
}

var updatableColumns = map[string]bool{
	"name": true, "amount": true, "billing_cycle": true, "next_payment_date": true, "status": true, "notes": true,
}

func (r *pgRepository) Update(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		if !updatableColumns[k] {
			return fmt.Errorf("subscriptions: column %q is not updatable", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, updates[k])
		sets = append(sets, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`UPDATE subscriptions SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *pgRepository) ListDue(ctx context.Context, asOf time.Time) ([]Subscription, error) {
	out, _, err := r.collect(ctx, `SELECT `+subscriptionColumns+subscriptionFrom+`
WHERE s.status = 'active' AND s.next_payment_date < $1 ORDER BY s.id`, []any{asOf}, 0)
	return out, err
}

func (r *pgRepository) Advance(ctx context.Context, id int64, from, to time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE subscriptions SET next_payment_date = $3, updated_at = NOW()
WHERE id = $1 AND next_payment_date = $2 AND status = 'active'`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
