package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bizdesk/bizdesk/internal/shared"
)

// Options carries the optional collaborators of Service.
type Options struct {
	Logger *slog.Logger
	Audit  shared.AuditRecorder
	Now    func() time.Time
}

// Service manages subscriptions.
type Service struct {
	repo   Repository
	logger *slog.Logger
	audit  shared.AuditRecorder
	now    func() time.Time
}

// NewService constructs a subscription service.
func NewService(repo Repository, opts Options) *Service {
	s := &Service{repo: repo, logger: opts.Logger, audit: opts.Audit, now: opts.Now}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func requireAdmin(actor *shared.Identity) error {
	if actor == nil {
		return shared.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return shared.ErrAdminRequired
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() || !amount.Equal(amount.Round(2)) {
		return shared.FieldError("amount", "amount must be zero or more with at most two decimal places")
	}
	return nil
}

// CreateSubscription registers an active subscription. The first payment is
// due on the start date unless another date is given.
func (s *Service) CreateSubscription(ctx context.Context, req CreateRequest, actor *shared.Identity) (*Subscription, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	sub := Subscription{
		ClientID:        req.ClientID,
		Name:            req.Name,
		Amount:          req.Amount,
		BillingCycle:    req.BillingCycle,
		StartDate:       dateOnly(req.StartDate),
		NextPaymentDate: dateOnly(req.StartDate),
		Status:          StatusActive,
		Notes:           req.Notes,
	}
	if req.NextPaymentDate != nil {
		sub.NextPaymentDate = dateOnly(*req.NextPaymentDate)
		if sub.NextPaymentDate.Before(sub.StartDate) {
			return nil, shared.FieldError("next_payment_date", "Next payment date cannot be before the start date")
		}
	}
	id, err := s.repo.Create(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	s.record(ctx, actor, "subscription.created", id, map[string]any{"client_id": sub.ClientID, "cycle": string(sub.BillingCycle)})
	return s.repo.Get(ctx, id)
}

// UpdateSubscription edits a subscription. Cancelled subscriptions are final.
func (s *Service) UpdateSubscription(ctx context.Context, id int64, req UpdateRequest, actor *shared.Identity) (*Subscription, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusCancelled {
		return nil, ErrCancelled
	}
	updates := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, shared.FieldError("name", "name is required")
		}
		updates["name"] = name
	}
	if req.Amount != nil {
		if err := validateAmount(*req.Amount); err != nil {
			return nil, err
		}
		updates["amount"] = *req.Amount
	}
	if req.BillingCycle != nil {
		updates["billing_cycle"] = string(*req.BillingCycle)
	}
	if req.NextPaymentDate != nil {
		updates["next_payment_date"] = dateOnly(*req.NextPaymentDate)
	}
	if req.Status != nil {
		updates["status"] = string(*req.Status)
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if len(updates) == 0 {
		return current, nil
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, fmt.Errorf("update subscription %d: %w", id, err)
	}
	s.record(ctx, actor, "subscription.updated", id, updates)
	return s.repo.Get(ctx, id)
}

// GetSubscription returns a subscription visible to the caller.
func (s *Service) GetSubscription(ctx context.Context, id int64, actor *shared.Identity) (*Subscription, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanSeeClient(sub.ClientID) {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// ListSubscriptions returns a page of subscriptions. Client callers only see their own.
func (s *Service) ListSubscriptions(ctx context.Context, filter ListFilter, actor *shared.Identity) ([]Subscription, int, error) {
	if actor == nil {
		return nil, 0, shared.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		filter.ClientID = actor.ClientID
	}
	return s.repo.List(ctx, filter)
}

// RollForward advances the next payment date of every active subscription
// that fell behind asOf by whole billing cycles. A subscription changed by
// someone else during the run is skipped and picked up by the next run.
func (s *Service) RollForward(ctx context.Context, asOf time.Time) (*RollForwardResult, error) {
	asOf = dateOnly(asOf)
	due, err := s.repo.ListDue(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	result := &RollForwardResult{AsOf: asOf, Examined: len(due)}
	for _, sub := range due {
		next := NextDue(sub.NextPaymentDate, sub.StartDate, sub.BillingCycle, asOf)
		if next.Equal(dateOnly(sub.NextPaymentDate)) {
			continue
		}
		ok, err := s.repo.Advance(ctx, sub.ID, sub.NextPaymentDate, next)
		if err != nil {
			return result, fmt.Errorf("advance subscription %d: %w", sub.ID, err)
		}
		if !ok {
			s.logger.Info("subscription changed during roll forward", slog.Int64("id", sub.ID))
			continue
		}
		result.Advanced++
		s.logger.Debug("subscription rolled forward",
			slog.Int64("id", sub.ID),
			slog.String("from", sub.NextPaymentDate.Format(time.DateOnly)),
			slog.String("to", next.Format(time.DateOnly)))
	}
	return result, nil
}

func (s *Service) record(ctx context.Context, actor *shared.Identity, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "subscription",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Error("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
