package tickets

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bizdesk/bizdesk/internal/shared"
)

// Options carries the optional collaborators of Service.
type Options struct {
	Logger *slog.Logger
	Audit  shared.AuditRecorder
	Now    func() time.Time
}

// Service handles ticket workflows.
type Service struct {
	repo   Repository
	logger *slog.Logger
	audit  shared.AuditRecorder
	now    func() time.Time
}

// NewService constructs a ticket service.
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

// CreateTicket opens a ticket. Client callers always open tickets for their own client.
func (s *Service) CreateTicket(ctx context.Context, req CreateTicketRequest, actor *shared.Identity) (*Ticket, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if !actor.IsAdmin() {
		if actor.ClientID == nil {
			return nil, shared.ErrForbidden
		}
		req.ClientID = *actor.ClientID
	}
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	if req.ClientID <= 0 {
		return nil, shared.FieldError("client_id", "client_id is required")
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	t := Ticket{
		ClientID:    req.ClientID,
		Subject:     req.Subject,
		Description: strings.TrimSpace(req.Description),
		Priority:    req.Priority,
		Status:      StatusOpen,
		CreatedBy:   actor.UserID,
	}
	id, err := s.repo.Create(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	s.record(ctx, actor, "ticket.created", id, map[string]any{"client_id": t.ClientID, "priority": string(t.Priority)})
	return s.repo.Get(ctx, id)
}

// GetTicket returns a ticket with its thread.
func (s *Service) GetTicket(ctx context.Context, id int64, actor *shared.Identity) (*Ticket, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanSeeClient(t.ClientID) {
		return nil, ErrTicketNotFound
	}
	return t, nil
}

// ListTickets returns a page of tickets. Client callers only see their own.
func (s *Service) ListTickets(ctx context.Context, filter ListFilter, actor *shared.Identity) ([]Ticket, int, error) {
	if actor == nil {
		return nil, 0, shared.ErrUnauthorized
	}
	if filter.Status != nil && !ValidStatus(*filter.Status) {
		return nil, 0, shared.FieldError("status", "unknown ticket status")
	}
	if !actor.IsAdmin() {
		filter.ClientID = actor.ClientID
	}
	return s.repo.List(ctx, filter)
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// UpdateTicketStatus moves a ticket along its workflow. Admin only.
func (s *Service) UpdateTicketStatus(ctx context.Context, id int64, req UpdateStatusRequest, actor *shared.Identity) (*Ticket, error) {
	if actor == nil {
		return nil, shared.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, shared.ErrAdminRequired
	}
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, req.Status) {
		return nil, ErrInvalidStatus.WithMessage("Ticket cannot move from %s to %s", t.Status, req.Status)
	}
	if err := s.repo.UpdateStatus(ctx, id, t.Status, req.Status); err != nil {
		return nil, fmt.Errorf("update ticket %d: %w", id, err)
	}
	s.record(ctx, actor, "ticket.status", id, map[string]any{"from": string(t.Status), "to": string(req.Status)})
	return s.repo.Get(ctx, id)
}

// AddTicketUpdate appends a message to the ticket thread.
func (s *Service) AddTicketUpdate(ctx context.Context, id int64, req AddUpdateRequest, actor *shared.Identity) (*Update, error) {
	t, err := s.GetTicket(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	if t.Status == StatusClosed {
		return nil, ErrTicketClosed
	}
	u := Update{
		TicketID:   id,
		AuthorID:   actor.UserID,
		AuthorRole: actor.Role,
		Message:    req.Message,
		CreatedAt:  s.now(),
	}
	if u.ID, err = s.repo.AddUpdate(ctx, u); err != nil {
		return nil, fmt.Errorf("add ticket update: %w", err)
	}
	return &u, nil
}

func (s *Service) record(ctx context.Context, actor *shared.Identity, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "ticket",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Error("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
