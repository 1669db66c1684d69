// Package tickets tracks client support requests and their message threads.
package tickets

import (
	"time"

	"github.com/bizdesk/bizdesk/internal/shared"
)

// Status enumerates ticket states.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Priority ranks tickets for triage.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Ticket is a support request raised for a client.
type Ticket struct {
	ID          int64     `json:"id"`
	ClientID    int64     `json:"client_id"`
	ClientName  string    `json:"client_name,omitempty"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	Updates     []Update  `json:"updates,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Update is one message appended to a ticket thread.
type Update struct {
	ID         int64       `json:"id"`
	TicketID   int64       `json:"ticket_id"`
	AuthorID   string      `json:"author_id"`
	AuthorRole shared.Role `json:"author_role"`
	Message    string      `json:"message"`
	CreatedAt  time.Time   `json:"created_at"`
}

// CreateTicketRequest is the payload for opening a ticket. Client callers
// may omit ClientID; it is taken from their identity.
type CreateTicketRequest struct {
	ClientID    int64    `json:"client_id"`
	Subject     string   `json:"subject" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=5000"`
	Priority    Priority `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

// UpdateStatusRequest moves a ticket to another status.
type UpdateStatusRequest struct {
	Status Status `json:"status" validate:"required,oneof=open in_progress resolved closed"`
}

// AddUpdateRequest appends a message to a ticket.
type AddUpdateRequest struct {
	Message string `json:"message" validate:"required,max=5000"`
}

// ListFilter narrows ticket listings.
type ListFilter struct {
	ClientID *int64
	Status   *Status
	Search   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

var (
	ErrTicketNotFound = shared.NotFound("Ticket not found")
	ErrClientNotFound = shared.NotFound("Client not found")
	ErrInvalidStatus  = shared.Conflict("Invalid ticket status transition")
	ErrTicketClosed   = shared.Conflict("Ticket is closed")
	// ErrStaleStatus is returned when the status changed between read and write.
	ErrStaleStatus = shared.Conflict("Ticket status changed concurrently, reload and retry")
)

var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress},
	StatusInProgress: {StatusResolved},
	StatusResolved:   {StatusClosed, StatusOpen},
}

// CanTransition reports whether a ticket may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
