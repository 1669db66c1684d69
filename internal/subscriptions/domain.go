// Package subscriptions keeps recurring client charges and rolls their next
// payment date forward as billing periods elapse.
package subscriptions

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bizdesk/bizdesk/internal/shared"
)

// Cycle is the billing period of a subscription.
type Cycle string

const (
	CycleMonthly   Cycle = "monthly"
	CycleQuarterly Cycle = "quarterly"
	CycleYearly    Cycle = "yearly"
)

// Months is the length of the cycle in calendar months.
func (c Cycle) Months() int {
	switch c {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	case CycleYearly:
		return 12
	}
	return 0
}

// Status enumerates subscription states.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

// Subscription is a recurring charge for a client.
type Subscription struct {
	ID              int64           `json:"id"`
	ClientID        int64           `json:"client_id"`
	ClientName      string          `json:"client_name,omitempty"`
	Name            string          `json:"name"`
	Amount          decimal.Decimal `json:"amount"`
	BillingCycle    Cycle           `json:"billing_cycle"`
	StartDate       time.Time       `json:"start_date"`
	NextPaymentDate time.Time       `json:"next_payment_date"`
	Status          Status          `json:"status"`
	Notes           string          `json:"notes"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CreateRequest is the payload for creating a subscription.
type CreateRequest struct {
	ClientID        int64           `json:"client_id" validate:"required,gt=0"`
	Name            string          `json:"name" validate:"required,max=200"`
	Amount          decimal.Decimal `json:"amount"`
	BillingCycle    Cycle           `json:"billing_cycle" validate:"required,oneof=monthly quarterly yearly"`
	StartDate       time.Time       `json:"start_date" validate:"required"`
	NextPaymentDate *time.Time      `json:"next_payment_date,omitempty"`
	Notes           string          `json:"notes" validate:"max=2000"`
}

// UpdateRequest edits a subscription. Nil fields are left unchanged.
type UpdateRequest struct {
	Name            *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	BillingCycle    *Cycle           `json:"billing_cycle,omitempty" validate:"omitempty,oneof=monthly quarterly yearly"`
	NextPaymentDate *time.Time       `json:"next_payment_date,omitempty"`
	Status          *Status          `json:"status,omitempty" validate:"omitempty,oneof=active paused cancelled"`
	Notes           *string          `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// ListFilter narrows subscription listings.
type ListFilter struct {
	ClientID *int64
	Status   *Status
	Search   string
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// RollForwardResult reports one roll forward run.
type RollForwardResult struct {
	AsOf     time.Time `json:"as_of"`
	Examined int       `json:"examined"`
	Advanced int       `json:"advanced"`
}

var (
	ErrSubscriptionNotFound = shared.NotFound("Subscription not found")
	ErrClientNotFound       = shared.NotFound("Client not found")
	ErrCancelled            = shared.Conflict("Cancelled subscriptions cannot be changed")
)
