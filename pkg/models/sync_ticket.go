package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	TicketStatusQueued   = "queued"
	TicketStatusInFlight = "in_flight"
	TicketStatusDone     = "done"
	TicketStatusDead     = "dead"
)

const (
	// PriorityCatchUp is used by the catch-up scanner so reconciliation
	// backlog never starves live edits.
	PriorityCatchUp = 0
	PriorityNormal  = 10
)

// SyncTicket is one unit of queued work: "this item may need delivery to
// this target". At most one queued or in-flight ticket exists per
// (account_id, item_type, item_id, target_name); re-enqueuing the same tuple
// coalesces into the existing ticket.
type SyncTicket struct {
	bun.BaseModel `bun:"table:sync_tickets,alias:st"`

	ID           int        `bun:",pk,nullzero" json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	AccountID    int        `bun:",nullzero" json:"account_id"`
	ItemType     string     `bun:",nullzero" json:"item_type"`
	ItemID       int        `bun:",nullzero" json:"item_id"`
	TargetName   string     `bun:",nullzero" json:"target_name"`
	Priority     int        `json:"priority"`
	Status       string     `bun:",nullzero" json:"status"`
	AttemptCount int        `json:"attempt_count"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	RequeueAt    *time.Time `json:"requeue_at,omitempty"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	ClaimedBy    *string    `json:"claimed_by,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
}
