package syncqueue

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/inkmirror/inkmirror/pkg/config"
	"github.com/inkmirror/inkmirror/pkg/errcodes"
	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type EnqueueOptions struct {
	AccountID  int
	ItemType   string
	ItemID     int
	TargetName string
	Priority   int
}

type ListTicketsOptions struct {
	Limit     *int
	Offset    *int
	AccountID *int
	Statuses  []string
}

// Stats is the queue depth summary used by the status API.
type Stats struct {
	Queued   int `json:"queued"`
	InFlight int `json:"in_flight"`
	Done     int `json:"done"`
	Dead     int `json:"dead"`
}

type Service struct {
	db *bun.DB

	maxAttempts      int
	backoffBase      time.Duration
	backoffMax       time.Duration
	rateLimitBackoff time.Duration
	staleTimeout     time.Duration
}

func NewService(db *bun.DB, cfg *config.Config) *Service {
	return &Service{
		db:               db,
		maxAttempts:      cfg.MaxDeliveryAttempts,
		backoffBase:      cfg.RetryBackoffBase,
		backoffMax:       cfg.RetryBackoffMax,
		rateLimitBackoff: cfg.RateLimitBackoff,
		staleTimeout:     cfg.StaleClaimTimeout,
	}
}

// Enqueue creates a ticket for the tuple, coalescing with any existing
// queued or in-flight ticket. Coalescing bumps the priority to the higher of
// the two and clears any retry backoff so a fresh edit is picked up promptly
// instead of waiting out the previous failure's delay.
func (svc *Service) Enqueue(ctx context.Context, opts EnqueueOptions) error {
	now := time.Now()

	ticket := &models.SyncTicket{
		CreatedAt:  now,
		UpdatedAt:  now,
		AccountID:  opts.AccountID,
		ItemType:   opts.ItemType,
		ItemID:     opts.ItemID,
		TargetName: opts.TargetName,
		Priority:   opts.Priority,
		Status:     models.TicketStatusQueued,
		EnqueuedAt: now,
	}

	_, err := svc.db.
		NewInsert().
		Model(ticket).
		On("CONFLICT (account_id, item_type, item_id, target_name) WHERE status IN ('queued', 'in_flight') DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Set("priority = MAX(priority, EXCLUDED.priority)").
		Set("requeue_at = NULL").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// DequeueBatch atomically claims up to maxN due tickets for claimedBy,
// transitioning them queued -> in_flight. Two workers can never claim the
// same ticket because the claim is a single conditional update. Tickets are
// ordered highest priority first, FIFO within a priority tier.
func (svc *Service) DequeueBatch(ctx context.Context, claimedBy string, maxN int) ([]*models.SyncTicket, error) {
	now := time.Now()
	tickets := []*models.SyncTicket{}

	err := svc.db.NewRaw(`
		UPDATE sync_tickets
		SET status = ?, claimed_at = ?, claimed_by = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM sync_tickets
			WHERE status = ? AND (requeue_at IS NULL OR requeue_at <= ?)
			ORDER BY priority DESC, enqueued_at ASC
			LIMIT ?
		)
		RETURNING *
	`, models.TicketStatusInFlight, now, claimedBy, now, models.TicketStatusQueued, now, maxN).
		Scan(ctx, &tickets)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// RETURNING hands rows back in rowid order, not the subquery's order, so
	// restore the dispatch order here.
	sort.SliceStable(tickets, func(i, j int) bool {
		if tickets[i].Priority != tickets[j].Priority {
			return tickets[i].Priority > tickets[j].Priority
		}
		return tickets[i].EnqueuedAt.Before(tickets[j].EnqueuedAt)
	})

	return tickets, nil
}

// Complete retires an in-flight ticket as done. The claim writes the same
// timestamp to updated_at and claimed_at; a coalescing enqueue that lands
// while the ticket is in flight bumps only updated_at, which means the
// snapshot just delivered is already stale. When that guard misses the
// ticket goes back to queued instead, so the fresh content goes out on the
// next claim.
func (svc *Service) Complete(ctx context.Context, ticketID int) error {
	res, err := svc.db.
		NewUpdate().
		Model((*models.SyncTicket)(nil)).
		Set("status = ?", models.TicketStatusDone).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", ticketID).
		Where("status = ?", models.TicketStatusInFlight).
		Where("updated_at = claimed_at").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected > 0 {
		return nil
	}

	_, err = svc.db.
		NewUpdate().
		Model((*models.SyncTicket)(nil)).
		Set("status = ?", models.TicketStatusQueued).
		Set("claimed_at = NULL").
		Set("claimed_by = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", ticketID).
		Where("status = ?", models.TicketStatusInFlight).
		Exec(ctx)
	return errors.WithStack(err)
}

// Fail records a delivery failure. Below the retry ceiling the ticket
// returns to queued with an exponential backoff delay; at the ceiling it
// transitions to dead and is never silently dropped (the failed ledger row
// stays visible). Rate-limit failures wait out the longer rate-limit
// backoff.
func (svc *Service) Fail(ctx context.Context, ticket *models.SyncTicket, failure error, rateLimited bool) error {
	now := time.Now()

	ticket.AttemptCount++
	msg := failure.Error()
	ticket.LastError = &msg

	if ticket.AttemptCount >= svc.maxAttempts {
		ticket.Status = models.TicketStatusDead
		ticket.RequeueAt = nil
	} else {
		requeueAt := now.Add(svc.backoff(ticket.AttemptCount, rateLimited))
		ticket.Status = models.TicketStatusQueued
		ticket.RequeueAt = &requeueAt
	}
	ticket.ClaimedAt = nil
	ticket.ClaimedBy = nil
	ticket.UpdatedAt = now

	_, err := svc.db.
		NewUpdate().
		Model(ticket).
		Column("status", "attempt_count", "requeue_at", "claimed_at", "claimed_by", "last_error", "updated_at").
		WherePK().
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) backoff(attempt int, rateLimited bool) time.Duration {
	delay := svc.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= svc.backoffMax {
			delay = svc.backoffMax
			break
		}
	}
	if rateLimited && delay < svc.rateLimitBackoff {
		delay = svc.rateLimitBackoff
	}
	return delay
}

// SweepStale returns tickets left in_flight beyond the staleness timeout
// back to queued. The holding worker is presumed crashed; this is what
// prevents lost work after a crash mid-delivery.
func (svc *Service) SweepStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-svc.staleTimeout)

	res, err := svc.db.
		NewUpdate().
		Model((*models.SyncTicket)(nil)).
		Set("status = ?", models.TicketStatusQueued).
		Set("claimed_at = NULL").
		Set("claimed_by = NULL").
		Set("updated_at = ?", time.Now()).
		Where("status = ?", models.TicketStatusInFlight).
		Where("claimed_at <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}

	return int(affected), nil
}

func (svc *Service) RetrieveTicket(ctx context.Context, ticketID int) (*models.SyncTicket, error) {
	ticket := &models.SyncTicket{}

	err := svc.db.
		NewSelect().
		Model(ticket).
		Where("st.id = ?", ticketID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Ticket")
		}
		return nil, errors.WithStack(err)
	}

	return ticket, nil
}

func (svc *Service) ListTickets(ctx context.Context, opts ListTicketsOptions) ([]*models.SyncTicket, error) {
	tickets := []*models.SyncTicket{}

	q := svc.db.
		NewSelect().
		Model(&tickets).
		Order("st.priority DESC", "st.enqueued_at ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.AccountID != nil {
		q = q.Where("st.account_id = ?", *opts.AccountID)
	}
	if opts.Statuses != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, s := range opts.Statuses {
				sq = sq.WhereOr("st.status = ?", s)
			}
			return sq
		})
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return tickets, nil
}

func (svc *Service) QueueStats(ctx context.Context, accountID *int) (*Stats, error) {
	rows := []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}{}

	q := svc.db.
		NewSelect().
		Model((*models.SyncTicket)(nil)).
		ColumnExpr("status, COUNT(*) AS count").
		Group("status")

	if accountID != nil {
		q = q.Where("account_id = ?", *accountID)
	}

	err := q.Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	stats := &Stats{}
	for _, row := range rows {
		switch row.Status {
		case models.TicketStatusQueued:
			stats.Queued = row.Count
		case models.TicketStatusInFlight:
			stats.InFlight = row.Count
		case models.TicketStatusDone:
			stats.Done = row.Count
		case models.TicketStatusDead:
			stats.Dead = row.Count
		}
	}

	return stats, nil
}
