package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/inkmirror/inkmirror/pkg/config"
	"github.com/inkmirror/inkmirror/pkg/content"
	"github.com/inkmirror/inkmirror/pkg/ledger"
	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/inkmirror/inkmirror/pkg/quota"
	"github.com/inkmirror/inkmirror/pkg/sync"
	"github.com/inkmirror/inkmirror/pkg/syncqueue"
	"github.com/inkmirror/inkmirror/pkg/targets"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

var processID = randStringBytes(8)

// Dispatcher is the worker pool that drains the sync queue. A fetch loop
// claims ticket batches under this process's id and feeds a fixed pool of
// goroutines; a maintenance loop sweeps stale claims and releases deferred
// OCR backlog after quota resets. Multiple dispatcher processes can run
// against the same database; the queue's conditional claim keeps them from
// colliding.
type Dispatcher struct {
	config *config.Config
	log    logger.Logger

	contentService *content.Service
	ledgerService  *ledger.Service
	queueService   *syncqueue.Service
	targetService  *targets.Service
	registry       *targets.Registry

	queue          chan *models.SyncTicket
	shutdown       chan struct{}
	doneFetching   chan struct{}
	doneSweeping   chan struct{}
	doneProcessing chan struct{}
}

func New(cfg *config.Config, db *bun.DB, registry *targets.Registry) *Dispatcher {
	targetService := targets.NewService(db)
	queueService := syncqueue.NewService(db, cfg)
	quotaService := quota.NewService(db, cfg)
	enqueuer := sync.NewEnqueuer(targetService, registry, queueService)
	contentService := content.NewService(db, quotaService, enqueuer)

	return &Dispatcher{
		config: cfg,
		log:    logger.New(),

		contentService: contentService,
		ledgerService:  ledger.NewService(db),
		queueService:   queueService,
		targetService:  targetService,
		registry:       registry,

		queue:          make(chan *models.SyncTicket, cfg.DispatchBatchSize),
		shutdown:       make(chan struct{}),
		doneFetching:   make(chan struct{}),
		doneSweeping:   make(chan struct{}),
		doneProcessing: make(chan struct{}, cfg.WorkerProcesses),
	}
}

func (d *Dispatcher) Start() {
	go d.fetchTickets()
	go d.maintain()
	for i := 0; i < d.config.WorkerProcesses; i++ {
		go d.processTickets()
	}
}

func (d *Dispatcher) Shutdown() {
	close(d.shutdown)

	<-d.doneFetching
	<-d.doneSweeping
	for i := 0; i < d.config.WorkerProcesses; i++ {
		<-d.doneProcessing
	}
}

func (d *Dispatcher) fetchTickets() {
	timer := time.NewTimer(d.config.DispatchInterval)

	for {
		select {
		case <-d.shutdown:
			// We're shutting down, so stop claiming more tickets.
			d.doneFetching <- struct{}{}
			return
		case <-timer.C:
			tickets, err := d.queueService.DequeueBatch(context.Background(), processID, d.config.DispatchBatchSize)
			if err != nil {
				d.log.Err(err).Error("dequeue batch error")
				timer.Reset(d.config.DispatchInterval)
				continue
			}
			for _, ticket := range tickets {
				d.queue <- ticket
			}
			timer.Reset(d.config.DispatchInterval)
		}
	}
}

func (d *Dispatcher) processTickets() {
	for {
		select {
		case <-d.shutdown:
			d.doneProcessing <- struct{}{}
			return
		case ticket := <-d.queue:
			id, err := uuid.NewRandom()
			if err != nil {
				d.log.Err(err).Error("new uuid error")
				continue
			}
			log := d.log.ID(id.String()).Root(logger.Data{
				"ticket_id":   ticket.ID,
				"item_type":   ticket.ItemType,
				"item_id":     ticket.ItemID,
				"target_name": ticket.TargetName,
				"process_id":  processID,
			})
			ctx := log.WithContext(context.Background())

			if err := d.Dispatch(ctx, ticket); err != nil {
				log.Err(err).Error("dispatch error")
			}
		}
	}
}

// maintain runs the periodic maintenance passes: returning stale in-flight
// claims to the queue and finishing deferred OCR pages once quota allows.
func (d *Dispatcher) maintain() {
	sweepTimer := time.NewTimer(d.config.SweepInterval)
	quotaTimer := time.NewTimer(d.config.QuotaSweepInterval)

	for {
		select {
		case <-d.shutdown:
			d.doneSweeping <- struct{}{}
			return
		case <-sweepTimer.C:
			swept, err := d.queueService.SweepStale(context.Background())
			if err != nil {
				d.log.Err(err).Error("sweep stale error")
			} else if swept > 0 {
				d.log.Info("returned stale tickets to queue", logger.Data{"count": swept})
			}
			sweepTimer.Reset(d.config.SweepInterval)
		case <-quotaTimer.C:
			d.releaseDeferred(context.Background())
			quotaTimer.Reset(d.config.QuotaSweepInterval)
		}
	}
}

func (d *Dispatcher) releaseDeferred(ctx context.Context) {
	accountIDs, err := d.contentService.AccountsWithDeferred(ctx)
	if err != nil {
		d.log.Err(err).Error("list deferred accounts error")
		return
	}

	for _, accountID := range accountIDs {
		released, err := d.contentService.ReleaseDeferred(ctx, accountID)
		if err != nil {
			d.log.Err(err).Error("release deferred error", logger.Data{"account_id": accountID})
			continue
		}
		if released > 0 {
			d.log.Info("released deferred pages", logger.Data{"account_id": accountID, "count": released})
		}
	}
}

// Dispatch runs the per-ticket state machine on a claimed ticket:
// load and fingerprint the content, skip if the ledger already has this
// fingerprint delivered, otherwise invoke the adapter and record the
// outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, ticket *models.SyncTicket) error {
	payload, print, err := d.contentService.LoadPayload(ctx, ticket.ItemType, ticket.ItemID)
	if errors.Is(err, content.ErrContentGone) {
		// Nothing left to deliver.
		return d.queueService.Complete(ctx, ticket.ID)
	}
	if err != nil {
		return d.failTicket(ctx, ticket, print, err, false)
	}

	record, err := d.ledgerService.Lookup(ctx, ticket.AccountID, ticket.ItemType, ticket.ItemID, ticket.TargetName)
	if err != nil {
		return errors.WithStack(err)
	}
	if ledger.ShouldSkip(record, print) {
		return d.queueService.Complete(ctx, ticket.ID)
	}

	adapter, ok := d.registry.Lookup(ticket.TargetName)
	if !ok {
		return d.failTicket(ctx, ticket, print, &targets.PermanentError{Reason: "unknown target " + ticket.TargetName}, false)
	}

	target, err := d.targetService.RetrieveTarget(ctx, ticket.AccountID, ticket.TargetName)
	if err != nil {
		return d.failTicket(ctx, ticket, print, err, false)
	}
	if !target.Enabled {
		// The catch-up scan on re-enable picks this item back up.
		return d.queueService.Complete(ctx, ticket.ID)
	}

	var externalID *string
	if record != nil {
		externalID = record.ExternalID
	}

	deliverCtx, cancel := context.WithTimeout(ctx, d.config.DeliverTimeout)
	outcome, err := adapter.Deliver(deliverCtx, targets.Credentials(target.CredentialsParsed), externalID, *payload)
	cancel()

	switch {
	case err == nil:
		now := time.Now()
		err := d.ledgerService.Upsert(ctx, &models.DeliveryRecord{
			AccountID:          ticket.AccountID,
			ItemType:           ticket.ItemType,
			ItemID:             ticket.ItemID,
			TargetName:         ticket.TargetName,
			ContentFingerprint: print,
			ExternalID:         &outcome.ExternalID,
			Status:             models.DeliveryStatusSuccess,
			RetryCount:         ticket.AttemptCount,
			DeliveredAt:        &now,
		})
		if err != nil {
			return errors.WithStack(err)
		}
		return d.queueService.Complete(ctx, ticket.ID)

	case errors.Is(err, targets.ErrObjectGone):
		// The object we delivered to no longer exists at the target. Drop
		// the stale reference so the retry creates a fresh object instead of
		// erroring forever against a dead one. Only this signal clears the
		// external id; transient failures keep it.
		return d.failTicketWithExternalID(ctx, ticket, print, nil, err, false)

	case targets.IsRateLimited(err):
		return d.failTicket(ctx, ticket, print, err, true)

	default:
		return d.failTicket(ctx, ticket, print, err, false)
	}
}

// failTicket records the failure in the ledger and applies the queue's retry
// policy. The fingerprint of the failed attempt is kept in the ledger so a
// later content change is still detected as different. The prior external id
// is preserved.
func (d *Dispatcher) failTicket(ctx context.Context, ticket *models.SyncTicket, print string, failure error, rateLimited bool) error {
	var externalID *string
	record, err := d.ledgerService.Lookup(ctx, ticket.AccountID, ticket.ItemType, ticket.ItemID, ticket.TargetName)
	if err != nil {
		return errors.WithStack(err)
	}
	if record != nil {
		externalID = record.ExternalID
		if print == "" {
			// Load-stage failures never fingerprinted the content; keep the
			// ledger's last known fingerprint rather than writing none.
			print = record.ContentFingerprint
		}
	}

	return d.failTicketWithExternalID(ctx, ticket, print, externalID, failure, rateLimited)
}

func (d *Dispatcher) failTicketWithExternalID(ctx context.Context, ticket *models.SyncTicket, print string, externalID *string, failure error, rateLimited bool) error {
	msg := failure.Error()

	// A failure before fingerprinting, with no prior ledger row to carry the
	// fingerprint forward, has nothing valid to record; the ticket's retry
	// state is the whole story until a delivery is actually attempted.
	if print != "" {
		err := d.ledgerService.Upsert(ctx, &models.DeliveryRecord{
			AccountID:          ticket.AccountID,
			ItemType:           ticket.ItemType,
			ItemID:             ticket.ItemID,
			TargetName:         ticket.TargetName,
			ContentFingerprint: print,
			ExternalID:         externalID,
			Status:             models.DeliveryStatusFailed,
			RetryCount:         ticket.AttemptCount + 1,
			ErrorMessage:       &msg,
		})
		if err != nil {
			return errors.WithStack(err)
		}
	}

	if err := d.queueService.Fail(ctx, ticket, failure, rateLimited); err != nil {
		return errors.WithStack(err)
	}

	if ticket.Status == models.TicketStatusDead {
		logger.FromContext(ctx).Error("ticket exhausted retries", logger.Data{
			"attempts": ticket.AttemptCount,
			"error":    msg,
		})
	}

	return nil
}

const letterBytes = "abcdef0123456789"

func randStringBytes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return string(b)
}
