package worker

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/inkmirror/inkmirror/pkg/config"
	"github.com/inkmirror/inkmirror/pkg/content"
	"github.com/inkmirror/inkmirror/pkg/ledger"
	"github.com/inkmirror/inkmirror/pkg/migrations"
	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/inkmirror/inkmirror/pkg/quota"
	"github.com/inkmirror/inkmirror/pkg/sync"
	"github.com/inkmirror/inkmirror/pkg/syncqueue"
	"github.com/inkmirror/inkmirror/pkg/targets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

type deliverCall struct {
	ExternalID *string
	Payload    targets.Payload
}

// fakeAdapter records deliveries and fails with scripted errors, one per
// call, succeeding once the script runs out. onDeliver, when set, runs at
// the start of every call so tests can interleave writes with a delivery.
type fakeAdapter struct {
	name      string
	errs      []error
	nextID    int
	calls     []deliverCall
	onDeliver func(payload targets.Payload)
}

func (a *fakeAdapter) Name() string                 { return a.name }
func (a *fakeAdapter) SupportedItemTypes() []string { return models.ItemTypes }

func (a *fakeAdapter) Deliver(ctx context.Context, creds targets.Credentials, externalID *string, payload targets.Payload) (*targets.Outcome, error) {
	a.calls = append(a.calls, deliverCall{ExternalID: externalID, Payload: payload})

	if a.onDeliver != nil {
		a.onDeliver(payload)
	}

	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	if externalID != nil {
		return &targets.Outcome{ExternalID: *externalID}, nil
	}
	a.nextID++
	return &targets.Outcome{ExternalID: fmt.Sprintf("ext-%d", a.nextID)}, nil
}

func (a *fakeAdapter) ValidateCredentials(ctx context.Context, creds targets.Credentials) (bool, error) {
	return true, nil
}

type dispatcherFixture struct {
	dispatcher     *Dispatcher
	adapter        *fakeAdapter
	contentService *content.Service
	ledgerService  *ledger.Service
	queueService   *syncqueue.Service
	notebook       *models.Notebook
}

func newFixture(t *testing.T, db *bun.DB, cfg *config.Config) *dispatcherFixture {
	t.Helper()
	ctx := context.Background()

	adapter := &fakeAdapter{name: "noteservice"}
	registry := targets.NewRegistry(adapter)

	dispatcher := New(cfg, db, registry)

	account := &models.Account{Name: "tester", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	_, err := db.NewInsert().Model(account).Exec(ctx)
	require.NoError(t, err)

	targetService := targets.NewService(db)
	require.NoError(t, targetService.UpsertTarget(ctx, &models.AccountTarget{
		AccountID:         account.ID,
		TargetName:        "noteservice",
		Enabled:           true,
		CredentialsParsed: map[string]string{"token": "secret"},
	}))

	quotaService := quota.NewService(db, cfg)
	queueService := syncqueue.NewService(db, cfg)
	enqueuer := sync.NewEnqueuer(targetService, registry, queueService)
	contentService := content.NewService(db, quotaService, enqueuer)

	notebook, err := contentService.UpsertNotebook(ctx, content.UpsertNotebookOptions{
		AccountID: account.ID,
		DeviceID:  "nb-001",
		Title:     "Lab Notes",
		Path:      "/sync/lab.note",
		PageCount: 8,
	})
	require.NoError(t, err)

	return &dispatcherFixture{
		dispatcher:     dispatcher,
		adapter:        adapter,
		contentService: contentService,
		ledgerService:  ledger.NewService(db),
		queueService:   queueService,
		notebook:       notebook,
	}
}

func (f *dispatcherFixture) drainOnce(t *testing.T) []*models.SyncTicket {
	t.Helper()

	tickets, err := f.queueService.DequeueBatch(context.Background(), "test-worker", 50)
	require.NoError(t, err)
	for _, ticket := range tickets {
		require.NoError(t, f.dispatcher.Dispatch(context.Background(), ticket))
	}
	return tickets
}

func (f *dispatcherFixture) clearBackoffs(t *testing.T, db *bun.DB) {
	t.Helper()

	_, err := db.
		NewUpdate().
		Model((*models.SyncTicket)(nil)).
		Set("requeue_at = NULL").
		Where("status = ?", models.TicketStatusQueued).
		Exec(context.Background())
	require.NoError(t, err)
}

func TestDispatch_DeliversAndRecordsSuccess(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	f := newFixture(t, db, cfg)
	ctx := context.Background()

	page, err := f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Results inconclusive",
	})
	require.NoError(t, err)

	f.drainOnce(t)

	// Both the metadata lane (from the notebook upsert) and the page lane
	// delivered.
	assert.Len(t, f.adapter.calls, 2)

	record, err := f.ledgerService.Lookup(ctx, 1, models.ItemTypePageText, page.ID, "noteservice")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.DeliveryStatusSuccess, record.Status)
	require.NotNil(t, record.ExternalID)
	assert.NotEmpty(t, *record.ExternalID)
	require.NotNil(t, record.DeliveredAt)

	stats, err := f.queueService.QueueStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 2, stats.Done)
}

func TestDispatch_SkipsUnchangedContent(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	f := newFixture(t, db, cfg)
	ctx := context.Background()

	page, err := f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Results inconclusive",
	})
	require.NoError(t, err)

	f.drainOnce(t)
	callsAfterFirst := len(f.adapter.calls)

	// Re-OCR produces identical text; the ticket completes without an
	// adapter call.
	_, err = f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Results inconclusive",
	})
	require.NoError(t, err)

	f.drainOnce(t)
	assert.Len(t, f.adapter.calls, callsAfterFirst)

	record, err := f.ledgerService.Lookup(ctx, 1, models.ItemTypePageText, page.ID, "noteservice")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusSuccess, record.Status)
}

func TestDispatch_UpdatesInPlaceOnChange(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	f := newFixture(t, db, cfg)
	ctx := context.Background()

	page, err := f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "First draft",
	})
	require.NoError(t, err)
	f.drainOnce(t)

	record, err := f.ledgerService.Lookup(ctx, 1, models.ItemTypePageText, page.ID, "noteservice")
	require.NoError(t, err)
	firstExternalID := *record.ExternalID

	_, err = f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Second draft",
	})
	require.NoError(t, err)
	f.drainOnce(t)

	last := f.adapter.calls[len(f.adapter.calls)-1]
	require.NotNil(t, last.ExternalID)
	assert.Equal(t, firstExternalID, *last.ExternalID)
	assert.Equal(t, "Second draft", last.Payload.Body)

	record, err = f.ledgerService.Lookup(ctx, 1, models.ItemTypePageText, page.ID, "noteservice")
	require.NoError(t, err)
	assert.Equal(t, firstExternalID, *record.ExternalID)
}

func TestDispatch_RapidEditsDeliverLatest(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	f := newFixture(t, db, cfg)
	ctx := context.Background()

	// Two edits land before any dispatch runs. Coalescing leaves one
	// ticket; the dispatch fingerprints at claim time and delivers the
	// latest content exactly once.
	_, err := f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "First draft",
	})
	require.NoError(t, err)
	_, err = f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Second draft",
	})
	require.NoError(t, err)

	f.drainOnce(t)

	bodies := []string{}
	for _, call := range f.adapter.calls {
		if call.Payload.ItemType == models.ItemTypePageText {
			bodies = append(bodies, call.Payload.Body)
		}
	}
	assert.Equal(t, []string{"Second draft"}, bodies)
}

func TestDispatch_EditDuringDeliveryIsRedelivered(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	f := newFixture(t, db, cfg)
	ctx := context.Background()

	_, err := f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "First draft",
	})
	require.NoError(t, err)

	// An edit lands while the first delivery is on the wire. It coalesces
	// into the in-flight ticket, so retiring that ticket as done would lose
	// the edit; it has to go back to queued instead.
	edited := false
	f.adapter.onDeliver = func(payload targets.Payload) {
		if payload.ItemType != models.ItemTypePageText || edited {
			return
		}
		edited = true
		_, err := f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
			AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Second draft",
		})
		require.NoError(t, err)
	}

	f.drainOnce(t)
	f.drainOnce(t)

	bodies := []string{}
	for _, call := range f.adapter.calls {
		if call.Payload.ItemType == models.ItemTypePageText {
			bodies = append(bodies, call.Payload.Body)
		}
	}
	assert.Equal(t, []string{"First draft", "Second draft"}, bodies)

	stats, err := f.queueService.QueueStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 0, stats.InFlight)
}

func TestScanThenDispatch_RecoversAfterDowntime(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	f := newFixture(t, db, cfg)
	ctx := context.Background()

	targetService := targets.NewService(db)
	require.NoError(t, targetService.UpsertTarget(ctx, &models.AccountTarget{
		AccountID:         1,
		TargetName:        "noteservice",
		Enabled:           false,
		CredentialsParsed: map[string]string{"token": "secret"},
	}))

	// Content written during the outage; its tickets retire undelivered.
	page, err := f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Written during the outage",
	})
	require.NoError(t, err)
	todo, err := f.contentService.CreateTodo(ctx, content.CreateTodoOptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Order reagents",
	})
	require.NoError(t, err)

	f.drainOnce(t)
	assert.Empty(t, f.adapter.calls)

	require.NoError(t, targetService.UpsertTarget(ctx, &models.AccountTarget{
		AccountID:         1,
		TargetName:        "noteservice",
		Enabled:           true,
		CredentialsParsed: map[string]string{"token": "secret"},
	}))

	scanner := sync.NewScanner(db, targets.NewRegistry(f.adapter), f.queueService)
	enqueued, err := scanner.ScanAndRequeue(ctx, 1, "noteservice")
	require.NoError(t, err)
	assert.Equal(t, 3, enqueued)

	f.drainOnce(t)

	for _, lookup := range []struct {
		itemType string
		itemID   int
	}{
		{models.ItemTypeNotebookMetadata, f.notebook.ID},
		{models.ItemTypePageText, page.ID},
		{models.ItemTypeTodo, todo.ID},
	} {
		record, err := f.ledgerService.Lookup(ctx, 1, lookup.itemType, lookup.itemID, "noteservice")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, models.DeliveryStatusSuccess, record.Status)
	}

	stats, err := f.queueService.QueueStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 0, stats.InFlight)

	// Everything has a success row now, so a second scan is a no-op.
	enqueued, err = scanner.ScanAndRequeue(ctx, 1, "noteservice")
	require.NoError(t, err)
	assert.Equal(t, 0, enqueued)
}

func TestDispatch_ObjectGoneRecreates(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	f := newFixture(t, db, cfg)
	ctx := context.Background()

	page, err := f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Keep this safe",
	})
	require.NoError(t, err)
	f.drainOnce(t)

	record, err := f.ledgerService.Lookup(ctx, 1, models.ItemTypePageText, page.ID, "noteservice")
	require.NoError(t, err)
	firstExternalID := *record.ExternalID

	// The object is deleted at the target; the next delivery sees the gone
	// signal, then the retry creates a fresh object.
	_, err = f.contentService.CompletePageOCR(ctx, content.CompletePageOCROptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Keep this safer",
	})
	require.NoError(t, err)
	f.adapter.errs = []error{targets.ErrObjectGone}

	f.drainOnce(t)

	record, err = f.ledgerService.Lookup(ctx, 1, models.ItemTypePageText, page.ID, "noteservice")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusFailed, record.Status)
	assert.Nil(t, record.ExternalID)

	f.clearBackoffs(t, db)
	f.drainOnce(t)

	last := f.adapter.calls[len(f.adapter.calls)-1]
	assert.Nil(t, last.ExternalID)

	record, err = f.ledgerService.Lookup(ctx, 1, models.ItemTypePageText, page.ID, "noteservice")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusSuccess, record.Status)
	require.NotNil(t, record.ExternalID)
	assert.NotEqual(t, firstExternalID, *record.ExternalID)
}

func TestDispatch_RateLimitUsesLongerBackoff(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	cfg.RetryBackoffBase = time.Second
	cfg.RateLimitBackoff = time.Hour
	f := newFixture(t, db, cfg)
	ctx := context.Background()

	_, err := f.contentService.CreateTodo(ctx, content.CreateTodoOptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Call the lab",
	})
	require.NoError(t, err)

	f.adapter.errs = []error{nil, &targets.RateLimitedError{}}
	tickets := f.drainOnce(t)

	var todoTicket *models.SyncTicket
	for _, ticket := range tickets {
		if ticket.ItemType == models.ItemTypeTodo {
			todoTicket = ticket
		}
	}
	require.NotNil(t, todoTicket)

	stored, err := f.queueService.RetrieveTicket(ctx, todoTicket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusQueued, stored.Status)
	require.NotNil(t, stored.RequeueAt)
	assert.Greater(t, time.Until(*stored.RequeueAt), 30*time.Minute)
}

func TestDispatch_ExhaustedTicketStaysVisible(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	cfg.MaxDeliveryAttempts = 2
	f := newFixture(t, db, cfg)
	ctx := context.Background()

	todo, err := f.contentService.CreateTodo(ctx, content.CreateTodoOptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Call the lab",
	})
	require.NoError(t, err)

	f.adapter.errs = []error{
		nil, // metadata delivery from the notebook upsert
		&targets.PermanentError{Reason: "integration revoked"},
		&targets.PermanentError{Reason: "integration revoked"},
	}

	f.drainOnce(t)
	f.clearBackoffs(t, db)
	f.drainOnce(t)

	stats, err := f.queueService.QueueStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dead)

	// The dead ticket is paired with a failed ledger row so the outcome is
	// never silently dropped.
	record, err := f.ledgerService.Lookup(ctx, 1, models.ItemTypeTodo, todo.ID, "noteservice")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.DeliveryStatusFailed, record.Status)
	require.NotNil(t, record.ErrorMessage)
	assert.Contains(t, *record.ErrorMessage, "integration revoked")
}

func TestDispatch_LoadFailureKeepsTicketRetryable(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	f := newFixture(t, db, cfg)
	ctx := context.Background()

	// A ticket whose content cannot even be loaded has no fingerprint to
	// record. The failure still flows through the retry policy; it must not
	// wedge the ticket in flight behind a ledger write that cannot succeed.
	require.NoError(t, f.queueService.Enqueue(ctx, syncqueue.EnqueueOptions{
		AccountID:  1,
		ItemType:   "unknown_type",
		ItemID:     99,
		TargetName: "noteservice",
		Priority:   models.PriorityNormal,
	}))

	tickets := f.drainOnce(t)
	var bad *models.SyncTicket
	for _, ticket := range tickets {
		if ticket.ItemType == "unknown_type" {
			bad = ticket
		}
	}
	require.NotNil(t, bad)

	stored, err := f.queueService.RetrieveTicket(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusQueued, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	require.NotNil(t, stored.LastError)

	record, err := f.ledgerService.Lookup(ctx, 1, "unknown_type", 99, "noteservice")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestDispatch_ContentGoneCompletesTicket(t *testing.T) {
	db := newTestDB(t)
	cfg := config.NewForTest()
	f := newFixture(t, db, cfg)
	ctx := context.Background()

	todo, err := f.contentService.CreateTodo(ctx, content.CreateTodoOptions{
		AccountID: 1, NotebookID: f.notebook.ID, PageNumber: 1, Text: "Ephemeral",
	})
	require.NoError(t, err)

	_, err = db.NewDelete().Model((*models.Todo)(nil)).Where("id = ?", todo.ID).Exec(ctx)
	require.NoError(t, err)

	callsBefore := len(f.adapter.calls)
	f.drainOnce(t)

	stats, err := f.queueService.QueueStats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 0, stats.Dead)

	// Only the metadata delivery happened; the deleted todo was skipped.
	assert.Equal(t, callsBefore+1, len(f.adapter.calls))
}
