package content

import (
	"context"
	"database/sql"
	"time"

	"github.com/inkmirror/inkmirror/pkg/errcodes"
	"github.com/inkmirror/inkmirror/pkg/fingerprint"
	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/inkmirror/inkmirror/pkg/quota"
	"github.com/inkmirror/inkmirror/pkg/targets"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// ErrContentGone is returned by LoadPayload when the ticket's content item
// no longer exists. The dispatcher retires such tickets since there is
// nothing left to deliver.
var ErrContentGone = errors.New("content item gone")

// Enqueuer is the fan-out the intake paths call when content becomes ready.
type Enqueuer interface {
	EnqueueForTargets(ctx context.Context, accountID int, itemType string, itemID int, priority int) (int, error)
}

type UpsertNotebookOptions struct {
	AccountID    int
	DeviceID     string
	Title        string
	Path         string
	PageCount    int
	LastOpenedAt *time.Time
}

type RegisterPageOptions struct {
	AccountID  int
	NotebookID int
	PageNumber int
}

type CompletePageOCROptions struct {
	AccountID  int
	NotebookID int
	PageNumber int
	Text       string
}

type CreateTodoOptions struct {
	AccountID  int
	NotebookID int
	PageNumber int
	Text       string
	Checked    bool
}

type CreateHighlightOptions struct {
	AccountID  int
	NotebookID int
	PageNumber int
	Text       string
	Color      *string
}

type Service struct {
	db           *bun.DB
	quotaService *quota.Service
	enqueuer     Enqueuer
}

func NewService(db *bun.DB, quotaService *quota.Service, enqueuer Enqueuer) *Service {
	return &Service{
		db:           db,
		quotaService: quotaService,
		enqueuer:     enqueuer,
	}
}

// UpsertNotebook records a notebook observed in the sync folder. When the
// tracked metadata fields change, the metadata lane is enqueued; content
// lanes are untouched so a retitle never re-delivers page text.
func (svc *Service) UpsertNotebook(ctx context.Context, opts UpsertNotebookOptions) (*models.Notebook, error) {
	now := time.Now()

	existing := &models.Notebook{}
	err := svc.db.
		NewSelect().
		Model(existing).
		Where("n.account_id = ?", opts.AccountID).
		Where("n.device_id = ?", opts.DeviceID).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}
	isNew := errors.Is(err, sql.ErrNoRows)

	notebook := &models.Notebook{
		CreatedAt:    now,
		UpdatedAt:    now,
		AccountID:    opts.AccountID,
		DeviceID:     opts.DeviceID,
		Title:        opts.Title,
		Path:         opts.Path,
		PageCount:    opts.PageCount,
		LastOpenedAt: opts.LastOpenedAt,
	}

	_, err = svc.db.
		NewInsert().
		Model(notebook).
		On("CONFLICT (account_id, device_id) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Set("title = EXCLUDED.title").
		Set("path = EXCLUDED.path").
		Set("page_count = EXCLUDED.page_count").
		Set("last_opened_at = EXCLUDED.last_opened_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	newPrint := fingerprint.NotebookMetadata(opts.Title, opts.Path, opts.PageCount, opts.LastOpenedAt)
	if !isNew {
		oldPrint := fingerprint.NotebookMetadata(existing.Title, existing.Path, existing.PageCount, existing.LastOpenedAt)
		if oldPrint == newPrint {
			return notebook, nil
		}
	}

	_, err = svc.enqueuer.EnqueueForTargets(ctx, opts.AccountID, models.ItemTypeNotebookMetadata, notebook.ID, models.PriorityNormal)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return notebook, nil
}

// NotebookByDeviceID returns the notebook the device-sync folder knows by
// deviceID, or nil when it has not been seen yet.
func (svc *Service) NotebookByDeviceID(ctx context.Context, accountID int, deviceID string) (*models.Notebook, error) {
	notebook := &models.Notebook{}

	err := svc.db.
		NewSelect().
		Model(notebook).
		Where("n.account_id = ?", accountID).
		Where("n.device_id = ?", deviceID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}

	return notebook, nil
}

// RegisterPage records that a page exists and decides, via the quota gate,
// whether its OCR may proceed now or must wait for the next period. The
// check never consumes quota; consumption is committed when the OCR result
// arrives.
func (svc *Service) RegisterPage(ctx context.Context, opts RegisterPageOptions) (*models.Page, error) {
	now := time.Now()

	decision, err := svc.quotaService.Check(ctx, opts.AccountID, models.QuotaTypeOCRPages, 1)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	status := models.OCRStatusPending
	if !decision.Allowed {
		status = models.OCRStatusDeferred
	}

	page := &models.Page{
		CreatedAt:  now,
		UpdatedAt:  now,
		AccountID:  opts.AccountID,
		NotebookID: opts.NotebookID,
		PageNumber: opts.PageNumber,
		OCRStatus:  status,
	}

	_, err = svc.db.
		NewInsert().
		Model(page).
		On("CONFLICT (notebook_id, page_number) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return page, nil
}

// CompletePageOCR stores an OCR result and commits the consumed quota unit.
// If the commit loses a race for the last unit, the text is kept but the
// page is parked deferred; the release pass finishes it after the reset.
// The returned error is quota.ErrExceedsLimit in that case so the intake
// layer can tell the pipeline to stop sending.
func (svc *Service) CompletePageOCR(ctx context.Context, opts CompletePageOCROptions) (*models.Page, error) {
	now := time.Now()

	page := &models.Page{
		CreatedAt:  now,
		UpdatedAt:  now,
		AccountID:  opts.AccountID,
		NotebookID: opts.NotebookID,
		PageNumber: opts.PageNumber,
		OCRStatus:  models.OCRStatusPending,
	}
	_, err := svc.db.
		NewInsert().
		Model(page).
		On("CONFLICT (notebook_id, page_number) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	commitErr := svc.quotaService.Commit(ctx, opts.AccountID, models.QuotaTypeOCRPages, 1)
	if commitErr != nil && !errors.Is(commitErr, quota.ErrExceedsLimit) {
		return nil, errors.WithStack(commitErr)
	}

	status := models.OCRStatusComplete
	var completedAt *time.Time
	if commitErr != nil {
		status = models.OCRStatusDeferred
	} else {
		completedAt = &now
	}

	page.OCRText = opts.Text
	page.OCRStatus = status
	page.OCRCompletedAt = completedAt
	page.UpdatedAt = now

	_, err = svc.db.
		NewUpdate().
		Model(page).
		Column("ocr_text", "ocr_status", "ocr_completed_at", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if commitErr != nil {
		return page, commitErr
	}

	_, err = svc.enqueuer.EnqueueForTargets(ctx, opts.AccountID, models.ItemTypePageText, page.ID, models.PriorityNormal)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return page, nil
}

// ReleaseDeferred finishes pages parked by quota denial, newest first, until
// the current period's remaining quota runs out. Recent work is
// deliberately prioritized over stale backlog. Returns how many pages were
// released.
func (svc *Service) ReleaseDeferred(ctx context.Context, accountID int) (int, error) {
	now := time.Now()

	pages := []*models.Page{}
	err := svc.db.
		NewSelect().
		Model(&pages).
		Where("p.account_id = ?", accountID).
		Where("p.ocr_status = ?", models.OCRStatusDeferred).
		Order("p.created_at DESC", "p.id DESC").
		Scan(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	released := 0
	for _, page := range pages {
		if page.OCRText != "" {
			// The result arrived before the quota did; commit the unit it
			// consumed and publish it now.
			err := svc.quotaService.Commit(ctx, accountID, models.QuotaTypeOCRPages, 1)
			if errors.Is(err, quota.ErrExceedsLimit) {
				break
			}
			if err != nil {
				return released, errors.WithStack(err)
			}
			page.OCRStatus = models.OCRStatusComplete
			page.OCRCompletedAt = &now
		} else {
			// Still needs transcription; quota is committed when the result
			// arrives, so only check here.
			decision, err := svc.quotaService.Check(ctx, accountID, models.QuotaTypeOCRPages, 1)
			if err != nil {
				return released, errors.WithStack(err)
			}
			if !decision.Allowed {
				break
			}
			page.OCRStatus = models.OCRStatusPending
		}
		page.UpdatedAt = now

		_, err = svc.db.
			NewUpdate().
			Model(page).
			Column("ocr_status", "ocr_completed_at", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return released, errors.WithStack(err)
		}

		if page.OCRStatus == models.OCRStatusComplete {
			_, err = svc.enqueuer.EnqueueForTargets(ctx, accountID, models.ItemTypePageText, page.ID, models.PriorityNormal)
			if err != nil {
				return released, errors.WithStack(err)
			}
		}

		released++
	}

	return released, nil
}

// AccountsWithDeferred lists accounts holding deferred pages, for the
// periodic release pass.
func (svc *Service) AccountsWithDeferred(ctx context.Context) ([]int, error) {
	accountIDs := []int{}

	err := svc.db.
		NewSelect().
		Model((*models.Page)(nil)).
		ColumnExpr("DISTINCT p.account_id").
		Where("p.ocr_status = ?", models.OCRStatusDeferred).
		Scan(ctx, &accountIDs)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return accountIDs, nil
}

func (svc *Service) CreateTodo(ctx context.Context, opts CreateTodoOptions) (*models.Todo, error) {
	now := time.Now()

	todo := &models.Todo{
		CreatedAt:  now,
		UpdatedAt:  now,
		AccountID:  opts.AccountID,
		NotebookID: opts.NotebookID,
		PageNumber: opts.PageNumber,
		Text:       opts.Text,
		Checked:    opts.Checked,
	}

	_, err := svc.db.
		NewInsert().
		Model(todo).
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	_, err = svc.enqueuer.EnqueueForTargets(ctx, opts.AccountID, models.ItemTypeTodo, todo.ID, models.PriorityNormal)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return todo, nil
}

func (svc *Service) UpdateTodo(ctx context.Context, accountID, todoID int, text *string, checked *bool) (*models.Todo, error) {
	todo := &models.Todo{}
	err := svc.db.
		NewSelect().
		Model(todo).
		Where("t.id = ?", todoID).
		Where("t.account_id = ?", accountID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Todo")
		}
		return nil, errors.WithStack(err)
	}

	if text != nil {
		todo.Text = *text
	}
	if checked != nil {
		todo.Checked = *checked
	}
	todo.UpdatedAt = time.Now()

	_, err = svc.db.
		NewUpdate().
		Model(todo).
		Column("text", "checked", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	_, err = svc.enqueuer.EnqueueForTargets(ctx, accountID, models.ItemTypeTodo, todo.ID, models.PriorityNormal)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return todo, nil
}

func (svc *Service) CreateHighlight(ctx context.Context, opts CreateHighlightOptions) (*models.Highlight, error) {
	now := time.Now()

	highlight := &models.Highlight{
		CreatedAt:  now,
		UpdatedAt:  now,
		AccountID:  opts.AccountID,
		NotebookID: opts.NotebookID,
		PageNumber: opts.PageNumber,
		Text:       opts.Text,
		Color:      opts.Color,
	}

	_, err := svc.db.
		NewInsert().
		Model(highlight).
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	_, err = svc.enqueuer.EnqueueForTargets(ctx, opts.AccountID, models.ItemTypeHighlight, highlight.ID, models.PriorityNormal)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return highlight, nil
}

func (svc *Service) ListNotebooks(ctx context.Context, accountID int) ([]*models.Notebook, error) {
	notebooks := []*models.Notebook{}

	err := svc.db.
		NewSelect().
		Model(&notebooks).
		Where("n.account_id = ?", accountID).
		Order("n.title ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return notebooks, nil
}

func (svc *Service) RetrieveNotebook(ctx context.Context, accountID, notebookID int) (*models.Notebook, error) {
	notebook := &models.Notebook{}

	err := svc.db.
		NewSelect().
		Model(notebook).
		Relation("Pages").
		Where("n.id = ?", notebookID).
		Where("n.account_id = ?", accountID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Notebook")
		}
		return nil, errors.WithStack(err)
	}

	return notebook, nil
}

// LoadPayload resolves a ticket's content item into the adapter payload and
// its current fingerprint. The fingerprint is computed at dispatch time, so
// a ticket claimed after two rapid edits always carries the latest content.
func (svc *Service) LoadPayload(ctx context.Context, itemType string, itemID int) (*targets.Payload, string, error) {
	switch itemType {
	case models.ItemTypePageText:
		page := &models.Page{}
		err := svc.db.
			NewSelect().
			Model(page).
			Relation("Notebook").
			Where("p.id = ?", itemID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, "", errors.WithStack(ErrContentGone)
			}
			return nil, "", errors.WithStack(err)
		}
		if page.OCRStatus != models.OCRStatusComplete {
			return nil, "", errors.WithStack(ErrContentGone)
		}

		payload := &targets.Payload{
			ItemType:      itemType,
			NotebookTitle: notebookTitle(page.Notebook),
			PageNumber:    page.PageNumber,
			Body:          page.OCRText,
		}
		return payload, fingerprint.PageText(page.NotebookID, page.PageNumber, page.OCRText), nil

	case models.ItemTypeTodo:
		todo := &models.Todo{}
		err := svc.db.
			NewSelect().
			Model(todo).
			Where("t.id = ?", itemID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, "", errors.WithStack(ErrContentGone)
			}
			return nil, "", errors.WithStack(err)
		}

		notebook, err := svc.notebookByID(ctx, todo.NotebookID)
		if err != nil {
			return nil, "", errors.WithStack(err)
		}

		payload := &targets.Payload{
			ItemType:      itemType,
			NotebookTitle: notebookTitle(notebook),
			PageNumber:    todo.PageNumber,
			Body:          todo.Text,
			Checked:       &todo.Checked,
		}
		return payload, fingerprint.Todo(todo.NotebookID, todo.PageNumber, todo.Text), nil

	case models.ItemTypeHighlight:
		highlight := &models.Highlight{}
		err := svc.db.
			NewSelect().
			Model(highlight).
			Where("h.id = ?", itemID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, "", errors.WithStack(ErrContentGone)
			}
			return nil, "", errors.WithStack(err)
		}

		notebook, err := svc.notebookByID(ctx, highlight.NotebookID)
		if err != nil {
			return nil, "", errors.WithStack(err)
		}

		payload := &targets.Payload{
			ItemType:      itemType,
			NotebookTitle: notebookTitle(notebook),
			PageNumber:    highlight.PageNumber,
			Body:          highlight.Text,
		}
		return payload, fingerprint.Highlight(highlight.NotebookID, highlight.PageNumber, highlight.Text), nil

	case models.ItemTypeNotebookMetadata:
		notebook, err := svc.notebookByID(ctx, itemID)
		if err != nil {
			return nil, "", errors.WithStack(err)
		}

		payload := &targets.Payload{
			ItemType:      itemType,
			NotebookTitle: notebook.Title,
			Title:         notebook.Title,
			Body:          notebook.Path,
		}
		print := fingerprint.NotebookMetadata(notebook.Title, notebook.Path, notebook.PageCount, notebook.LastOpenedAt)
		return payload, print, nil

	default:
		return nil, "", errors.Errorf("unknown item type: %s", itemType)
	}
}

func (svc *Service) notebookByID(ctx context.Context, notebookID int) (*models.Notebook, error) {
	notebook := &models.Notebook{}

	err := svc.db.
		NewSelect().
		Model(notebook).
		Where("n.id = ?", notebookID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithStack(ErrContentGone)
		}
		return nil, errors.WithStack(err)
	}

	return notebook, nil
}

func notebookTitle(notebook *models.Notebook) string {
	if notebook == nil {
		return ""
	}
	return notebook.Title
}
