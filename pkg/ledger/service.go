package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type ListRecordsOptions struct {
	Limit      *int
	Offset     *int
	AccountID  *int
	TargetName *string
	ItemType   *string
	Statuses   []string

	includeTotal bool
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// Lookup returns the ledger row for the given tuple, or nil when no delivery
// has ever been attempted.
func (svc *Service) Lookup(ctx context.Context, accountID int, itemType string, itemID int, targetName string) (*models.DeliveryRecord, error) {
	record := &models.DeliveryRecord{}

	err := svc.db.
		NewSelect().
		Model(record).
		Where("dr.account_id = ?", accountID).
		Where("dr.item_type = ?", itemType).
		Where("dr.item_id = ?", itemID).
		Where("dr.target_name = ?", targetName).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}

	return record, nil
}

// Upsert inserts or updates the ledger row keyed by
// (account_id, item_type, item_id, target_name). The uniqueness constraint
// makes this safe when two workers race on the same tuple; the loser's
// update lands on the same row.
func (svc *Service) Upsert(ctx context.Context, record *models.DeliveryRecord) error {
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	_, err := svc.db.
		NewInsert().
		Model(record).
		On("CONFLICT (account_id, item_type, item_id, target_name) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Set("content_fingerprint = EXCLUDED.content_fingerprint").
		Set("external_id = EXCLUDED.external_id").
		Set("status = EXCLUDED.status").
		Set("retry_count = EXCLUDED.retry_count").
		Set("error_message = EXCLUDED.error_message").
		Set("delivered_at = EXCLUDED.delivered_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) ListRecords(ctx context.Context, opts ListRecordsOptions) ([]*models.DeliveryRecord, error) {
	records, _, err := svc.listRecordsWithTotal(ctx, opts)
	return records, errors.WithStack(err)
}

func (svc *Service) ListRecordsWithTotal(ctx context.Context, opts ListRecordsOptions) ([]*models.DeliveryRecord, int, error) {
	opts.includeTotal = true
	return svc.listRecordsWithTotal(ctx, opts)
}

func (svc *Service) listRecordsWithTotal(ctx context.Context, opts ListRecordsOptions) ([]*models.DeliveryRecord, int, error) {
	records := []*models.DeliveryRecord{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&records).
		Order("dr.updated_at DESC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.AccountID != nil {
		q = q.Where("dr.account_id = ?", *opts.AccountID)
	}
	if opts.TargetName != nil {
		q = q.Where("dr.target_name = ?", *opts.TargetName)
	}
	if opts.ItemType != nil {
		q = q.Where("dr.item_type = ?", *opts.ItemType)
	}
	if opts.Statuses != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, s := range opts.Statuses {
				sq = sq.WhereOr("dr.status = ?", s)
			}
			return sq
		})
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return records, total, nil
}

// ShouldSkip is the dispatcher's decision rule: delivery is skipped iff a
// successful record with an unchanged fingerprint exists. Any other
// combination (no record, failed status, different fingerprint) requires an
// attempt.
func ShouldSkip(record *models.DeliveryRecord, fingerprint string) bool {
	return record != nil &&
		record.Status == models.DeliveryStatusSuccess &&
		record.ContentFingerprint == fingerprint
}
