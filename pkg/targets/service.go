package targets

import (
	"context"
	"database/sql"
	"time"

	"github.com/inkmirror/inkmirror/pkg/errcodes"
	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type ListTargetsOptions struct {
	AccountID   *int
	EnabledOnly bool
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) ListTargets(ctx context.Context, opts ListTargetsOptions) ([]*models.AccountTarget, error) {
	targets := []*models.AccountTarget{}

	q := svc.db.
		NewSelect().
		Model(&targets).
		Order("at.target_name ASC")

	if opts.AccountID != nil {
		q = q.Where("at.account_id = ?", *opts.AccountID)
	}
	if opts.EnabledOnly {
		q = q.Where("at.enabled")
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	for _, target := range targets {
		if err := target.UnmarshalCredentials(); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return targets, nil
}

// ListEnabledTargets returns the enabled targets for an account. This is the
// configuration lookup consumed by the enqueue trigger points; it is fetched
// per call rather than cached process-wide.
func (svc *Service) ListEnabledTargets(ctx context.Context, accountID int) ([]*models.AccountTarget, error) {
	return svc.ListTargets(ctx, ListTargetsOptions{AccountID: &accountID, EnabledOnly: true})
}

func (svc *Service) RetrieveTarget(ctx context.Context, accountID int, targetName string) (*models.AccountTarget, error) {
	target := &models.AccountTarget{}

	err := svc.db.
		NewSelect().
		Model(target).
		Where("at.account_id = ?", accountID).
		Where("at.target_name = ?", targetName).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Target")
		}
		return nil, errors.WithStack(err)
	}

	if err := target.UnmarshalCredentials(); err != nil {
		return nil, errors.WithStack(err)
	}

	return target, nil
}

// UpsertTarget creates or updates the account's configuration row for one
// target, keyed by (account_id, target_name).
func (svc *Service) UpsertTarget(ctx context.Context, target *models.AccountTarget) error {
	now := time.Now()
	if target.CreatedAt.IsZero() {
		target.CreatedAt = now
	}
	target.UpdatedAt = now

	if err := target.MarshalCredentials(); err != nil {
		return errors.WithStack(err)
	}

	_, err := svc.db.
		NewInsert().
		Model(target).
		On("CONFLICT (account_id, target_name) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Set("enabled = EXCLUDED.enabled").
		Set("credentials = EXCLUDED.credentials").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
