package quota

import (
	"context"
	"database/sql"
	"time"

	"github.com/inkmirror/inkmirror/pkg/config"
	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// ErrExceedsLimit is returned by Commit when the increment would push usage
// past the limit. The conditional update makes Commit the atomic arbiter, so
// two operations racing over the last unit of quota can both pass Check but
// only one Commit lands.
var ErrExceedsLimit = errors.New("quota commit exceeds limit")

// Decision is the answer to "may this unit of work proceed".
type Decision struct {
	Allowed bool      `json:"allowed"`
	Used    int       `json:"used"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

type Service struct {
	db           *bun.DB
	defaultLimit int
	period       time.Duration
}

func NewService(db *bun.DB, cfg *config.Config) *Service {
	return &Service{
		db:           db,
		defaultLimit: cfg.QuotaOCRPagesLimit,
		period:       cfg.QuotaPeriod,
	}
}

// Check reports whether amount more units may be consumed. It must be called
// before the guarded operation starts. Check never mutates usage; the
// consumption itself is recorded by Commit after the operation succeeds.
func (svc *Service) Check(ctx context.Context, accountID int, quotaType string, amount int) (*Decision, error) {
	usage, err := svc.currentUsage(ctx, accountID, quotaType)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &Decision{
		Allowed: usage.Used+amount <= usage.Limit,
		Used:    usage.Used,
		Limit:   usage.Limit,
		ResetAt: usage.ResetAt,
	}, nil
}

// Commit records that amount units were consumed. Call it only after the
// guarded operation has verifiably succeeded; never speculatively. The
// increment is a single conditional update so concurrent commits can never
// push used past the limit.
func (svc *Service) Commit(ctx context.Context, accountID int, quotaType string, amount int) error {
	usage, err := svc.currentUsage(ctx, accountID, quotaType)
	if err != nil {
		return errors.WithStack(err)
	}

	res, err := svc.db.NewUpdate().
		Model((*models.QuotaUsage)(nil)).
		Set("used = used + ?", amount).
		Set("updated_at = ?", time.Now()).
		Where("account_id = ?", accountID).
		Where("quota_type = ?", quotaType).
		Where("used + ? <= quota_limit", amount).
		Where("reset_at = ?", usage.ResetAt).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected == 0 {
		return errors.WithStack(ErrExceedsLimit)
	}

	return nil
}

// Status returns the account's current usage row for dashboards and for the
// HTTP layer's quota-denied responses.
func (svc *Service) Status(ctx context.Context, accountID int, quotaType string) (*models.QuotaUsage, error) {
	return svc.currentUsage(ctx, accountID, quotaType)
}

// currentUsage loads the usage row, creating it with defaults on first use
// and rolling the period over when reset_at has passed.
func (svc *Service) currentUsage(ctx context.Context, accountID int, quotaType string) (*models.QuotaUsage, error) {
	now := time.Now()

	usage := &models.QuotaUsage{}
	err := svc.db.NewSelect().
		Model(usage).
		Where("qu.account_id = ?", accountID).
		Where("qu.quota_type = ?", quotaType).
		Scan(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithStack(err)
		}

		usage = &models.QuotaUsage{
			CreatedAt:   now,
			UpdatedAt:   now,
			AccountID:   accountID,
			QuotaType:   quotaType,
			Limit:       svc.defaultLimit,
			Used:        0,
			PeriodStart: now,
			ResetAt:     now.Add(svc.period),
		}

		// Another caller may create the row first; the conflict clause keeps
		// at most one row per (account_id, quota_type).
		_, err = svc.db.NewInsert().
			Model(usage).
			On("CONFLICT (account_id, quota_type) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		err = svc.db.NewSelect().
			Model(usage).
			Where("qu.account_id = ?", accountID).
			Where("qu.quota_type = ?", quotaType).
			Scan(ctx)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	if !usage.ResetAt.After(now) {
		if err := svc.rollover(ctx, usage, now); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return usage, nil
}

// rollover resets used to 0 and advances the period in one conditional
// update. The reset_at guard means concurrent rollovers apply exactly once.
func (svc *Service) rollover(ctx context.Context, usage *models.QuotaUsage, now time.Time) error {
	periodStart := usage.ResetAt
	resetAt := periodStart.Add(svc.period)
	// Skip whole periods if the account was idle across several of them.
	for !resetAt.After(now) {
		periodStart = resetAt
		resetAt = periodStart.Add(svc.period)
	}

	_, err := svc.db.NewUpdate().
		Model((*models.QuotaUsage)(nil)).
		Set("used = 0").
		Set("period_start = ?", periodStart).
		Set("reset_at = ?", resetAt).
		Set("updated_at = ?", now).
		Where("account_id = ?", usage.AccountID).
		Where("quota_type = ?", usage.QuotaType).
		Where("reset_at = ?", usage.ResetAt).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	err = svc.db.NewSelect().
		Model(usage).
		Where("qu.account_id = ?", usage.AccountID).
		Where("qu.quota_type = ?", usage.QuotaType).
		Scan(ctx)
	return errors.WithStack(err)
}
