package models

import (
	"time"

	"github.com/uptrace/bun"
)

const QuotaTypeOCRPages = "ocr_pages"

// QuotaUsage tracks a consumable resource for one account over one billing
// period. At most one row exists per (account_id, quota_type); rollover
// resets used to 0 and advances the period in place.
type QuotaUsage struct {
	bun.BaseModel `bun:"table:quota_usage,alias:qu"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	AccountID   int       `bun:",nullzero" json:"account_id"`
	QuotaType   string    `bun:",nullzero" json:"quota_type"`
	Limit       int       `bun:"quota_limit" json:"limit"`
	Used        int       `json:"used"`
	PeriodStart time.Time `json:"period_start"`
	ResetAt     time.Time `json:"reset_at"`
}

func (qu *QuotaUsage) Remaining() int {
	remaining := qu.Limit - qu.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}
