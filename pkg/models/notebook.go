package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Notebook mirrors one notebook observed in the device sync folder. Content
// (pages, todos, highlights) hangs off it; the metadata fields below are the
// ones tracked by the metadata-only delivery lane.
type Notebook struct {
	bun.BaseModel `bun:"table:notebooks,alias:n"`

	ID           int        `bun:",pk,nullzero" json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	AccountID    int        `bun:",nullzero" json:"account_id"`
	DeviceID     string     `bun:",nullzero" json:"device_id"`
	Title        string     `bun:",nullzero" json:"title"`
	Path         string     `bun:",nullzero" json:"path"`
	PageCount    int        `json:"page_count"`
	LastOpenedAt *time.Time `json:"last_opened_at,omitempty"`

	Pages []*Page `bun:"rel:has-many,join:id=notebook_id" json:"pages,omitempty"`
}
