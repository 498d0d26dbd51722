package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Highlight is a marked passage extracted from a page's OCR text.
type Highlight struct {
	bun.BaseModel `bun:"table:highlights,alias:h"`

	ID         int       `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AccountID  int       `bun:",nullzero" json:"account_id"`
	NotebookID int       `bun:",nullzero" json:"notebook_id"`
	PageNumber int       `json:"page_number"`
	Text       string    `bun:",nullzero" json:"text"`
	Color      *string   `json:"color,omitempty"`
}
