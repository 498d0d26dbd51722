package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Todo is a checkbox item extracted from a page's OCR text.
type Todo struct {
	bun.BaseModel `bun:"table:todos,alias:t"`

	ID         int       `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AccountID  int       `bun:",nullzero" json:"account_id"`
	NotebookID int       `bun:",nullzero" json:"notebook_id"`
	PageNumber int       `json:"page_number"`
	Text       string    `bun:",nullzero" json:"text"`
	Checked    bool      `json:"checked"`
}
