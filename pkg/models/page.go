package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	OCRStatusPending  = "pending"
	OCRStatusDeferred = "deferred"
	OCRStatusComplete = "complete"
)

// Page holds the OCR output of one notebook page. Pages whose OCR was denied
// by quota sit in deferred until the quota resets; deferred pages are
// released newest first.
type Page struct {
	bun.BaseModel `bun:"table:pages,alias:p"`

	ID             int        `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	AccountID      int        `bun:",nullzero" json:"account_id"`
	NotebookID     int        `bun:",nullzero" json:"notebook_id"`
	Notebook       *Notebook  `bun:"rel:belongs-to,join:notebook_id=id" json:"notebook,omitempty"`
	PageNumber     int        `json:"page_number"`
	OCRText        string     `bun:"ocr_text" json:"ocr_text"`
	OCRStatus      string     `bun:"ocr_status,nullzero" json:"ocr_status"`
	OCRCompletedAt *time.Time `bun:"ocr_completed_at" json:"ocr_completed_at,omitempty"`
}
