package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailed  = "failed"
)

const (
	ItemTypePageText         = "page_text"
	ItemTypeTodo             = "todo"
	ItemTypeHighlight        = "highlight"
	ItemTypeNotebookMetadata = "notebook_metadata"
)

// ItemTypes lists every content type the engine can deliver.
var ItemTypes = []string{
	ItemTypePageText,
	ItemTypeTodo,
	ItemTypeHighlight,
	ItemTypeNotebookMetadata,
}

// DeliveryRecord is the ledger row recording the delivery outcome of one
// content item to one target. At most one row exists per
// (account_id, item_type, item_id, target_name); that tuple is the
// deduplication key and new attempts update the existing row.
type DeliveryRecord struct {
	bun.BaseModel `bun:"table:delivery_records,alias:dr"`

	ID                 int        `bun:",pk,nullzero" json:"id"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	AccountID          int        `bun:",nullzero" json:"account_id"`
	ItemType           string     `bun:",nullzero" json:"item_type"`
	ItemID             int        `bun:",nullzero" json:"item_id"`
	TargetName         string     `bun:",nullzero" json:"target_name"`
	ContentFingerprint string     `bun:",nullzero" json:"content_fingerprint"`
	ExternalID         *string    `json:"external_id,omitempty"`
	Status             string     `bun:",nullzero" json:"status"`
	RetryCount         int        `json:"retry_count"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
}
