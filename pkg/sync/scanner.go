package sync

import (
	"context"

	"github.com/inkmirror/inkmirror/pkg/models"
	"github.com/inkmirror/inkmirror/pkg/syncqueue"
	"github.com/inkmirror/inkmirror/pkg/targets"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// Scanner repopulates the queue with content that never reached a target.
// It runs when a target is (re)enabled after downtime or on operator
// request; there is no background loop re-checking already-successful
// content. Tickets are enqueued at catch-up priority so a large backlog
// never starves live edits.
type Scanner struct {
	db           *bun.DB
	registry     *targets.Registry
	queueService *syncqueue.Service
}

func NewScanner(db *bun.DB, registry *targets.Registry, queueService *syncqueue.Service) *Scanner {
	return &Scanner{
		db:           db,
		registry:     registry,
		queueService: queueService,
	}
}

// ScanAndRequeue finds every content item eligible for targetName with no
// successful delivery record and enqueues it. Returns the number of tickets
// enqueued.
func (s *Scanner) ScanAndRequeue(ctx context.Context, accountID int, targetName string) (int, error) {
	total := 0

	for _, itemType := range models.ItemTypes {
		if !s.registry.Supports(targetName, itemType) {
			continue
		}

		ids, err := s.undeliveredIDs(ctx, accountID, itemType, targetName)
		if err != nil {
			return total, errors.WithStack(err)
		}

		for _, id := range ids {
			err := s.queueService.Enqueue(ctx, syncqueue.EnqueueOptions{
				AccountID:  accountID,
				ItemType:   itemType,
				ItemID:     id,
				TargetName: targetName,
				Priority:   models.PriorityCatchUp,
			})
			if err != nil {
				return total, errors.WithStack(err)
			}
			total++
		}
	}

	return total, nil
}

// undeliveredIDs returns the IDs of items of itemType with no success row in
// the ledger for targetName. Failed and pending rows still count as
// undelivered so interrupted catch-ups converge on a later pass.
func (s *Scanner) undeliveredIDs(ctx context.Context, accountID int, itemType, targetName string) ([]int, error) {
	ids := []int{}

	var q *bun.SelectQuery
	var alias string
	switch itemType {
	case models.ItemTypePageText:
		alias = "p"
		q = s.db.
			NewSelect().
			Model((*models.Page)(nil)).
			ColumnExpr("p.id").
			Where("p.account_id = ?", accountID).
			Where("p.ocr_status = ?", models.OCRStatusComplete)
	case models.ItemTypeTodo:
		alias = "t"
		q = s.db.
			NewSelect().
			Model((*models.Todo)(nil)).
			ColumnExpr("t.id").
			Where("t.account_id = ?", accountID)
	case models.ItemTypeHighlight:
		alias = "h"
		q = s.db.
			NewSelect().
			Model((*models.Highlight)(nil)).
			ColumnExpr("h.id").
			Where("h.account_id = ?", accountID)
	case models.ItemTypeNotebookMetadata:
		alias = "n"
		q = s.db.
			NewSelect().
			Model((*models.Notebook)(nil)).
			ColumnExpr("n.id").
			Where("n.account_id = ?", accountID)
	default:
		return nil, errors.Errorf("unknown item type: %s", itemType)
	}

	err := q.
		Join(
			"LEFT JOIN delivery_records AS dr ON dr.account_id = ?.account_id AND dr.item_type = ? AND dr.item_id = ?.id AND dr.target_name = ? AND dr.status = ?",
			bun.Ident(alias), itemType, bun.Ident(alias), targetName, models.DeliveryStatusSuccess,
		).
		Where("dr.id IS NULL").
		OrderExpr("?.id ASC", bun.Ident(alias)).
		Scan(ctx, &ids)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return ids, nil
}
