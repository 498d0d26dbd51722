package sync

import (
	"context"

	"github.com/inkmirror/inkmirror/pkg/syncqueue"
	"github.com/inkmirror/inkmirror/pkg/targets"
	"github.com/pkg/errors"
)

// Enqueuer fans a content event out into sync tickets, one per enabled
// target that supports the item type. It is the single entry point used by
// the OCR-completion, todo-extraction, and metadata-change paths.
type Enqueuer struct {
	targetService *targets.Service
	registry      *targets.Registry
	queueService  *syncqueue.Service
}

func NewEnqueuer(targetService *targets.Service, registry *targets.Registry, queueService *syncqueue.Service) *Enqueuer {
	return &Enqueuer{
		targetService: targetService,
		registry:      registry,
		queueService:  queueService,
	}
}

// EnqueueForTargets enqueues one ticket per enabled target supporting
// itemType and returns how many tickets were enqueued. Target configuration
// is loaded per call so a target enabled a moment ago is picked up by the
// very next event.
func (e *Enqueuer) EnqueueForTargets(ctx context.Context, accountID int, itemType string, itemID int, priority int) (int, error) {
	enabled, err := e.targetService.ListEnabledTargets(ctx, accountID)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	enqueued := 0
	for _, target := range enabled {
		if !e.registry.Supports(target.TargetName, itemType) {
			continue
		}

		err := e.queueService.Enqueue(ctx, syncqueue.EnqueueOptions{
			AccountID:  accountID,
			ItemType:   itemType,
			ItemID:     itemID,
			TargetName: target.TargetName,
			Priority:   priority,
		})
		if err != nil {
			return enqueued, errors.WithStack(err)
		}
		enqueued++
	}

	return enqueued, nil
}
