package mailroute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/mailroute/queue"
	"github.com/rbaliyan/mailroute/store"
	"go.opentelemetry.io/otel/attribute"
)

// DequeueNextStaged pops the most urgent buffered entry and re-reads its
// message. The message is returned as stored; its staged flag was set at
// routing time and is not changed here. An entry whose message was purged
// is dropped and nil is returned.
func (e *engine) DequeueNextStaged(ctx context.Context) (msg *store.Message, err error) {
	if err := e.checkConnected(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, endSpan := e.otel.startSpan(ctx, "mailroute.dequeue")
	defer func() {
		endSpan(err)
		e.otel.record(ctx, opDequeue, time.Since(start), err)
	}()

	item, ok := e.buffer.PopMin()
	if !ok {
		return nil, nil
	}

	msg, err = e.store.FindByID(ctx, item.ID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Debug("dropped stale staging entry", "message_id", item.ID, "rank", item.Rank)
		return nil, nil
	}
	if err != nil {
		// Keep the entry so a transient read failure does not lose it.
		e.buffer.Push(item.Rank, item.ID)
		return nil, fmt.Errorf("read staged message %d: %w", item.ID, translateStoreError(err))
	}

	err = publish(ctx, e, e.events.MessageDequeued, "MessageDequeued", msg.ID, MessageDequeuedEvent{
		MessageID:  msg.ID,
		Rank:       item.Rank,
		DequeuedAt: e.now(),
	})
	return msg, err
}

// PeekStaged returns the buffered entries in dequeue order.
func (e *engine) PeekStaged() []queue.Item {
	return e.buffer.PeekAll()
}

// MarkPriority sets the durable staged flag. The staging buffer is not
// touched, so the message will not be returned by DequeueNextStaged.
func (e *engine) MarkPriority(ctx context.Context, id int64) (bool, error) {
	changed, err := e.mutate(ctx, "mailroute.mark_priority", id, func(ctx context.Context) (bool, error) {
		return e.staged.Stage(ctx, id)
	})
	if err != nil || !changed {
		return changed, err
	}
	msg, err := e.store.FindByID(ctx, id)
	if err != nil {
		// Staged, but the row vanished before the event could describe it.
		return changed, nil
	}
	return changed, publish(ctx, e, e.events.MessageStaged, "MessageStaged", id, MessageStagedEvent{
		MessageID:   id,
		RecipientID: msg.RecipientID,
		Rank:        msg.Rank,
		StagedAt:    e.now(),
	})
}

// UnmarkPriority clears the durable staged flag. Any buffered entry for
// the message is left in place.
func (e *engine) UnmarkPriority(ctx context.Context, id int64) (bool, error) {
	return e.mutate(ctx, "mailroute.unmark_priority", id, func(ctx context.Context) (bool, error) {
		return e.staged.Unstage(ctx, id)
	})
}

// SoftDelete moves a message to the trash. A message already in the trash
// keeps its original deletion time.
func (e *engine) SoftDelete(ctx context.Context, id int64) (bool, error) {
	at := e.now()
	changed, err := e.mutate(ctx, "mailroute.soft_delete", id, func(ctx context.Context) (bool, error) {
		return e.store.SoftDelete(ctx, id, at)
	})
	if err != nil || !changed {
		return changed, err
	}
	return changed, publish(ctx, e, e.events.MessageTrashed, "MessageTrashed", id, MessageTrashedEvent{
		MessageID: id,
		DeletedAt: at,
	})
}

// Restore takes a message out of the trash. Rank and staged flag are
// unchanged.
func (e *engine) Restore(ctx context.Context, id int64) (bool, error) {
	changed, err := e.mutate(ctx, "mailroute.restore", id, func(ctx context.Context) (bool, error) {
		return e.store.Restore(ctx, id)
	})
	if err != nil || !changed {
		return changed, err
	}
	return changed, publish(ctx, e, e.events.MessageRestored, "MessageRestored", id, MessageRestoredEvent{
		MessageID:  id,
		RestoredAt: e.now(),
	})
}

// PermanentDelete removes a message whatever its state. With an archiver
// configured the message is archived first; if archiving fails nothing
// is removed.
func (e *engine) PermanentDelete(ctx context.Context, id int64) (bool, error) {
	changed, err := e.mutate(ctx, "mailroute.permanent_delete", id, func(ctx context.Context) (bool, error) {
		if e.opts.archiver != nil {
			msg, err := e.store.FindByID(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			if _, err := e.archiveOne(ctx, msg, store.ReasonExplicit); err != nil {
				return false, &ArchiveError{Failed: map[int64]error{id: err}}
			}
		}
		return e.store.Purge(ctx, id)
	})
	if err != nil || !changed {
		return changed, err
	}

	e.otel.recordPurged(ctx, store.ReasonExplicit, 1)
	e.plugins.afterPurge(ctx, store.ReasonExplicit, 1)
	return changed, publish(ctx, e, e.events.MessagesPurged, "MessagesPurged", id, MessagesPurgedEvent{
		MessageIDs: []int64{id},
		Count:      1,
		Reason:     store.ReasonExplicit,
		PurgedAt:   e.now(),
	})
}

// mutate runs a single-message write with connection checks, tracing and
// metrics. Non-positive IDs never match a message and report false.
func (e *engine) mutate(ctx context.Context, op string, id int64, fn func(ctx context.Context) (bool, error)) (changed bool, err error) {
	if err := e.checkConnected(); err != nil {
		return false, err
	}
	if id <= 0 {
		return false, nil
	}

	start := time.Now()
	ctx, endSpan := e.otel.startSpan(ctx, op, attribute.Int64("message_id", id))
	defer func() {
		endSpan(err)
		e.otel.record(ctx, opLifecycle, time.Since(start), err, attribute.String("operation", op))
	}()

	changed, err = fn(ctx)
	if err != nil {
		var ae *ArchiveError
		if errors.As(err, &ae) {
			return false, err
		}
		return false, fmt.Errorf("%s %d: %w", op, id, translateStoreError(err))
	}
	e.logger.Debug("message updated", "operation", op, "message_id", id, "changed", changed)
	return changed, nil
}
