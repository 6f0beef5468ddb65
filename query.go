package mailroute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/mailroute/store"
	"go.opentelemetry.io/otel/attribute"
)

// Get returns the message with the given ID, or nil when it does not exist.
func (e *engine) Get(ctx context.Context, id int64) (msg *store.Message, err error) {
	if err := e.checkConnected(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, nil
	}

	start := time.Now()
	ctx, endSpan := e.otel.startSpan(ctx, "mailroute.get", attribute.Int64("message_id", id))
	defer func() {
		endSpan(err)
		e.otel.record(ctx, opGet, time.Since(start), err)
	}()

	msg, err = e.store.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, translateStoreError(err))
	}
	return msg, nil
}

// Inbox returns the recipient's active messages, newest first.
func (e *engine) Inbox(ctx context.Context, recipientID int64) ([]*store.Message, error) {
	return e.list(ctx, "inbox", recipientID, func(ctx context.Context) ([]*store.Message, error) {
		return e.store.ActiveInbox(ctx, recipientID)
	})
}

// Search returns active messages whose subject contains substr, ignoring
// case. A field other than store.FieldSubject returns the whole active
// inbox.
func (e *engine) Search(ctx context.Context, recipientID int64, field store.SearchField, substr string) ([]*store.Message, error) {
	if !field.Searchable() {
		e.logger.Debug("unsupported search field, returning active inbox", "field", string(field))
	}
	return e.list(ctx, "search", recipientID, func(ctx context.Context) ([]*store.Message, error) {
		return e.store.Search(ctx, recipientID, field, substr)
	})
}

// Staged returns durably staged messages by rank then newest first.
func (e *engine) Staged(ctx context.Context, recipientID int64) ([]*store.Message, error) {
	return e.list(ctx, "staged", recipientID, func(ctx context.Context) ([]*store.Message, error) {
		return e.staged.List(ctx, recipientID)
	})
}

// Trash returns messages trashed within the retention window, most
// recently trashed first.
func (e *engine) Trash(ctx context.Context, recipientID int64) ([]*store.Message, error) {
	return e.list(ctx, "trash", recipientID, func(ctx context.Context) ([]*store.Message, error) {
		return e.store.Trash(ctx, recipientID, e.cutoff())
	})
}

// Stats returns per-state counts. Stats does not reclaim first, so it can
// include expired trash that has not been swept yet.
func (e *engine) Stats(ctx context.Context, recipientID int64) (stats *store.Stats, err error) {
	if err := e.checkConnected(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, endSpan := e.otel.startSpan(ctx, "mailroute.stats", attribute.Int64("recipient_id", recipientID))
	defer func() {
		endSpan(err)
		e.otel.record(ctx, opGet, time.Since(start), err, attribute.String("view", "stats"))
	}()

	stats, err = e.store.CountStates(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("count states: %w", translateStoreError(err))
	}
	return stats, nil
}

// list runs a reclaim-then-read view with tracing and metrics.
func (e *engine) list(ctx context.Context, view string, recipientID int64, read func(ctx context.Context) ([]*store.Message, error)) (msgs []*store.Message, err error) {
	if err := e.checkConnected(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, endSpan := e.otel.startSpan(ctx, "mailroute."+view,
		attribute.Int64("recipient_id", recipientID),
	)
	defer func() {
		endSpan(err)
		e.otel.record(ctx, opList, time.Since(start), err,
			attribute.String("view", view),
			attribute.Int("result_count", len(msgs)),
		)
	}()

	if e.opts.reclaimOnRead {
		if _, err := e.Reclaim(ctx); err != nil {
			return nil, fmt.Errorf("reclaim before %s: %w", view, err)
		}
	}

	msgs, err = read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", view, translateStoreError(err))
	}
	return msgs, nil
}

// cutoff is the oldest deletion time still within retention.
func (e *engine) cutoff() time.Time {
	return e.now().Add(-e.opts.retention)
}
