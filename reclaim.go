package mailroute

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rbaliyan/mailroute/retry"
	"github.com/rbaliyan/mailroute/store"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ReclaimResult contains the result of a reclaim pass.
type ReclaimResult struct {
	// PurgedCount is the number of messages permanently removed.
	PurgedCount int64 `json:"purged"`
	// ArchivedCount is the number of messages archived before removal.
	ArchivedCount int64 `json:"archived"`
	// Interrupted indicates the pass stopped early because ctx ended.
	Interrupted bool `json:"interrupted"`
}

// Reclaim permanently removes messages trashed longer than the retention
// window. It is idempotent and safe to run concurrently with itself and
// with other processes sharing the store.
//
// Without an archiver this is a single bulk delete. With one, expired
// messages are scanned in batches, archived in parallel, and only the
// archived IDs are purged, so a message restored mid-pass survives. A
// message whose archive upload fails stays in the trash and the pass
// returns an *ArchiveError after purging the rest of its batch.
//
// Inbox, Search, Staged and Trash call Reclaim first. To sweep in the
// background instead, see Scheduler.
func (e *engine) Reclaim(ctx context.Context) (result *ReclaimResult, err error) {
	if err := e.checkConnected(); err != nil {
		return nil, err
	}

	cutoff := e.cutoff()
	start := time.Now()
	ctx, endSpan := e.otel.startSpan(ctx, "mailroute.reclaim",
		attribute.String("cutoff", cutoff.Format(time.RFC3339)),
		attribute.Bool("archive", e.opts.archiver != nil),
	)
	result = &ReclaimResult{}
	defer func() {
		endSpan(err)
		e.otel.record(ctx, opReclaim, time.Since(start), err)
		e.otel.recordPurged(ctx, store.ReasonExpired, result.PurgedCount)
		if result.PurgedCount > 0 {
			e.logger.Info("reclaimed expired trash",
				"count", result.PurgedCount,
				"archived", result.ArchivedCount,
				"cutoff", cutoff,
			)
		}
	}()

	if e.opts.archiver == nil {
		n, err := e.store.PurgeExpired(ctx, cutoff)
		if err != nil {
			return result, fmt.Errorf("purge expired trash: %w", translateStoreError(err))
		}
		result.PurgedCount = n
		return result, e.afterReclaim(ctx, nil, n)
	}

	var purgedIDs []int64
	for {
		if ctx.Err() != nil {
			result.Interrupted = true
			return result, ctx.Err()
		}

		batch, err := e.store.ExpiredTrash(ctx, cutoff, e.opts.reclaimBatchSize)
		if err != nil {
			return result, fmt.Errorf("find expired trash: %w", translateStoreError(err))
		}
		if len(batch) == 0 {
			break
		}

		archived, archiveErr := e.archiveBatch(ctx, batch)
		result.ArchivedCount += int64(len(archived))

		if len(archived) > 0 {
			n, err := e.store.PurgeExpired(ctx, cutoff, archived...)
			if err != nil {
				return result, fmt.Errorf("purge expired trash: %w", translateStoreError(err))
			}
			result.PurgedCount += n
			purgedIDs = append(purgedIDs, archived...)
		}

		// Failed messages would come back in the next scan; stop here and
		// leave them for a later pass.
		if archiveErr != nil {
			if pubErr := e.afterReclaim(ctx, purgedIDs, result.PurgedCount); pubErr != nil {
				e.logger.Warn("reclaim event failed after archive error", "error", pubErr)
			}
			return result, archiveErr
		}
		if len(batch) < e.opts.reclaimBatchSize {
			break
		}
	}

	return result, e.afterReclaim(ctx, purgedIDs, result.PurgedCount)
}

// afterReclaim notifies plugins and publishes the purge event.
func (e *engine) afterReclaim(ctx context.Context, ids []int64, n int64) error {
	if n == 0 {
		return nil
	}
	e.plugins.afterPurge(ctx, store.ReasonExpired, n)
	return publish(ctx, e, e.events.MessagesPurged, "MessagesPurged", 0, MessagesPurgedEvent{
		MessageIDs: ids,
		Count:      n,
		Reason:     store.ReasonExpired,
		PurgedAt:   e.now(),
	})
}

// archiveBatch archives msgs in parallel and returns the IDs that were
// archived. Failures are collected into an *ArchiveError.
func (e *engine) archiveBatch(ctx context.Context, msgs []*store.Message) ([]int64, error) {
	var (
		mu       sync.Mutex
		archived = make([]int64, 0, len(msgs))
		failed   = make(map[int64]error)
	)

	g := new(errgroup.Group)
	g.SetLimit(e.opts.archiveConcurrency)
	for _, msg := range msgs {
		g.Go(func() error {
			uri, err := e.archiveOne(ctx, msg, store.ReasonExpired)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[msg.ID] = err
				return nil
			}
			archived = append(archived, msg.ID)
			e.logger.Debug("archived message", "message_id", msg.ID, "uri", uri)
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		return archived, &ArchiveError{Failed: failed}
	}
	return archived, nil
}

// archiveOne writes one message to the archiver, retrying transient errors.
func (e *engine) archiveOne(ctx context.Context, msg *store.Message, reason string) (string, error) {
	rec := &store.ArchiveRecord{
		Message:    msg,
		Reason:     reason,
		ArchivedAt: e.now(),
	}
	cfg := e.opts.archiveRetry
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
			e.logger.Warn("retrying archive upload",
				"message_id", msg.ID,
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
		}
	}
	return retry.DoWithResult(ctx, cfg, func(ctx context.Context) (string, error) {
		return e.opts.archiver.Archive(ctx, rec)
	})
}
