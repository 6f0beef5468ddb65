package mailroute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/mailroute/filter"
	"github.com/rbaliyan/mailroute/store"
	"go.opentelemetry.io/otel/attribute"
)

// Outcome is the routing result of a submission.
type Outcome uint8

const (
	// Delivered means the message is in the recipient's active inbox.
	Delivered Outcome = iota
	// Staged means the message was staged for priority handling with
	// rank store.UrgentRank and pushed onto the staging buffer.
	Staged
	// Discarded means the message was dropped and never persisted.
	Discarded
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Staged:
		return "staged"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// SubmitResult reports how a message was routed.
type SubmitResult struct {
	Outcome Outcome `json:"outcome"`
	// ID is the stored message ID, zero when discarded.
	ID int64 `json:"id"`
	// Rank is the rank the message was stored with.
	Rank int `json:"priority_rank"`
}

// Submit validates msg and routes it by the first rule matching its body.
// The send timestamp is always taken from the engine clock.
//
//   - filter.Discard: nothing is persisted, the result ID is zero.
//   - filter.StagePriority: the rank is forced to store.UrgentRank, the
//     message is saved unstaged, pushed onto the staging buffer, then
//     durably staged.
//   - no match: the message is saved unstaged with its own rank,
//     store.DefaultRank when unset.
//
// If event publishing fails with WithEventErrorsFatal, Submit returns both
// the result and an *EventPublishError.
func (e *engine) Submit(ctx context.Context, msg *store.Message) (*SubmitResult, error) {
	if err := e.checkConnected(); err != nil {
		return nil, err
	}
	if err := ValidateMessage(msg, e.opts.getLimits()); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, endSpan := e.otel.startSpan(ctx, "mailroute.submit",
		attribute.Int64("sender_id", msg.SenderID),
		attribute.Int64("recipient_id", msg.RecipientID),
	)
	var submitErr error
	defer func() {
		endSpan(submitErr)
		e.otel.record(ctx, opSubmit, time.Since(start), submitErr)
	}()

	if err := e.submitSem.Acquire(ctx, 1); err != nil {
		submitErr = err
		return nil, submitErr
	}
	defer e.submitSem.Release(1)

	m := msg.Clone()
	m.ID = 0
	m.DeletedAt = nil
	m.Staged = false
	m.SentAt = e.now()

	if err := e.plugins.beforeSubmit(ctx, m); err != nil {
		submitErr = err
		return nil, submitErr
	}

	verdict := e.rules.Apply(m.Body)
	var result *SubmitResult
	switch verdict {
	case filter.Discard:
		result = &SubmitResult{Outcome: Discarded}
	case filter.StagePriority:
		result, submitErr = e.stageRouted(ctx, m)
	default:
		result, submitErr = e.deliver(ctx, m)
	}
	if submitErr != nil {
		return nil, submitErr
	}
	eventErr := e.publishOutcome(ctx, m, result, verdict)

	e.otel.recordOutcome(ctx, result.Outcome)
	e.logger.Debug("message routed",
		"message_id", result.ID,
		"recipient_id", m.RecipientID,
		"outcome", result.Outcome.String(),
		"verdict", verdict.String(),
	)

	m.ID = result.ID
	if err := e.plugins.afterSubmit(ctx, m, result.Outcome); err != nil {
		submitErr = err
		return result, submitErr
	}
	if eventErr != nil {
		submitErr = eventErr
		return result, submitErr
	}
	return result, nil
}

// deliver saves m unstaged with its declared rank.
func (e *engine) deliver(ctx context.Context, m *store.Message) (*SubmitResult, error) {
	m.Rank = store.NormalizeRank(m.Rank)
	id, err := e.store.Save(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", translateStoreError(err))
	}
	return &SubmitResult{Outcome: Delivered, ID: id, Rank: m.Rank}, nil
}

// stageRouted saves m through the normal path, buffers it, then sets the
// durable flag. If the flag cannot be set the buffer entry stays; a later
// dequeue still finds the message.
func (e *engine) stageRouted(ctx context.Context, m *store.Message) (*SubmitResult, error) {
	m.Rank = store.UrgentRank
	id, err := e.store.Save(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", translateStoreError(err))
	}
	e.buffer.Push(m.Rank, id)
	if _, err := e.staged.Stage(ctx, id); err != nil {
		return nil, fmt.Errorf("stage message %d: %w", id, translateStoreError(err))
	}
	return &SubmitResult{Outcome: Staged, ID: id, Rank: m.Rank}, nil
}

// publishOutcome publishes the event matching the routing outcome.
func (e *engine) publishOutcome(ctx context.Context, m *store.Message, r *SubmitResult, v filter.Verdict) error {
	switch r.Outcome {
	case Discarded:
		return publish(ctx, e, e.events.MessageDiscarded, "MessageDiscarded", 0,
			discardedEvent(m.SenderID, m.RecipientID, m.Subject, v, e.now()))
	case Staged:
		return publish(ctx, e, e.events.MessageStaged, "MessageStaged", r.ID, MessageStagedEvent{
			MessageID:   r.ID,
			RecipientID: m.RecipientID,
			Rank:        r.Rank,
			Routed:      true,
			StagedAt:    e.now(),
		})
	default:
		return publish(ctx, e, e.events.MessageDelivered, "MessageDelivered", r.ID, MessageDeliveredEvent{
			MessageID:   r.ID,
			SenderID:    m.SenderID,
			RecipientID: m.RecipientID,
			Subject:     m.Subject,
			Rank:        r.Rank,
			SentAt:      m.SentAt,
		})
	}
}

// outcomeFromString parses the String form of an Outcome.
func outcomeFromString(s string) (Outcome, error) {
	switch s {
	case "delivered":
		return Delivered, nil
	case "staged":
		return Staged, nil
	case "discarded":
		return Discarded, nil
	default:
		return 0, errors.New("mailroute: unknown outcome " + s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := outcomeFromString(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
