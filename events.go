package mailroute

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/mailroute/filter"
)

// Event names for lifecycle events. Each engine prefixes them with its
// bus name so independent engines never share an event.
const (
	EventNameMessageDelivered = "mailroute.message.delivered"
	EventNameMessageStaged    = "mailroute.message.staged"
	EventNameMessageDiscarded = "mailroute.message.discarded"
	EventNameMessageTrashed   = "mailroute.message.trashed"
	EventNameMessageRestored  = "mailroute.message.restored"
	EventNameMessagesPurged   = "mailroute.messages.purged"
	EventNameMessageDequeued  = "mailroute.message.dequeued"
)

// MessageDeliveredEvent is published when a submitted message lands in the
// recipient's active inbox.
type MessageDeliveredEvent struct {
	MessageID   int64     `json:"message_id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Subject     string    `json:"subject"`
	Rank        int       `json:"priority_rank"`
	SentAt      time.Time `json:"sent_at"`
}

// MessageStagedEvent is published when a message is staged for priority
// handling, either by routing or by MarkPriority.
type MessageStagedEvent struct {
	MessageID   int64     `json:"message_id"`
	RecipientID int64     `json:"recipient_id"`
	Rank        int       `json:"priority_rank"`
	Routed      bool      `json:"routed"`
	StagedAt    time.Time `json:"staged_at"`
}

// MessageDiscardedEvent is published when routing drops a message.
// Nothing was persisted, so there is no message ID.
type MessageDiscardedEvent struct {
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Subject     string    `json:"subject"`
	Verdict     string    `json:"verdict"`
	DiscardedAt time.Time `json:"discarded_at"`
}

// MessageTrashedEvent is published when a message is soft-deleted.
type MessageTrashedEvent struct {
	MessageID int64     `json:"message_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// MessageRestoredEvent is published when a trashed message is restored.
type MessageRestoredEvent struct {
	MessageID  int64     `json:"message_id"`
	RestoredAt time.Time `json:"restored_at"`
}

// MessagesPurgedEvent is published when messages are permanently removed.
// Reason is store.ReasonExpired for reclamation and store.ReasonExplicit
// for PermanentDelete.
type MessagesPurgedEvent struct {
	MessageIDs []int64   `json:"message_ids,omitempty"`
	Count      int64     `json:"count"`
	Reason     string    `json:"reason"`
	PurgedAt   time.Time `json:"purged_at"`
}

// MessageDequeuedEvent is published when a staged message is taken from
// the staging buffer.
type MessageDequeuedEvent struct {
	MessageID  int64     `json:"message_id"`
	Rank       int       `json:"priority_rank"`
	DequeuedAt time.Time `json:"dequeued_at"`
}

// EngineEvents provides access to per-engine event instances.
//
// Subscribe to events:
//
//	eng.Events().MessageDelivered.Subscribe(ctx, handler)
//	eng.Events().MessagesPurged.Subscribe(ctx, handler)
type EngineEvents struct {
	MessageDelivered event.Event[MessageDeliveredEvent]
	MessageStaged    event.Event[MessageStagedEvent]
	MessageDiscarded event.Event[MessageDiscardedEvent]
	MessageTrashed   event.Event[MessageTrashedEvent]
	MessageRestored  event.Event[MessageRestoredEvent]
	MessagesPurged   event.Event[MessagesPurgedEvent]
	MessageDequeued  event.Event[MessageDequeuedEvent]
}

// newEngineEvents creates per-engine event instances with a unique name prefix.
func newEngineEvents(namePrefix string) *EngineEvents {
	return &EngineEvents{
		MessageDelivered: event.New[MessageDeliveredEvent](namePrefix + "." + EventNameMessageDelivered),
		MessageStaged:    event.New[MessageStagedEvent](namePrefix + "." + EventNameMessageStaged),
		MessageDiscarded: event.New[MessageDiscardedEvent](namePrefix + "." + EventNameMessageDiscarded),
		MessageTrashed:   event.New[MessageTrashedEvent](namePrefix + "." + EventNameMessageTrashed),
		MessageRestored:  event.New[MessageRestoredEvent](namePrefix + "." + EventNameMessageRestored),
		MessagesPurged:   event.New[MessagesPurgedEvent](namePrefix + "." + EventNameMessagesPurged),
		MessageDequeued:  event.New[MessageDequeuedEvent](namePrefix + "." + EventNameMessageDequeued),
	}
}

// registerEngineEvents registers per-engine events with the given bus.
func registerEngineEvents(ctx context.Context, bus *event.Bus, events *EngineEvents) error {
	if err := event.Register(ctx, bus, events.MessageDelivered); err != nil {
		return fmt.Errorf("register MessageDelivered: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageStaged); err != nil {
		return fmt.Errorf("register MessageStaged: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageDiscarded); err != nil {
		return fmt.Errorf("register MessageDiscarded: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageTrashed); err != nil {
		return fmt.Errorf("register MessageTrashed: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageRestored); err != nil {
		return fmt.Errorf("register MessageRestored: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessagesPurged); err != nil {
		return fmt.Errorf("register MessagesPurged: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageDequeued); err != nil {
		return fmt.Errorf("register MessageDequeued: %w", err)
	}
	return nil
}

// publish sends data on ev. Failures are reported through the failure
// handler, or returned as *EventPublishError when event errors are fatal.
func publish[T any](ctx context.Context, e *engine, ev event.Event[T], name string, messageID int64, data T) error {
	err := ev.Publish(ctx, data)
	if err == nil {
		return nil
	}
	if e.opts.eventErrorsFatal {
		return &EventPublishError{Event: name, MessageID: messageID, Err: err}
	}
	e.opts.safeEventPublishFailure(name, err)
	return nil
}

func discardedEvent(sender, recipient int64, subject string, v filter.Verdict, at time.Time) MessageDiscardedEvent {
	return MessageDiscardedEvent{
		SenderID:    sender,
		RecipientID: recipient,
		Subject:     subject,
		Verdict:     v.String(),
		DiscardedAt: at,
	}
}
