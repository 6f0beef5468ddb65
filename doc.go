// Package mailroute is a message lifecycle engine: it routes submitted
// messages by keyword rules, stages urgent ones for priority handling,
// and keeps soft-deleted messages recoverable for a fixed retention window
// before reclaiming them.
//
// # Basic Usage
//
//	st := memory.New()
//
//	eng, err := mailroute.NewEngine(
//	    mailroute.WithStore(st),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Connect initializes schema/indexes and the event bus
//	if err := eng.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	res, err := eng.Submit(ctx, &store.Message{
//	    SenderID:    ana.ID,
//	    RecipientID: bob.ID,
//	    Subject:     "Hola",
//	    Body:        "URGENTE: reunión a las 10",
//	})
//	// res.Outcome == mailroute.Staged, rank forced to 1
//
// # Lifecycle
//
// Every message is in exactly one state, derived from its deletion time
// and staged flag:
//
//   - Active: visible in Inbox and Search.
//   - Staged: hidden from the inbox, listed by Staged.
//   - Trashed: listed by Trash until the retention window (RetentionWindow,
//     4 days 20 hours) elapses, then removed by Reclaim.
//
// The trash and staging axes are independent: a staged message can be
// trashed and restored, and comes back staged.
//
// # Routing
//
// Submit applies filter.Rules to the message body. The default rules stage
// bodies containing "urgente" and discard bodies containing "spam"; the
// first matching rule wins. Discarded messages are never persisted.
//
// # Staging
//
// Staging has two representations joined only by DequeueNextStaged:
//
//   - StagedSet, the durable staged flag in the store.
//   - StagingBuffer, a process-local min-heap of (rank, id) filled only when
//     routing stages a message. It is not reloaded on startup.
//
// MarkPriority and UnmarkPriority change the durable flag only. Dequeue
// re-reads the message and silently drops entries whose message is gone.
//
// # Reclamation
//
// Inbox, Search, Staged and Trash call Reclaim before reading, so expired
// trash is never visible. For large stores, disable this with
// WithReclaimOnRead(false) and run a Scheduler instead. With WithArchiver,
// messages are copied to object storage (store/archive/s3,
// store/archive/gcs) before removal.
//
// # Storage Backends
//
// The store package provides implementations for:
//   - SQLite (store/sqlite)
//   - PostgreSQL (store/postgres)
//   - MongoDB (store/mongo)
//   - In-memory (store/memory) - for testing
//
// # Events
//
// Lifecycle events use github.com/rbaliyan/event/v3. Pass WithRedisClient
// or WithEventTransport to deliver them; the default transport drops them.
//
//	events := eng.Events()
//	events.MessageDelivered.Subscribe(ctx, handler)
//	events.MessagesPurged.Subscribe(ctx, handler)
//
// Available events:
//   - MessageDelivered, MessageStaged, MessageDiscarded - routing outcomes
//   - MessageTrashed, MessageRestored - trash axis
//   - MessagesPurged - permanent removal, by reclaim or PermanentDelete
//   - MessageDequeued - a staged message left the buffer
package mailroute
