package mailroute

import (
	"context"
	"sync"

	"github.com/rbaliyan/mailroute/queue"
	"github.com/rbaliyan/mailroute/store"
)

// StagedSet is the durable record of which messages are staged.
// It survives restarts and decides what the active inbox hides.
type StagedSet interface {
	// Stage sets the staged flag. Missing IDs report false.
	Stage(ctx context.Context, id int64) (bool, error)
	// Unstage clears the staged flag. Missing IDs report false.
	Unstage(ctx context.Context, id int64) (bool, error)
	// List returns staged, non-trashed messages ordered by rank then
	// newest first. store.AllRecipients spans every recipient.
	List(ctx context.Context, recipientID int64) ([]*store.Message, error)
}

// StagingBuffer is the process-local list of staged messages not yet
// dequeued since the process started. It is never reloaded from the
// store, so it may hold fewer entries than the StagedSet, or entries
// whose message has since been purged.
//
// Implementations must be safe for concurrent use.
type StagingBuffer interface {
	Push(rank int, id int64)
	PopMin() (queue.Item, bool)
	PeekAll() []queue.Item
	Len() int
}

// storeStagedSet is the StagedSet backed by the message store's flag.
type storeStagedSet struct {
	store store.MessageStore
}

// NewStagedSet returns a StagedSet over the store's staged flag.
func NewStagedSet(s store.MessageStore) StagedSet {
	return &storeStagedSet{store: s}
}

func (s *storeStagedSet) Stage(ctx context.Context, id int64) (bool, error) {
	return s.store.SetStaged(ctx, id, true)
}

func (s *storeStagedSet) Unstage(ctx context.Context, id int64) (bool, error) {
	return s.store.SetStaged(ctx, id, false)
}

func (s *storeStagedSet) List(ctx context.Context, recipientID int64) ([]*store.Message, error) {
	return s.store.StagedFor(ctx, recipientID)
}

// HeapBuffer is a StagingBuffer over a mutex-guarded queue.PriorityQueue.
type HeapBuffer struct {
	mu sync.Mutex
	q  *queue.PriorityQueue
}

// NewHeapBuffer returns an empty HeapBuffer.
func NewHeapBuffer() *HeapBuffer {
	return &HeapBuffer{q: queue.New()}
}

func (b *HeapBuffer) Push(rank int, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.q.Push(rank, id)
}

func (b *HeapBuffer) PopMin() (queue.Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.PopMin()
}

// PeekAll returns the buffered entries in dequeue order.
func (b *HeapBuffer) PeekAll() []queue.Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.PeekAll()
}

func (b *HeapBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Len()
}

var _ StagingBuffer = (*HeapBuffer)(nil)
