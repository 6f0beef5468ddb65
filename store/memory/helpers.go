package memory

import (
	"cmp"
	"slices"
	"strings"

	"github.com/rbaliyan/mailroute/store"
)

// collect returns decoded copies of the rows accepted by keep, in the
// order given by sortFn. Callers must hold at least a read lock.
func (s *Store) collect(keep func(*row) bool, sortFn func(a, b *row) int) []*store.Message {
	var rows []*row
	for _, r := range s.messages {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	slices.SortFunc(rows, sortFn)

	out := make([]*store.Message, len(rows))
	for i, r := range rows {
		out[i] = r.toMessage()
	}
	return out
}

func forRecipient(r *row, recipientID int64) bool {
	return recipientID == store.AllRecipients || r.recipientID == recipientID
}

// newestFirst orders by sent time descending, then ID descending.
func newestFirst(a, b *row) int {
	if c := b.sentAt.Compare(a.sentAt); c != 0 {
		return c
	}
	return cmp.Compare(b.id, a.id)
}

// byRank orders by rank ascending, then newest first.
func byRank(a, b *row) int {
	if c := cmp.Compare(a.rank, b.rank); c != 0 {
		return c
	}
	return newestFirst(a, b)
}

// recentlyTrashed orders by deletion time descending, then ID descending.
func recentlyTrashed(a, b *row) int {
	if c := b.deletedAt.Compare(*a.deletedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.id, a.id)
}

// oldestTrashed orders by deletion time ascending, then ID ascending.
func oldestTrashed(a, b *row) int {
	if c := a.deletedAt.Compare(*b.deletedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
