package store

import "context"

// Stats holds message counts per lifecycle state.
type Stats struct {
	Active  int64 `json:"active"`
	Staged  int64 `json:"staged"`
	Trashed int64 `json:"trashed"`
}

// Total returns the number of stored messages across all states.
func (s *Stats) Total() int64 {
	return s.Active + s.Staged + s.Trashed
}

// Clone returns a copy of the stats.
func (s *Stats) Clone() *Stats {
	c := *s
	return &c
}

// Add increments the counter for the given state.
func (s *Stats) Add(state State, n int64) {
	switch state {
	case StateActive:
		s.Active += n
	case StateStaged:
		s.Staged += n
	case StateTrashed:
		s.Trashed += n
	}
}

// StatsStore provides aggregate message statistics.
type StatsStore interface {
	// CountStates returns message counts per lifecycle state for a recipient,
	// or across all recipients when recipientID is AllRecipients.
	// Implementations should use a single aggregate query.
	CountStates(ctx context.Context, recipientID int64) (*Stats, error)
}
