package queue

import (
	"sort"
	"time"
)

// Project builds the board from a snapshot of entries. Waiting entries are
// ordered priority band first, then by queue number. Completed entries are
// ignored. The input slice is not modified.
func Project(entries []*Entry, now time.Time) *Board {
	b := &Board{
		Serving:     []*Entry{},
		Called:      []*Entry{},
		Waiting:     []*Entry{},
		GeneratedAt: now,
	}
	for _, e := range entries {
		switch e.Status {
		case StatusServing:
			b.Serving = append(b.Serving, e.clone())
		case StatusCalled:
			b.Called = append(b.Called, e.clone())
		case StatusWaiting:
			b.Waiting = append(b.Waiting, e.clone())
		}
	}

	sort.SliceStable(b.Waiting, func(i, j int) bool {
		a, c := b.Waiting[i], b.Waiting[j]
		if a.Priority.rank() != c.Priority.rank() {
			return a.Priority.rank() < c.Priority.rank()
		}
		return a.QueueNumber < c.QueueNumber
	})
	byNumber := func(s []*Entry) {
		sort.Slice(s, func(i, j int) bool { return s[i].QueueNumber < s[j].QueueNumber })
	}
	byNumber(b.Called)
	byNumber(b.Serving)

	return b
}

// StatsOf counts a board without touching the store.
func StatsOf(b *Board) Stats {
	s := Stats{Waiting: len(b.Waiting), Called: len(b.Called), Serving: len(b.Serving)}
	for _, e := range b.Waiting {
		if e.Priority == PriorityPriority {
			s.PriorityWaiting++
		}
	}
	return s
}

// DisplayOptions shape the public screen.
type DisplayOptions struct {
	MaxItems     int
	ShowPriority bool
}

// DisplayBoard is the public screen's view of the queue.
type DisplayBoard struct {
	Serving     []DisplayItem `json:"serving"`
	Called      []DisplayItem `json:"called"`
	Waiting     []DisplayItem `json:"waiting"`
	WaitingMore int           `json:"waiting_more"`
	GeneratedAt time.Time     `json:"generated_at"`
	Stale       bool          `json:"stale"`
}

type DisplayItem struct {
	QueueNumber int      `json:"queue_number"`
	Priority    Priority `json:"priority,omitempty"`
	PatientName string   `json:"patient_name,omitempty"`
}

// NewDisplayBoard trims a board for the public display: the waiting list is
// capped at MaxItems and priority flags are hidden unless ShowPriority is set.
// Patient names on the waiting list are never shown publicly.
func NewDisplayBoard(b *Board, opts DisplayOptions) *DisplayBoard {
	item := func(e *Entry, withName bool) DisplayItem {
		it := DisplayItem{QueueNumber: e.QueueNumber}
		if opts.ShowPriority {
			it.Priority = e.Priority
		}
		if withName {
			it.PatientName = e.PatientName
		}
		return it
	}

	d := &DisplayBoard{
		Serving:     make([]DisplayItem, 0, len(b.Serving)),
		Called:      make([]DisplayItem, 0, len(b.Called)),
		Waiting:     []DisplayItem{},
		GeneratedAt: b.GeneratedAt,
	}
	for _, e := range b.Serving {
		d.Serving = append(d.Serving, item(e, true))
	}
	for _, e := range b.Called {
		d.Called = append(d.Called, item(e, true))
	}

	waiting := b.Waiting
	if opts.MaxItems > 0 && len(waiting) > opts.MaxItems {
		d.WaitingMore = len(waiting) - opts.MaxItems
		waiting = waiting[:opts.MaxItems]
	}
	for _, e := range waiting {
		d.Waiting = append(d.Waiting, item(e, false))
	}
	return d
}
