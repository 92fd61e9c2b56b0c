package loader

import (
	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

// DefaultFlushThreshold is the number of rows recorded between flushes
const DefaultFlushThreshold = 5000

// Entry is a primary Xref with its secondaries, both in first-seen order
type Entry struct {
	Primary     model.Xref
	Secondaries []model.Xref
}

// Batch accumulates rows between flushes. A primary that repeats within the
// window keeps one entry whose secondaries are the union of all its rows.
type Batch struct {
	threshold int
	rows      int
	order     []model.Xref
	entries   map[model.Xref]*batchEntry
}

type batchEntry struct {
	seen        map[model.Xref]struct{}
	secondaries []model.Xref
}

// NewBatch creates a batch that asks for a flush every threshold rows.
// A threshold below one means DefaultFlushThreshold.
func NewBatch(threshold int) *Batch {
	if threshold < 1 {
		threshold = DefaultFlushThreshold
	}
	return &Batch{
		threshold: threshold,
		entries:   make(map[model.Xref]*batchEntry),
	}
}

// Record adds one row and reports whether the batch reached its threshold
func (b *Batch) Record(primary model.Xref, secondary *model.Xref) bool {
	e, ok := b.entries[primary]
	if !ok {
		e = &batchEntry{seen: make(map[model.Xref]struct{})}
		b.entries[primary] = e
		b.order = append(b.order, primary)
	}

	if secondary != nil {
		if _, dup := e.seen[*secondary]; !dup {
			e.seen[*secondary] = struct{}{}
			e.secondaries = append(e.secondaries, *secondary)
		}
	}

	b.rows++
	return b.rows >= b.threshold
}

// Reset empties the batch after a flush
func (b *Batch) Reset() {
	b.rows = 0
	b.order = b.order[:0]
	b.entries = make(map[model.Xref]*batchEntry)
}

// Len returns the number of distinct primaries in the batch
func (b *Batch) Len() int {
	return len(b.order)
}

// Rows returns the number of rows recorded since the last reset
func (b *Batch) Rows() int {
	return b.rows
}

// Threshold returns the number of rows that triggers a flush
func (b *Batch) Threshold() int {
	return b.threshold
}

// Entries returns the primaries in first-seen order with their secondaries
func (b *Batch) Entries() []Entry {
	entries := make([]Entry, 0, len(b.order))
	for _, primary := range b.order {
		e := b.entries[primary]
		entries = append(entries, Entry{
			Primary:     primary,
			Secondaries: append([]model.Xref(nil), e.secondaries...),
		})
	}
	return entries
}
