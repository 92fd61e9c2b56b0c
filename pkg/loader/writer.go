package loader

import (
	"github.com/pkg/errors"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
	"git.canoozie.net/riddling/xrefdb/pkg/store"
)

// Writer inserts batches into a store. It remembers every node it inserted
// for the lifetime of the build so no Xref is added twice.
type Writer struct {
	store  store.Builder
	logger model.Logger
	seen   map[model.Xref]struct{}

	primaries int
	nodes     int
	links     int
	commits   int
}

// NewWriter creates a writer for one build
func NewWriter(b store.Builder, logger model.Logger) *Writer {
	if logger == nil {
		logger = model.DefaultLoggerInstance
	}
	return &Writer{
		store:  b,
		logger: logger,
		seen:   make(map[model.Xref]struct{}),
	}
}

// Flush writes every entry of the batch and commits after each primary.
// The first store error aborts the flush.
func (w *Writer) Flush(batch *Batch) error {
	for _, entry := range batch.Entries() {
		if err := w.writeEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeEntry(entry Entry) error {
	primary := entry.Primary

	if err := w.addNode(primary); err != nil {
		return err
	}

	// Every primary maps to itself
	if err := w.store.AddLink(primary, primary); err != nil {
		return errors.Wrapf(err, "adding link %s -> %s", primary, primary)
	}
	w.links++

	for _, secondary := range entry.Secondaries {
		if secondary == primary {
			continue
		}
		if err := w.addNode(secondary); err != nil {
			return err
		}
		if err := w.store.AddLink(primary, secondary); err != nil {
			return errors.Wrapf(err, "adding link %s -> %s", primary, secondary)
		}
		w.links++
	}

	if err := w.store.Commit(); err != nil {
		return errors.Wrapf(err, "committing %s", primary)
	}
	w.commits++
	w.primaries++
	return nil
}

func (w *Writer) addNode(x model.Xref) error {
	if _, ok := w.seen[x]; ok {
		return nil
	}
	if err := w.store.AddNode(x); err != nil {
		return errors.Wrapf(err, "adding node %s", x)
	}
	w.seen[x] = struct{}{}
	w.nodes++
	return nil
}

// Seen reports whether x was inserted as a node during this build
func (w *Writer) Seen(x model.Xref) bool {
	_, ok := w.seen[x]
	return ok
}

// Primaries returns the number of primary entries written
func (w *Writer) Primaries() int { return w.primaries }

// Nodes returns the number of nodes inserted
func (w *Writer) Nodes() int { return w.nodes }

// Links returns the number of links inserted, reflexive links included
func (w *Writer) Links() int { return w.links }

// Commits returns the number of commits issued
func (w *Writer) Commits() int { return w.commits }
