// Package store defines the backing store of an identifier mapping build and
// picks a backend for a path.
package store

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"git.canoozie.net/riddling/xrefdb/pkg/boltstore"
	"git.canoozie.net/riddling/xrefdb/pkg/model"
	"git.canoozie.net/riddling/xrefdb/pkg/storage"
)

// Builder is the write side of a store. Calls follow the order
// CreateSchema, BeginLoad, any number of SetInfo/AddNode/AddLink/Commit,
// then Finalize. Every Commit is durable before it returns.
type Builder interface {
	CreateSchema() error
	BeginLoad() error
	SetInfo(key, value string) error
	AddNode(xref model.Xref) error
	AddLink(from, to model.Xref) error
	Commit() error
	Finalize() error
}

// Reader is the read side of a finalized store
type Reader interface {
	Info() (map[string]string, error)
	ForEachNode(fn func(model.Xref) error) error
	ForEachLink(fn func(model.Link) error) error
	MapID(xref model.Xref) ([]model.Xref, error)
	Close() error
}

var (
	_ Builder = (*storage.GraphStore)(nil)
	_ Reader  = (*storage.GraphStore)(nil)
	_ Builder = (*boltstore.Store)(nil)
	_ Reader  = (*boltstore.Store)(nil)
)

// Backend names a store implementation
type Backend string

const (
	BackendLSM  Backend = "lsm"
	BackendBolt Backend = "bolt"
)

// Extension returns the file extension stores of the backend carry
func (b Backend) Extension() string {
	if b == BackendBolt {
		return ".bridge"
	}
	return ".kgs"
}

// ParseBackend parses a backend name
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(s)) {
	case BackendLSM:
		return BackendLSM, nil
	case BackendBolt:
		return BackendBolt, nil
	}
	return "", errors.Errorf("unknown store backend %q (want lsm or bolt)", s)
}

// Options configures store creation
type Options struct {
	Backend Backend
	Logger  model.Logger

	// MemTableSize bounds the LSM write buffer. Zero uses the engine default.
	MemTableSize uint64
}

// Create destructively creates a store at path
func Create(path string, opts Options) (Builder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = model.DefaultLoggerInstance
	}

	switch opts.Backend {
	case BackendBolt:
		s, err := boltstore.Create(path, logger)
		if err != nil {
			return nil, errors.Wrap(err, "creating bolt store")
		}
		return s, nil
	case BackendLSM, "":
		config := storage.DefaultEngineConfig()
		config.DataDir = path
		config.Logger = logger
		if opts.MemTableSize > 0 {
			config.MemTableSize = opts.MemTableSize
		}
		s, err := storage.CreateGraphStore(config)
		if err != nil {
			return nil, errors.Wrap(err, "creating lsm store")
		}
		return s, nil
	}
	return nil, errors.Errorf("unknown store backend %q", opts.Backend)
}

// Open opens an existing store read-only. A directory is an LSM store, a
// regular file a bolt store.
func Open(path string, logger model.Logger) (Reader, error) {
	if logger == nil {
		logger = model.DefaultLoggerInstance
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening store %s", path)
	}

	if info.IsDir() {
		config := storage.DefaultEngineConfig()
		config.DataDir = path
		config.Logger = logger
		s, err := storage.OpenGraphStore(config)
		if err != nil {
			return nil, errors.Wrapf(err, "opening lsm store %s", path)
		}
		return s, nil
	}

	s, err := boltstore.Open(path, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "opening bolt store %s", path)
	}
	return s, nil
}

// Exists reports whether anything is present at path
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Stats summarizes the contents of a store
type Stats struct {
	Nodes       int            // Total nodes
	Links       int            // Total links, reflexive included
	Reflexive   int            // Links from an xref to itself
	NodesByCode map[string]int // Nodes per system code
	LinksByCode map[string]int // Links per system code pair, "From->To"
}

// Collect walks a store and counts its nodes and links
func Collect(r Reader) (*Stats, error) {
	stats := &Stats{
		NodesByCode: make(map[string]int),
		LinksByCode: make(map[string]int),
	}

	err := r.ForEachNode(func(x model.Xref) error {
		stats.Nodes++
		stats.NodesByCode[x.SystemCode]++
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "counting nodes")
	}

	err = r.ForEachLink(func(l model.Link) error {
		stats.Links++
		if l.IsReflexive() {
			stats.Reflexive++
		}
		stats.LinksByCode[l.From.SystemCode+"->"+l.To.SystemCode]++
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "counting links")
	}

	return stats, nil
}
