package storage

import (
	"errors"
	"fmt"
	"sync"

	"git.canoozie.net/riddling/xrefdb/pkg/common"
	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

// FormatVersion identifies the key layout written by GraphStore
const FormatVersion = "xrefdb-lsm/1"

type graphState int

const (
	stateCreated graphState = iota
	stateSchema
	stateLoading
	stateClosed
)

// GraphStore is an identifier mapping graph on top of the StorageEngine.
// Nodes live under g:Code:ID, links under l:from\x00to with a reverse entry
// under r:to\x00from so mappings can be followed in both directions.
type GraphStore struct {
	engine   *StorageEngine
	logger   model.Logger
	mu       sync.Mutex
	state    graphState
	readOnly bool
}

// CreateGraphStore destroys anything at dataDir and creates an empty store
func CreateGraphStore(config EngineConfig) (*GraphStore, error) {
	config.Recreate = true
	config.ReadOnly = false

	engine, err := NewStorageEngine(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage engine: %w", err)
	}

	return &GraphStore{
		engine: engine,
		logger: engine.logger,
		state:  stateCreated,
	}, nil
}

// OpenGraphStore opens an existing store read-only
func OpenGraphStore(config EngineConfig) (*GraphStore, error) {
	config.Recreate = false
	config.ReadOnly = true

	engine, err := NewStorageEngine(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage engine: %w", err)
	}

	version, err := engine.Get([]byte(common.SchemaKey))
	if err != nil {
		engine.Close()
		if errors.Is(err, ErrKeyNotFound) {
			return nil, fmt.Errorf("%s: %w", config.DataDir, model.ErrNotAStore)
		}
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if string(version) != FormatVersion {
		engine.Close()
		return nil, fmt.Errorf("unsupported store format %q", version)
	}

	return &GraphStore{
		engine:   engine,
		logger:   engine.logger,
		state:    stateLoading,
		readOnly: true,
	}, nil
}

// CreateSchema stamps the key layout version into the store
func (g *GraphStore) CreateSchema() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.readOnly {
		return model.ErrStoreReadOnly
	}
	if g.state == stateClosed {
		return model.ErrStoreClosed
	}

	if err := g.engine.Put([]byte(common.SchemaKey), []byte(FormatVersion)); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	if err := g.engine.Sync(); err != nil {
		return fmt.Errorf("failed to sync schema: %w", err)
	}

	g.state = stateSchema
	return nil
}

// BeginLoad puts the store in load mode. Writes are buffered in the WAL
// until Commit.
func (g *GraphStore) BeginLoad() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.readOnly {
		return model.ErrStoreReadOnly
	}
	switch g.state {
	case stateClosed:
		return model.ErrStoreClosed
	case stateCreated:
		return errors.New("schema must be created before loading")
	}

	g.state = stateLoading
	return nil
}

func (g *GraphStore) checkWritable() error {
	if g.readOnly {
		return model.ErrStoreReadOnly
	}
	switch g.state {
	case stateClosed:
		return model.ErrStoreClosed
	case stateLoading:
		return nil
	}
	return model.ErrStoreNotLoading
}

// SetInfo stores one metadata key-value pair
func (g *GraphStore) SetInfo(key, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkWritable(); err != nil {
		return err
	}

	if err := g.engine.Put([]byte(common.FormatInfoKey(key)), []byte(value)); err != nil {
		return fmt.Errorf("failed to store info %s: %w", key, err)
	}
	return nil
}

// AddNode stores an Xref as a node. Adding an existing node overwrites it
// with an identical record.
func (g *GraphStore) AddNode(xref model.Xref) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkWritable(); err != nil {
		return err
	}

	data, err := model.SerializeXref(xref)
	if err != nil {
		return fmt.Errorf("failed to serialize node: %w", err)
	}

	if err := g.engine.Put([]byte(common.FormatNodeKey(xref.SystemCode, xref.ID)), data); err != nil {
		return fmt.Errorf("failed to store node %s: %w", xref, err)
	}
	return nil
}

// AddLink stores a directed link and its reverse index entry.
// Duplicate links collapse onto the same keys.
func (g *GraphStore) AddLink(from, to model.Xref) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkWritable(); err != nil {
		return err
	}

	data, err := model.SerializeLink(model.NewLink(from, to))
	if err != nil {
		return fmt.Errorf("failed to serialize link: %w", err)
	}

	fromKey, toKey := from.String(), to.String()

	if err := g.engine.Put([]byte(common.FormatLinkKey(fromKey, toKey)), data); err != nil {
		return fmt.Errorf("failed to store link %s -> %s: %w", from, to, err)
	}
	if err := g.engine.Put([]byte(common.FormatReverseLinkKey(fromKey, toKey)), data); err != nil {
		return fmt.Errorf("failed to update reverse link index: %w", err)
	}

	g.logger.Debug("Added link %s -> %s", from, to)
	return nil
}

// Commit makes every write since the previous commit durable
func (g *GraphStore) Commit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkWritable(); err != nil {
		return err
	}

	if err := g.engine.Sync(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Finalize compacts the store into a single SSTable and closes it
func (g *GraphStore) Finalize() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.readOnly {
		return model.ErrStoreReadOnly
	}
	if g.state == stateClosed {
		return model.ErrStoreClosed
	}

	if err := g.engine.Compact(); err != nil {
		g.engine.Close()
		g.state = stateClosed
		return fmt.Errorf("failed to compact store: %w", err)
	}

	stats := g.engine.Stats()
	g.logger.Info("Finalized store: %d keys, %d bytes on disk", stats.SSTableKeys, stats.DataDirectorySize)

	g.state = stateClosed
	if err := g.engine.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// Info returns all metadata key-value pairs
func (g *GraphStore) Info() (map[string]string, error) {
	info := make(map[string]string)
	err := g.engine.Scan([]byte(common.InfoKeyPrefix), func(key, value []byte) error {
		name, _ := common.ParseInfoKey(string(key))
		info[name] = string(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read info: %w", err)
	}
	return info, nil
}

// ForEachNode calls fn for every node in key order
func (g *GraphStore) ForEachNode(fn func(model.Xref) error) error {
	return g.engine.Scan([]byte(common.NodeKeyPrefix), func(key, value []byte) error {
		xref, err := model.DeserializeXref(value)
		if err != nil {
			return fmt.Errorf("failed to decode node %q: %w", key, err)
		}
		return fn(xref)
	})
}

// ForEachLink calls fn for every link in key order
func (g *GraphStore) ForEachLink(fn func(model.Link) error) error {
	return g.engine.Scan([]byte(common.LinkKeyPrefix), func(key, value []byte) error {
		link, err := model.DeserializeLink(value)
		if err != nil {
			return fmt.Errorf("failed to decode link %q: %w", key, err)
		}
		return fn(link)
	})
}

// MapID returns every Xref one link away from xref, in either direction.
// The xref itself is not included.
func (g *GraphStore) MapID(xref model.Xref) ([]model.Xref, error) {
	seen := map[model.Xref]bool{xref: true}
	var result []model.Xref

	collect := func(other model.Xref) {
		if !seen[other] {
			seen[other] = true
			result = append(result, other)
		}
	}

	key := xref.String()

	err := g.engine.Scan([]byte(common.FormatLinkScanKey(key)), func(_, value []byte) error {
		link, err := model.DeserializeLink(value)
		if err != nil {
			return err
		}
		collect(link.To)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan links of %s: %w", xref, err)
	}

	err = g.engine.Scan([]byte(common.FormatReverseLinkScanKey(key)), func(_, value []byte) error {
		link, err := model.DeserializeLink(value)
		if err != nil {
			return err
		}
		collect(link.From)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan reverse links of %s: %w", xref, err)
	}

	return result, nil
}

// Close closes the store without compacting it
func (g *GraphStore) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == stateClosed {
		return nil
	}
	g.state = stateClosed
	return g.engine.Close()
}

// Stats returns statistics about the underlying engine
func (g *GraphStore) Stats() EngineStats {
	return g.engine.Stats()
}
