package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

// Storage engine errors
var (
	ErrEngineClosed   = errors.New("storage engine is closed")
	ErrEngineReadOnly = errors.New("storage engine is read-only")
	ErrEntryTooLarge  = errors.New("entry is larger than the MemTable")
)

const (
	sstableDirName = "sstables"
	walDirName     = "wal"
	walFileName    = "xrefdb.wal"
)

// StorageEngine is the main interface to the storage system.
// It manages the MemTable, SSTables, and WAL to provide a durable key-value store.
// All work happens on the caller's goroutine: a full MemTable is flushed to
// an SSTable before the write that did not fit is recorded.
type StorageEngine struct {
	mu            sync.RWMutex
	config        EngineConfig
	memTable      *MemTable    // Current MemTable for writes
	sstables      []*SSTable   // Sorted String Tables, oldest first
	wal           *WAL         // Write-Ahead Log, nil when read-only
	logger        model.Logger // Logger for storage engine operations
	isOpen        bool         // Whether the storage engine is open
	nextSSTableID uint64       // Next SSTable ID to use
	flushes       int          // MemTable flushes since open
	compactions   int          // Compactions since open
}

// EngineConfig holds configuration options for the storage engine
type EngineConfig struct {
	// Directory where all storage files will be stored
	DataDir string

	// Maximum size of the MemTable before it's flushed to disk
	MemTableSize uint64

	// Whether to sync WAL writes immediately to disk.
	// When false, Sync is the durability point.
	SyncWrites bool

	// Logger for storage engine operations
	Logger model.Logger

	// Comparator for key comparison
	Comparator Comparator

	// Bloom filter false positive rate
	BloomFilterFPR float64

	// Number of SSTables that triggers a full compaction after a flush.
	// Zero disables automatic compaction.
	CompactionThreshold int

	// Remove any existing data in DataDir before opening
	Recreate bool

	// Open an existing store for reading only. No WAL is opened for writing
	// and the data directory must already exist.
	ReadOnly bool
}

// DefaultEngineConfig returns a default configuration for the storage engine
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DataDir:             "data",
		MemTableSize:        32 * 1024 * 1024, // 32MB
		SyncWrites:          false,
		Logger:              model.DefaultLoggerInstance,
		Comparator:          DefaultComparator,
		BloomFilterFPR:      0.01, // 1% false positive rate
		CompactionThreshold: 8,
	}
}

// NewStorageEngine creates a new storage engine
func NewStorageEngine(config EngineConfig) (*StorageEngine, error) {
	defaults := DefaultEngineConfig()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Comparator == nil {
		config.Comparator = defaults.Comparator
	}
	if config.MemTableSize == 0 {
		config.MemTableSize = defaults.MemTableSize
	}
	if config.BloomFilterFPR <= 0 || config.BloomFilterFPR >= 1 {
		config.BloomFilterFPR = defaults.BloomFilterFPR
	}
	if config.Recreate && config.ReadOnly {
		return nil, errors.New("cannot recreate a read-only storage engine")
	}

	if config.Recreate {
		if err := os.RemoveAll(config.DataDir); err != nil {
			return nil, fmt.Errorf("failed to remove existing data directory: %w", err)
		}
	}

	if config.ReadOnly {
		info, err := os.Stat(config.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open data directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("data path %s is not a directory", config.DataDir)
		}
	} else {
		if err := os.MkdirAll(filepath.Join(config.DataDir, sstableDirName), 0755); err != nil {
			return nil, fmt.Errorf("failed to create sstable directory: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(config.DataDir, walDirName), 0755); err != nil {
			return nil, fmt.Errorf("failed to create WAL directory: %w", err)
		}
	}

	engine := &StorageEngine{
		config:        config,
		memTable:      engineMemTable(config),
		logger:        config.Logger,
		nextSSTableID: 1,
	}

	if err := engine.loadSSTables(); err != nil {
		engine.closeSSTables()
		return nil, fmt.Errorf("failed to load SSTables: %w", err)
	}

	walPath := filepath.Join(config.DataDir, walDirName, walFileName)

	if config.ReadOnly {
		// Records that were never flushed still belong to the store
		if _, err := ReplayWALFile(walPath, engine.memTable, engine.logger); err != nil {
			engine.closeSSTables()
			return nil, fmt.Errorf("failed to replay WAL: %w", err)
		}
	} else {
		wal, err := NewWAL(WALConfig{
			Path:        walPath,
			SyncOnWrite: config.SyncWrites,
			Logger:      config.Logger,
		})
		if err != nil {
			engine.closeSSTables()
			return nil, fmt.Errorf("failed to create WAL: %w", err)
		}
		engine.wal = wal

		if _, err := wal.Replay(engine.memTable); err != nil {
			wal.Close()
			engine.closeSSTables()
			return nil, fmt.Errorf("failed to replay WAL: %w", err)
		}
	}

	engine.isOpen = true
	engine.logger.Info("Opened storage engine in %s", config.DataDir)
	return engine, nil
}

func engineMemTable(config EngineConfig) *MemTable {
	return NewMemTable(MemTableConfig{
		MaxSize:    config.MemTableSize,
		Logger:     config.Logger,
		Comparator: config.Comparator,
	})
}

// Close flushes the MemTable and closes the storage engine and all its resources
func (e *StorageEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOpen {
		return nil
	}

	e.isOpen = false

	var firstErr error
	if !e.config.ReadOnly {
		if err := e.flushLocked(); err != nil {
			e.logger.Error("Failed to flush MemTable during close: %v", err)
			firstErr = err
		}

		if err := e.wal.Close(); err != nil {
			e.logger.Error("Failed to close WAL: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	e.closeSSTables()

	e.logger.Info("Closed storage engine")
	return firstErr
}

func (e *StorageEngine) closeSSTables() {
	for _, sstable := range e.sstables {
		if err := sstable.Close(); err != nil {
			e.logger.Error("Failed to close SSTable: %v", err)
		}
	}
}

// Put adds or updates a key-value pair in the storage engine
func (e *StorageEngine) Put(key, value []byte) error {
	if key == nil {
		return ErrNilKey
	}
	if value == nil {
		return ErrNilValue
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOpen {
		return ErrEngineClosed
	}
	if e.config.ReadOnly {
		return ErrEngineReadOnly
	}

	if !e.memTable.Fits(key, value) {
		if e.memTable.EntryCount() == 0 {
			return ErrEntryTooLarge
		}
		if err := e.flushLocked(); err != nil {
			return fmt.Errorf("failed to flush full MemTable: %w", err)
		}
		if err := e.maybeCompactLocked(); err != nil {
			return err
		}
	}

	if err := e.wal.RecordPut(key, value); err != nil {
		return fmt.Errorf("failed to record put in WAL: %w", err)
	}

	if err := e.memTable.Put(key, value); err != nil {
		return fmt.Errorf("failed to add key-value pair to MemTable: %w", err)
	}

	return nil
}

// Get retrieves a value by key from the storage engine
func (e *StorageEngine) Get(key []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.isOpen {
		return nil, ErrEngineClosed
	}

	value, err := e.memTable.Get(key)
	if err == nil {
		return value, nil
	} else if err != ErrKeyNotFound {
		return nil, err
	}

	// Newest to oldest
	for i := len(e.sstables) - 1; i >= 0; i-- {
		value, err := e.sstables[i].Get(key)
		if err == nil {
			return value, nil
		} else if err != ErrKeyNotFoundInSSTable {
			return nil, err
		}
	}

	return nil, ErrKeyNotFound
}

// Contains checks if a key exists in the storage engine
func (e *StorageEngine) Contains(key []byte) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.isOpen {
		return false, ErrEngineClosed
	}

	if e.memTable.Contains(key) {
		return true, nil
	}

	for i := len(e.sstables) - 1; i >= 0; i-- {
		contains, err := e.sstables[i].Contains(key)
		if err != nil {
			return false, fmt.Errorf("error checking SSTable: %w", err)
		}
		if contains {
			return true, nil
		}
	}

	return false, nil
}

// Scan calls fn for every key that starts with prefix, in key order, with the
// newest value for each key. Iteration stops at the first error fn returns.
// fn must not write to the engine.
func (e *StorageEngine) Scan(prefix []byte, fn func(key, value []byte) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.isOpen {
		return ErrEngineClosed
	}

	sources, err := e.scanSourcesLocked(prefix)
	if err != nil {
		return err
	}

	return mergeSources(sources, e.config.Comparator, func(key, value []byte) error {
		if !bytes.HasPrefix(key, prefix) {
			return errStopScan
		}
		return fn(key, value)
	})
}

// scanSourcesLocked returns one iterator per table positioned at prefix, newest first
func (e *StorageEngine) scanSourcesLocked(prefix []byte) ([]scanSource, error) {
	sources := make([]scanSource, 0, len(e.sstables)+1)

	// The MemTable is bounded, so a prefix snapshot of it is cheap
	var mem [][]byte
	e.memTable.Ascend(prefix, func(key, value []byte) bool {
		if !bytes.HasPrefix(key, prefix) {
			return false
		}
		mem = append(mem, append([]byte(nil), key...), append([]byte(nil), value...))
		return true
	})
	sources = append(sources, &sliceSource{entries: mem})

	for i := len(e.sstables) - 1; i >= 0; i-- {
		iter, err := e.sstables[i].Iterator(prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to iterate SSTable %d: %w", e.sstables[i].ID(), err)
		}
		sources = append(sources, iter)
	}

	return sources, nil
}

// Sync flushes buffered WAL records and fsyncs them.
// Every Put that returned before Sync survives a crash once Sync returns.
func (e *StorageEngine) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOpen {
		return ErrEngineClosed
	}
	if e.config.ReadOnly {
		return nil
	}

	if err := e.wal.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}

	return nil
}

// Flush flushes the current MemTable to disk, creating a new SSTable
func (e *StorageEngine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOpen {
		return ErrEngineClosed
	}
	if e.config.ReadOnly {
		return ErrEngineReadOnly
	}

	return e.flushLocked()
}

// Compact merges all SSTables into one
func (e *StorageEngine) Compact() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOpen {
		return ErrEngineClosed
	}
	if e.config.ReadOnly {
		return ErrEngineReadOnly
	}

	if err := e.flushLocked(); err != nil {
		return fmt.Errorf("failed to flush MemTable: %w", err)
	}

	if err := e.compactLocked(); err != nil {
		return fmt.Errorf("failed to compact SSTables: %w", err)
	}

	return nil
}

// Stats returns statistics about the storage engine
func (e *StorageEngine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var keys uint64
	for _, sstable := range e.sstables {
		keys += uint64(sstable.KeyCount())
	}

	return EngineStats{
		IsOpen:            e.isOpen,
		MemTableSize:      e.memTable.Size(),
		MemTableCount:     e.memTable.EntryCount(),
		SSTables:          len(e.sstables),
		SSTableKeys:       keys,
		Flushes:           e.flushes,
		Compactions:       e.compactions,
		DataDirectorySize: e.getDataDirectorySizeLocked(),
	}
}

// flushLocked writes the MemTable to a new SSTable, truncates the WAL and
// starts an empty MemTable. Caller must hold the lock.
func (e *StorageEngine) flushLocked() error {
	if e.memTable.EntryCount() == 0 {
		e.logger.Debug("Skipping flush of empty MemTable")
		return nil
	}

	sstable, err := CreateSSTable(e.sstableConfig(e.nextSSTableID), e.memTable)
	if err != nil {
		return fmt.Errorf("failed to create SSTable: %w", err)
	}
	e.memTable.MarkFlushed()

	e.sstables = append(e.sstables, sstable)
	e.nextSSTableID++
	e.flushes++

	// The SSTable is durable, so the records it covers can leave the WAL
	if err := e.wal.Truncate(); err != nil {
		return fmt.Errorf("failed to truncate WAL after flush: %w", err)
	}

	e.memTable = engineMemTable(e.config)

	e.logger.Info("Flushed MemTable to SSTable %d with %d keys", sstable.ID(), sstable.KeyCount())
	return nil
}

func (e *StorageEngine) maybeCompactLocked() error {
	if e.config.CompactionThreshold <= 0 || len(e.sstables) < e.config.CompactionThreshold {
		return nil
	}
	if err := e.compactLocked(); err != nil {
		return fmt.Errorf("failed to compact SSTables: %w", err)
	}
	return nil
}

func (e *StorageEngine) sstableConfig(id uint64) SSTableConfig {
	return SSTableConfig{
		ID:             id,
		Path:           filepath.Join(e.config.DataDir, sstableDirName),
		Logger:         e.logger,
		Comparator:     e.config.Comparator,
		BloomFilterFPR: e.config.BloomFilterFPR,
	}
}

// loadSSTables loads existing SSTables from disk
func (e *StorageEngine) loadSSTables() error {
	sstableDir := filepath.Join(e.config.DataDir, sstableDirName)

	if _, err := os.Stat(sstableDir); os.IsNotExist(err) {
		return nil
	}

	entries, err := os.ReadDir(sstableDir)
	if err != nil {
		return fmt.Errorf("failed to read sstable directory: %w", err)
	}

	maxID := uint64(0)

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".data" {
			continue
		}

		// e.g. "1.data" -> 1
		var id uint64
		if _, err := fmt.Sscanf(entry.Name(), "%d.data", &id); err != nil {
			e.logger.Warn("Ignoring invalid SSTable filename: %s", entry.Name())
			continue
		}

		sstable, err := OpenSSTable(e.sstableConfig(id))
		if err != nil {
			return fmt.Errorf("failed to open SSTable %d: %w", id, err)
		}

		e.sstables = append(e.sstables, sstable)
		if id > maxID {
			maxID = id
		}
	}

	sort.Slice(e.sstables, func(i, j int) bool {
		return e.sstables[i].ID() < e.sstables[j].ID()
	})

	e.nextSSTableID = maxID + 1

	e.logger.Debug("Loaded %d SSTables", len(e.sstables))
	return nil
}

// compactLocked merges every SSTable into a single new one.
// Caller must hold the lock.
func (e *StorageEngine) compactLocked() error {
	if len(e.sstables) < 2 {
		return nil
	}

	sources := make([]scanSource, 0, len(e.sstables))
	for i := len(e.sstables) - 1; i >= 0; i-- {
		iter, err := e.sstables[i].Iterator(nil)
		if err != nil {
			return fmt.Errorf("failed to iterate SSTable %d: %w", e.sstables[i].ID(), err)
		}
		sources = append(sources, iter)
	}

	var merged [][]byte
	err := mergeSources(sources, e.config.Comparator, func(key, value []byte) error {
		merged = append(merged, key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to merge SSTables: %w", err)
	}

	mergedSSTable, err := createSSTableFromEntries(e.sstableConfig(e.nextSSTableID), merged)
	if err != nil {
		return fmt.Errorf("failed to create merged SSTable: %w", err)
	}
	e.nextSSTableID++

	oldIDs := make([]uint64, 0, len(e.sstables))
	for _, sstable := range e.sstables {
		oldIDs = append(oldIDs, sstable.ID())
		sstable.Close()
		if err := sstable.Remove(); err != nil {
			e.logger.Warn("Failed to remove compacted SSTable %d: %v", sstable.ID(), err)
		}
	}

	e.sstables = []*SSTable{mergedSSTable}
	e.compactions++

	e.logger.Info("Compacted %d SSTables (IDs: %v) into new SSTable %d with %d keys",
		len(oldIDs), oldIDs, mergedSSTable.ID(), mergedSSTable.KeyCount())
	return nil
}

// getDataDirectorySizeLocked calculates the total size of the data directory
func (e *StorageEngine) getDataDirectorySizeLocked() int64 {
	var totalSize int64

	filepath.Walk(e.config.DataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	return totalSize
}

// EngineStats contains statistics about the storage engine
type EngineStats struct {
	IsOpen            bool   // Whether the engine is open
	MemTableSize      uint64 // Size of the current MemTable in bytes
	MemTableCount     int    // Number of entries in the current MemTable
	SSTables          int    // Number of SSTables
	SSTableKeys       uint64 // Keys across all SSTables, duplicates included
	Flushes           int    // MemTable flushes since open
	Compactions       int    // Compactions since open
	DataDirectorySize int64  // Total size of the data directory in bytes
}
