package storage

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

// MemTable errors
var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrNilValue        = errors.New("cannot add nil value to MemTable")
	ErrNilKey          = errors.New("cannot use nil key in MemTable")
	ErrMemTableFull    = errors.New("MemTable is full")
	ErrMemTableFlushed = errors.New("MemTable has been flushed and is read-only")
)

// Comparator is a function type that compares two byte slices
type Comparator func(a, b []byte) int

// DefaultComparator compares two byte slices lexicographically
func DefaultComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

// MemTableConfig holds configuration options for the MemTable
type MemTableConfig struct {
	// MaxSize is the maximum size in bytes the MemTable can hold before flushing is required
	MaxSize uint64
	// Logger is used to log MemTable operations
	Logger model.Logger
	// Comparator is used to compare keys in the MemTable
	Comparator Comparator
	// MaxHeight is the maximum height of the skip list (optional)
	MaxHeight int
}

// DefaultMemTableConfig returns a default configuration for MemTable
func DefaultMemTableConfig() MemTableConfig {
	return MemTableConfig{
		MaxSize:    8 * 1024 * 1024, // 8MB
		Logger:     model.DefaultLoggerInstance,
		Comparator: DefaultComparator,
		MaxHeight:  12, // Good for millions of entries
	}
}

// skipNode represents a node in the skip list
type skipNode struct {
	key     []byte
	value   []byte
	size    uint64 // size in bytes
	forward []*skipNode
}

// MemTable uses a skip list to store key-value pairs in memory in sorted order.
// It buffers writes before they are flushed to disk as SSTables.
type MemTable struct {
	mu            sync.RWMutex
	head          *skipNode    // Pointer to the head (sentinel) node
	maxHeight     int          // Maximum height of skip list nodes
	currentHeight int          // Current height of the skip list
	size          uint64       // Total size in bytes
	count         int          // Number of entries
	maxSize       uint64       // Maximum size in bytes
	isFlushed     bool         // Whether the MemTable has been flushed
	logger        model.Logger // Logger for operations
	comparator    Comparator   // Function for comparing keys
}

// NewMemTable creates a new empty MemTable using a skip list data structure
func NewMemTable(config MemTableConfig) *MemTable {
	defaults := DefaultMemTableConfig()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Comparator == nil {
		config.Comparator = defaults.Comparator
	}
	if config.MaxSize == 0 {
		config.MaxSize = defaults.MaxSize
	}
	if config.MaxHeight <= 0 {
		config.MaxHeight = defaults.MaxHeight
	}

	return &MemTable{
		head:          &skipNode{forward: make([]*skipNode, config.MaxHeight)},
		maxHeight:     config.MaxHeight,
		currentHeight: 1,
		maxSize:       config.MaxSize,
		logger:        config.Logger,
		comparator:    config.Comparator,
	}
}

// randomHeight generates a random height for a new node.
// Roughly 3/4 of nodes have height 1, 3/16 height 2, and so on.
func (m *MemTable) randomHeight() int {
	const probability = 0.25
	height := 1

	for height < m.maxHeight && rand.Float64() < probability {
		height++
	}

	return height
}

// findNodeAndPrevs searches for a key in the skip list.
// It returns the node holding the key (nil if absent), the predecessors at
// every level, and the first node with a key >= the search key.
func (m *MemTable) findNodeAndPrevs(key []byte) (*skipNode, []*skipNode, *skipNode) {
	prevs := make([]*skipNode, m.maxHeight)
	current := m.head

	for i := m.currentHeight - 1; i >= 0; i-- {
		for current.forward[i] != nil && m.comparator(current.forward[i].key, key) < 0 {
			current = current.forward[i]
		}
		prevs[i] = current
	}

	next := current.forward[0]
	if next != nil && m.comparator(next.key, key) == 0 {
		return next, prevs, next
	}
	return nil, prevs, next
}

// Put adds or updates a key-value pair in the MemTable
func (m *MemTable) Put(key, value []byte) error {
	if key == nil {
		return ErrNilKey
	}
	if value == nil {
		return ErrNilValue
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isFlushed {
		return ErrMemTableFlushed
	}

	entrySize := uint64(len(key) + len(value))
	node, prevs, _ := m.findNodeAndPrevs(key)

	if node != nil {
		oldSize := node.size
		if m.size-oldSize+entrySize > m.maxSize {
			return ErrMemTableFull
		}

		node.value = append([]byte{}, value...)
		node.size = entrySize
		m.size = m.size - oldSize + entrySize
		return nil
	}

	if m.size+entrySize > m.maxSize {
		return ErrMemTableFull
	}

	height := m.randomHeight()
	newNode := &skipNode{
		key:     append([]byte{}, key...),
		value:   append([]byte{}, value...),
		size:    entrySize,
		forward: make([]*skipNode, height),
	}

	if height > m.currentHeight {
		for i := m.currentHeight; i < height; i++ {
			prevs[i] = m.head
		}
		m.currentHeight = height
	}

	for i := 0; i < height; i++ {
		newNode.forward[i] = prevs[i].forward[i]
		prevs[i].forward[i] = newNode
	}

	m.size += entrySize
	m.count++
	return nil
}

// Get retrieves a value from the MemTable by key
func (m *MemTable) Get(key []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	node, _, _ := m.findNodeAndPrevs(key)
	if node == nil {
		return nil, ErrKeyNotFound
	}

	return append([]byte{}, node.value...), nil
}

// Contains checks if a key exists in the MemTable
func (m *MemTable) Contains(key []byte) bool {
	if key == nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	node, _, _ := m.findNodeAndPrevs(key)
	return node != nil
}

// Ascend calls fn for every entry with a key >= start, in key order, until
// fn returns false. The slices passed to fn must not be retained.
func (m *MemTable) Ascend(start []byte, fn func(key, value []byte) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, _, current := m.findNodeAndPrevs(start)
	for current != nil {
		if !fn(current.key, current.value) {
			return
		}
		current = current.forward[0]
	}
}

// Fits reports whether the entry can be added without exceeding the maximum size
func (m *MemTable) Fits(key, value []byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.size+uint64(len(key)+len(value)) <= m.maxSize
}

// Size returns the current size of the MemTable in bytes
func (m *MemTable) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.size
}

// MaxSize returns the maximum size of the MemTable in bytes
func (m *MemTable) MaxSize() uint64 {
	return m.maxSize
}

// EntryCount returns the number of entries in the MemTable
func (m *MemTable) EntryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.count
}

// IsFull returns true if the MemTable has reached its maximum size
func (m *MemTable) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.size >= m.maxSize
}

// MarkFlushed marks the MemTable as flushed.
// After being marked as flushed, the MemTable becomes read-only.
func (m *MemTable) MarkFlushed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.isFlushed = true
	m.logger.Debug("MemTable marked as flushed with %d entries and %d bytes", m.count, m.size)
}

// IsFlushed returns true if the MemTable has been flushed
func (m *MemTable) IsFlushed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.isFlushed
}

// GetEntries returns all entries in the MemTable in sorted order as
// alternating key and value slices.
func (m *MemTable) GetEntries() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([][]byte, 0, m.count*2)

	current := m.head.forward[0]
	for current != nil {
		entries = append(entries, append([]byte{}, current.key...))
		entries = append(entries, append([]byte{}, current.value...))
		current = current.forward[0]
	}

	return entries
}
