package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

// SSTable errors
var (
	ErrSSTableCorrupted     = errors.New("SSTable file is corrupted")
	ErrKeyNotFoundInSSTable = errors.New("key not found in SSTable")
	ErrInvalidSSTableFormat = errors.New("invalid SSTable format")
	ErrSSTableClosed        = errors.New("SSTable is not open")
)

// SSTableMagic is a magic number that identifies an SSTable file
const SSTableMagic uint32 = 0x5354424C // "STBL"

// SSTableVersion is the current version of the SSTable format
const SSTableVersion uint16 = 2

// sstHeaderFixedSize is Magic(4) + Version(2) + KeyCount(4) + MinKeyLen(2) + MaxKeyLen(2)
const sstHeaderFixedSize = 14

// maxSSTableValueSize bounds a single value read from disk
const maxSSTableValueSize = 10 * 1024 * 1024

// SSTable is an immutable Sorted String Table stored on disk.
// It consists of a data file holding key-value pairs, an index file mapping
// every key to its offset in the data file, and a bloom filter file.
type SSTable struct {
	id         uint64       // Unique identifier for this SSTable
	path       string       // Path to the SSTable directory
	dataFile   string       // Path to the data file
	indexFile  string       // Path to the index file
	filterFile string       // Path to the bloom filter file
	logger     model.Logger // Logger for SSTable operations
	comparator Comparator   // Comparator for key comparison
	mu         sync.RWMutex // Guards file and isOpen
	isOpen     bool         // Whether the SSTable is open
	file       *os.File     // Data file handle used for point reads

	keyCount  uint32       // Number of key-value pairs in the SSTable
	dataSize  uint64       // Size of the data file in bytes
	dataStart uint64       // Offset of the first entry in the data file
	minKey    []byte       // Minimum key in the SSTable
	maxKey    []byte       // Maximum key in the SSTable
	index     []indexEntry // Sorted keys and their data offsets
	filter    *BloomFilter // Bloom filter over all keys, nil if missing
}

// indexEntry is one key of the in-memory index
type indexEntry struct {
	key    []byte
	offset uint64
}

// SSTableConfig holds configuration options for creating an SSTable
type SSTableConfig struct {
	ID             uint64       // Unique identifier for this SSTable
	Path           string       // Directory where SSTable files will be stored
	Logger         model.Logger // Logger for SSTable operations
	Comparator     Comparator   // Comparator for key comparison
	BloomFilterFPR float64      // Bloom filter false positive rate
}

func (c *SSTableConfig) applyDefaults() {
	if c.Logger == nil {
		c.Logger = model.DefaultLoggerInstance
	}
	if c.Comparator == nil {
		c.Comparator = DefaultComparator
	}
	if c.BloomFilterFPR <= 0 || c.BloomFilterFPR >= 1 {
		c.BloomFilterFPR = 0.01
	}
}

func sstableFiles(dir string, id uint64) (data, index, filter string) {
	return filepath.Join(dir, fmt.Sprintf("%d.data", id)),
		filepath.Join(dir, fmt.Sprintf("%d.index", id)),
		filepath.Join(dir, fmt.Sprintf("%d.filter", id))
}

// CreateSSTable creates a new SSTable from a MemTable
func CreateSSTable(config SSTableConfig, memTable *MemTable) (*SSTable, error) {
	if memTable == nil {
		return nil, errors.New("cannot create SSTable from nil MemTable")
	}
	return createSSTableFromEntries(config, memTable.GetEntries())
}

// createSSTableFromEntries writes entries (alternating keys and values, sorted
// by key, no duplicates) as a new SSTable and opens it.
func createSSTableFromEntries(config SSTableConfig, entries [][]byte) (*SSTable, error) {
	config.applyDefaults()

	if len(entries)%2 != 0 {
		return nil, errors.New("invalid entries: must contain key-value pairs")
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create SSTable directory: %w", err)
	}

	dataFile, indexFile, filterFile := sstableFiles(config.Path, config.ID)

	if err := writeSSTableFiles(dataFile, indexFile, filterFile, entries, config.BloomFilterFPR); err != nil {
		os.Remove(dataFile)
		os.Remove(indexFile)
		os.Remove(filterFile)
		return nil, fmt.Errorf("failed to build SSTable: %w", err)
	}

	sst, err := OpenSSTable(config)
	if err != nil {
		return nil, err
	}

	config.Logger.Debug("Created SSTable with ID %d, %d keys, %d bytes", config.ID, sst.keyCount, sst.dataSize)
	return sst, nil
}

// writeSSTableFiles writes the data, index and filter files.
// Each file is written under a temporary name, synced, then renamed into place.
func writeSSTableFiles(dataPath, indexPath, filterPath string, entries [][]byte, fpr float64) error {
	keyCount := len(entries) / 2

	var minKey, maxKey []byte
	if keyCount > 0 {
		minKey = entries[0]
		maxKey = entries[len(entries)-2]
	}

	filter := NewBloomFilter(fpr, uint64(keyCount))

	err := writeFileAtomic(dataPath, func(w *bufio.Writer) error {
		binary.Write(w, binary.LittleEndian, SSTableMagic)
		binary.Write(w, binary.LittleEndian, SSTableVersion)
		binary.Write(w, binary.LittleEndian, uint32(keyCount))
		binary.Write(w, binary.LittleEndian, uint16(len(minKey)))
		binary.Write(w, binary.LittleEndian, uint16(len(maxKey)))
		w.Write(minKey)
		w.Write(maxKey)

		for i := 0; i < len(entries); i += 2 {
			key, value := entries[i], entries[i+1]
			binary.Write(w, binary.LittleEndian, uint16(len(key)))
			w.Write(key)
			binary.Write(w, binary.LittleEndian, uint32(len(value)))
			if _, err := w.Write(value); err != nil {
				return err
			}
			filter.Add(key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	err = writeFileAtomic(indexPath, func(w *bufio.Writer) error {
		offset := uint64(sstHeaderFixedSize + len(minKey) + len(maxKey))
		for i := 0; i < len(entries); i += 2 {
			key, value := entries[i], entries[i+1]
			binary.Write(w, binary.LittleEndian, uint16(len(key)))
			w.Write(key)
			if err := binary.Write(w, binary.LittleEndian, offset); err != nil {
				return err
			}
			offset += 2 + uint64(len(key)) + 4 + uint64(len(value))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write index file: %w", err)
	}

	if err := filter.SaveToFile(filterPath); err != nil {
		return fmt.Errorf("failed to write filter file: %w", err)
	}

	return nil
}

// writeFileAtomic writes path through a buffered writer and renames it into place
func writeFileAtomic(path string, fn func(w *bufio.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if err := fn(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// OpenSSTable opens an existing SSTable and loads its index and filter
func OpenSSTable(config SSTableConfig) (*SSTable, error) {
	config.applyDefaults()

	dataFile, indexFile, filterFile := sstableFiles(config.Path, config.ID)

	if _, err := os.Stat(dataFile); err != nil {
		return nil, fmt.Errorf("data file not found: %w", err)
	}
	if _, err := os.Stat(indexFile); err != nil {
		return nil, fmt.Errorf("index file not found: %w", err)
	}

	sst := &SSTable{
		id:         config.ID,
		path:       config.Path,
		dataFile:   dataFile,
		indexFile:  indexFile,
		filterFile: filterFile,
		logger:     config.Logger,
		comparator: config.Comparator,
	}

	file, err := os.Open(dataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	sst.file = file

	if err := sst.readHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read SSTable header: %w", err)
	}

	if err := sst.loadIndex(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to load SSTable index: %w", err)
	}

	// A missing or damaged filter only costs lookups, not correctness
	filter, err := LoadBloomFilter(filterFile)
	if err != nil {
		sst.logger.Warn("SSTable %d has no usable bloom filter: %v", config.ID, err)
	} else {
		sst.filter = filter
	}

	sst.isOpen = true
	return sst, nil
}

// Get retrieves a value from the SSTable by key
func (sst *SSTable) Get(key []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrNilKey
	}

	sst.mu.RLock()
	defer sst.mu.RUnlock()

	if !sst.isOpen {
		return nil, ErrSSTableClosed
	}

	if !sst.mayContain(key) {
		return nil, ErrKeyNotFoundInSSTable
	}

	offset, err := sst.findKeyInIndex(key)
	if err != nil {
		return nil, err
	}

	_, value, err := readEntryAt(sst.file, int64(offset), int64(sst.dataSize))
	return value, err
}

// Contains checks if a key exists in the SSTable
func (sst *SSTable) Contains(key []byte) (bool, error) {
	if key == nil {
		return false, nil
	}

	sst.mu.RLock()
	defer sst.mu.RUnlock()

	if !sst.isOpen {
		return false, ErrSSTableClosed
	}

	if !sst.mayContain(key) {
		return false, nil
	}

	_, err := sst.findKeyInIndex(key)
	if err == ErrKeyNotFoundInSSTable {
		return false, nil
	} else if err != nil {
		return false, err
	}

	return true, nil
}

// mayContain checks the key range and the bloom filter
func (sst *SSTable) mayContain(key []byte) bool {
	if sst.keyCount == 0 {
		return false
	}
	if sst.comparator(key, sst.minKey) < 0 || sst.comparator(key, sst.maxKey) > 0 {
		return false
	}
	if sst.filter != nil && !sst.filter.Contains(key) {
		return false
	}
	return true
}

// Close closes the SSTable
func (sst *SSTable) Close() error {
	sst.mu.Lock()
	defer sst.mu.Unlock()

	if !sst.isOpen {
		return nil
	}

	sst.isOpen = false
	sst.index = nil
	return sst.file.Close()
}

// Remove deletes the SSTable files. The SSTable must be closed.
func (sst *SSTable) Remove() error {
	for _, path := range []string{sst.dataFile, sst.indexFile, sst.filterFile} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// ID returns the ID of the SSTable
func (sst *SSTable) ID() uint64 {
	return sst.id
}

// KeyCount returns the number of keys in the SSTable
func (sst *SSTable) KeyCount() uint32 {
	return sst.keyCount
}

// Size returns the size of the SSTable data file in bytes
func (sst *SSTable) Size() uint64 {
	return sst.dataSize
}

// MinKey returns the minimum key in the SSTable
func (sst *SSTable) MinKey() []byte {
	return append([]byte(nil), sst.minKey...)
}

// MaxKey returns the maximum key in the SSTable
func (sst *SSTable) MaxKey() []byte {
	return append([]byte(nil), sst.maxKey...)
}

// readHeader reads the SSTable header from the data file
func (sst *SSTable) readHeader() error {
	fileInfo, err := sst.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	r := io.NewSectionReader(sst.file, 0, fileInfo.Size())

	var magic uint32
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != SSTableMagic {
		return ErrInvalidSSTableFormat
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	if version != SSTableVersion {
		return ErrInvalidSSTableFormat
	}

	var keyCount uint32
	var minKeyLen, maxKeyLen uint16
	if err := binary.Read(r, binary.LittleEndian, &keyCount); err != nil {
		return fmt.Errorf("failed to read key count: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &minKeyLen); err != nil {
		return fmt.Errorf("failed to read min key length: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &maxKeyLen); err != nil {
		return fmt.Errorf("failed to read max key length: %w", err)
	}

	minKey := make([]byte, minKeyLen)
	if _, err := io.ReadFull(r, minKey); err != nil {
		return fmt.Errorf("failed to read min key: %w", err)
	}
	maxKey := make([]byte, maxKeyLen)
	if _, err := io.ReadFull(r, maxKey); err != nil {
		return fmt.Errorf("failed to read max key: %w", err)
	}

	sst.keyCount = keyCount
	sst.minKey = minKey
	sst.maxKey = maxKey
	sst.dataStart = uint64(sstHeaderFixedSize) + uint64(minKeyLen) + uint64(maxKeyLen)
	sst.dataSize = uint64(fileInfo.Size())
	return nil
}

// loadIndex reads the whole index file into memory
func (sst *SSTable) loadIndex() error {
	indexData, err := os.ReadFile(sst.indexFile)
	if err != nil {
		return fmt.Errorf("failed to read index file: %w", err)
	}

	index := make([]indexEntry, 0, sst.keyCount)
	pos := 0
	for pos < len(indexData) {
		if pos+2 > len(indexData) {
			return ErrSSTableCorrupted
		}
		keyLen := int(binary.LittleEndian.Uint16(indexData[pos:]))
		pos += 2

		if pos+keyLen+8 > len(indexData) {
			return ErrSSTableCorrupted
		}
		key := indexData[pos : pos+keyLen]
		pos += keyLen

		offset := binary.LittleEndian.Uint64(indexData[pos:])
		pos += 8

		index = append(index, indexEntry{key: key, offset: offset})
	}

	if uint32(len(index)) != sst.keyCount {
		return ErrSSTableCorrupted
	}

	sst.index = index
	return nil
}

// searchIndex returns the position of the first index entry >= key
func (sst *SSTable) searchIndex(key []byte) int {
	return sort.Search(len(sst.index), func(i int) bool {
		return sst.comparator(sst.index[i].key, key) >= 0
	})
}

// findKeyInIndex finds a key in the SSTable index.
// It returns the offset in the data file where the entry is stored.
func (sst *SSTable) findKeyInIndex(key []byte) (uint64, error) {
	i := sst.searchIndex(key)
	if i < len(sst.index) && sst.comparator(sst.index[i].key, key) == 0 {
		return sst.index[i].offset, nil
	}
	return 0, ErrKeyNotFoundInSSTable
}

// readEntryAt reads the key-value entry stored at offset
func readEntryAt(r io.ReaderAt, offset, fileSize int64) ([]byte, []byte, error) {
	if offset >= fileSize {
		return nil, nil, fmt.Errorf("offset %d is beyond file size %d", offset, fileSize)
	}

	var lenBuf [4]byte
	if _, err := r.ReadAt(lenBuf[:2], offset); err != nil {
		return nil, nil, fmt.Errorf("failed to read key length: %w", err)
	}
	keyLen := int64(binary.LittleEndian.Uint16(lenBuf[:2]))
	offset += 2

	if offset+keyLen+4 > fileSize {
		return nil, nil, ErrSSTableCorrupted
	}
	key := make([]byte, keyLen)
	if _, err := r.ReadAt(key, offset); err != nil {
		return nil, nil, fmt.Errorf("failed to read key: %w", err)
	}
	offset += keyLen

	if _, err := r.ReadAt(lenBuf[:], offset); err != nil {
		return nil, nil, fmt.Errorf("failed to read value length: %w", err)
	}
	valueLen := int64(binary.LittleEndian.Uint32(lenBuf[:]))
	offset += 4

	if valueLen > maxSSTableValueSize || offset+valueLen > fileSize {
		return nil, nil, ErrSSTableCorrupted
	}
	value := make([]byte, valueLen)
	if valueLen > 0 {
		if _, err := r.ReadAt(value, offset); err != nil {
			return nil, nil, fmt.Errorf("failed to read value: %w", err)
		}
	}

	return key, value, nil
}

// Iterator returns an iterator positioned at the first key >= start.
// A nil start positions the iterator at the first key.
func (sst *SSTable) Iterator(start []byte) (*SSTableIterator, error) {
	sst.mu.RLock()
	defer sst.mu.RUnlock()

	if !sst.isOpen {
		return nil, ErrSSTableClosed
	}

	iter := &SSTableIterator{sst: sst, pos: 0}
	if start != nil {
		iter.pos = sst.searchIndex(start)
	}
	iter.load()
	return iter, nil
}

// SSTableIterator walks the entries of an SSTable in key order
type SSTableIterator struct {
	sst   *SSTable
	pos   int // Position in the index
	key   []byte
	value []byte
	err   error
}

func (iter *SSTableIterator) load() {
	if iter.pos >= len(iter.sst.index) {
		iter.key, iter.value = nil, nil
		return
	}

	entry := iter.sst.index[iter.pos]
	key, value, err := readEntryAt(iter.sst.file, int64(entry.offset), int64(iter.sst.dataSize))
	if err != nil {
		iter.err = err
		iter.key, iter.value = nil, nil
		return
	}
	iter.key, iter.value = key, value
}

// Valid returns true if the iterator is pointing to a key-value pair
func (iter *SSTableIterator) Valid() bool {
	return iter.err == nil && iter.key != nil
}

// Key returns the current key
func (iter *SSTableIterator) Key() []byte {
	return iter.key
}

// Value returns the current value
func (iter *SSTableIterator) Value() []byte {
	return iter.value
}

// Next moves the iterator to the next key-value pair
func (iter *SSTableIterator) Next() error {
	if !iter.Valid() {
		return iter.err
	}
	iter.pos++
	iter.load()
	return iter.err
}

// Err returns the first read error the iterator hit
func (iter *SSTableIterator) Err() error {
	return iter.err
}
