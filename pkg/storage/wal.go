package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

// WAL errors
var (
	ErrWALCorrupted     = errors.New("WAL is corrupted")
	ErrWALClosed        = errors.New("WAL is closed")
	ErrInvalidWALRecord = errors.New("invalid WAL record")
)

// WAL record type
type RecordType byte

const (
	RecordPut RecordType = 1
)

// WAL header constants
const (
	WALMagic   uint32 = 0x57414C4C // "WALL"
	WALVersion uint16 = 2

	walHeaderSize = 6 // Magic(4) + Version(2)
)

// WALRecord represents a single record in the WAL
type WALRecord struct {
	Type      RecordType
	Key       []byte
	Value     []byte
	Timestamp int64
}

// WAL implements a Write-Ahead Log for durability.
// Records are buffered until Sync, which is the commit point for callers
// that open the WAL without SyncOnWrite.
type WAL struct {
	mu          sync.Mutex
	file        *os.File
	writer      *bufio.Writer
	path        string
	isOpen      bool
	syncOnWrite bool
	pending     int // records written since the last sync
	logger      model.Logger
}

// WALConfig holds configuration options for the WAL
type WALConfig struct {
	Path        string       // Path to the WAL file
	SyncOnWrite bool         // Whether to sync to disk after each write
	Logger      model.Logger // Logger for WAL operations
}

// NewWAL creates a new WAL at the given path
func NewWAL(config WALConfig) (*WAL, error) {
	if config.Logger == nil {
		config.Logger = model.DefaultLoggerInstance
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	file, err := os.OpenFile(config.Path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	wal := &WAL{
		file:        file,
		writer:      bufio.NewWriter(file),
		path:        config.Path,
		isOpen:      true,
		syncOnWrite: config.SyncOnWrite,
		logger:      config.Logger,
	}

	fileInfo, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	if fileInfo.Size() == 0 {
		if err := wal.writeHeader(); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write WAL header: %w", err)
		}
	} else {
		if err := wal.verifyHeader(); err != nil {
			file.Close()
			return nil, fmt.Errorf("invalid WAL header: %w", err)
		}
	}

	wal.logger.Debug("Opened WAL at %s", config.Path)
	return wal, nil
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isOpen {
		return nil
	}

	w.isOpen = false

	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush WAL: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to sync WAL: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}

	w.logger.Debug("Closed WAL at %s", w.path)
	return nil
}

// RecordPut records a key-value pair in the WAL
func (w *WAL) RecordPut(key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isOpen {
		return ErrWALClosed
	}

	record := WALRecord{
		Type:      RecordPut,
		Key:       key,
		Value:     value,
		Timestamp: time.Now().UnixNano(),
	}

	if err := w.writeRecord(record); err != nil {
		return fmt.Errorf("failed to write put record: %w", err)
	}

	return nil
}

// Sync flushes buffered records and fsyncs the WAL.
// Once Sync returns, every record written before it survives a crash.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isOpen {
		return ErrWALClosed
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL buffer: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL to disk: %w", err)
	}

	w.pending = 0
	return nil
}

// Pending returns the number of records written since the last sync
func (w *WAL) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// Replay replays the WAL records and applies them to the given MemTable.
// Replay stops at the first damaged record: a torn write can only be the
// last thing in the log.
func (w *WAL) Replay(memTable *MemTable) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isOpen {
		return 0, ErrWALClosed
	}

	if err := w.writer.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush WAL before replay: %w", err)
	}

	if _, err := w.file.Seek(walHeaderSize, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek to WAL data: %w", err)
	}

	reader := bufio.NewReader(w.file)
	applied := 0

	for {
		record, err := w.readRecord(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			w.logger.Warn("Stopping WAL replay after %d records: %v", applied, err)
			break
		}

		if err := memTable.Put(record.Key, record.Value); err != nil {
			return applied, fmt.Errorf("failed to apply WAL record: %w", err)
		}
		applied++
	}

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return applied, fmt.Errorf("failed to seek to end of WAL: %w", err)
	}

	if applied > 0 {
		w.logger.Info("Replayed %d records from WAL %s", applied, w.path)
	}
	return applied, nil
}

// Truncate truncates the WAL file, removing all records
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isOpen {
		return ErrWALClosed
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to truncate WAL file: %w", err)
	}

	w.file = file
	w.writer = bufio.NewWriter(file)
	w.pending = 0

	if err := w.writeHeader(); err != nil {
		return fmt.Errorf("failed to write WAL header: %w", err)
	}

	w.logger.Debug("Truncated WAL at %s", w.path)
	return nil
}

// writeHeader writes the WAL header to the file
func (w *WAL) writeHeader() error {
	if err := binary.Write(w.writer, binary.LittleEndian, WALMagic); err != nil {
		return err
	}

	if err := binary.Write(w.writer, binary.LittleEndian, WALVersion); err != nil {
		return err
	}

	if err := w.writer.Flush(); err != nil {
		return err
	}

	return w.file.Sync()
}

// verifyHeader verifies the WAL header
func (w *WAL) verifyHeader() error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var magic uint32
	if err := binary.Read(w.file, binary.LittleEndian, &magic); err != nil {
		return err
	}

	if magic != WALMagic {
		return ErrWALCorrupted
	}

	var version uint16
	if err := binary.Read(w.file, binary.LittleEndian, &version); err != nil {
		return err
	}

	if version != WALVersion {
		return ErrWALCorrupted
	}

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	return nil
}

// recordChecksum computes the CRC over the record body
func recordChecksum(record WALRecord) uint32 {
	crc := crc32.NewIEEE()
	crc.Write([]byte{byte(record.Type)})
	binary.Write(crc, binary.LittleEndian, record.Timestamp)
	binary.Write(crc, binary.LittleEndian, uint32(len(record.Key)))
	crc.Write(record.Key)
	binary.Write(crc, binary.LittleEndian, uint32(len(record.Value)))
	crc.Write(record.Value)
	return crc.Sum32()
}

// writeRecord writes a record to the WAL
// Layout: CRC(4) Size(4) Type(1) Timestamp(8) KeyLen(4) Key ValueLen(4) Value
func (w *WAL) writeRecord(record WALRecord) error {
	totalSize := 1 + 8 + 4 + len(record.Key) + 4 + len(record.Value)

	if err := binary.Write(w.writer, binary.LittleEndian, recordChecksum(record)); err != nil {
		return err
	}
	if err := binary.Write(w.writer, binary.LittleEndian, uint32(totalSize)); err != nil {
		return err
	}
	if err := w.writer.WriteByte(byte(record.Type)); err != nil {
		return err
	}
	if err := binary.Write(w.writer, binary.LittleEndian, record.Timestamp); err != nil {
		return err
	}
	if err := binary.Write(w.writer, binary.LittleEndian, uint32(len(record.Key))); err != nil {
		return err
	}
	if _, err := w.writer.Write(record.Key); err != nil {
		return err
	}
	if err := binary.Write(w.writer, binary.LittleEndian, uint32(len(record.Value))); err != nil {
		return err
	}
	if _, err := w.writer.Write(record.Value); err != nil {
		return err
	}

	w.pending++

	if w.syncOnWrite {
		if err := w.writer.Flush(); err != nil {
			return err
		}
		if err := w.file.Sync(); err != nil {
			return err
		}
		w.pending = 0
	}

	return nil
}

// readRecord reads a record from the WAL
func (w *WAL) readRecord(reader *bufio.Reader) (WALRecord, error) {
	var record WALRecord

	var crcValue uint32
	if err := binary.Read(reader, binary.LittleEndian, &crcValue); err != nil {
		return record, err
	}

	var recordSize uint32
	if err := binary.Read(reader, binary.LittleEndian, &recordSize); err != nil {
		return record, ErrWALCorrupted
	}

	recordTypeByte, err := reader.ReadByte()
	if err != nil {
		return record, ErrWALCorrupted
	}
	record.Type = RecordType(recordTypeByte)

	if record.Type != RecordPut {
		return record, ErrInvalidWALRecord
	}

	if err := binary.Read(reader, binary.LittleEndian, &record.Timestamp); err != nil {
		return record, ErrWALCorrupted
	}

	var keyLength uint32
	if err := binary.Read(reader, binary.LittleEndian, &keyLength); err != nil {
		return record, ErrWALCorrupted
	}
	if keyLength > recordSize {
		return record, ErrWALCorrupted
	}

	record.Key = make([]byte, keyLength)
	if _, err := io.ReadFull(reader, record.Key); err != nil {
		return record, ErrWALCorrupted
	}

	var valueLength uint32
	if err := binary.Read(reader, binary.LittleEndian, &valueLength); err != nil {
		return record, ErrWALCorrupted
	}
	if valueLength > recordSize {
		return record, ErrWALCorrupted
	}

	record.Value = make([]byte, valueLength)
	if _, err := io.ReadFull(reader, record.Value); err != nil {
		return record, ErrWALCorrupted
	}

	if recordChecksum(record) != crcValue {
		return record, ErrWALCorrupted
	}

	return record, nil
}

// IsOpen returns whether the WAL is open
func (w *WAL) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isOpen
}

// Path returns the path to the WAL file
func (w *WAL) Path() string {
	return w.path
}

// ReplayWALFile applies the records of the WAL at path to memTable without
// opening the log for writing. A missing file replays nothing.
func ReplayWALFile(path string, memTable *MemTable, logger model.Logger) (int, error) {
	if logger == nil {
		logger = model.DefaultLoggerInstance
	}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to open WAL file: %w", err)
	}
	defer file.Close()

	if info, err := file.Stat(); err != nil {
		return 0, fmt.Errorf("failed to get file info: %w", err)
	} else if info.Size() == 0 {
		return 0, nil
	}

	w := &WAL{file: file, path: path, logger: logger}
	if err := w.verifyHeader(); err != nil {
		return 0, fmt.Errorf("invalid WAL header: %w", err)
	}
	if _, err := file.Seek(walHeaderSize, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek to WAL data: %w", err)
	}

	reader := bufio.NewReader(file)
	applied := 0
	for {
		record, err := w.readRecord(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("Stopping WAL replay after %d records: %v", applied, err)
			break
		}
		if err := memTable.Put(record.Key, record.Value); err != nil {
			return applied, fmt.Errorf("failed to apply WAL record: %w", err)
		}
		applied++
	}

	return applied, nil
}
