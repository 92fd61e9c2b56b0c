package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

func openTestWAL(t *testing.T, path string) *WAL {
	t.Helper()
	wal, err := NewWAL(WALConfig{
		Path:   path,
		Logger: model.NewNoOpLogger(),
	})
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	return wal
}

func TestWALReplay(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "wal_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	walPath := filepath.Join(tempDir, "xrefdb.wal")
	wal := openTestWAL(t, walPath)

	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("g:Wd:Q%d", i))
		if err := wal.RecordPut(key, []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("Failed to record put: %v", err)
		}
	}

	if wal.Pending() != 10 {
		t.Errorf("Expected 10 pending records, got %d", wal.Pending())
	}
	if err := wal.Sync(); err != nil {
		t.Fatalf("Failed to sync WAL: %v", err)
	}
	if wal.Pending() != 0 {
		t.Errorf("Expected no pending records after sync, got %d", wal.Pending())
	}

	if err := wal.Close(); err != nil {
		t.Fatalf("Failed to close WAL: %v", err)
	}
	if wal.IsOpen() {
		t.Error("Expected WAL to be closed")
	}

	wal = openTestWAL(t, walPath)
	defer wal.Close()

	mt := NewMemTable(MemTableConfig{Logger: model.NewNoOpLogger()})
	applied, err := wal.Replay(mt)
	if err != nil {
		t.Fatalf("Failed to replay WAL: %v", err)
	}
	if applied != 10 {
		t.Errorf("Expected 10 replayed records, got %d", applied)
	}

	value, err := mt.Get([]byte("g:Wd:Q7"))
	if err != nil {
		t.Fatalf("Expected replayed key: %v", err)
	}
	if string(value) != "value-7" {
		t.Errorf("Expected 'value-7', got %q", value)
	}
}

func TestWALTornTail(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "wal_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	walPath := filepath.Join(tempDir, "xrefdb.wal")
	wal := openTestWAL(t, walPath)
	wal.RecordPut([]byte("a"), []byte("1"))
	wal.RecordPut([]byte("b"), []byte("2"))
	wal.Close()

	// Simulate a torn write after the last complete record
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Failed to open WAL file: %v", err)
	}
	f.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0x01})
	f.Close()

	wal = openTestWAL(t, walPath)
	defer wal.Close()

	mt := NewMemTable(MemTableConfig{Logger: model.NewNoOpLogger()})
	applied, err := wal.Replay(mt)
	if err != nil {
		t.Fatalf("Replay should tolerate a torn tail: %v", err)
	}
	if applied != 2 {
		t.Errorf("Expected 2 replayed records, got %d", applied)
	}
}

func TestWALTruncate(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "wal_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	walPath := filepath.Join(tempDir, "xrefdb.wal")
	wal := openTestWAL(t, walPath)
	defer wal.Close()

	wal.RecordPut([]byte("a"), []byte("1"))
	if err := wal.Truncate(); err != nil {
		t.Fatalf("Failed to truncate WAL: %v", err)
	}

	info, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("Failed to stat WAL: %v", err)
	}
	if info.Size() != walHeaderSize {
		t.Errorf("Expected only the header after truncate, got %d bytes", info.Size())
	}

	// The WAL stays usable after truncation
	wal.RecordPut([]byte("b"), []byte("2"))
	mt := NewMemTable(MemTableConfig{Logger: model.NewNoOpLogger()})
	applied, err := wal.Replay(mt)
	if err != nil {
		t.Fatalf("Failed to replay WAL: %v", err)
	}
	if applied != 1 || !mt.Contains([]byte("b")) || mt.Contains([]byte("a")) {
		t.Errorf("Unexpected replay after truncate: applied=%d", applied)
	}
}

func TestWALBadHeader(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "wal_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	walPath := filepath.Join(tempDir, "xrefdb.wal")
	if err := os.WriteFile(walPath, []byte("not a wal file"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := NewWAL(WALConfig{Path: walPath, Logger: model.NewNoOpLogger()}); err == nil {
		t.Error("Expected an error opening a file with a bad header")
	}
}

func TestWALClosed(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "wal_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	wal := openTestWAL(t, filepath.Join(tempDir, "xrefdb.wal"))
	wal.Close()

	if err := wal.RecordPut([]byte("k"), []byte("v")); err != ErrWALClosed {
		t.Errorf("Expected ErrWALClosed, got %v", err)
	}
	if err := wal.Sync(); err != ErrWALClosed {
		t.Errorf("Expected ErrWALClosed, got %v", err)
	}
}
