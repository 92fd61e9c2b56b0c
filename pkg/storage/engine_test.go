package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

func testEngineConfig(dir string) EngineConfig {
	return EngineConfig{
		DataDir:        dir,
		MemTableSize:   4096, // 4KB (small for testing)
		Logger:         model.NewNoOpLogger(),
		Comparator:     DefaultComparator,
		BloomFilterFPR: 0.01,
	}
}

func TestStorageEngineBasicOperations(t *testing.T) {
	dbDir, err := os.MkdirTemp("", "engine_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(dbDir)

	engine, err := NewStorageEngine(testEngineConfig(dbDir))
	if err != nil {
		t.Fatalf("Failed to create storage engine: %v", err)
	}
	defer engine.Close()

	testData := map[string]string{
		"key1": "value1",
		"key2": "value2",
		"key3": "value3",
	}

	for key, value := range testData {
		if err := engine.Put([]byte(key), []byte(value)); err != nil {
			t.Errorf("Failed to put key %q: %v", key, err)
		}
	}

	for key, expectedValue := range testData {
		value, err := engine.Get([]byte(key))
		if err != nil {
			t.Errorf("Failed to get key %q: %v", key, err)
			continue
		}
		if string(value) != expectedValue {
			t.Errorf("For key %q, expected value %q, got %q", key, expectedValue, value)
		}
	}

	if _, err := engine.Get([]byte("missing")); err != ErrKeyNotFound {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	found, err := engine.Contains([]byte("key2"))
	if err != nil || !found {
		t.Errorf("Expected key2 to exist: %v", err)
	}
}

func TestStorageEngineFlushOnFullMemTable(t *testing.T) {
	dbDir, err := os.MkdirTemp("", "engine_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(dbDir)

	engine, err := NewStorageEngine(testEngineConfig(dbDir))
	if err != nil {
		t.Fatalf("Failed to create storage engine: %v", err)
	}
	defer engine.Close()

	// About 40 bytes per entry, so 1000 entries overflow a 4KB MemTable many times
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("g:Wd:Q%06d", i))
		value := []byte(fmt.Sprintf("value-%020d", i))
		if err := engine.Put(key, value); err != nil {
			t.Fatalf("Failed to put key %d: %v", i, err)
		}
	}

	stats := engine.Stats()
	if stats.Flushes == 0 {
		t.Fatal("Expected at least one MemTable flush")
	}
	if stats.SSTables == 0 {
		t.Fatal("Expected SSTables after flushing")
	}

	for i := 0; i < 1000; i += 37 {
		key := []byte(fmt.Sprintf("g:Wd:Q%06d", i))
		value, err := engine.Get(key)
		if err != nil {
			t.Fatalf("Failed to get key %d: %v", i, err)
		}
		if string(value) != fmt.Sprintf("value-%020d", i) {
			t.Errorf("Unexpected value for key %d: %q", i, value)
		}
	}
}

func TestStorageEngineEntryTooLarge(t *testing.T) {
	dbDir, err := os.MkdirTemp("", "engine_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(dbDir)

	engine, err := NewStorageEngine(testEngineConfig(dbDir))
	if err != nil {
		t.Fatalf("Failed to create storage engine: %v", err)
	}
	defer engine.Close()

	if err := engine.Put([]byte("big"), make([]byte, 8192)); !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("Expected ErrEntryTooLarge, got %v", err)
	}
}

func TestStorageEngineOverwriteAcrossTables(t *testing.T) {
	dbDir, err := os.MkdirTemp("", "engine_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(dbDir)

	engine, err := NewStorageEngine(testEngineConfig(dbDir))
	if err != nil {
		t.Fatalf("Failed to create storage engine: %v", err)
	}
	defer engine.Close()

	engine.Put([]byte("k"), []byte("old"))
	if err := engine.Flush(); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}
	engine.Put([]byte("k"), []byte("new"))

	value, _ := engine.Get([]byte("k"))
	if string(value) != "new" {
		t.Errorf("Expected newest value, got %q", value)
	}

	var scanned []string
	engine.Scan([]byte("k"), func(key, value []byte) error {
		scanned = append(scanned, string(value))
		return nil
	})
	if len(scanned) != 1 || scanned[0] != "new" {
		t.Errorf("Expected scan to yield only the newest value, got %v", scanned)
	}

	if err := engine.Compact(); err != nil {
		t.Fatalf("Failed to compact: %v", err)
	}
	if engine.Stats().SSTables != 1 {
		t.Errorf("Expected 1 SSTable after compaction, got %d", engine.Stats().SSTables)
	}
	value, _ = engine.Get([]byte("k"))
	if string(value) != "new" {
		t.Errorf("Expected newest value after compaction, got %q", value)
	}
}

func TestStorageEngineScan(t *testing.T) {
	dbDir, err := os.MkdirTemp("", "engine_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(dbDir)

	engine, err := NewStorageEngine(testEngineConfig(dbDir))
	if err != nil {
		t.Fatalf("Failed to create storage engine: %v", err)
	}
	defer engine.Close()

	// Spread the keys over the MemTable and several SSTables
	for i := 0; i < 300; i++ {
		engine.Put([]byte(fmt.Sprintf("g:Wd:Q%04d", i)), []byte("node"))
		engine.Put([]byte(fmt.Sprintf("l:Wd:Q%04d", i)), []byte("link"))
		if i%100 == 99 {
			engine.Flush()
		}
	}
	engine.Put([]byte("i:SERIES"), []byte("pathways"))

	var keys [][]byte
	err = engine.Scan([]byte("g:"), func(key, value []byte) error {
		if string(value) != "node" {
			t.Errorf("Unexpected value %q under node prefix", value)
		}
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(keys) != 300 {
		t.Fatalf("Expected 300 node keys, got %d", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1], keys[i]) >= 0 {
			t.Fatalf("Scan out of order at %d: %q then %q", i, keys[i-1], keys[i])
		}
	}

	stop := errors.New("stop")
	count := 0
	err = engine.Scan([]byte("l:"), func(key, value []byte) error {
		count++
		if count == 5 {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Errorf("Expected callback error to propagate, got %v", err)
	}
	if count != 5 {
		t.Errorf("Expected scan to stop after 5 keys, got %d", count)
	}
}

func TestStorageEngineRecoverFromWAL(t *testing.T) {
	dbDir, err := os.MkdirTemp("", "engine_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(dbDir)

	config := testEngineConfig(dbDir)
	config.MemTableSize = 1024 * 1024

	engine, err := NewStorageEngine(config)
	if err != nil {
		t.Fatalf("Failed to create storage engine: %v", err)
	}

	engine.Put([]byte("committed"), []byte("yes"))
	if err := engine.Sync(); err != nil {
		t.Fatalf("Failed to sync: %v", err)
	}

	// Simulate a crash: drop the engine without Close. The synced WAL
	// records are all that survive.
	engine.wal.file.Close()
	engine.closeSSTables()

	readOnly := config
	readOnly.ReadOnly = true
	reopened, err := NewStorageEngine(readOnly)
	if err != nil {
		t.Fatalf("Failed to reopen storage engine: %v", err)
	}
	defer reopened.Close()

	value, err := reopened.Get([]byte("committed"))
	if err != nil || string(value) != "yes" {
		t.Errorf("Expected committed value after crash, got %q, %v", value, err)
	}
	if err := reopened.Put([]byte("k"), []byte("v")); err != ErrEngineReadOnly {
		t.Errorf("Expected ErrEngineReadOnly, got %v", err)
	}
}

func TestStorageEngineRecreate(t *testing.T) {
	dbDir, err := os.MkdirTemp("", "engine_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(dbDir)

	storeDir := filepath.Join(dbDir, "pathways.kgs")
	config := testEngineConfig(storeDir)

	engine, err := NewStorageEngine(config)
	if err != nil {
		t.Fatalf("Failed to create storage engine: %v", err)
	}
	engine.Put([]byte("stale"), []byte("value"))
	if err := engine.Close(); err != nil {
		t.Fatalf("Failed to close engine: %v", err)
	}

	config.Recreate = true
	engine, err = NewStorageEngine(config)
	if err != nil {
		t.Fatalf("Failed to recreate storage engine: %v", err)
	}
	defer engine.Close()

	if found, _ := engine.Contains([]byte("stale")); found {
		t.Error("Expected recreate to remove existing data")
	}
}

func TestStorageEngineReadOnlyMissingDir(t *testing.T) {
	config := testEngineConfig(filepath.Join(os.TempDir(), "xrefdb-does-not-exist"))
	config.ReadOnly = true

	if _, err := NewStorageEngine(config); err == nil {
		t.Error("Expected an error opening a missing store read-only")
	}
}

func TestStorageEngineAutoCompaction(t *testing.T) {
	dbDir, err := os.MkdirTemp("", "engine_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(dbDir)

	config := testEngineConfig(dbDir)
	config.CompactionThreshold = 3

	engine, err := NewStorageEngine(config)
	if err != nil {
		t.Fatalf("Failed to create storage engine: %v", err)
	}
	defer engine.Close()

	for i := 0; i < 2000; i++ {
		key := []byte(fmt.Sprintf("g:Wp:WP%06d", i))
		if err := engine.Put(key, []byte("some node payload")); err != nil {
			t.Fatalf("Failed to put: %v", err)
		}
	}

	stats := engine.Stats()
	if stats.Compactions == 0 {
		t.Error("Expected automatic compaction to run")
	}
	if stats.SSTables >= 3 {
		t.Errorf("Expected fewer than 3 SSTables, got %d", stats.SSTables)
	}

	count := 0
	engine.Scan([]byte("g:"), func(key, value []byte) error {
		count++
		return nil
	})
	if count != 2000 {
		t.Errorf("Expected 2000 keys after compaction, got %d", count)
	}
}

func TestStorageEngineClosed(t *testing.T) {
	dbDir, err := os.MkdirTemp("", "engine_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(dbDir)

	engine, err := NewStorageEngine(testEngineConfig(dbDir))
	if err != nil {
		t.Fatalf("Failed to create storage engine: %v", err)
	}
	engine.Close()

	if err := engine.Put([]byte("k"), []byte("v")); err != ErrEngineClosed {
		t.Errorf("Expected ErrEngineClosed, got %v", err)
	}
	if _, err := engine.Get([]byte("k")); err != ErrEngineClosed {
		t.Errorf("Expected ErrEngineClosed, got %v", err)
	}
}
