package storage

import (
	"fmt"
	"os"
	"testing"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

func benchmarkEngine(b *testing.B, memTableSize uint64) (*StorageEngine, func()) {
	b.Helper()
	tempDir, err := os.MkdirTemp("", "engine_bench")
	if err != nil {
		b.Fatalf("Failed to create temp directory: %v", err)
	}

	config := DefaultEngineConfig()
	config.DataDir = tempDir
	config.MemTableSize = memTableSize
	config.Logger = model.NewNoOpLogger()

	engine, err := NewStorageEngine(config)
	if err != nil {
		os.RemoveAll(tempDir)
		b.Fatalf("Failed to create storage engine: %v", err)
	}
	return engine, func() {
		engine.Close()
		os.RemoveAll(tempDir)
	}
}

// BenchmarkEngineWrite measures puts, including the flushes they trigger
func BenchmarkEngineWrite(b *testing.B) {
	engine, cleanup := benchmarkEngine(b, 1024*1024)
	defer cleanup()

	value := []byte("benchmark-value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := engine.Put([]byte(fmt.Sprintf("key-%09d", i)), value); err != nil {
			b.Fatalf("Failed to put at iteration %d: %v", i, err)
		}
	}
}

// BenchmarkEngineRead measures point reads spread over memtable and SSTables
func BenchmarkEngineRead(b *testing.B) {
	engine, cleanup := benchmarkEngine(b, 64*1024)
	defer cleanup()

	const numKeys = 10000
	for i := 0; i < numKeys; i++ {
		if err := engine.Put([]byte(fmt.Sprintf("key-%09d", i)), []byte(fmt.Sprintf("value-%d", i))); err != nil {
			b.Fatalf("Failed to put: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Get([]byte(fmt.Sprintf("key-%09d", i%numKeys))); err != nil {
			b.Fatalf("Failed to get at iteration %d: %v", i, err)
		}
	}
}

// BenchmarkEngineScan measures a prefix scan over flushed data
func BenchmarkEngineScan(b *testing.B) {
	engine, cleanup := benchmarkEngine(b, 64*1024)
	defer cleanup()

	for i := 0; i < 5000; i++ {
		prefix := "a"
		if i%2 == 0 {
			prefix = "b"
		}
		if err := engine.Put([]byte(fmt.Sprintf("%s:%09d", prefix, i)), []byte("v")); err != nil {
			b.Fatalf("Failed to put: %v", err)
		}
	}
	if err := engine.Flush(); err != nil {
		b.Fatalf("Failed to flush: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		count := 0
		err := engine.Scan([]byte("a:"), func(key, value []byte) error {
			count++
			return nil
		})
		if err != nil {
			b.Fatalf("Failed to scan: %v", err)
		}
		if count != 2500 {
			b.Fatalf("Expected 2500 keys, got %d", count)
		}
	}
}

// BenchmarkEngineCompaction measures merging several SSTables into one
func BenchmarkEngineCompaction(b *testing.B) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		engine, cleanup := benchmarkEngine(b, 16*1024)
		for j := 0; j < 5000; j++ {
			if err := engine.Put([]byte(fmt.Sprintf("key-%09d", j%3000)), []byte(fmt.Sprintf("value-%d", j))); err != nil {
				b.Fatalf("Failed to put: %v", err)
			}
		}
		b.StartTimer()

		if err := engine.Compact(); err != nil {
			b.Fatalf("Failed to compact: %v", err)
		}

		b.StopTimer()
		cleanup()
		b.StartTimer()
	}
}

// BenchmarkGraphStoreLoad measures loading primaries with one secondary each
func BenchmarkGraphStoreLoad(b *testing.B) {
	tempDir, err := os.MkdirTemp("", "graph_store_bench")
	if err != nil {
		b.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	config := DefaultEngineConfig()
	config.DataDir = tempDir
	config.Logger = model.NewNoOpLogger()

	g, err := CreateGraphStore(config)
	if err != nil {
		b.Fatalf("Failed to create graph store: %v", err)
	}
	defer g.Close()
	if err := g.CreateSchema(); err != nil {
		b.Fatalf("Failed to create schema: %v", err)
	}
	if err := g.BeginLoad(); err != nil {
		b.Fatalf("Failed to begin load: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		primary := model.Xref{ID: fmt.Sprintf("Q%d", i), SystemCode: "Wd"}
		secondary := model.Xref{ID: fmt.Sprintf("WP%d", i%500), SystemCode: "Wp"}
		if err := g.AddNode(primary); err != nil {
			b.Fatalf("Failed to add node: %v", err)
		}
		if err := g.AddNode(secondary); err != nil {
			b.Fatalf("Failed to add node: %v", err)
		}
		if err := g.AddLink(primary, primary); err != nil {
			b.Fatalf("Failed to add link: %v", err)
		}
		if err := g.AddLink(primary, secondary); err != nil {
			b.Fatalf("Failed to add link: %v", err)
		}
		if i%5000 == 4999 {
			if err := g.Commit(); err != nil {
				b.Fatalf("Failed to commit: %v", err)
			}
		}
	}
}
