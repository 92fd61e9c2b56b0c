package storage

import (
	"fmt"
	"os"
	"testing"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

func benchmarkSSTable(b *testing.B, numKeys int) (*SSTable, func()) {
	b.Helper()
	tempDir, err := os.MkdirTemp("", "sstable_bench")
	if err != nil {
		b.Fatalf("Failed to create temp directory: %v", err)
	}

	entries := make([][]byte, 0, numKeys*2)
	for i := 0; i < numKeys; i++ {
		entries = append(entries, []byte(fmt.Sprintf("key-%09d", i)), []byte(fmt.Sprintf("value-%d", i)))
	}

	sst, err := createSSTableFromEntries(SSTableConfig{
		ID:             1,
		Path:           tempDir,
		Logger:         model.NewNoOpLogger(),
		Comparator:     DefaultComparator,
		BloomFilterFPR: 0.01,
	}, entries)
	if err != nil {
		os.RemoveAll(tempDir)
		b.Fatalf("Failed to create SSTable: %v", err)
	}
	return sst, func() {
		sst.Close()
		os.RemoveAll(tempDir)
	}
}

func BenchmarkSSTableGet(b *testing.B) {
	const numKeys = 10000
	sst, cleanup := benchmarkSSTable(b, numKeys)
	defer cleanup()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sst.Get([]byte(fmt.Sprintf("key-%09d", i%numKeys))); err != nil {
			b.Fatalf("Failed to get: %v", err)
		}
	}
}

// BenchmarkSSTableGetMissing measures lookups the bloom filter rejects
func BenchmarkSSTableGetMissing(b *testing.B) {
	sst, cleanup := benchmarkSSTable(b, 10000)
	defer cleanup()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sst.Get([]byte(fmt.Sprintf("key-%09d-missing", i))); err != ErrKeyNotFoundInSSTable {
			b.Fatalf("Expected ErrKeyNotFoundInSSTable, got %v", err)
		}
	}
}

func BenchmarkSSTableIterate(b *testing.B) {
	sst, cleanup := benchmarkSSTable(b, 10000)
	defer cleanup()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		iter, err := sst.Iterator(nil)
		if err != nil {
			b.Fatalf("Failed to create iterator: %v", err)
		}
		for iter.Valid() {
			if err := iter.Next(); err != nil {
				b.Fatalf("Failed to advance: %v", err)
			}
		}
	}
}
