package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidBloomFilter is returned when a bloom filter file cannot be decoded
var ErrInvalidBloomFilter = errors.New("invalid bloom filter file")

// bloomHeaderSize is Size(8) + HashFuncs(8) + ExpectedN(8) + Insertions(8)
const bloomHeaderSize = 32

// BloomFilter is a probabilistic data structure that is used to test whether an element
// is a member of a set. False positives are possible, but false negatives are not.
// SSTables are immutable once written, so the filter is not safe for
// concurrent Add and Contains.
type BloomFilter struct {
	bits       []byte // The bit array
	size       uint64 // The size of the bit array in bits
	hashFuncs  uint64 // The number of hash functions
	expectedN  uint64 // The expected number of elements
	insertions uint64 // The number of elements inserted
}

// NewBloomFilter creates a new Bloom filter with the given parameters.
// falsePositiveRate: The desired false positive rate (e.g., 0.01 for 1%)
// expectedElements: The expected number of elements to be inserted
func NewBloomFilter(falsePositiveRate float64, expectedElements uint64) *BloomFilter {
	if expectedElements == 0 {
		expectedElements = 1
	}

	size := calculateOptimalSize(expectedElements, falsePositiveRate)
	hashFuncs := calculateOptimalHashFuncs(size, expectedElements)

	return &BloomFilter{
		bits:      make([]byte, (size+7)/8),
		size:      size,
		hashFuncs: hashFuncs,
		expectedN: expectedElements,
	}
}

// Add inserts an element into the Bloom filter
func (bf *BloomFilter) Add(key []byte) {
	h1, h2 := bloomHashes(key)
	for i := uint64(0); i < bf.hashFuncs; i++ {
		bf.setBit((h1 + i*h2) % bf.size)
	}
	bf.insertions++
}

// Contains checks if an element might be in the Bloom filter.
// It returns false only if the element is definitely not in the set.
func (bf *BloomFilter) Contains(key []byte) bool {
	h1, h2 := bloomHashes(key)
	for i := uint64(0); i < bf.hashFuncs; i++ {
		if !bf.testBit((h1 + i*h2) % bf.size) {
			return false
		}
	}
	return true
}

// EstimatedFalsePositiveRate returns the estimated false positive rate
// based on the current number of insertions: (1 - e^(-kn/m))^k
func (bf *BloomFilter) EstimatedFalsePositiveRate() float64 {
	k := float64(bf.hashFuncs)
	m := float64(bf.size)
	n := float64(bf.insertions)

	return math.Pow(1-math.Exp(-k*n/m), k)
}

// SaveToFile saves the Bloom filter to a file
func (bf *BloomFilter) SaveToFile(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return err
	}

	header := make([]byte, bloomHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], bf.size)
	binary.LittleEndian.PutUint64(header[8:16], bf.hashFuncs)
	binary.LittleEndian.PutUint64(header[16:24], bf.expectedN)
	binary.LittleEndian.PutUint64(header[24:32], bf.insertions)

	if _, err := file.Write(header); err != nil {
		file.Close()
		return err
	}
	if _, err := file.Write(bf.bits); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadBloomFilter loads a Bloom filter from a file
func LoadBloomFilter(filePath string) (*BloomFilter, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	header := make([]byte, bloomHeaderSize)
	if _, err := io.ReadFull(file, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBloomFilter, err)
	}

	size := binary.LittleEndian.Uint64(header[0:8])
	if size == 0 {
		return nil, ErrInvalidBloomFilter
	}

	bits := make([]byte, (size+7)/8)
	if _, err := io.ReadFull(file, bits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBloomFilter, err)
	}

	return &BloomFilter{
		bits:       bits,
		size:       size,
		hashFuncs:  binary.LittleEndian.Uint64(header[8:16]),
		expectedN:  binary.LittleEndian.Uint64(header[16:24]),
		insertions: binary.LittleEndian.Uint64(header[24:32]),
	}, nil
}

// bloomHashes derives the two base hashes for double hashing from one
// 64-bit xxhash of the key.
func bloomHashes(key []byte) (uint64, uint64) {
	h := xxhash.Sum64(key)
	h1 := h & 0xffffffff
	h2 := (h >> 32) | 1 // odd, so probes never collapse onto one bit
	return h1, h2
}

// setBit sets the bit at the specified position
func (bf *BloomFilter) setBit(position uint64) {
	bf.bits[position/8] |= 1 << (position % 8)
}

// testBit checks if the bit at the specified position is set
func (bf *BloomFilter) testBit(position uint64) bool {
	return bf.bits[position/8]&(1<<(position%8)) != 0
}

// Size returns the size of the Bloom filter in bits
func (bf *BloomFilter) Size() uint64 {
	return bf.size
}

// HashFunctions returns the number of hash functions used
func (bf *BloomFilter) HashFunctions() uint64 {
	return bf.hashFuncs
}

// Insertions returns the number of elements inserted
func (bf *BloomFilter) Insertions() uint64 {
	return bf.insertions
}

// calculateOptimalSize calculates the optimal size of the bit array:
// m = -n*ln(p) / (ln(2)^2)
func calculateOptimalSize(n uint64, p float64) uint64 {
	m := float64(n) * math.Log(p) / (math.Log(2) * math.Log(2) * -1)
	return uint64(math.Max(8, math.Ceil(m)))
}

// calculateOptimalHashFuncs calculates the optimal number of hash functions:
// k = (m/n) * ln(2)
func calculateOptimalHashFuncs(m, n uint64) uint64 {
	k := float64(m) / float64(n) * math.Log(2)
	return uint64(math.Max(1, math.Round(k)))
}
