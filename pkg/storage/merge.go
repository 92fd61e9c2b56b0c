package storage

import "errors"

// errStopScan ends a merge early without reporting an error
var errStopScan = errors.New("stop scan")

// scanSource is a sorted run of key-value pairs
type scanSource interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next() error
	Err() error
}

// sliceSource iterates alternating key and value slices
type sliceSource struct {
	entries [][]byte
	pos     int
}

func (s *sliceSource) Valid() bool   { return s.pos+1 < len(s.entries) }
func (s *sliceSource) Key() []byte   { return s.entries[s.pos] }
func (s *sliceSource) Value() []byte { return s.entries[s.pos+1] }
func (s *sliceSource) Err() error    { return nil }

func (s *sliceSource) Next() error {
	s.pos += 2
	return nil
}

// mergeSources walks sources in key order and calls fn once per distinct key.
// Sources are ordered newest first; when several hold the same key, the
// newest value wins. Returning errStopScan from fn ends the walk cleanly.
func mergeSources(sources []scanSource, cmp Comparator, fn func(key, value []byte) error) error {
	for {
		var smallest []byte
		winner := -1
		for i, src := range sources {
			if !src.Valid() {
				continue
			}
			if winner < 0 || cmp(src.Key(), smallest) < 0 {
				smallest = src.Key()
				winner = i
			}
		}

		if winner < 0 {
			break
		}

		value := sources[winner].Value()

		// Advance every source past this key
		for _, src := range sources {
			if src.Valid() && cmp(src.Key(), smallest) == 0 {
				if err := src.Next(); err != nil {
					return err
				}
			}
		}

		if err := fn(smallest, value); err != nil {
			if err == errStopScan {
				return nil
			}
			return err
		}
	}

	for _, src := range sources {
		if err := src.Err(); err != nil {
			return err
		}
	}
	return nil
}
