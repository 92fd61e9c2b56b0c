package model

import (
	"errors"
	"fmt"
)

// Store lifecycle errors shared by every backend
var (
	ErrNotAStore       = errors.New("path does not hold an xref store")
	ErrStoreNotLoading = errors.New("store is not in load mode")
	ErrStoreClosed     = errors.New("store is closed")
	ErrStoreReadOnly   = errors.New("store is open read-only")
)

// ErrInvalidXref is returned when a string cannot be parsed into an Xref
type ErrInvalidXref struct {
	Value string
}

func (e ErrInvalidXref) Error() string {
	return fmt.Sprintf("invalid xref %q: expected Code:ID", e.Value)
}

// ErrUnknownSystemCode is returned when a system code does not resolve to a DataSource
type ErrUnknownSystemCode struct {
	Code string
}

func (e ErrUnknownSystemCode) Error() string {
	return fmt.Sprintf("unknown data source system code: %s", e.Code)
}

// ErrFieldTooLong is returned when a serialized field exceeds its length prefix
type ErrFieldTooLong struct {
	Field string
	Size  int
}

func (e ErrFieldTooLong) Error() string {
	return fmt.Sprintf("%s is too long to serialize (%d bytes)", e.Field, e.Size)
}
