package model

import "strings"

// Xref is a cross-reference: an identifier within one external system.
// Two Xrefs are equal when both the identifier and the system code match
// exactly, so Xref values can be used directly as map keys.
type Xref struct {
	ID         string // Identifier as it appears in the external system
	SystemCode string // Short code of the DataSource the identifier belongs to
}

// NewXref creates a new Xref for the given identifier and data source
func NewXref(id string, ds DataSource) Xref {
	return Xref{ID: id, SystemCode: ds.SystemCode}
}

// String renders the Xref as Code:ID
func (x Xref) String() string {
	return x.SystemCode + ":" + x.ID
}

// IsValid reports whether both parts of the Xref are set
func (x Xref) IsValid() bool {
	return x.ID != "" && x.SystemCode != ""
}

// ParseXref parses the Code:ID form produced by String.
// Only the first colon separates the code, identifiers may contain colons.
func ParseXref(s string) (Xref, error) {
	code, id, ok := strings.Cut(s, ":")
	if !ok || code == "" || id == "" {
		return Xref{}, ErrInvalidXref{Value: s}
	}
	return Xref{ID: id, SystemCode: code}, nil
}
