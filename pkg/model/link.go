package model

// Link is an equivalence between two Xrefs: both identifiers denote the same
// real-world entity. Links are stored directed, From is the primary side.
type Link struct {
	From Xref
	To   Xref
}

// NewLink creates a new Link from one Xref to another
func NewLink(from, to Xref) Link {
	return Link{From: from, To: to}
}

// IsReflexive reports whether the link maps an Xref to itself
func (l Link) IsReflexive() bool {
	return l.From == l.To
}
