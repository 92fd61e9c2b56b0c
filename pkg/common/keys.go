package common

import (
	"strings"
)

// Key format constants for serialization
const (
	InfoKeyPrefix        = "i:" // Prefix for metadata (info) keys
	NodeKeyPrefix        = "g:" // Prefix for node keys
	LinkKeyPrefix        = "l:" // Prefix for forward link keys
	ReverseLinkKeyPrefix = "r:" // Prefix for reverse link index keys
)

// keySeparator separates the two xref parts of a link key.
// It can never occur in a line of text input.
const keySeparator = "\x00"

// FormatXrefKey formats the code and identifier of an xref as a key fragment
func FormatXrefKey(systemCode, id string) string {
	return systemCode + ":" + id
}

// FormatInfoKey formats a metadata key for storage
func FormatInfoKey(key string) string {
	return InfoKeyPrefix + key
}

// ParseInfoKey strips the info prefix from a stored key
func ParseInfoKey(key string) (string, bool) {
	return strings.CutPrefix(key, InfoKeyPrefix)
}

// FormatNodeKey formats a node key for storage
func FormatNodeKey(systemCode, id string) string {
	return NodeKeyPrefix + FormatXrefKey(systemCode, id)
}

// FormatNodeScanKey formats a key for scanning all nodes of one system code
func FormatNodeScanKey(systemCode string) string {
	return NodeKeyPrefix + systemCode + ":"
}

// FormatLinkPair joins two xref key fragments into one link key, unprefixed
func FormatLinkPair(first, second string) string {
	return first + keySeparator + second
}

// FormatLinkKey formats a forward link key for storage
func FormatLinkKey(from, to string) string {
	return LinkKeyPrefix + FormatLinkPair(from, to)
}

// FormatReverseLinkKey formats a reverse link index key for storage
func FormatReverseLinkKey(from, to string) string {
	return ReverseLinkKeyPrefix + FormatLinkPair(to, from)
}

// FormatLinkScanKey formats a key for scanning the forward links of an xref
func FormatLinkScanKey(from string) string {
	return LinkKeyPrefix + from + keySeparator
}

// FormatReverseLinkScanKey formats a key for scanning the links pointing at an xref
func FormatReverseLinkScanKey(to string) string {
	return ReverseLinkKeyPrefix + to + keySeparator
}

// SchemaKey holds the key layout version of a store
const SchemaKey = "s:format"
