// Package keypath builds the deterministic key components used to address
// records in the storage table.
package keypath

import "strings"

// Key component separators. Identifier and kind text is escaped so that a
// composed key can never collide with a key built from different components.
const (
	kindSep = "#"
	nsSep   = "/"
)

// Escape percent-encodes the characters reserved by the key grammar.
// Escaping is stable: the same input always yields the same output.
func Escape(s string) string {
	if !strings.ContainsAny(s, "%#/") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%':
			b.WriteString("%25")
		case '#':
			b.WriteString("%23")
		case '/':
			b.WriteString("%2F")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Partition returns the partition key for a record of the given kind and
// canonical identifier, optionally qualified by a tenant namespace.
func Partition(namespace, kind, id string) string {
	p := Escape(kind) + kindSep + Escape(id)
	if namespace == "" {
		return p
	}
	return Escape(namespace) + nsSep + p
}

// Sort returns the sort key for a flat-layout record.
func Sort(kind string) string {
	return Escape(kind)
}

// ChildSort returns the sort key for a record nested under its parent's
// partition.
func ChildSort(kind, id string) string {
	return Escape(kind) + kindSep + Escape(id)
}
