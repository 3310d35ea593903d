// Package permission defines typed roles and permission sets.
//
// Permission names are assigned bit positions in a frozen [Registry]; a
// [Set] is a 64-bit mask bound to that registry. Sets cross package
// boundaries as typed values and are serialized to names only at the store
// and token edges.
//
// The package performs no I/O.
package permission
