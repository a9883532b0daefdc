// Package record provides self-describing, structurally-equal records and the
// typed key handles used to read and write them.
//
// A Record moves through two states. While building it accepts Put calls and
// has no stable identity. Fix freezes it (and every record reachable through
// its values) and computes a structural hash. Hash and Equal are only defined
// on fixed records.
//
// Every record carries exactly one type, which is itself a record whose type
// is MetaType. Keys are described by records of type KeyType. The few records
// needed to describe keys at all (MetaType, KeyType, TypeKey, IDKey, ClassKey,
// CompositionKey) are bootstrap singletons created at package init. They hash
// to constants derived from their names and compare by pointer, so ordinary
// records never need a reserved hash range.
//
// This package imports nothing internal.
package record
