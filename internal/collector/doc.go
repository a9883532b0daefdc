// Package collector deduplicates entity records inside one transaction.
//
// Each distinct type gets a TypeTable: a column store with one row per place
// (an entity occurrence not yet bound to a store item) and one identity index
// per resolution declared by the type's Policy. Adding a record or a value row
// either returns the place already holding that identity or allocates a new
// one. When later writes make two places indistinguishable they are merged;
// the lower row survives and the other forwards to it.
//
// References between entities are stored as PlaceRef handles, never as
// pointers, so entity graphs with cycles need no special handling here.
//
// Setting a column that already holds a different value keeps the first value
// and reports a *ConflictError, unless the column is a mutable identity (the
// value is replaced) or a merge function is registered for the key.
package collector
