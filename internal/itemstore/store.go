// Package itemstore provides the flat item/attribute store the writer
// commits into.
//
// Items are integer ids with attribute values. Values are scalars (string,
// int64, bool, time.Time, []byte) or links to other items. Materialized
// items are looked up by a descriptor string instead of by attribute values;
// they stand for types, keys, and globally identified objects.
//
// Deleting an item leaves a tombstone: the item keeps its id and values but
// queries no longer return it.
//
// # Backends
//
//   - SQLiteStore: mattn/go-sqlite3 with WAL, one writer connection,
//     embedded schema and PRAGMA user_version migrations.
//   - BoltStore: go.etcd.io/bbolt buckets with an attribute/value index.
//
// Both encode values with the msgpack envelope in codec.go, so equal values
// have equal bytes and equality queries compare bytes.
package itemstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/entitysync/internal/itemquery"
)

// ItemID identifies an item. Valid ids are positive.
type ItemID int64

func (id ItemID) String() string { return "#" + strconv.FormatInt(int64(id), 10) }

// AttrKind is the storage shape of an attribute.
type AttrKind int

const (
	// Scalar attributes hold one plain value.
	Scalar AttrKind = iota
	// Link attributes hold one ItemID.
	Link
	// LinkSet attributes hold an unordered set of ItemIDs.
	LinkSet
	// LinkList attributes hold an ordered list of ItemIDs.
	LinkList
)

func (k AttrKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Link:
		return "link"
	case LinkSet:
		return "link-set"
	case LinkList:
		return "link-list"
	}
	return fmt.Sprintf("AttrKind(%d)", int(k))
}

// Attribute names a stored attribute and its shape.
type Attribute struct {
	Name string
	Kind AttrKind
}

func (a Attribute) String() string { return a.Name + ":" + a.Kind.String() }

// Reader reads committed and in-transaction state.
type Reader interface {
	// Value returns the value of attr on item, or false when unset.
	Value(ctx context.Context, item ItemID, attr Attribute) (any, bool, error)

	// Query returns alive items matching expr, in ascending id order.
	Query(ctx context.Context, expr itemquery.Expr) ([]ItemID, error)

	// FindMaterialized returns the item materialized for descriptor.
	FindMaterialized(ctx context.Context, descriptor string) (ItemID, bool, error)

	// Alive reports whether item exists and was not deleted.
	Alive(ctx context.Context, item ItemID) (bool, error)

	// Attributes returns every value of item keyed by attribute name.
	Attributes(ctx context.Context, item ItemID) (map[string]any, error)

	// Items returns all alive items in ascending id order.
	Items(ctx context.Context) ([]ItemID, error)

	// Descriptors returns the descriptor of every materialized item.
	Descriptors(ctx context.Context) (map[ItemID]string, error)
}

// Tx is a write transaction.
type Tx interface {
	Reader

	// Materialize returns the item for descriptor, creating it on first use.
	Materialize(ctx context.Context, descriptor string) (ItemID, error)

	// CreateItem allocates a new alive item.
	CreateItem(ctx context.Context) (ItemID, error)

	// SetValue writes value to attr on item. A nil value clears the attribute.
	SetValue(ctx context.Context, item ItemID, attr Attribute, value any) error

	// Delete tombstones item.
	Delete(ctx context.Context, item ItemID) error
}

// Store runs closures inside store transactions. A closure error or a
// cancelled context rolls the transaction back.
type Store interface {
	Write(ctx context.Context, fn func(Tx) error) error
	Read(ctx context.Context, fn func(Reader) error) error
	Close() error
}

var (
	// ErrNoItem is returned when an operation names an item that does not exist.
	ErrNoItem = errors.New("entitysync: no such item")

	// ErrValue is returned when a value does not fit its attribute.
	ErrValue = errors.New("entitysync: value does not fit attribute")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("entitysync: store is closed")
)
