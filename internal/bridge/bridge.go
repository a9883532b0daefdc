// Package bridge maps record keys to store attributes and materialized
// records to store descriptors.
//
// Attribute names are qualified by a namespace so several importers can
// share one store. Keys whose id starts with "sys." and the bootstrap keys
// are shared by every namespace and stay unqualified.
package bridge

import (
	"fmt"
	"strings"

	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/itemstore"
	"github.com/roach88/entitysync/internal/record"
)

// Bridge is what the writer needs to turn places into store items.
type Bridge interface {
	// Attribute returns the store attribute for key. Hint keys have none.
	Attribute(key record.AnyKey) (itemstore.Attribute, bool)

	// TypeAttribute is the link from every created item to its type item.
	TypeAttribute() itemstore.Attribute

	// TypeDescriptor names the materialized item of a type record.
	TypeDescriptor(typ *record.Record) string

	// KeyDescriptor names the materialized item of a key.
	KeyDescriptor(key record.AnyKey) string

	// ObjectDescriptor names the materialized item of an identified object.
	ObjectDescriptor(id string) string

	// Descriptor names the materialized item for a snapshot of a type
	// record, key record, or identified object.
	Descriptor(rec *record.Record) (string, bool)
}

// DefaultNamespace is used when none is configured.
const DefaultNamespace = "entitysync"

const sysPrefix = "sys."

// Namespace is the standard Bridge.
type Namespace struct {
	name string
}

var _ Bridge = (*Namespace)(nil)

// New returns a bridge qualifying attributes with ns.
func New(ns string) (*Namespace, error) {
	if ns == "" {
		ns = DefaultNamespace
	}
	if strings.ContainsAny(ns, " \t\n/") || strings.HasPrefix(ns, ".") || strings.HasSuffix(ns, ".") {
		return nil, fmt.Errorf("invalid namespace %q", ns)
	}
	if ns+"." == sysPrefix {
		return nil, fmt.Errorf("namespace %q is reserved", ns)
	}
	return &Namespace{name: ns}, nil
}

// Name returns the namespace.
func (n *Namespace) Name() string { return n.name }

func (n *Namespace) Attribute(key record.AnyKey) (itemstore.Attribute, bool) {
	if key == nil || key.Composition() == record.Hint {
		return itemstore.Attribute{}, false
	}
	return itemstore.Attribute{Name: n.qualify(key), Kind: kindOf(key)}, true
}

func (n *Namespace) TypeAttribute() itemstore.Attribute {
	return itemstore.Attribute{Name: sysPrefix + "type", Kind: itemstore.Link}
}

func (n *Namespace) TypeDescriptor(typ *record.Record) string {
	return n.name + "/type/" + typ.TypeID()
}

func (n *Namespace) KeyDescriptor(key record.AnyKey) string {
	return fmt.Sprintf("%s/key/%s:%s:%s", n.name, key.ID(), key.Class(), key.Composition())
}

func (n *Namespace) ObjectDescriptor(id string) string {
	return n.name + "/object/" + id
}

func (n *Namespace) Descriptor(rec *record.Record) (string, bool) {
	if rec == nil {
		return "", false
	}
	switch rec.Type() {
	case record.MetaType:
		if id, ok := record.Get(rec, record.IDKey); ok && id != "" {
			return n.name + "/type/" + id, true
		}
	case record.KeyType:
		id, ok1 := record.Get(rec, record.IDKey)
		class, ok2 := record.Get(rec, record.ClassKey)
		comp, ok3 := record.Get(rec, record.CompositionKey)
		if ok1 && ok2 && ok3 {
			return fmt.Sprintf("%s/key/%s:%s:%s", n.name, id, class, comp), true
		}
	case collector.IdentifiedObjectType:
		if id, ok := record.Get(rec, collector.ObjectIDKey); ok && id != "" {
			return n.ObjectDescriptor(id), true
		}
	}
	return "", false
}

func (n *Namespace) qualify(key record.AnyKey) string {
	id := key.ID()
	if strings.HasPrefix(id, sysPrefix) {
		return id
	}
	if isBootstrap(key) {
		return sysPrefix + id
	}
	return n.name + "." + id
}

func isBootstrap(key record.AnyKey) bool {
	for _, k := range []record.AnyKey{record.TypeKey, record.IDKey, record.ClassKey, record.CompositionKey} {
		if key.Record() == k.Record() {
			return true
		}
	}
	return false
}

func kindOf(key record.AnyKey) itemstore.AttrKind {
	switch key.Composition() {
	case record.Collection:
		return itemstore.LinkSet
	case record.Order:
		return itemstore.LinkList
	}
	if key.Class() == record.ClassEntity {
		return itemstore.Link
	}
	return itemstore.Scalar
}
