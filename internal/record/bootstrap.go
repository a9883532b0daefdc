package record

import "github.com/cespare/xxhash/v2"

// Bootstrap singletons. They exist before any ordinary record and describe
// the shape of every other record. They are built by a variable initializer
// so package-level records in this package can depend on them.
//
//   - MetaType is the type of every type record, including itself.
//   - KeyType is the type of every key description record.
//   - TypeKey addresses a record's type. Records keep their type outside the
//     regular value list, but TypeKey still works with Get and Value.
//   - IDKey holds the string id of a type or key description.
//   - ClassKey holds the value class of a key description.
//   - CompositionKey holds the composition of a key description.
var MetaType, KeyType, TypeKey, IDKey, ClassKey, CompositionKey, bootKeys = bootstrap()

func bootstrap() (meta, keyType *Record, typeKey Key[*Record], idKey, classKey, compKey Key[string], keys map[*Record]AnyKey) {
	meta = bootRecord("MetaType", nil)
	meta.typ = meta
	keyType = bootRecord("KeyType", meta)

	typeKey = bootKey[*Record]("type", keyType, ClassEntity)
	idKey = bootKey[string]("id", keyType, ClassString)
	classKey = bootKey[string]("valueClass", keyType, ClassString)
	compKey = bootKey[string]("composition", keyType, ClassString)

	meta.entries = []entry{{key: idKey, value: "sys.MetaType"}}
	keyType.entries = []entry{{key: idKey, value: "sys.KeyType"}}
	keys = make(map[*Record]AnyKey)
	for _, k := range []AnyKey{typeKey, idKey, classKey, compKey} {
		rec := k.Record()
		rec.entries = []entry{
			{key: idKey, value: k.ID()},
			{key: classKey, value: string(k.Class())},
			{key: compKey, value: string(k.Composition())},
		}
		keys[rec] = k
	}
	return meta, keyType, typeKey, idKey, classKey, compKey, keys
}

// Bootstrap returns the bootstrap singletons in a stable order.
func Bootstrap() []*Record {
	return []*Record{
		MetaType,
		KeyType,
		TypeKey.Record(),
		IDKey.Record(),
		ClassKey.Record(),
		CompositionKey.Record(),
	}
}

func bootRecord(name string, typ *Record) *Record {
	return &Record{
		typ:   typ,
		boot:  name,
		fixed: true,
		hash:  xxhash.Sum64String("entitysync/boot/" + name),
	}
}

func bootKey[T any](id string, keyType *Record, class ValueClass) Key[T] {
	return Key[T]{rec: bootRecord("key."+id, keyType), id: id, class: class, comp: Scalar}
}
