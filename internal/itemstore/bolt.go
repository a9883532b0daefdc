package itemstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/roach88/entitysync/internal/itemquery"
)

var (
	bucketItems        = []byte("items")
	bucketValues       = []byte("values")
	bucketIndex        = []byte("index")
	bucketMaterialized = []byte("materialized")
)

// BoltStore is a Store backed by a bbolt file.
//
// Layout:
//
//	items        item -> alive flag
//	values       item|attribute -> encoded value
//	index        attribute|0|encoded value|item -> empty
//	materialized descriptor -> item
type BoltStore struct {
	bdb *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// BoltOptions configures OpenBolt.
type BoltOptions struct {
	// IsTesting trades durability for speed.
	IsTesting bool
}

// OpenBolt creates or opens a bbolt item store at path.
func OpenBolt(path string, opt BoltOptions) (*BoltStore, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	bdb, err := bbolt.Open(path, 0o600, bopt)
	if err != nil {
		return nil, fmt.Errorf("open item store: %w", err)
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketItems, bucketValues, bucketIndex, bucketMaterialized} {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("prepare item store: %w", err)
	}
	slog.Debug("item store opened", "backend", "bolt", "path", path)
	return &BoltStore{bdb: bdb}, nil
}

// Close closes the bbolt file.
func (s *BoltStore) Close() error {
	if s.bdb == nil {
		return nil
	}
	err := s.bdb.Close()
	s.bdb = nil
	return err
}

// Write implements Store.
func (s *BoltStore) Write(ctx context.Context, fn func(Tx) error) error {
	if s.bdb == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write cancelled: %w", err)
	}
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		if err := fn(&boltTx{btx: btx}); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("write cancelled: %w", err)
		}
		return nil
	})
}

// Read implements Store.
func (s *BoltStore) Read(ctx context.Context, fn func(Reader) error) error {
	if s.bdb == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.bdb.View(func(btx *bbolt.Tx) error {
		return fn(&boltTx{btx: btx})
	})
}

type boltTx struct {
	btx *bbolt.Tx
}

func (t *boltTx) Value(ctx context.Context, item ItemID, attr Attribute) (any, bool, error) {
	raw := t.btx.Bucket(bucketValues).Get(valueKey(item, attr.Name))
	if raw == nil {
		return nil, false, nil
	}
	v, err := Decode(bytes.Clone(raw))
	if err != nil {
		return nil, false, fmt.Errorf("read %s of %s: %w", attr.Name, item, err)
	}
	return v, true, nil
}

func (t *boltTx) Query(ctx context.Context, expr itemquery.Expr) ([]ItemID, error) {
	if err := itemquery.Validate(expr); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	var result []ItemID
	for i, eq := range itemquery.Flatten(expr) {
		enc, err := Encode(eq.Value)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", eq.Attribute, err)
		}
		matched := t.lookup(eq.Attribute, enc)
		if i == 0 {
			result = matched
		} else {
			result = intersect(result, matched)
		}
		if len(result) == 0 {
			return nil, nil
		}
	}
	items := t.btx.Bucket(bucketItems)
	out := result[:0]
	for _, id := range result {
		if alive := items.Get(itob(id)); len(alive) == 1 && alive[0] == 1 {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (t *boltTx) FindMaterialized(ctx context.Context, descriptor string) (ItemID, bool, error) {
	raw := t.btx.Bucket(bucketMaterialized).Get([]byte(descriptor))
	if raw == nil {
		return 0, false, nil
	}
	return btoi(raw), true, nil
}

func (t *boltTx) Alive(ctx context.Context, item ItemID) (bool, error) {
	raw := t.btx.Bucket(bucketItems).Get(itob(item))
	return len(raw) == 1 && raw[0] == 1, nil
}

func (t *boltTx) Attributes(ctx context.Context, item ItemID) (map[string]any, error) {
	prefix := itob(item)
	out := make(map[string]any)
	c := t.btx.Bucket(bucketValues).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		name := string(k[len(prefix):])
		val, err := Decode(bytes.Clone(v))
		if err != nil {
			return nil, fmt.Errorf("attributes of %s: %s: %w", item, name, err)
		}
		out[name] = val
	}
	return out, nil
}

func (t *boltTx) Items(ctx context.Context) ([]ItemID, error) {
	var out []ItemID
	err := t.btx.Bucket(bucketItems).ForEach(func(k, v []byte) error {
		if len(v) == 1 && v[0] == 1 {
			out = append(out, btoi(k))
		}
		return nil
	})
	return out, err
}

func (t *boltTx) Descriptors(ctx context.Context) (map[ItemID]string, error) {
	out := make(map[ItemID]string)
	err := t.btx.Bucket(bucketMaterialized).ForEach(func(k, v []byte) error {
		out[btoi(v)] = string(k)
		return nil
	})
	return out, err
}

func (t *boltTx) Materialize(ctx context.Context, descriptor string) (ItemID, error) {
	if id, ok, _ := t.FindMaterialized(ctx, descriptor); ok {
		return id, nil
	}
	id, err := t.CreateItem(ctx)
	if err != nil {
		return 0, err
	}
	if err := t.btx.Bucket(bucketMaterialized).Put([]byte(descriptor), itob(id)); err != nil {
		return 0, fmt.Errorf("materialize %q: %w", descriptor, err)
	}
	return id, nil
}

func (t *boltTx) CreateItem(ctx context.Context) (ItemID, error) {
	items := t.btx.Bucket(bucketItems)
	seq, err := items.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("create item: %w", err)
	}
	id := ItemID(seq)
	if err := items.Put(itob(id), []byte{1}); err != nil {
		return 0, fmt.Errorf("create item: %w", err)
	}
	return id, nil
}

func (t *boltTx) SetValue(ctx context.Context, item ItemID, attr Attribute, value any) error {
	if t.btx.Bucket(bucketItems).Get(itob(item)) == nil {
		return fmt.Errorf("%s: %w", item, ErrNoItem)
	}
	v, err := Normalize(attr, value)
	if err != nil {
		return fmt.Errorf("set %s on %s: %w", attr.Name, item, err)
	}
	values := t.btx.Bucket(bucketValues)
	index := t.btx.Bucket(bucketIndex)
	key := valueKey(item, attr.Name)
	if old := values.Get(key); old != nil {
		if err := index.Delete(indexKey(attr.Name, old, item)); err != nil {
			return fmt.Errorf("set %s on %s: %w", attr.Name, item, err)
		}
	}
	if v == nil {
		if err := values.Delete(key); err != nil {
			return fmt.Errorf("clear %s on %s: %w", attr.Name, item, err)
		}
		return nil
	}
	enc, err := Encode(v)
	if err != nil {
		return fmt.Errorf("set %s on %s: %w", attr.Name, item, err)
	}
	if err := values.Put(key, enc); err != nil {
		return fmt.Errorf("set %s on %s: %w", attr.Name, item, err)
	}
	if err := index.Put(indexKey(attr.Name, enc, item), []byte{}); err != nil {
		return fmt.Errorf("index %s on %s: %w", attr.Name, item, err)
	}
	return nil
}

func (t *boltTx) Delete(ctx context.Context, item ItemID) error {
	items := t.btx.Bucket(bucketItems)
	if items.Get(itob(item)) == nil {
		return fmt.Errorf("delete %s: %w", item, ErrNoItem)
	}
	if err := items.Put(itob(item), []byte{0}); err != nil {
		return fmt.Errorf("delete %s: %w", item, err)
	}
	return nil
}

// lookup returns items whose attr holds exactly enc, in ascending order.
func (t *boltTx) lookup(attr string, enc []byte) []ItemID {
	prefix := indexPrefix(attr, enc)
	var out []ItemID
	c := t.btx.Bucket(bucketIndex).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if len(k) != len(prefix)+8 {
			continue
		}
		out = append(out, btoi(k[len(prefix):]))
	}
	slices.Sort(out)
	return out
}

func intersect(a, b []ItemID) []ItemID {
	var out []ItemID
	for _, id := range a {
		if _, found := slices.BinarySearch(b, id); found {
			out = append(out, id)
		}
	}
	return out
}

func itob(id ItemID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func btoi(b []byte) ItemID {
	return ItemID(binary.BigEndian.Uint64(b))
}

func valueKey(item ItemID, attr string) []byte {
	return append(itob(item), attr...)
}

func indexPrefix(attr string, enc []byte) []byte {
	k := make([]byte, 0, len(attr)+1+len(enc)+8)
	k = append(k, attr...)
	k = append(k, 0)
	return append(k, enc...)
}

func indexKey(attr string, enc []byte, item ItemID) []byte {
	return append(indexPrefix(attr, enc), itob(item)...)
}
