package importer

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/entitysync/internal/collector"
	"github.com/roach88/entitysync/internal/record"
	"github.com/roach88/entitysync/internal/schema"
	"github.com/roach88/entitysync/internal/transaction"
	"github.com/roach88/entitysync/internal/writer"
)

var (
	// ErrUnknownType is returned for a type the schema does not declare.
	ErrUnknownType = errors.New("entitysync: unknown type")

	// ErrUnknownKey is returned for a key the schema does not declare.
	ErrUnknownKey = errors.New("entitysync: unknown key")

	// ErrUnknownRef is returned for a reference to an undeclared alias.
	ErrUnknownRef = errors.New("entitysync: unknown reference")

	// ErrDuplicateRef is returned when two entities share an alias.
	ErrDuplicateRef = errors.New("entitysync: duplicate reference")

	// ErrRefCycle is returned when entities reference each other through
	// identity keys.
	ErrRefCycle = errors.New("entitysync: reference cycle through identity keys")

	// ErrNotFound is returned when a find entity matches no place.
	ErrNotFound = errors.New("entitysync: entity not found")

	// ErrNotCreated is returned when the transaction rejects an entity.
	ErrNotCreated = errors.New("entitysync: entity not created")

	// ErrValue is returned when a value does not fit its key.
	ErrValue = errors.New("entitysync: invalid value")
)

// Importer loads documents against one schema.
type Importer struct {
	schema    *schema.Schema
	logger    *slog.Logger
	txOpts    []transaction.Option
	writeOpts []writer.Option
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

// WithTransactionOptions applies opts to every transaction Import creates.
func WithTransactionOptions(opts ...transaction.Option) Option {
	return func(im *Importer) { im.txOpts = append(im.txOpts, opts...) }
}

// WithWriterOptions applies opts to every commit Import runs.
func WithWriterOptions(opts ...writer.Option) Option {
	return func(im *Importer) { im.writeOpts = append(im.writeOpts, opts...) }
}

// New returns an importer for s.
func New(s *schema.Schema, opts ...Option) *Importer {
	im := &Importer{schema: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Loaded is what a document added to a transaction.
type Loaded struct {
	// Entities holds one holder per document entity, nil where loading failed.
	Entities []*transaction.Holder

	// Refs maps aliases to holders.
	Refs map[string]*transaction.Holder

	Bags []*transaction.Bag
}

// Load adds doc to tx. Loading continues past bad entities; every problem
// is returned joined. tx must be built from the importer's schema policies.
func (im *Importer) Load(tx *transaction.Transaction, doc *Document) (*Loaded, error) {
	l := &loader{
		im:  im,
		tx:  tx,
		doc: doc,
		out: &Loaded{
			Entities: make([]*transaction.Holder, len(doc.Entities)),
			Refs:     make(map[string]*transaction.Holder),
		},
		aliases:  make(map[string]int),
		done:     make(map[int]bool),
		building: make(map[int]bool),
	}

	for i, e := range doc.Entities {
		if e.Ref == "" {
			continue
		}
		ref := norm.NFC.String(e.Ref)
		if _, dup := l.aliases[ref]; dup {
			l.errorf(entityPath(i), "%w %q", ErrDuplicateRef, ref)
			continue
		}
		l.aliases[ref] = i
	}
	for i := range doc.Entities {
		l.entity(i)
	}
	for i := range doc.Bags {
		l.bag(i)
	}

	err := errors.Join(l.errs...)
	im.logger.Debug("document loaded",
		"tx", tx.ID(),
		"entities", len(doc.Entities),
		"bags", len(l.out.Bags),
		"errors", len(l.errs))
	return l.out, err
}

type loader struct {
	im       *Importer
	tx       *transaction.Transaction
	doc      *Document
	out      *Loaded
	aliases  map[string]int
	done     map[int]bool
	building map[int]bool
	errs     []error
}

func (l *loader) errorf(path, format string, args ...any) {
	l.errs = append(l.errs, fmt.Errorf("%s: "+format, append([]any{path}, args...)...))
}

func entityPath(i int) string { return fmt.Sprintf("entities[%d]", i) }

// entity loads document entity i once. Entities referenced before their
// turn are loaded on demand.
func (l *loader) entity(i int) *transaction.Holder {
	if l.done[i] {
		return l.out.Entities[i]
	}
	path := entityPath(i)
	if l.building[i] {
		l.errorf(path, "%w", ErrRefCycle)
		return nil
	}
	l.building[i] = true
	defer delete(l.building, i)

	e := &l.doc.Entities[i]
	h, rest := l.place(path, e, "")
	l.done[i] = true
	l.out.Entities[i] = h
	if e.Ref != "" && h != nil {
		l.out.Refs[norm.NFC.String(e.Ref)] = h
	}
	if h != nil {
		l.setValues(path, h, rest)
	}
	return h
}

// place finds or adds the place of e. It returns the values that still
// have to be set on it. Identity values are consumed while identifying.
func (l *loader) place(path string, e *Entity, defaultType string) (*transaction.Holder, map[string]any) {
	if e.Object != "" {
		h := l.tx.AddIdentifiedObject(norm.NFC.String(e.Object))
		if h == nil {
			l.errorf(path, "%w: object %q", ErrNotCreated, e.Object)
		}
		return h, e.Values
	}

	typeID := e.Type
	if typeID == "" {
		typeID = defaultType
	}
	typ, ok := l.im.schema.Type(typeID)
	if !ok {
		l.errorf(path+".type", "%w %q", ErrUnknownType, typeID)
		return nil, nil
	}

	if e.Item != 0 {
		h := l.tx.AddEntityByItem(typ, e.Item)
		if h == nil {
			l.errorf(path+".item", "%w: item %d", ErrNotCreated, e.Item)
		}
		return h, e.Values
	}

	identity := identityKeys(l.im.schema.Types[typeID])
	b := l.tx.BuildEntity(typ)
	rest := make(map[string]any, len(e.Values))
	for _, id := range sortedIDs(e.Values) {
		raw := e.Values[id]
		if !identity[id] {
			rest[id] = raw
			continue
		}
		key, def, ok := l.key(path, id)
		if !ok {
			continue
		}
		v, ok := l.value(path+".values."+id, def, raw)
		if !ok {
			continue
		}
		b.AddValue(key, v)
	}

	var h *transaction.Holder
	if e.Find {
		h = b.Find()
		if h == nil {
			l.errorf(path, "%w: %s", ErrNotFound, typeID)
			return nil, nil
		}
	} else {
		h = b.Create()
		if h == nil {
			if err := b.Err(); err != nil {
				l.errorf(path, "%w: %s: %w", ErrNotCreated, typeID, err)
			} else {
				l.errorf(path, "%w: %s has no complete identity", ErrNotCreated, typeID)
			}
			return nil, nil
		}
	}
	return h, rest
}

func (l *loader) setValues(path string, h *transaction.Holder, values map[string]any) {
	for _, id := range sortedIDs(values) {
		key, def, ok := l.key(path, id)
		if !ok {
			continue
		}
		vpath := path + ".values." + id
		v, ok := l.value(vpath, def, values[id])
		if !ok {
			continue
		}
		if err := h.SetValue(key, v); err != nil {
			l.errorf(vpath, "%w", err)
		}
	}
}

func (l *loader) key(path, id string) (record.AnyKey, schema.KeyDef, bool) {
	key, ok := l.im.schema.Key(id)
	if !ok {
		l.errorf(path+".values", "%w %q", ErrUnknownKey, id)
		return nil, schema.KeyDef{}, false
	}
	return key, l.im.schema.Keys[id], true
}

// value converts a document value into a form the transaction accepts:
// a scalar, a PlaceRef, a []PlaceRef, or nil for an explicit null.
func (l *loader) value(path string, def schema.KeyDef, raw any) (any, bool) {
	if raw == nil {
		return nil, true
	}
	if def.Class != record.ClassEntity || def.Composition == record.Hint {
		v, err := scalar(def, raw)
		if err != nil {
			l.errorf(path, "%w", err)
			return nil, false
		}
		return v, true
	}

	if def.Composition == record.Collection || def.Composition == record.Order {
		list, ok := raw.([]any)
		if !ok {
			l.errorf(path, "%w: %s needs a list of references, got %T", ErrValue, def.ID, raw)
			return nil, false
		}
		places := make([]collector.PlaceRef, 0, len(list))
		for i, item := range list {
			h := l.reference(fmt.Sprintf("%s[%d]", path, i), def, item)
			if h == nil {
				return nil, false
			}
			places = append(places, h.Place())
		}
		return places, true
	}

	h := l.reference(path, def, raw)
	if h == nil {
		return nil, false
	}
	return h.Place(), true
}

// reference resolves {ref}, {item}, {object} or an inline entity.
func (l *loader) reference(path string, def schema.KeyDef, raw any) *transaction.Holder {
	m, ok := raw.(map[string]any)
	if !ok {
		l.errorf(path, "%w: %s needs a reference, got %T", ErrValue, def.ID, raw)
		return nil
	}
	if ref, ok := m["ref"]; ok {
		name, _ := ref.(string)
		i, ok := l.aliases[norm.NFC.String(name)]
		if !ok {
			l.errorf(path, "%w %q", ErrUnknownRef, name)
			return nil
		}
		return l.entity(i)
	}

	e, err := inlineEntity(m)
	if err != nil {
		l.errorf(path, "%w", err)
		return nil
	}
	h, rest := l.place(path, e, def.Target)
	if h != nil {
		l.setValues(path, h, rest)
	}
	return h
}

func (l *loader) bag(i int) {
	entry := l.doc.Bags[i]
	path := fmt.Sprintf("bags[%d]", i)
	typ, ok := l.im.schema.Type(entry.Type)
	if !ok {
		l.errorf(path+".type", "%w %q", ErrUnknownType, entry.Type)
		return
	}
	b := l.tx.AddBag(typ)
	if b == nil {
		l.errorf(path, "%w: bag over %s", ErrNotCreated, entry.Type)
		return
	}
	l.out.Bags = append(l.out.Bags, b)

	for _, id := range sortedIDs(entry.Where) {
		key, def, ok := l.key(path, id)
		if !ok {
			continue
		}
		if v, ok := l.value(path+".where."+id, def, entry.Where[id]); ok {
			b.Where(key, v)
		}
	}
	for _, name := range entry.Exclude {
		j, ok := l.aliases[norm.NFC.String(name)]
		if !ok {
			l.errorf(path+".exclude", "%w %q", ErrUnknownRef, name)
			continue
		}
		if h := l.entity(j); h != nil {
			b.Exclude(h)
		}
	}
	if entry.Delete {
		if err := b.Delete(); err != nil {
			l.errorf(path, "%w", err)
		}
		if len(entry.Change) > 0 {
			l.errorf(path+".change", "%w", transaction.ErrBagDeleted)
		}
		return
	}
	for _, id := range sortedIDs(entry.Change) {
		key, def, ok := l.key(path, id)
		if !ok {
			continue
		}
		v, ok := l.value(path+".change."+id, def, entry.Change[id])
		if !ok {
			continue
		}
		if err := b.ChangeValue(key, v); err != nil {
			l.errorf(path+".change."+id, "%w", err)
		}
	}
}

// inlineEntity reads an entity written inside a value.
func inlineEntity(m map[string]any) (*Entity, error) {
	e := &Entity{}
	for field, v := range m {
		var ok bool
		switch field {
		case "type":
			e.Type, ok = v.(string)
		case "object":
			e.Object, ok = v.(string)
		case "find":
			e.Find, ok = v.(bool)
		case "item":
			var n int64
			n, ok = toInt(v)
			e.Item = n
		case "values":
			e.Values, ok = v.(map[string]any)
			if v == nil {
				ok = true
			}
		default:
			return nil, fmt.Errorf("%w: unknown reference field %q", ErrValue, field)
		}
		if !ok {
			return nil, fmt.Errorf("%w: reference field %s has type %T", ErrValue, field, v)
		}
	}
	return e, nil
}

// identityKeys returns every key that takes part in a resolution of def.
func identityKeys(def schema.TypeDef) map[string]bool {
	keys := make(map[string]bool)
	for _, identity := range def.Identities {
		for _, a := range identity {
			keys[a.Key] = true
		}
	}
	for _, set := range def.SearchBy {
		for _, k := range set {
			keys[k] = true
		}
	}
	return keys
}

func sortedIDs(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
