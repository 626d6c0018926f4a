package docshard

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/drpcorg/docshard/extractor"
	"github.com/drpcorg/docshard/indexes"
)

// Collection stores documents under sequential record ids and maintains
// all of its indexes on every write. Index-key extraction goes through one
// shared slot-table extractor so a document is traversed once per insert,
// not once per index field.
type Collection struct {
	store *Store
	ns    string

	mu      sync.Mutex
	indexes map[string]*indexes.AccessMethod
	extr    *extractor.Extractor
	slots   map[string][]uint8

	nextRecordID atomic.Uint64
}

func newCollection(s *Store, ns string) *Collection {
	c := &Collection{
		store:   s,
		ns:      ns,
		indexes: make(map[string]*indexes.AccessMethod),
		slots:   make(map[string][]uint8),
	}
	c.indexes[indexes.IDIndexName] = indexes.NewAccessMethod(s.db, s.wo, ns, indexes.IDDescriptor())
	c.rebuildExtractor()
	return c
}

func (c *Collection) Namespace() string {
	return c.ns
}

// rebuildExtractor re-registers every index's paths; called under mu
// whenever the index set changes.
func (c *Collection) rebuildExtractor() {
	x := extractor.New()
	slots := make(map[string][]uint8, len(c.indexes))
	for name, am := range c.indexes {
		slots[name] = x.RegisterIndex(name, am.Descriptor().FieldPaths())
	}
	x.Finalize()
	c.extr = x
	c.slots = slots
}

func (c *Collection) docKey(rid indexes.RecordID) []byte {
	key := make([]byte, 0, len(c.ns)+10)
	key = append(key, 'D')
	key = append(key, c.ns...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, uint64(rid))
}

// Index returns the named index's access method.
func (c *Collection) Index(name string) (*indexes.AccessMethod, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	am, ok := c.indexes[name]
	return am, ok
}

// IDIndex returns the mandatory _id index.
func (c *Collection) IDIndex() *indexes.AccessMethod {
	am, _ := c.Index(indexes.IDIndexName)
	return am
}

// EnsureIndex creates the index and backfills it from the existing
// documents. Creating an index that already exists is a no-op.
func (c *Collection) EnsureIndex(ctx context.Context, desc indexes.Descriptor) error {
	c.mu.Lock()
	if _, ok := c.indexes[desc.Name]; ok {
		c.mu.Unlock()
		return nil
	}
	am := indexes.NewAccessMethod(c.store.db, c.store.wo, c.ns, desc)
	c.indexes[desc.Name] = am
	c.rebuildExtractor()
	c.mu.Unlock()

	return c.backfill(ctx, am)
}

func (c *Collection) backfill(ctx context.Context, am *indexes.AccessMethod) error {
	prefix := c.docKey(0)[:len(c.ns)+2]
	iter, err := c.store.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: c.docKey(^indexes.RecordID(0)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		k := iter.Key()
		rid := indexes.RecordID(binary.BigEndian.Uint64(k[len(k)-8:]))
		doc := bsoncore.Document(iter.Value())

		keys, err := am.Keys(doc)
		if err != nil {
			return fmt.Errorf("docshard: backfill of %s.%s: %w", c.ns, am.Descriptor().Name, err)
		}
		batch := c.store.db.NewBatch()
		for _, key := range keys {
			if err := am.Insert(batch, key, rid, !am.Descriptor().Unique); err != nil {
				batch.Close()
				return err
			}
		}
		if err := c.store.db.Apply(batch, c.store.wo); err != nil {
			return err
		}
	}
	return nil
}

// DropIndex removes the index and all its entries. The _id index cannot be
// dropped.
func (c *Collection) DropIndex(name string) error {
	if name == indexes.IDIndexName {
		return fmt.Errorf("%w: cannot drop the _id index", ErrInvalidArguments)
	}
	c.mu.Lock()
	am, ok := c.indexes[name]
	if !ok {
		c.mu.Unlock()
		return ErrIndexMissing
	}
	delete(c.indexes, name)
	c.rebuildExtractor()
	c.mu.Unlock()

	return am.DropAll()
}

// Insert stores doc, assigns it a record id and writes every index entry
// it generates, all in one batch. When integrity verification is on, a
// document with a bad embedded hash is rejected before anything is
// written.
func (c *Collection) Insert(ctx context.Context, doc bsoncore.Document) (indexes.RecordID, error) {
	if !c.store.CanAcceptWrites() {
		return 0, ErrNotPrimary
	}
	if err := doc.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidArguments, err)
	}
	if _, err := doc.LookupErr("_id"); err != nil {
		return 0, ErrMissingID
	}
	if IsIntegrityVerificationEnabled() {
		if err := VerifyDocumentIntegrity(doc); err != nil {
			return 0, err
		}
	}

	rid := indexes.RecordID(c.nextRecordID.Add(1))

	c.mu.Lock()
	defer c.mu.Unlock()

	batch := c.store.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(c.docKey(rid), doc, c.store.wo); err != nil {
		return 0, err
	}

	// One traversal fills the slot table for every index; only paths that
	// crossed arrays fall back to the full multikey walk.
	c.extr.Extract(doc)
	for name, am := range c.indexes {
		desc := am.Descriptor()
		if key, ok := desc.KeyFromSlots(c.extr, c.slots[name]); ok {
			if err := am.Insert(batch, key, rid, !desc.Unique); err != nil {
				return 0, err
			}
			continue
		}
		keys, err := am.Keys(doc)
		if err != nil {
			return 0, err
		}
		for _, key := range keys {
			if err := am.Insert(batch, key, rid, !desc.Unique); err != nil {
				return 0, err
			}
		}
	}

	if err := c.store.db.Apply(batch, c.store.wo); err != nil {
		return 0, err
	}
	return rid, nil
}

// FindDoc fetches the document stored at rid.
func (c *Collection) FindDoc(rid indexes.RecordID) (bsoncore.Document, bool, error) {
	val, closer, err := c.store.db.Get(c.docKey(rid))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	doc := make(bsoncore.Document, len(val))
	copy(doc, val)
	return doc, true, nil
}

// FindByID resolves an _id value through the _id index.
func (c *Collection) FindByID(id bsoncore.Value) (indexes.RecordID, bool, error) {
	idx, key := bsoncore.AppendDocumentStart(nil)
	key = bsoncore.AppendValueElement(key, "", id)
	key, _ = bsoncore.AppendDocumentEnd(key, idx)
	return c.IDIndex().FindSingle(c.store.db, bsoncore.Document(key))
}

// Delete removes the document and all index entries it generates.
func (c *Collection) Delete(ctx context.Context, rid indexes.RecordID) error {
	if !c.store.CanAcceptWrites() {
		return ErrNotPrimary
	}
	doc, found, err := c.FindDoc(rid)
	if err != nil {
		return err
	}
	if !found {
		return ErrDocumentMissing
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	batch := c.store.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(c.docKey(rid), c.store.wo); err != nil {
		return err
	}
	for _, am := range c.indexes {
		keys, err := am.Keys(doc)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := am.RemoveSingle(batch, key, rid); err != nil {
				return err
			}
		}
	}
	return c.store.db.Apply(batch, c.store.wo)
}

// DeleteDocOnly removes the stored document without touching its index
// entries. Tests use it to manufacture orphan index entries.
func (c *Collection) DeleteDocOnly(rid indexes.RecordID) error {
	return c.store.db.Delete(c.docKey(rid), c.store.wo)
}
