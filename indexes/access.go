package indexes

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// AccessMethod reads and writes one index's entries. Entries live in the
// shared pebble keyspace under
//
//	'X' <namespace> 0x00 <index name> 0x00 <key bytes> <record id BE64>
//
// so that all entries for one key form a contiguous run ordered by record
// id.
type AccessMethod struct {
	db     *pebble.DB
	wo     *pebble.WriteOptions
	ns     string
	desc   Descriptor
	prefix []byte
}

func NewAccessMethod(db *pebble.DB, wo *pebble.WriteOptions, ns string, desc Descriptor) *AccessMethod {
	prefix := make([]byte, 0, len(ns)+len(desc.Name)+3)
	prefix = append(prefix, 'X')
	prefix = append(prefix, ns...)
	prefix = append(prefix, 0)
	prefix = append(prefix, desc.Name...)
	prefix = append(prefix, 0)
	return &AccessMethod{db: db, wo: wo, ns: ns, desc: desc, prefix: prefix}
}

func (am *AccessMethod) Descriptor() Descriptor {
	return am.desc
}

// Keys generates the document's index keys in strict mode.
func (am *AccessMethod) Keys(doc bsoncore.Document) ([]bsoncore.Document, error) {
	return am.desc.Keys(doc)
}

func (am *AccessMethod) appendEntryKey(dst []byte, key bsoncore.Document, rid RecordID) []byte {
	dst = append(dst, am.prefix...)
	dst = append(dst, key...)
	return binary.BigEndian.AppendUint64(dst, uint64(rid))
}

// Insert writes the (key, rid) entry into the batch. With dupsAllowed
// unset, an existing entry for the same key at a different record id is a
// unique violation.
func (am *AccessMethod) Insert(b *pebble.Batch, key bsoncore.Document, rid RecordID, dupsAllowed bool) error {
	if !dupsAllowed {
		existing, ok, err := am.FindSingle(am.db, key)
		if err != nil {
			return err
		}
		if ok && existing != rid {
			return ErrDuplicateKey
		}
	}

	buf := getEntryKeyBuffer()
	defer putEntryKeyBuffer(buf)
	*buf = am.appendEntryKey(*buf, key, rid)
	return b.Set(*buf, nil, am.wo)
}

// RemoveSingle deletes exactly the (key, rid) entry.
func (am *AccessMethod) RemoveSingle(b *pebble.Batch, key bsoncore.Document, rid RecordID) error {
	buf := getEntryKeyBuffer()
	defer putEntryKeyBuffer(buf)
	*buf = am.appendEntryKey(*buf, key, rid)
	return b.Delete(*buf, am.wo)
}

// FindSingle returns the record id of the first entry at key.
func (am *AccessMethod) FindSingle(reader pebble.Reader, key bsoncore.Document) (RecordID, bool, error) {
	cursor, err := am.NewCursor(reader)
	if err != nil {
		return 0, false, err
	}
	defer cursor.Close()

	entry, ok := cursor.Seek(key)
	if !ok || !bytes.Equal(entry.Key, key) {
		return 0, false, nil
	}
	return entry.RecordID, true, nil
}

// DropAll removes every entry of the index.
func (am *AccessMethod) DropAll() error {
	return am.db.DeleteRange(am.prefix, prefixUpperBound(am.prefix), am.wo)
}

// Entry is one index entry under the cursor.
type Entry struct {
	Key      bsoncore.Document
	RecordID RecordID
}

// Cursor iterates the index in (key bytes, record id) order.
type Cursor struct {
	iter   *pebble.Iterator
	prefix []byte
}

func (am *AccessMethod) NewCursor(reader pebble.Reader) (*Cursor, error) {
	iter, err := reader.NewIter(&pebble.IterOptions{
		LowerBound: am.prefix,
		UpperBound: prefixUpperBound(am.prefix),
	})
	if err != nil {
		return nil, err
	}
	return &Cursor{iter: iter, prefix: am.prefix}, nil
}

// Seek positions at the first entry whose key is byte-wise >= key and
// returns it.
func (c *Cursor) Seek(key bsoncore.Document) (Entry, bool) {
	seekKey := make([]byte, 0, len(c.prefix)+len(key))
	seekKey = append(seekKey, c.prefix...)
	seekKey = append(seekKey, key...)
	if !c.iter.SeekGE(seekKey) {
		return Entry{}, false
	}
	return c.entry()
}

func (c *Cursor) Next() (Entry, bool) {
	if !c.iter.Next() {
		return Entry{}, false
	}
	return c.entry()
}

func (c *Cursor) entry() (Entry, bool) {
	k := c.iter.Key()
	if len(k) < len(c.prefix)+8 {
		return Entry{}, false
	}
	keyBytes := k[len(c.prefix) : len(k)-8]
	key := make(bsoncore.Document, len(keyBytes))
	copy(key, keyBytes)
	rid := RecordID(binary.BigEndian.Uint64(k[len(k)-8:]))
	return Entry{Key: key, RecordID: rid}, true
}

func (c *Cursor) Close() error {
	return c.iter.Close()
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
