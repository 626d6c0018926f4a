// Package indexes implements index descriptors, key generation and the
// pebble-backed access methods the repair protocol and the collection
// write path run against.
package indexes

import (
	"errors"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

var (
	ErrNoKeys         = errors.New("docshard: document generates no index keys")
	ErrParallelArrays = errors.New("docshard: cannot index parallel arrays")
	ErrDuplicateKey   = errors.New("docshard: duplicate key violates unique index")
)

// RecordID is the storage engine's opaque handle for a document location.
type RecordID uint64

// Descriptor names an index and its key pattern. The key pattern is a BSON
// document whose field names are the indexed paths, e.g. {x: 1, "a.b": -1}.
type Descriptor struct {
	Name       string
	KeyPattern bsoncore.Document
	Unique     bool
}

// FieldPaths returns the indexed paths in key-pattern order.
func (d Descriptor) FieldPaths() []string {
	elems, err := d.KeyPattern.Elements()
	if err != nil {
		return nil
	}
	paths := make([]string, len(elems))
	for i, e := range elems {
		paths[i] = e.Key()
	}
	return paths
}

// IDIndexName is the name of the mandatory _id index.
const IDIndexName = "_id_"

// IDDescriptor returns the descriptor every collection carries.
func IDDescriptor() Descriptor {
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("_id", 1)
	return Descriptor{Name: IDIndexName, KeyPattern: b.Build(), Unique: true}
}
