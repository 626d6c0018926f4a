package coalescer

import (
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// ChunkVersion is the (major, minor, epoch) version stamped on sharded
// metadata. Versions from different epochs do not compare; the older side
// conservatively loses so the caller refreshes.
type ChunkVersion struct {
	Major uint32
	Minor uint32
	Epoch string
}

// Less orders versions within an epoch. A version from a different epoch
// always reads as older.
func (v ChunkVersion) Less(other ChunkVersion) bool {
	if v.Epoch != other.Epoch {
		return true
	}
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

// AsUint64 packs (major, minor) into the scalar the coalescer's gap rule
// compares.
func (v ChunkVersion) AsUint64() uint64 {
	return uint64(v.Major)<<32 | uint64(v.Minor)
}

// ChunkVersionFromBSON reads a version from a chunk document's field
// (typically "lastmod"), stored as a BSON timestamp, plus the sibling
// epoch field when present.
func ChunkVersionFromBSON(doc bsoncore.Document, field string) (ChunkVersion, bool) {
	var v ChunkVersion

	val, err := doc.LookupErr(field)
	if err != nil || val.Type != bsontype.Timestamp {
		return v, false
	}
	t, i := val.Timestamp()
	v.Major = t
	v.Minor = i

	if epoch, err := doc.LookupErr(field + "Epoch"); err == nil {
		if oid, ok := epoch.ObjectIDOK(); ok {
			v.Epoch = oid.Hex()
		}
	}
	return v, true
}

// DoVersioned is Do with the version taken from a ChunkVersion.
func (c *Coalescer) DoVersioned(ns string, version ChunkVersion, fn QueryFunc) ([]bsoncore.Document, error) {
	return c.Do(ns, version.AsUint64(), fn)
}
