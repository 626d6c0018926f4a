// Package extractor implements one-pass field extraction from BSON
// documents. Field paths are registered up front; a single traversal of a
// document's top-level fields then fills a slot table so that every
// registered path is available in O(1). Field names are matched by a 4-byte
// signature first and verified byte-wise only on signature hits, which
// replaces N indexes x M fields path lookups per document with one scan.
package extractor

import (
	"strings"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

const (
	// MaxFields bounds the registry; slot 255 is the invalid sentinel.
	MaxFields = 256

	// InvalidSlot is returned for registrations that cannot be honored.
	InvalidSlot = uint8(255)
)

// Extractor is not safe for concurrent use; give each worker its own
// instance.
type Extractor struct {
	sigToSlot      map[uint32]uint8
	collisionSlots map[uint32][]uint8
	fields         []string
	restPaths      []string // per-slot path remainder after the first dot, "" for top-level
	prefixes       []string // per-slot first path component, "" for top-level
	isNested       []bool

	topLevelSlots  []uint8
	nestedSlots    []uint8
	nestedPrefixes []string // parallel to nestedSlots

	nestedPrefixSigs map[uint32][]uint8

	indexSlots  map[string][]uint8
	digestSlots map[string][]uint8

	slots             []bsoncore.Value
	hasArrayAlongPath []bool
	extractedCount    int
	finalized         bool
}

func New() *Extractor {
	return &Extractor{
		sigToSlot:        make(map[uint32]uint8),
		collisionSlots:   make(map[uint32][]uint8),
		nestedPrefixSigs: make(map[uint32][]uint8),
		indexSlots:       make(map[string][]uint8),
		digestSlots:      make(map[string][]uint8),
	}
}

// RegisterField adds a field path (top-level name or dot-separated) and
// returns its slot. Registering the same path again returns the existing
// slot. After Finalize, or past the capacity limit, InvalidSlot is returned.
func (x *Extractor) RegisterField(path string) uint8 {
	if x.finalized {
		return InvalidSlot
	}

	sig := makeSignature([]byte(path))

	if primary, ok := x.sigToSlot[sig]; ok {
		if x.fields[primary] == path {
			return primary
		}
		for i, f := range x.fields {
			if f == path {
				return uint8(i)
			}
		}
	}

	if spill, ok := x.collisionSlots[sig]; ok {
		for _, slot := range spill {
			if x.fields[slot] == path {
				return slot
			}
		}
	}

	if len(x.fields) >= MaxFields-1 {
		return InvalidSlot
	}

	slot := uint8(len(x.fields))
	x.fields = append(x.fields, path)

	if _, taken := x.sigToSlot[sig]; taken {
		x.collisionSlots[sig] = append(x.collisionSlots[sig], slot)
	} else {
		x.sigToSlot[sig] = slot
	}

	if dot := strings.IndexByte(path, '.'); dot >= 0 {
		x.isNested = append(x.isNested, true)
		x.restPaths = append(x.restPaths, path[dot+1:])
		x.prefixes = append(x.prefixes, path[:dot])
		x.nestedSlots = append(x.nestedSlots, slot)
		x.nestedPrefixes = append(x.nestedPrefixes, path[:dot])
	} else {
		x.isNested = append(x.isNested, false)
		x.restPaths = append(x.restPaths, "")
		x.prefixes = append(x.prefixes, "")
		x.topLevelSlots = append(x.topLevelSlots, slot)
	}

	return slot
}

// RegisterIndex registers an index's field paths and remembers the slot
// list under the index name.
func (x *Extractor) RegisterIndex(name string, paths []string) []uint8 {
	slots := make([]uint8, 0, len(paths))
	for _, p := range paths {
		if slot := x.RegisterField(p); slot != InvalidSlot {
			slots = append(slots, slot)
		}
	}
	x.indexSlots[name] = slots
	return slots
}

// RegisterDigest registers a digest's field paths and remembers the slot
// list under the digest name.
func (x *Extractor) RegisterDigest(name string, paths []string) []uint8 {
	slots := make([]uint8, 0, len(paths))
	for _, p := range paths {
		if slot := x.RegisterField(p); slot != InvalidSlot {
			slots = append(slots, slot)
		}
	}
	x.digestSlots[name] = slots
	return slots
}

// Finalize freezes the registry and prepares the slot table.
func (x *Extractor) Finalize() {
	x.slots = make([]bsoncore.Value, len(x.fields))
	x.hasArrayAlongPath = make([]bool, len(x.fields))

	for i, slot := range x.nestedSlots {
		prefix := x.nestedPrefixes[i]
		sig := makeSignature([]byte(prefix))
		x.nestedPrefixSigs[sig] = append(x.nestedPrefixSigs[sig], slot)
	}

	x.finalized = true
}

func (x *Extractor) IsFinalized() bool {
	return x.finalized
}

// Extract scans doc's top-level fields once and rewrites the slot table.
// Absent paths leave their slot zero; Extract itself never fails.
func (x *Extractor) Extract(doc bsoncore.Document) {
	for i := range x.slots {
		x.slots[i] = bsoncore.Value{}
		x.hasArrayAlongPath[i] = false
	}
	x.extractedCount = 0

	elems, err := doc.Elements()
	if err != nil {
		return
	}

	for _, elem := range elems {
		key := elem.KeyBytes()
		sig := makeSignature(key)

		if slot, ok := x.sigToSlot[sig]; ok {
			if !x.isNested[slot] && x.nameMatches(slot, key) {
				x.slots[slot] = elem.Value()
				x.extractedCount++
			}
		}

		if spill, ok := x.collisionSlots[sig]; ok {
			for _, slot := range spill {
				if !x.isNested[slot] && x.nameMatches(slot, key) {
					x.slots[slot] = elem.Value()
					x.extractedCount++
					break
				}
			}
		}

		val := elem.Value()
		if val.Type != bsontype.EmbeddedDocument && val.Type != bsontype.Array {
			continue
		}
		nested, ok := x.nestedPrefixSigs[sig]
		if !ok {
			continue
		}
		for _, slot := range nested {
			if !Absent(x.slots[slot]) {
				continue
			}
			if x.prefixes[slot] != string(key) {
				continue
			}
			if val.Type == bsontype.EmbeddedDocument {
				sub, rest, hit := ExtractElementAtPathOrArrayAlongPath(val.Document(), x.restPaths[slot])
				x.slots[slot] = sub
				if hit || rest != "" {
					x.hasArrayAlongPath[slot] = true
				}
			} else {
				// Array at the prefix: hand the array itself to the
				// caller for multikey expansion.
				x.slots[slot] = val
				x.hasArrayAlongPath[slot] = true
			}
			if !Absent(x.slots[slot]) {
				x.extractedCount++
			}
		}
	}
}

func (x *Extractor) nameMatches(slot uint8, key []byte) bool {
	f := x.fields[slot]
	return len(f) == len(key) && f == string(key)
}

// Get returns the most recently extracted value for slot, or the zero
// Value when the path was absent.
func (x *Extractor) Get(slot uint8) bsoncore.Value {
	if int(slot) >= len(x.slots) {
		return bsoncore.Value{}
	}
	return x.slots[slot]
}

// HasArrayAlongPath reports whether the last extraction crossed an array on
// the way to slot, signalling that the caller must perform multikey
// expansion.
func (x *Extractor) HasArrayAlongPath(slot uint8) bool {
	return int(slot) < len(x.hasArrayAlongPath) && x.hasArrayAlongPath[slot]
}

// GetIndexFields returns the extracted values for the named index in
// registration order.
func (x *Extractor) GetIndexFields(name string) []bsoncore.Value {
	return x.slotValues(x.indexSlots[name])
}

// GetDigestFields returns the extracted values for the named digest in
// registration order.
func (x *Extractor) GetDigestFields(name string) []bsoncore.Value {
	return x.slotValues(x.digestSlots[name])
}

func (x *Extractor) slotValues(slots []uint8) []bsoncore.Value {
	if slots == nil {
		return nil
	}
	out := make([]bsoncore.Value, len(slots))
	for i, s := range slots {
		out[i] = x.slots[s]
	}
	return out
}

// IndexSlots returns the slot list registered under the index name, or nil.
func (x *Extractor) IndexSlots(name string) []uint8 {
	return x.indexSlots[name]
}

// FieldName returns the registered path for slot.
func (x *Extractor) FieldName(slot uint8) string {
	if int(slot) >= len(x.fields) {
		return ""
	}
	return x.fields[slot]
}

func (x *Extractor) TotalUniqueFields() int { return len(x.fields) }
func (x *Extractor) TopLevelCount() int     { return len(x.topLevelSlots) }
func (x *Extractor) NestedCount() int       { return len(x.nestedSlots) }
func (x *Extractor) ExtractedCount() int    { return x.extractedCount }
func (x *Extractor) IndexCount() int        { return len(x.indexSlots) }
func (x *Extractor) DigestCount() int       { return len(x.digestSlots) }

// CollisionCount returns the number of slots living in the collision spill
// maps.
func (x *Extractor) CollisionCount() int {
	n := 0
	for _, spill := range x.collisionSlots {
		n += len(spill)
	}
	return n
}
