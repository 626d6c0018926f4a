package indexes

import (
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/drpcorg/docshard/extractor"
)

// Keys generates every index key doc produces under the descriptor's key
// pattern, expanding arrays along the indexed paths (multikey). Keys are
// BSON documents with empty field names, one value per pattern field, in
// pattern order. Constraints are enforced: two paths expanding through
// multi-element arrays in the same document are rejected, and a path whose
// expansion is empty (an empty array) yields no keys at all.
func (d Descriptor) Keys(doc bsoncore.Document) ([]bsoncore.Document, error) {
	paths := d.FieldPaths()
	if len(paths) == 0 {
		return nil, nil
	}
	fieldValues := make([][]bsoncore.Value, len(paths))

	sawMultikey := false
	for i, path := range paths {
		var vals []bsoncore.Value
		comps := make(map[int]struct{})
		extractor.ExtractAllElementsAlongPath(doc, path, true, &vals, comps)

		if len(comps) > 0 {
			if sawMultikey {
				return nil, ErrParallelArrays
			}
			sawMultikey = true
		}

		if len(vals) == 0 {
			if hadEmptyArray(doc, path) {
				return nil, nil
			}
			vals = []bsoncore.Value{nullValue()}
		}
		fieldValues[i] = dedupValues(vals)
	}

	keys := make([]bsoncore.Document, 0, len(fieldValues[0]))
	buildKeys(fieldValues, make([]bsoncore.Value, len(paths)), 0, &keys)
	return keys, nil
}

// KeyFromSlots builds the index key straight from an extractor's slot
// table. This is the one-pass fast path for documents whose indexed paths
// crossed no arrays; ok=false sends the caller to full generation via
// Keys.
func (d Descriptor) KeyFromSlots(x *extractor.Extractor, slots []uint8) (bsoncore.Document, bool) {
	for _, s := range slots {
		if x.HasArrayAlongPath(s) || x.Get(s).Type == bsontype.Array {
			return nil, false
		}
	}

	idx, key := bsoncore.AppendDocumentStart(nil)
	for _, s := range slots {
		v := x.Get(s)
		if extractor.Absent(v) {
			v = nullValue()
		}
		key = bsoncore.AppendValueElement(key, "", v)
	}
	key, _ = bsoncore.AppendDocumentEnd(key, idx)
	return bsoncore.Document(key), true
}

// hadEmptyArray reports whether the path resolved to an array with no
// elements, which produces no index entries rather than a null key.
func hadEmptyArray(doc bsoncore.Document, path string) bool {
	v, rest, _ := extractor.ExtractElementAtPathOrArrayAlongPath(doc, path)
	if extractor.Absent(v) || rest != "" {
		return false
	}
	arr, ok := v.ArrayOK()
	if !ok {
		return false
	}
	vals, err := bsoncore.Document(arr).Values()
	return err == nil && len(vals) == 0
}

func nullValue() bsoncore.Value {
	b := bsoncore.NewDocumentBuilder()
	b.AppendNull("")
	doc := b.Build()
	v, _ := doc.IndexErr(0)
	return v.Value()
}

func dedupValues(vals []bsoncore.Value) []bsoncore.Value {
	if len(vals) < 2 {
		return vals
	}
	seen := make(map[string]struct{}, len(vals))
	out := vals[:0]
	for _, v := range vals {
		id := string(byte(v.Type)) + string(v.Data)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, v)
	}
	return out
}

func buildKeys(fieldValues [][]bsoncore.Value, current []bsoncore.Value, depth int, out *[]bsoncore.Document) {
	if depth == len(fieldValues) {
		idx, key := bsoncore.AppendDocumentStart(nil)
		for _, v := range current {
			key = bsoncore.AppendValueElement(key, "", v)
		}
		key, _ = bsoncore.AppendDocumentEnd(key, idx)
		*out = append(*out, bsoncore.Document(key))
		return
	}
	for _, v := range fieldValues[depth] {
		current[depth] = v
		buildKeys(fieldValues, current, depth+1, out)
	}
}
