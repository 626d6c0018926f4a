package extractor

import (
	"strings"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Absent reports whether v is the zero Value, i.e. the path did not resolve
// to an element.
func Absent(v bsoncore.Value) bool {
	return v.Type == bsontype.Type(0)
}

func lookupField(doc bsoncore.Document, name string) (bsoncore.Value, bool) {
	elems, err := doc.Elements()
	if err != nil {
		return bsoncore.Value{}, false
	}
	for _, e := range elems {
		if string(e.KeyBytes()) == name {
			return e.Value(), true
		}
	}
	return bsoncore.Value{}, false
}

// allDigitsComponent reports whether the first component of path is a
// non-empty run of digits terminated by end-of-path or a separator.
func allDigitsComponent(path string) bool {
	if path == "" || path[0] < '0' || path[0] > '9' {
		return false
	}
	i := 1
	for i < len(path) && path[i] >= '0' && path[i] <= '9' {
		i++
	}
	return i == len(path) || path[i] == '.'
}

// ExtractElementAtPath resolves a dot-separated path by descending embedded
// documents only. A literal field whose name contains dots wins over the
// split interpretation. Arrays along the path are not expanded.
func ExtractElementAtPath(doc bsoncore.Document, path string) bsoncore.Value {
	if v, ok := lookupField(doc, path); ok {
		return v
	}
	dot := strings.IndexByte(path, '.')
	if dot < 0 {
		return bsoncore.Value{}
	}
	sub, ok := lookupField(doc, path[:dot])
	if !ok {
		return bsoncore.Value{}
	}
	subdoc, ok := sub.DocumentOK()
	if !ok {
		return bsoncore.Value{}
	}
	return ExtractElementAtPath(subdoc, path[dot+1:])
}

// ExtractElementAtPathOrArrayAlongPath resolves path one component at a
// time. An intermediate array is a terminal: the array value is returned
// together with the unconsumed remainder of the path and hitArray=true, and
// the caller is responsible for multikey expansion. A digits-only component
// right after an array is treated as a numeric index instead. The remainder
// is returned explicitly rather than through a moving pointer.
func ExtractElementAtPathOrArrayAlongPath(doc bsoncore.Document, path string) (val bsoncore.Value, rest string, hitArray bool) {
	for {
		name := path
		rest = ""
		if dot := strings.IndexByte(path, '.'); dot >= 0 {
			name, rest = path[:dot], path[dot+1:]
		}

		sub, ok := lookupField(doc, name)
		if !ok {
			return bsoncore.Value{}, "", false
		}

		switch sub.Type {
		case bsontype.Array:
			if allDigitsComponent(rest) {
				doc = bsoncore.Document(sub.Array())
				path = rest
				continue
			}
			return sub, rest, rest != ""
		case bsontype.EmbeddedDocument:
			if rest == "" {
				return sub, "", false
			}
			doc = sub.Document()
			path = rest
			continue
		default:
			if rest == "" {
				return sub, "", false
			}
			return bsoncore.Value{}, "", false
		}
	}
}

// ExtractAllElementsAlongPath appends to out every element reachable at
// path, expanding arrays at intermediate positions and, when expandTrailing
// is set, at the trailing position too. Depths at which a multi-element
// array was crossed are recorded in arrayComponents (may be nil).
func ExtractAllElementsAlongPath(doc bsoncore.Document, path string, expandTrailing bool, out *[]bsoncore.Value, arrayComponents map[int]struct{}) {
	extractAllAlongPath(doc, path, expandTrailing, out, 0, arrayComponents)
}

func extractAllAlongPath(doc bsoncore.Document, path string, expandTrailing bool, out *[]bsoncore.Value, depth int, arrayComponents map[int]struct{}) {
	if v, ok := lookupField(doc, path); ok {
		if v.Type == bsontype.Array && expandTrailing {
			vals, err := bsoncore.Document(v.Array()).Values()
			if err != nil {
				return
			}
			*out = append(*out, vals...)
			if arrayComponents != nil && len(vals) > 1 {
				arrayComponents[depth] = struct{}{}
			}
		} else {
			*out = append(*out, v)
		}
		return
	}

	dot := strings.IndexByte(path, '.')
	if dot < 0 {
		return
	}
	left, next := path[:dot], path[dot+1:]

	sub, ok := lookupField(doc, left)
	if !ok {
		return
	}

	switch sub.Type {
	case bsontype.EmbeddedDocument:
		extractAllAlongPath(sub.Document(), next, expandTrailing, out, depth+1, arrayComponents)
	case bsontype.Array:
		if allDigitsComponent(next) {
			extractAllAlongPath(bsoncore.Document(sub.Array()), next, expandTrailing, out, depth+1, arrayComponents)
			return
		}
		vals, err := bsoncore.Document(sub.Array()).Values()
		if err != nil {
			return
		}
		for _, v := range vals {
			switch v.Type {
			case bsontype.EmbeddedDocument:
				extractAllAlongPath(v.Document(), next, expandTrailing, out, depth+1, arrayComponents)
			case bsontype.Array:
				extractAllAlongPath(bsoncore.Document(v.Array()), next, expandTrailing, out, depth+1, arrayComponents)
			}
		}
		if arrayComponents != nil && len(vals) > 1 {
			arrayComponents[depth] = struct{}{}
		}
	}
}
