package docshard

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/drpcorg/docshard/settings"
)

// DocHashFieldName is the reserved field carrying a document's integrity
// hash. It is excluded from the hash itself.
const DocHashFieldName = "_$docHash"

func hasDocHashField(doc bsoncore.Document) bool {
	_, err := doc.LookupErr(DocHashFieldName)
	return err == nil
}

// ComputeDocumentHash returns xxHash64 over the document's byte form with
// the reserved field excluded. Two fast paths avoid materialising a copy:
// a document without the field hashes as-is, and a document whose first
// element is the field hashes the rebuilt header and the remaining
// elements in one pass. Only a document carrying the field elsewhere pays
// for a filtered copy.
func ComputeDocumentHash(doc bsoncore.Document) uint64 {
	if !hasDocHashField(doc) {
		return xxhash.Sum64(doc)
	}

	elems, err := doc.Elements()
	if err == nil && len(elems) > 0 && string(elems[0].KeyBytes()) == DocHashFieldName {
		rest := doc[4+len(elems[0]) : len(doc)-1]

		var header [4]byte
		binary.LittleEndian.PutUint32(header[:], uint32(4+len(rest)+1))

		h := xxhash.New()
		_, _ = h.Write(header[:])
		_, _ = h.Write(rest)
		_, _ = h.Write([]byte{0})
		return h.Sum64()
	}

	return xxhash.Sum64(StripHashField(doc))
}

// ExtractDocumentHash returns the value of the reserved field. A field of
// any type other than int64 reads as absent, so callers can tell "no hash"
// from "hash present but malformed" with a separate type check.
func ExtractDocumentHash(doc bsoncore.Document) (uint64, bool) {
	v, err := doc.LookupErr(DocHashFieldName)
	if err != nil || v.Type != bsontype.Int64 {
		return 0, false
	}
	return uint64(v.Int64()), true
}

// VerifyDocumentIntegrity checks the embedded hash. A document without the
// reserved field passes; a document carrying it with the wrong type fails
// with ErrDocHashType; a hash that does not match the recomputed one fails
// with ErrIntegrityMismatch.
func VerifyDocumentIntegrity(doc bsoncore.Document) error {
	expected, ok := ExtractDocumentHash(doc)
	if !ok {
		if hasDocHashField(doc) {
			return ErrDocHashType
		}
		return nil
	}

	if ComputeDocumentHash(doc) != expected {
		return ErrIntegrityMismatch
	}
	return nil
}

// StripHashField returns the document without the reserved field. A
// document that never had it is returned as-is.
func StripHashField(doc bsoncore.Document) bsoncore.Document {
	if !hasDocHashField(doc) {
		return doc
	}

	elems, err := doc.Elements()
	if err != nil {
		return doc
	}
	idx, out := bsoncore.AppendDocumentStart(nil)
	for _, e := range elems {
		if string(e.KeyBytes()) == DocHashFieldName {
			continue
		}
		out = bsoncore.AppendValueElement(out, e.Key(), e.Value())
	}
	out, _ = bsoncore.AppendDocumentEnd(out, idx)
	return bsoncore.Document(out)
}

// IsIntegrityVerificationEnabled reads the documentIntegrityVerification
// server parameter.
func IsIntegrityVerificationEnabled() bool {
	return settings.DocumentIntegrityVerification.Load()
}
