package docshard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

func plainDoc() bsoncore.Document {
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("_id", 1)
	b.AppendString("name", "alice")
	b.AppendInt32("age", 33)
	return b.Build()
}

func withHashFirst(doc bsoncore.Document, hash uint64) bsoncore.Document {
	elems, _ := doc.Elements()
	idx, out := bsoncore.AppendDocumentStart(nil)
	out = bsoncore.AppendInt64Element(out, DocHashFieldName, int64(hash))
	for _, e := range elems {
		out = bsoncore.AppendValueElement(out, e.Key(), e.Value())
	}
	out, _ = bsoncore.AppendDocumentEnd(out, idx)
	return bsoncore.Document(out)
}

func withHashLast(doc bsoncore.Document, hash uint64) bsoncore.Document {
	elems, _ := doc.Elements()
	idx, out := bsoncore.AppendDocumentStart(nil)
	for _, e := range elems {
		out = bsoncore.AppendValueElement(out, e.Key(), e.Value())
	}
	out = bsoncore.AppendInt64Element(out, DocHashFieldName, int64(hash))
	out, _ = bsoncore.AppendDocumentEnd(out, idx)
	return bsoncore.Document(out)
}

func TestComputeHashNoField(t *testing.T) {
	doc := plainDoc()
	h1 := ComputeDocumentHash(doc)
	h2 := ComputeDocumentHash(plainDoc())
	assert.Equal(t, h1, h2)
	assert.NotZero(t, h1)
}

func TestComputeHashExcludesReservedField(t *testing.T) {
	doc := plainDoc()
	want := ComputeDocumentHash(doc)

	// Fast path: reserved field first.
	assert.Equal(t, want, ComputeDocumentHash(withHashFirst(doc, 12345)))

	// Compatible path: reserved field elsewhere.
	assert.Equal(t, want, ComputeDocumentHash(withHashLast(doc, 12345)))
}

func TestExtractDocumentHash(t *testing.T) {
	doc := plainDoc()

	_, ok := ExtractDocumentHash(doc)
	assert.False(t, ok)

	h, ok := ExtractDocumentHash(withHashFirst(doc, 777))
	require.True(t, ok)
	assert.EqualValues(t, 777, h)

	// Wrong type reads as absent.
	b := bsoncore.NewDocumentBuilder()
	b.AppendString(DocHashFieldName, "not a hash")
	b.AppendInt32("x", 1)
	_, ok = ExtractDocumentHash(b.Build())
	assert.False(t, ok)
}

func TestVerifyDocumentIntegrity(t *testing.T) {
	doc := plainDoc()

	// No hash field: verification passes.
	assert.NoError(t, VerifyDocumentIntegrity(doc))

	// Correct hash passes, first or not.
	good := ComputeDocumentHash(doc)
	assert.NoError(t, VerifyDocumentIntegrity(withHashFirst(doc, good)))
	assert.NoError(t, VerifyDocumentIntegrity(withHashLast(doc, good)))

	// Wrong hash fails.
	assert.ErrorIs(t, VerifyDocumentIntegrity(withHashFirst(doc, good+1)), ErrIntegrityMismatch)

	// Wrong type fails with the type error.
	b := bsoncore.NewDocumentBuilder()
	b.AppendString(DocHashFieldName, "bogus")
	b.AppendInt32("x", 1)
	assert.ErrorIs(t, VerifyDocumentIntegrity(b.Build()), ErrDocHashType)
}

func TestStripHashFieldIdempotent(t *testing.T) {
	doc := withHashLast(plainDoc(), 99)

	stripped := StripHashField(doc)
	assert.Equal(t, StripHashField(stripped), stripped)
	assert.False(t, hasDocHashField(stripped))

	// A document without the field is returned as-is.
	assert.Equal(t, plainDoc(), StripHashField(plainDoc()))
}

func TestHashMatchesStrippedDocument(t *testing.T) {
	doc := withHashFirst(plainDoc(), 5)
	assert.Equal(t, ComputeDocumentHash(StripHashField(doc)), ComputeDocumentHash(doc))
}
