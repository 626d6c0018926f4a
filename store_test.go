package docshard

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/drpcorg/docshard/indexes"
	"github.com/drpcorg/docshard/settings"
	"github.com/drpcorg/docshard/utils"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{Logger: utils.NewDefaultLogger(slog.LevelError), Primary: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDoc(id int32, x int32) bsoncore.Document {
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("_id", id)
	b.AppendInt32("x", x)
	return b.Build()
}

func int32Value(v int32) bsoncore.Value {
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("", v)
	elems, _ := b.Build().Elements()
	return elems[0].Value()
}

func xIndex() indexes.Descriptor {
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("x", 1)
	return indexes.Descriptor{Name: "idx_x", KeyPattern: b.Build()}
}

func TestInsertAndFind(t *testing.T) {
	s := openTestStore(t)
	coll := s.Collection("db.c")

	rid, err := coll.Insert(context.Background(), testDoc(7, 42))
	require.NoError(t, err)

	doc, found, err := coll.FindDoc(rid)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, testDoc(7, 42), doc)

	gotRid, found, err := coll.FindByID(int32Value(7))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rid, gotRid)
}

func TestInsertRequiresID(t *testing.T) {
	s := openTestStore(t)
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("x", 1)
	_, err := s.Collection("db.c").Insert(context.Background(), b.Build())
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestInsertRejectedOnSecondary(t *testing.T) {
	s := openTestStore(t)
	s.StepDown()
	_, err := s.Collection("db.c").Insert(context.Background(), testDoc(1, 1))
	assert.ErrorIs(t, err, ErrNotPrimary)
	s.StepUp()
	_, err = s.Collection("db.c").Insert(context.Background(), testDoc(1, 1))
	assert.NoError(t, err)
}

func TestInsertMaintainsIndexes(t *testing.T) {
	s := openTestStore(t)
	coll := s.Collection("db.c")
	require.NoError(t, coll.EnsureIndex(context.Background(), xIndex()))

	rid, err := coll.Insert(context.Background(), testDoc(7, 42))
	require.NoError(t, err)

	am, ok := coll.Index("idx_x")
	require.True(t, ok)
	keys, err := am.Keys(testDoc(7, 42))
	require.NoError(t, err)
	require.Len(t, keys, 1)

	got, found, err := am.FindSingle(s.Database(), keys[0])
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rid, got)
}

func TestEnsureIndexBackfills(t *testing.T) {
	s := openTestStore(t)
	coll := s.Collection("db.c")

	rid, err := coll.Insert(context.Background(), testDoc(7, 42))
	require.NoError(t, err)

	require.NoError(t, coll.EnsureIndex(context.Background(), xIndex()))

	am, _ := coll.Index("idx_x")
	keys, err := am.Keys(testDoc(7, 42))
	require.NoError(t, err)
	got, found, err := am.FindSingle(s.Database(), keys[0])
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rid, got)
}

func TestInsertMultikeyDocument(t *testing.T) {
	s := openTestStore(t)
	coll := s.Collection("db.c")
	require.NoError(t, coll.EnsureIndex(context.Background(), xIndex()))

	arr := bsoncore.NewArrayBuilder().AppendInt32(1).AppendInt32(2).Build()
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("_id", 9)
	b.AppendArray("x", arr)
	doc := b.Build()

	rid, err := coll.Insert(context.Background(), doc)
	require.NoError(t, err)

	am, _ := coll.Index("idx_x")
	keys, err := am.Keys(doc)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	for _, key := range keys {
		got, found, err := am.FindSingle(s.Database(), key)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, rid, got)
	}
}

func TestDeleteRemovesIndexEntries(t *testing.T) {
	s := openTestStore(t)
	coll := s.Collection("db.c")
	require.NoError(t, coll.EnsureIndex(context.Background(), xIndex()))

	rid, err := coll.Insert(context.Background(), testDoc(7, 42))
	require.NoError(t, err)
	require.NoError(t, coll.Delete(context.Background(), rid))

	_, found, err := coll.FindDoc(rid)
	require.NoError(t, err)
	assert.False(t, found)

	am, _ := coll.Index("idx_x")
	keys, _ := am.Keys(testDoc(7, 42))
	_, found, err = am.FindSingle(s.Database(), keys[0])
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDropIndex(t *testing.T) {
	s := openTestStore(t)
	coll := s.Collection("db.c")
	require.NoError(t, coll.EnsureIndex(context.Background(), xIndex()))
	_, err := coll.Insert(context.Background(), testDoc(7, 42))
	require.NoError(t, err)

	require.NoError(t, coll.DropIndex("idx_x"))
	_, ok := coll.Index("idx_x")
	assert.False(t, ok)

	assert.ErrorIs(t, coll.DropIndex(indexes.IDIndexName), ErrInvalidArguments)
	assert.ErrorIs(t, coll.DropIndex("nope"), ErrIndexMissing)
}

func TestInsertVerifiesIntegrityWhenEnabled(t *testing.T) {
	s := openTestStore(t)
	coll := s.Collection("db.c")

	require.NoError(t, settings.DocumentIntegrityVerification.Set(true))
	defer func() { _ = settings.DocumentIntegrityVerification.Set(false) }()

	doc := testDoc(1, 1)
	bad := withHashFirst(doc, ComputeDocumentHash(doc)+1)
	_, err := coll.Insert(context.Background(), bad)
	assert.ErrorIs(t, err, ErrIntegrityMismatch)

	good := withHashFirst(doc, ComputeDocumentHash(doc))
	_, err = coll.Insert(context.Background(), good)
	assert.NoError(t, err)
}
