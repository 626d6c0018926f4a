package docshard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/drpcorg/docshard/indexes"
)

func repairCmd(f func(b *bsoncore.DocumentBuilder)) bsoncore.Document {
	b := bsoncore.NewDocumentBuilder()
	b.AppendString(RepairCommandName, "c")
	f(b)
	return b.Build()
}

func TestParseRepairCommand(t *testing.T) {
	cmd := repairCmd(func(b *bsoncore.DocumentBuilder) {
		b.AppendString("action", "insert")
		b.AppendString("indexName", "idx_x")
		b.AppendInt32("_id", 7)
		b.AppendInt64("recordId", 12)
		b.AppendBoolean("dryRun", true)
	})

	req, err := ParseRepairCommand("db", cmd)
	require.NoError(t, err)
	assert.Equal(t, "db.c", req.Namespace)
	assert.Equal(t, RepairActionInsert, req.Action)
	assert.Equal(t, "idx_x", req.IndexName)
	assert.True(t, req.hasID())
	assert.True(t, req.HasRecordID)
	assert.Equal(t, indexes.RecordID(12), req.RecordID)
	assert.True(t, req.DryRun)
}

func TestParseRepairCommandRejectsBadShapes(t *testing.T) {
	b := bsoncore.NewDocumentBuilder()
	b.AppendString("wrongCommand", "c")
	_, err := ParseRepairCommand("db", b.Build())
	assert.ErrorIs(t, err, ErrInvalidArguments)

	cmd := repairCmd(func(b *bsoncore.DocumentBuilder) {
		b.AppendInt32("action", 1)
	})
	_, err = ParseRepairCommand("db", cmd)
	assert.ErrorIs(t, err, ErrInvalidArguments)

	cmd = repairCmd(func(b *bsoncore.DocumentBuilder) {
		b.AppendString("action", "insert")
		b.AppendString("indexName", "idx_x")
		b.AppendString("recordId", "not a number")
	})
	_, err = ParseRepairCommand("db", cmd)
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestRunRepairCommandInsert(t *testing.T) {
	s, coll, rid := setupRepairStore(t)
	removeIndexEntry(t, s, coll, xKey(42), rid)

	resp := s.RunRepairCommand(context.Background(), "db", repairCmd(func(b *bsoncore.DocumentBuilder) {
		b.AppendString("action", "insert")
		b.AppendString("indexName", "idx_x")
		b.AppendInt32("_id", 7)
	}))

	ok, found := LookupResponseValue(resp, "ok")
	require.True(t, found)
	assert.Equal(t, float64(1), ok.Double())

	inserted, found := LookupResponseValue(resp, "keysInserted")
	require.True(t, found)
	assert.EqualValues(t, 1, inserted.Int64())
}

func TestRunRepairCommandAlreadyExists(t *testing.T) {
	s, _, _ := setupRepairStore(t)

	resp := s.RunRepairCommand(context.Background(), "db", repairCmd(func(b *bsoncore.DocumentBuilder) {
		b.AppendString("action", "insert")
		b.AppendString("indexName", "idx_x")
		b.AppendInt32("_id", 7)
	}))

	ok, _ := LookupResponseValue(resp, "ok")
	assert.Equal(t, float64(0), ok.Double())

	code, found := LookupResponseValue(resp, "code")
	require.True(t, found)
	assert.Equal(t, CodeAlreadyExists, code.StringValue())

	_, found = LookupResponseValue(resp, "keysInserted")
	assert.False(t, found)
}

func TestRunRepairCommandRemoveOrphan(t *testing.T) {
	s, coll, rid := setupRepairStore(t)
	require.NoError(t, coll.DeleteDocOnly(rid))

	resp := s.RunRepairCommand(context.Background(), "db", repairCmd(func(b *bsoncore.DocumentBuilder) {
		b.AppendString("action", "remove")
		b.AppendString("indexName", "idx_x")
		b.AppendDocument("indexKey", keyPatternDoc())
		b.AppendInt64("recordId", int64(rid))
	}))

	ok, _ := LookupResponseValue(resp, "ok")
	assert.Equal(t, float64(1), ok.Double())

	removed, found := LookupResponseValue(resp, "keysRemoved")
	require.True(t, found)
	assert.EqualValues(t, 1, removed.Int64())
}

// keyPatternDoc builds {"": 42}, the index key of the seeded document.
func keyPatternDoc() bsoncore.Document {
	return xKey(42)
}

func TestRunRepairCommandDryRun(t *testing.T) {
	s, coll, rid := setupRepairStore(t)
	removeIndexEntry(t, s, coll, xKey(42), rid)

	resp := s.RunRepairCommand(context.Background(), "db", repairCmd(func(b *bsoncore.DocumentBuilder) {
		b.AppendString("action", "insert")
		b.AppendString("indexName", "idx_x")
		b.AppendInt32("_id", 7)
		b.AppendBoolean("dryRun", true)
	}))

	would, found := LookupResponseValue(resp, "wouldInsert")
	require.True(t, found)
	assert.Equal(t, xKey(42), bsoncore.Document(would.Document()))
}

func TestRunRepairCommandAmbiguousIncludesGeneratedKeys(t *testing.T) {
	s := openTestStore(t)
	coll := s.Collection("db.c")
	require.NoError(t, coll.EnsureIndex(context.Background(), xIndex()))

	arr := bsoncore.NewArrayBuilder().AppendInt32(1).AppendInt32(2).AppendInt32(3).Build()
	b := bsoncore.NewDocumentBuilder()
	b.AppendInt32("_id", 7)
	b.AppendArray("x", arr)
	rid, err := coll.Insert(context.Background(), b.Build())
	require.NoError(t, err)
	for _, v := range []int32{1, 2, 3} {
		removeIndexEntry(t, s, coll, xKey(v), rid)
	}

	resp := s.RunRepairCommand(context.Background(), "db", repairCmd(func(b *bsoncore.DocumentBuilder) {
		b.AppendString("action", "insert")
		b.AppendString("indexName", "idx_x")
		b.AppendInt32("_id", 7)
	}))

	code, found := LookupResponseValue(resp, "code")
	require.True(t, found)
	assert.Equal(t, CodeAmbiguousMatch, code.StringValue())

	keysVal, found := LookupResponseValue(resp, "generatedKeys")
	require.True(t, found)
	keys, err := bsoncore.Document(keysVal.Array()).Elements()
	require.NoError(t, err)
	require.Len(t, keys, 3)
	// Array indexes come from the decimal counter.
	assert.Equal(t, "0", keys[0].Key())
	assert.Equal(t, "2", keys[2].Key())
}
