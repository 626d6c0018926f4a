package docshard

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/drpcorg/docshard/indexes"
	"github.com/drpcorg/docshard/utils"
)

// RepairCommandName is the wire name of the repair command; its value is
// the target collection.
const RepairCommandName = "repairIndexEntry"

// ParseRepairCommand decodes the wire form
//
//	{repairIndexEntry: <coll>, action: "insert"|"remove", indexName: <s>,
//	 _id: <any>, shardKey: <doc>, indexKey: <doc>, recordId: <int64>,
//	 dryRun: <bool>}
//
// into a RepairRequest.
func ParseRepairCommand(dbName string, cmd bsoncore.Document) (RepairRequest, error) {
	var req RepairRequest

	elems, err := cmd.Elements()
	if err != nil {
		return req, errors.Join(ErrInvalidArguments, err)
	}
	if len(elems) == 0 || elems[0].Key() != RepairCommandName {
		return req, errors.Join(ErrInvalidArguments, errors.New("first element must be "+RepairCommandName))
	}
	collName, ok := elems[0].Value().StringValueOK()
	if !ok || collName == "" {
		return req, errors.Join(ErrInvalidArguments, errors.New("collection name is required"))
	}
	req.Namespace = dbName + "." + collName

	for _, e := range elems[1:] {
		v := e.Value()
		switch e.Key() {
		case "action":
			s, ok := v.StringValueOK()
			if !ok {
				return req, errors.Join(ErrInvalidArguments, errors.New("action must be a string"))
			}
			req.Action = RepairAction(s)
		case "indexName":
			s, ok := v.StringValueOK()
			if !ok {
				return req, errors.Join(ErrInvalidArguments, errors.New("indexName must be a string"))
			}
			req.IndexName = s
		case "_id":
			req.ID = v
		case "shardKey":
			doc, ok := v.DocumentOK()
			if !ok {
				return req, errors.Join(ErrInvalidArguments, errors.New("shardKey must be a document"))
			}
			req.ShardKey = doc
		case "indexKey":
			doc, ok := v.DocumentOK()
			if !ok {
				return req, errors.Join(ErrInvalidArguments, errors.New("indexKey must be a document"))
			}
			req.IndexKey = doc
		case "recordId":
			n, ok := v.AsInt64OK()
			if !ok {
				return req, errors.Join(ErrInvalidArguments, errors.New("recordId must be an integer"))
			}
			req.RecordID = indexes.RecordID(n)
			req.HasRecordID = true
		case "dryRun":
			b, ok := v.BooleanOK()
			if !ok {
				return req, errors.Join(ErrInvalidArguments, errors.New("dryRun must be a boolean"))
			}
			req.DryRun = b
		}
	}

	return req, nil
}

// RunRepairCommand executes a wire-form repair command and builds the
// response document: {ok: 1, keysInserted|keysRemoved, recordId} on
// success, {ok: 1, dryRun: true, wouldInsert|wouldRemove, recordId} for a
// dry run, {ok: 0, errmsg, code?, matchCount?, generatedKeys?} on failure.
func (s *Store) RunRepairCommand(ctx context.Context, dbName string, cmd bsoncore.Document) bsoncore.Document {
	req, err := ParseRepairCommand(dbName, cmd)
	if err != nil {
		return buildRepairResponse(nil, err)
	}
	res, err := s.RepairIndexEntry(ctx, req)
	return buildRepairResponse(res, err)
}

func buildRepairResponse(res *RepairResult, err error) bsoncore.Document {
	idx, out := bsoncore.AppendDocumentStart(nil)

	if err != nil {
		out = bsoncore.AppendDoubleElement(out, "ok", 0)
		out = bsoncore.AppendStringElement(out, "errmsg", err.Error())
		if res != nil {
			if res.Code != "" {
				out = bsoncore.AppendStringElement(out, "code", res.Code)
			}
			if res.MatchCount > 0 {
				out = bsoncore.AppendInt32Element(out, "matchCount", int32(res.MatchCount))
			}
			if len(res.GeneratedKeys) > 0 {
				out = appendKeysArray(out, "generatedKeys", res.GeneratedKeys)
			}
		}
		out, _ = bsoncore.AppendDocumentEnd(out, idx)
		return bsoncore.Document(out)
	}

	out = bsoncore.AppendDoubleElement(out, "ok", 1)
	if res.DryRun {
		out = bsoncore.AppendBooleanElement(out, "dryRun", true)
		if len(res.WouldInsert) > 0 {
			out = bsoncore.AppendDocumentElement(out, "wouldInsert", res.WouldInsert)
		}
		if len(res.WouldRemove) > 0 {
			out = bsoncore.AppendDocumentElement(out, "wouldRemove", res.WouldRemove)
		}
	} else {
		if res.KeysInserted > 0 {
			out = bsoncore.AppendInt64Element(out, "keysInserted", res.KeysInserted)
		}
		if res.KeysRemoved > 0 {
			out = bsoncore.AppendInt64Element(out, "keysRemoved", res.KeysRemoved)
		}
	}
	out = bsoncore.AppendInt64Element(out, "recordId", int64(res.RecordID))
	out, _ = bsoncore.AppendDocumentEnd(out, idx)
	return bsoncore.Document(out)
}

// appendKeysArray writes the keys as a BSON array, generating the index
// field names with an in-place decimal counter.
func appendKeysArray(dst []byte, name string, keys []bsoncore.Document) []byte {
	idx, dst := bsoncore.AppendArrayElementStart(dst, name)
	counter := utils.NewDecimalCounter(0)
	for _, key := range keys {
		dst = bsoncore.AppendDocumentElement(dst, counter.String(), key)
		counter.Inc()
	}
	dst, _ = bsoncore.AppendArrayEnd(dst, idx)
	return dst
}

// LookupResponseValue is a small helper for readers of command responses.
func LookupResponseValue(resp bsoncore.Document, name string) (bsoncore.Value, bool) {
	v, err := resp.LookupErr(name)
	if err != nil {
		return bsoncore.Value{}, false
	}
	return v, true
}
