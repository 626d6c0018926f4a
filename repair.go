package docshard

import (
	"bytes"
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/drpcorg/docshard/extractor"
	"github.com/drpcorg/docshard/indexes"
	"github.com/drpcorg/docshard/shardlock"
)

type RepairAction string

const (
	RepairActionInsert RepairAction = "insert"
	RepairActionRemove RepairAction = "remove"
)

// Machine-readable codes carried in repair command responses.
const (
	CodeAmbiguousMatch      = "ambiguous-match"
	CodeAlreadyExists       = "already-exists"
	CodeNotFound            = "not-found"
	CodeDocumentStillExists = "document-still-exists"
)

// RepairRequest is one single-record index reconciliation. At least one
// locator (ID, IndexKey or RecordID) is required.
type RepairRequest struct {
	Namespace string
	Action    RepairAction
	IndexName string

	// ID locates the document through the _id index. Zero means absent.
	ID bsoncore.Value

	// IndexKey is the full index key of the entry being repaired.
	IndexKey bsoncore.Document

	// RecordID locates the record directly when HasRecordID is set.
	RecordID    indexes.RecordID
	HasRecordID bool

	// ShardKey, when supplied, takes the shard-key lock for the duration.
	ShardKey bsoncore.Document

	// DryRun validates and reports without writing.
	DryRun bool
}

func (r RepairRequest) hasID() bool {
	return !extractor.Absent(r.ID)
}

// RepairResult reports what a repair did, or would do under DryRun. On the
// protocol's validation failures Code carries the machine-readable reason
// alongside the returned error.
type RepairResult struct {
	KeysInserted int64
	KeysRemoved  int64

	DryRun      bool
	WouldInsert bsoncore.Document
	WouldRemove bsoncore.Document
	RecordID    indexes.RecordID

	MatchCount int
	Code       string

	// GeneratedKeys is filled on ambiguous-match failures so the caller
	// can pick one and retry.
	GeneratedKeys []bsoncore.Document
}

// RepairIndexEntry reconciles one index entry with its owning document:
// action=insert writes a missing entry, action=remove deletes an orphan.
// Every path except success surfaces exactly one error; the result is
// non-nil whenever it carries a machine code or match count for the
// caller.
func (s *Store) RepairIndexEntry(ctx context.Context, req RepairRequest) (*RepairResult, error) {
	if req.Action != RepairActionInsert && req.Action != RepairActionRemove {
		return nil, fmt.Errorf("%w: action must be 'insert' or 'remove'", ErrInvalidArguments)
	}
	if req.IndexName == "" {
		return nil, fmt.Errorf("%w: indexName is required", ErrInvalidArguments)
	}
	if !req.hasID() && len(req.IndexKey) == 0 && !req.HasRecordID {
		return nil, fmt.Errorf("%w: must specify _id, indexKey or recordId", ErrInvalidArguments)
	}
	if req.Action == RepairActionRemove && len(req.IndexKey) > 0 && !req.hasID() && !req.HasRecordID {
		return nil, fmt.Errorf("%w: recordId is required for remove with indexKey", ErrInvalidArguments)
	}

	if !s.CanAcceptWrites() {
		return nil, ErrNotPrimary
	}

	coll, ok := s.LookupCollection(req.Namespace)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionMissing, req.Namespace)
	}
	am, ok := coll.Index(req.IndexName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexMissing, req.IndexName)
	}

	if len(req.ShardKey) > 0 {
		guard := shardlock.Acquire(req.Namespace, req.ShardKey)
		defer guard.Release()
	}

	// Locate the record and, when it still exists, its document.
	var (
		rid      indexes.RecordID
		document bsoncore.Document
		docFound bool
	)
	switch {
	case req.hasID():
		idx, idKey := bsoncore.AppendDocumentStart(nil)
		idKey = bsoncore.AppendValueElement(idKey, "", req.ID)
		idKey, _ = bsoncore.AppendDocumentEnd(idKey, idx)

		found := false
		var err error
		rid, found, err = coll.IDIndex().FindSingle(s.db, bsoncore.Document(idKey))
		if err != nil {
			return nil, err
		}
		if !found {
			if req.Action == RepairActionInsert {
				return nil, fmt.Errorf("%w: no document with the given _id", ErrDocumentMissing)
			}
			// For remove a missing document is the expected orphan case.
			if req.HasRecordID {
				rid = req.RecordID
			}
			break
		}
		document, docFound, err = coll.FindDoc(rid)
		if err != nil {
			return nil, err
		}
	case req.HasRecordID:
		rid = req.RecordID
		var err error
		document, docFound, err = coll.FindDoc(rid)
		if err != nil {
			return nil, err
		}
	}

	if req.Action == RepairActionInsert {
		return s.repairInsert(ctx, am, req, document, docFound, rid)
	}
	return s.repairRemove(ctx, am, req, document, docFound, rid)
}

func (s *Store) repairInsert(ctx context.Context, am *indexes.AccessMethod, req RepairRequest, document bsoncore.Document, docFound bool, rid indexes.RecordID) (*RepairResult, error) {
	if !docFound {
		return nil, fmt.Errorf("%w: cannot insert an index entry", ErrDocumentMissing)
	}

	keys, err := am.Keys(document)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: document generates no index keys", ErrInvalidArguments)
	}

	if len(keys) > 1 && len(req.IndexKey) == 0 {
		return &RepairResult{Code: CodeAmbiguousMatch, GeneratedKeys: keys},
			fmt.Errorf("%w: document generates %d index keys, specify indexKey", ErrAmbiguousMatch, len(keys))
	}

	keyToInsert := keys[0]
	if len(req.IndexKey) > 0 {
		found := false
		for _, k := range keys {
			if bytes.Equal(k, req.IndexKey) {
				keyToInsert = k
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: indexKey does not match any key generated from the document", ErrInvalidArguments)
		}
	}

	// Probe the equal-key run for an entry already at this record.
	cursor, err := am.NewCursor(s.db)
	if err != nil {
		return nil, err
	}
	for entry, ok := cursor.Seek(keyToInsert); ok && bytes.Equal(entry.Key, keyToInsert); entry, ok = cursor.Next() {
		if entry.RecordID == rid {
			cursor.Close()
			return &RepairResult{Code: CodeAlreadyExists},
				fmt.Errorf("%w: no repair needed", ErrAlreadyExists)
		}
	}
	cursor.Close()

	if req.DryRun {
		return &RepairResult{DryRun: true, WouldInsert: keyToInsert, RecordID: rid}, nil
	}

	desc := am.Descriptor()
	err = WithWriteConflictRetry(ctx, s.log, "repairIndexEntry", req.Namespace, func() error {
		batch := s.db.NewBatch()
		defer batch.Close()
		if err := am.Insert(batch, keyToInsert, rid, !desc.Unique); err != nil {
			return err
		}
		return s.db.Apply(batch, s.wo)
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoCtx(ctx, "repairIndexEntry: inserted index entry",
		"ns", req.Namespace, "index", desc.Name, "recordId", uint64(rid))
	return &RepairResult{KeysInserted: 1, RecordID: rid}, nil
}

func (s *Store) repairRemove(ctx context.Context, am *indexes.AccessMethod, req RepairRequest, document bsoncore.Document, docFound bool, rid indexes.RecordID) (*RepairResult, error) {
	hasIndexKey := len(req.IndexKey) > 0

	// A live document keeps its index entries; removal is for orphans.
	if hasIndexKey && docFound {
		return &RepairResult{Code: CodeDocumentStillExists},
			fmt.Errorf("%w: cannot remove as orphan index entry", ErrDocumentStillExists)
	}

	var keyToRemove bsoncore.Document
	locToRemove := rid

	switch {
	case hasIndexKey:
		keyToRemove = req.IndexKey

		cursor, err := am.NewCursor(s.db)
		if err != nil {
			return nil, err
		}
		found := false
		matchCount := 0
		var firstMatch indexes.RecordID
		for entry, ok := cursor.Seek(req.IndexKey); ok && bytes.Equal(entry.Key, req.IndexKey); entry, ok = cursor.Next() {
			matchCount++
			if matchCount == 1 {
				firstMatch = entry.RecordID
			}
			if req.HasRecordID && entry.RecordID == req.RecordID {
				found = true
				break
			}
		}
		cursor.Close()

		if matchCount == 0 {
			return &RepairResult{Code: CodeNotFound},
				fmt.Errorf("%w: no entry at the given indexKey", ErrNotFound)
		}
		if req.HasRecordID {
			if !found {
				return &RepairResult{Code: CodeNotFound},
					fmt.Errorf("%w: no entry at the given recordId", ErrNotFound)
			}
			locToRemove = req.RecordID
		} else {
			if matchCount > 1 {
				return &RepairResult{Code: CodeAmbiguousMatch, MatchCount: matchCount},
					fmt.Errorf("%w: %d entries match, provide recordId", ErrAmbiguousMatch, matchCount)
			}
			locToRemove = firstMatch
		}

	case docFound:
		keys, err := am.Keys(document)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("%w: document generates no index keys", ErrInvalidArguments)
		}
		if len(keys) > 1 {
			return &RepairResult{Code: CodeAmbiguousMatch, GeneratedKeys: keys},
				fmt.Errorf("%w: document generates %d index keys, specify indexKey", ErrAmbiguousMatch, len(keys))
		}
		keyToRemove = keys[0]

	default:
		return nil, fmt.Errorf("%w: cannot determine which index key to remove", ErrInvalidArguments)
	}

	if req.DryRun {
		return &RepairResult{DryRun: true, WouldRemove: keyToRemove, RecordID: locToRemove}, nil
	}

	desc := am.Descriptor()
	err := WithWriteConflictRetry(ctx, s.log, "repairIndexEntry", req.Namespace, func() error {
		batch := s.db.NewBatch()
		defer batch.Close()
		if err := am.RemoveSingle(batch, keyToRemove, locToRemove); err != nil {
			return err
		}
		return s.db.Apply(batch, s.wo)
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoCtx(ctx, "repairIndexEntry: removed index entry",
		"ns", req.Namespace, "index", desc.Name, "recordId", uint64(locToRemove))
	return &RepairResult{KeysRemoved: 1, RecordID: locToRemove}, nil
}
