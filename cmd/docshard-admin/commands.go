package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/drpcorg/docshard"
	"github.com/drpcorg/docshard/indexes"
	"github.com/drpcorg/docshard/settings"
	"github.com/drpcorg/docshard/utils"
)

var ErrNoStore = errors.New("no store open; try: open /path/to/dir")

func (repl *REPL) requireStore() (*docshard.Store, error) {
	if repl.store == nil {
		return nil, ErrNoStore
	}
	return repl.store, nil
}

func parseDoc(arg string) (bsoncore.Document, error) {
	var raw bson.Raw
	if err := bson.UnmarshalExtJSON([]byte(arg), false, &raw); err != nil {
		return nil, errors.Wrap(err, "bad document")
	}
	return bsoncore.Document(raw), nil
}

func printDoc(doc bsoncore.Document) {
	out, err := bson.MarshalExtJSON(bson.Raw(doc), false, false)
	if err != nil {
		fmt.Printf("%v\n", doc.String())
		return
	}
	fmt.Printf("%s\n", out)
}

// opCtx stamps the operation with a request id the logger carries along.
func opCtx() context.Context {
	return utils.WithDefaultArgs(context.Background(), "requestId", uuid.NewString())
}

var HelpHelp = `commands:
  open <dir>                         open a store
  close                              close the store
  insert <ns> <doc>                  insert a document
  get <ns> <_id value>               fetch a document by _id
  ensureindex <ns> <name> <pattern>  create an index
  orphan <ns> <recordId>             delete a doc, keeping index entries
  repair <db> <command doc>          run a repairIndexEntry command
  verify <doc>                       check a document's integrity hash
  param get|set <name> [value]       read or set a server parameter
  stats                              engine metrics
  exit`

func (repl *REPL) CommandHelp(arg string) error {
	fmt.Println(HelpHelp)
	return nil
}

var HelpOpen = errors.New("open /path/to/dir")

func (repl *REPL) CommandOpen(arg string) error {
	if arg == "" {
		return HelpOpen
	}
	if repl.store != nil {
		return errors.New("a store is already open")
	}
	store, err := docshard.Open(arg, docshard.Options{Primary: true})
	if err != nil {
		return err
	}
	repl.store = store
	fmt.Printf("store opened at %s\n", arg)
	return nil
}

func (repl *REPL) CommandClose(arg string) error {
	if repl.store == nil {
		return nil
	}
	err := repl.store.Close()
	repl.store = nil
	if err == nil {
		fmt.Printf("store closed\n")
	}
	return err
}

var HelpInsert = errors.New(`insert db.coll {"_id": 7, "x": 42}`)

func (repl *REPL) CommandInsert(arg string) error {
	store, err := repl.requireStore()
	if err != nil {
		return err
	}
	ns, rest, ok := strings.Cut(arg, " ")
	if !ok {
		return HelpInsert
	}
	doc, err := parseDoc(rest)
	if err != nil {
		return HelpInsert
	}
	rid, err := store.Collection(ns).Insert(opCtx(), doc)
	if err != nil {
		return err
	}
	fmt.Printf("inserted at recordId %d\n", rid)
	return nil
}

var HelpGet = errors.New("get db.coll 7")

func (repl *REPL) CommandGet(arg string) error {
	store, err := repl.requireStore()
	if err != nil {
		return err
	}
	ns, rest, ok := strings.Cut(arg, " ")
	if !ok {
		return HelpGet
	}
	idDoc, err := parseDoc(`{"_id": ` + rest + `}`)
	if err != nil {
		return HelpGet
	}
	id, iderr := idDoc.LookupErr("_id")
	if iderr != nil {
		return HelpGet
	}

	coll, found := store.LookupCollection(ns)
	if !found {
		return docshard.ErrCollectionMissing
	}
	rid, found, err := coll.FindByID(id)
	if err != nil {
		return err
	}
	if !found {
		return docshard.ErrDocumentMissing
	}
	doc, found, err := coll.FindDoc(rid)
	if err != nil {
		return err
	}
	if !found {
		return docshard.ErrDocumentMissing
	}
	fmt.Printf("recordId %d\n", rid)
	printDoc(doc)
	return nil
}

var HelpEnsureIndex = errors.New(`ensureindex db.coll idx_x {"x": 1}`)

func (repl *REPL) CommandEnsureIndex(arg string) error {
	store, err := repl.requireStore()
	if err != nil {
		return err
	}
	parts := strings.SplitN(arg, " ", 3)
	if len(parts) != 3 {
		return HelpEnsureIndex
	}
	pattern, err := parseDoc(parts[2])
	if err != nil {
		return HelpEnsureIndex
	}
	desc := indexes.Descriptor{Name: parts[1], KeyPattern: pattern}
	if err := store.Collection(parts[0]).EnsureIndex(opCtx(), desc); err != nil {
		return err
	}
	fmt.Printf("index %s ready\n", parts[1])
	return nil
}

var HelpOrphan = errors.New("orphan db.coll 7")

// CommandOrphan deletes a document while leaving its index entries in
// place, manufacturing the corruption the repair command fixes.
func (repl *REPL) CommandOrphan(arg string) error {
	store, err := repl.requireStore()
	if err != nil {
		return err
	}
	ns, rest, ok := strings.Cut(arg, " ")
	if !ok {
		return HelpOrphan
	}
	rid, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return HelpOrphan
	}
	coll, found := store.LookupCollection(ns)
	if !found {
		return docshard.ErrCollectionMissing
	}
	if err := coll.DeleteDocOnly(indexes.RecordID(rid)); err != nil {
		return err
	}
	fmt.Printf("document %d removed, index entries kept\n", rid)
	return nil
}

var HelpRepair = errors.New(`repair db {"repairIndexEntry": "coll", "action": "insert", "indexName": "idx_x", "_id": 7}`)

func (repl *REPL) CommandRepair(arg string) error {
	store, err := repl.requireStore()
	if err != nil {
		return err
	}
	dbName, rest, ok := strings.Cut(arg, " ")
	if !ok {
		return HelpRepair
	}
	cmd, err := parseDoc(rest)
	if err != nil {
		return HelpRepair
	}
	resp := store.RunRepairCommand(opCtx(), dbName, cmd)
	printDoc(resp)
	return nil
}

var HelpVerify = errors.New(`verify {"_id": 7, "x": 42}`)

func (repl *REPL) CommandVerify(arg string) error {
	doc, err := parseDoc(arg)
	if err != nil {
		return HelpVerify
	}
	if err := docshard.VerifyDocumentIntegrity(doc); err != nil {
		return err
	}
	fmt.Printf("ok, hash %d\n", docshard.ComputeDocumentHash(doc))
	return nil
}

var HelpParam = errors.New("param get <name> | param set <name> <value>")

func (repl *REPL) CommandParam(arg string) error {
	parts := strings.Fields(arg)
	if len(parts) < 2 {
		return HelpParam
	}
	param, err := settings.Lookup(parts[1])
	if err != nil {
		return err
	}
	switch parts[0] {
	case "get":
		fmt.Printf("%s = %v\n", param.Name(), param.Get())
		return nil
	case "set":
		if len(parts) != 3 {
			return HelpParam
		}
		if err := param.SetFromString(parts[2]); err != nil {
			return err
		}
		fmt.Printf("%s = %v\n", param.Name(), param.Get())
		return nil
	default:
		return HelpParam
	}
}

func (repl *REPL) CommandStats(arg string) error {
	store, err := repl.requireStore()
	if err != nil {
		return err
	}
	fmt.Println(store.Database().Metrics().String())
	return nil
}
