// Package docshard is the storage-side glue for the performance
// subsystems: a pebble-backed document store with maintained secondary
// indexes, the single-record index repair protocol and its command
// surface, and document integrity hashing.
package docshard

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/drpcorg/docshard/utils"
)

type Options struct {
	Logger utils.Logger

	// Primary marks this process as the write-accepting replica.
	Primary bool

	Pebble pebble.Options
}

type Store struct {
	db  *pebble.DB
	log utils.Logger
	dir string
	wo  *pebble.WriteOptions

	primary     atomic.Bool
	collections utils.CMap[string, *Collection]
	closed      atomic.Bool
}

func Open(dirname string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}

	db, err := pebble.Open(dirname, &opts.Pebble)
	if err != nil {
		return nil, fmt.Errorf("docshard: failed to open pebble: %w", err)
	}

	s := &Store{
		db:  db,
		log: opts.Logger,
		dir: dirname,
		wo:  pebble.Sync,
	}
	s.primary.Store(opts.Primary)
	return s, nil
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.db.Close()
}

func (s *Store) Logger() utils.Logger {
	return s.log
}

func (s *Store) Database() *pebble.DB {
	return s.db
}

func (s *Store) WriteOptions() *pebble.WriteOptions {
	return s.wo
}

// CanAcceptWrites reports whether this process is the write-accepting
// replica.
func (s *Store) CanAcceptWrites() bool {
	return s.primary.Load()
}

func (s *Store) StepUp()   { s.primary.Store(true) }
func (s *Store) StepDown() { s.primary.Store(false) }

// Collection returns the collection for ns, creating it on first use.
func (s *Store) Collection(ns string) *Collection {
	if coll, ok := s.collections.Load(ns); ok {
		return coll
	}
	coll, _ := s.collections.LoadOrStore(ns, newCollection(s, ns))
	return coll
}

// LookupCollection returns the collection only if it already exists.
func (s *Store) LookupCollection(ns string) (*Collection, bool) {
	return s.collections.Load(ns)
}
