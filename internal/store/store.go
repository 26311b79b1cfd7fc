// Package store implements the SQLite-backed parameter store of spec.md
// §4.C: two databases (working and backup), a single `parameters` table in
// each, and get/set/iter/save/restore/factory_reset over it. It is
// grounded on the teacher's hot-reloadable SQLite Engine, generalized from
// a single ad-hoc config table to the two-database, descriptor-validated
// discipline spec.md requires.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/paramhub/paramhub/internal/codec"
	"github.com/paramhub/paramhub/internal/ptype"
	"github.com/paramhub/paramhub/internal/schema"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS parameters (
	key       TEXT PRIMARY KEY,
	value     BLOB,
	timestamp INTEGER NOT NULL
);

-- store_meta holds a single 'generation' counter, bumped by FactoryReset.
-- A timer-driven reconciler that is behind the current generation treats
-- every compiled parameter as possibly changed, the same way the
-- teacher's config table bumps a per-row 'version' column on UPDATE to
-- drive its own hot-reload poll (internal/core/db.go's config_version_bump
-- trigger) — generalized here to a single counter because factory_reset
-- clears every row, leaving no per-row version to bump.
CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
INSERT OR IGNORE INTO store_meta (key, value) VALUES ('generation', 0);
`

// clock returns the current time as seconds since epoch. It is a field on
// Store (not a bare time.Now() call) so tests can freeze or advance it to
// exercise the monotonic-timestamp invariant of spec.md §3.2 deterministically.
type clock func() int64

// Store owns one open SQLite database — either the working DB or the
// backup DB — and enforces spec.md §4.C's read/write/validation discipline
// against it. An Instance (internal/instance) owns one working Store and,
// optionally, one backup Store.
type Store struct {
	db   *sql.DB
	path string
	reg  *schema.Registry
	now  clock

	mu           sync.Mutex // serializes writer transactions; see spec.md §5
	blobCache    map[int][]byte
	blobCacheM   sync.Mutex
	deletePolicy DeletePolicy

	stampMu   sync.Mutex
	lastStamp int64

	log *slog.Logger
}

// SetDeletePolicy selects the row-deletion policy used when a Set restores
// a parameter's descriptor default. The default, applied by Open, is
// WriteThenDelete.
func (s *Store) SetDeletePolicy(p DeletePolicy) { s.deletePolicy = p }

// Open opens or creates the SQLite database at path in WAL mode (matching
// the teacher's Engine) and applies the `parameters` schema.
func Open(path string, reg *schema.Registry, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, ptype.NewError("Open", ptype.DbError, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, ptype.NewError("Open", ptype.DbError, err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, ptype.NewError("Open", ptype.DbError, fmt.Errorf("apply schema: %w", err))
	}

	s := &Store{
		db:        db,
		path:      path,
		reg:       reg,
		now:       defaultClock,
		blobCache: make(map[int][]byte),
		log:       log.With("component", "store", "path", path),
	}
	return s, nil
}

func defaultClock() int64 { return nowUnix() }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return ptype.NewError("Close", ptype.DbError, err)
	}
	return nil
}

// Empty reports whether the parameters table has no rows — used at
// instance construction to decide whether to load the working DB from
// backup (spec.md §3.3).
func (s *Store) Empty(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parameters`).Scan(&n)
	if err != nil {
		return false, ptype.NewError("Empty", ptype.DbError, err)
	}
	return n == 0, nil
}

// Get resolves the current value of the parameter identified by id: the
// stored row if present, else the descriptor default (reading a blob
// default's file lazily, once, on first access).
func (s *Store) Get(ctx context.Context, id int) (ptype.Value, error) {
	d, err := s.reg.Descriptor(id)
	if err != nil {
		return ptype.Value{}, err
	}

	var raw []byte
	var hasRow bool
	err = s.withReadTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT value FROM parameters WHERE key = ?`, d.QualifiedName())
		err := row.Scan(&raw)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		hasRow = true
		return nil
	})
	if err != nil {
		return ptype.Value{}, ptype.NewError("Get", ptype.DbError, err)
	}

	if !hasRow {
		return s.materializeDefault(d)
	}
	v, err := codec.FromSQL(d.Kind, raw)
	if err != nil {
		return ptype.Value{}, ptype.NewError("Get", ptype.SerializationError, err)
	}
	return v, nil
}

func (s *Store) materializeDefault(d ptype.Descriptor) (ptype.Value, error) {
	if d.Kind != ptype.KindBlob || d.DefaultPath == "" {
		return d.Default, nil
	}

	s.blobCacheM.Lock()
	defer s.blobCacheM.Unlock()
	if cached, ok := s.blobCache[d.ID]; ok {
		return ptype.BlobValue(cached), nil
	}
	data, err := os.ReadFile(d.DefaultPath)
	if err != nil {
		return ptype.Value{}, ptype.NewError("Get", ptype.IoError, fmt.Errorf("read blob default %s: %w", d.DefaultPath, err))
	}
	s.blobCache[d.ID] = data
	return ptype.BlobValue(data), nil
}

// stamp returns a timestamp for the next row write, guaranteed strictly
// greater than every timestamp this Store has previously issued — spec.md
// §3.2's "monotonically non-decreasing for a given key within a single
// process's lifetime" invariant, strengthened to strictly increasing across
// all keys so two writes within the same wall-clock second never collide
// (which would hide the second write from a concurrent
// iter_changed_since(t) scan). Falls back to lastStamp+1 when the wall
// clock hasn't advanced since the previous call.
func (s *Store) stamp() int64 {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	next := s.now()
	if next <= s.lastStamp {
		next = s.lastStamp + 1
	}
	s.lastStamp = next
	return next
}

// nowUnix (in tx.go) is the production clock behind defaultClock; tests
// override Store.now instead, so production code has exactly one call to
// the wall clock.
