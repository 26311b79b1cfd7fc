package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paramhub/paramhub/internal/codec"
	"github.com/paramhub/paramhub/internal/ptype"
)

// DeletePolicy selects how Set behaves when a write restores the
// descriptor default. spec.md §4.C leaves this an open question
// (§9): either delete the row immediately, or write-then-delete inside
// the same transaction so the row's timestamp still advances for any
// reader racing the delete. paramhub picks WriteThenDelete — see
// DESIGN.md — because property 6 and scenario S5 both require that a
// restore-to-default still produces an observable timestamp bump for
// the reconciler, and a bare DELETE leaves no row whose timestamp a
// concurrent iter_changed_since(t) scan could see.
type DeletePolicy int

const (
	WriteThenDelete DeletePolicy = iota
	DeleteImmediately
)

// Set validates and stores a new value for parameter id. On success the
// row's timestamp is stamped to now (even when the value equals the
// descriptor default, per DeletePolicy).
func (s *Store) Set(ctx context.Context, id int, v ptype.Value) error {
	d, err := s.reg.Descriptor(id)
	if err != nil {
		return err
	}
	if v.Kind != d.Kind {
		return ptype.NewError("Set", ptype.TypeMismatch, fmt.Errorf("parameter %s is %s, got %s", d.QualifiedName(), d.Kind, v.Kind))
	}
	if d.Flags.IsConst {
		return ptype.NewError("Set", ptype.ConstParameter, fmt.Errorf("parameter %s is const", d.QualifiedName()))
	}
	if err := validate(d, v); err != nil {
		return err
	}

	raw, err := codec.ToSQL(v)
	if err != nil {
		return ptype.NewError("Set", ptype.SerializationError, err)
	}

	isDefault := v.Equal(d.Default)
	now := s.stamp()
	key := d.QualifiedName()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if isDefault {
			return s.setDefault(ctx, tx, key, now)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO parameters (key, value, timestamp) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, timestamp = excluded.timestamp
		`, key, raw, now)
		return err
	})
	if err != nil {
		return ptype.NewError("Set", ptype.DbError, err)
	}

	s.log.Debug("set", "key", key, "timestamp", now, "is_default", isDefault)
	return nil
}

// setDefault applies s.deletePolicy when a write restores the descriptor
// default.
func (s *Store) setDefault(ctx context.Context, tx *sql.Tx, key string, now int64) error {
	if s.deletePolicy == DeleteImmediately {
		_, err := tx.ExecContext(ctx, `DELETE FROM parameters WHERE key = ?`, key)
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO parameters (key, value, timestamp) VALUES (?, NULL, ?)
		ON CONFLICT(key) DO UPDATE SET value = NULL, timestamp = excluded.timestamp
	`, key, now)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM parameters WHERE key = ? AND value IS NULL`, key)
	return err
}

func validate(d ptype.Descriptor, v ptype.Value) error {
	switch d.Validation.Mode {
	case ptype.ValidationNone, ptype.ValidationCustomCallback:
		return nil
	case ptype.ValidationRange:
		if v.Less(d.Validation.Min) || d.Validation.Max.Less(v) {
			return ptype.NewError("Set", ptype.OutOfRange, fmt.Errorf("parameter %s: value out of [min,max]", d.QualifiedName()))
		}
		return nil
	case ptype.ValidationAllowedValues:
		for _, a := range d.Validation.Allowed {
			if a.Equal(v) {
				return nil
			}
		}
		return ptype.NewError("Set", ptype.NotAllowed, fmt.Errorf("parameter %s: value not in allowed set", d.QualifiedName()))
	default:
		return nil
	}
}

// ChangedSince implements iter_changed_since(t): rows with timestamp > t,
// ordered by timestamp ascending, mapped back to parameter IDs via the
// registry.
type Change struct {
	ID        int
	Timestamp int64
}

func (s *Store) ChangedSince(ctx context.Context, t int64) ([]Change, error) {
	var changes []Change
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT key, timestamp FROM parameters WHERE timestamp > ? ORDER BY timestamp ASC`, t)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var ts int64
			if err := rows.Scan(&key, &ts); err != nil {
				return err
			}
			d, err := s.reg.DescriptorByName(key)
			if err != nil {
				continue // row for a parameter no longer in the compiled schema
			}
			changes = append(changes, Change{ID: d.ID, Timestamp: ts})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, ptype.NewError("ChangedSince", ptype.DbError, err)
	}
	return changes, nil
}

// Save copies every non-runtime row from this store into backup, the way
// spec.md §4.C's save() requires. It uses an ordinary transactional
// read-then-write rather than SQLite's native online-backup API, since
// only non-runtime rows are copied (a full-file backup would copy
// everything).
func (s *Store) Save(ctx context.Context, backup *Store) error {
	rows, err := s.allRows(ctx)
	if err != nil {
		return err
	}
	return backup.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM parameters`); err != nil {
			return err
		}
		for _, r := range rows {
			d, err := s.reg.DescriptorByName(r.key)
			if err != nil || d.Flags.Runtime {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO parameters (key, value, timestamp) VALUES (?, ?, ?)`, r.key, r.value, r.timestamp); err != nil {
				return err
			}
		}
		return nil
	})
}

// Restore replaces every non-runtime row in this store with backup's
// snapshot, per spec.md §4.C's restore() and property 9
// (save(); mutate_all(); restore() must yield exactly the pre-mutate_all
// state). This is full replacement, not a key-matching upsert: a parameter
// that was at its descriptor default when Save ran (and so has no row in
// backup) but was mutated away from default afterward must come back to
// its default too, which means its now-stale working row has to be
// deleted, not left in place. Runtime rows in this store are left
// untouched (scenario S4).
func (s *Store) Restore(ctx context.Context, backup *Store) error {
	rows, err := backup.allRows(ctx)
	if err != nil {
		return err
	}
	now := s.stamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range s.reg.NonRuntimeKeys() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM parameters WHERE key = ?`, key); err != nil {
				return err
			}
		}
		for _, r := range rows {
			d, err := s.reg.DescriptorByName(r.key)
			if err != nil || d.Flags.Runtime {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO parameters (key, value, timestamp) VALUES (?, ?, ?)`, r.key, r.value, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// FactoryReset deletes every row from this store and bumps the store's
// generation counter, so that any reconciler (local or peer, listener- or
// timer-driven) that observes the new generation re-reads every compiled
// parameter and re-runs its callbacks (spec.md §4.C, §8 property 10).
func (s *Store) FactoryReset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM parameters`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE store_meta SET value = value + 1 WHERE key = 'generation'`)
		return err
	})
}

// Generation returns the current generation counter, bumped once per
// FactoryReset call.
func (s *Store) Generation(ctx context.Context) (int64, error) {
	var gen int64
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'generation'`).Scan(&gen)
	})
	if err != nil {
		return 0, ptype.NewError("Generation", ptype.DbError, err)
	}
	return gen, nil
}

type rawRow struct {
	key       string
	value     []byte
	timestamp int64
}

func (s *Store) allRows(ctx context.Context) ([]rawRow, error) {
	var out []rawRow
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT key, value, timestamp FROM parameters`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r rawRow
			if err := rows.Scan(&r.key, &r.value, &r.timestamp); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, ptype.NewError("allRows", ptype.DbError, err)
	}
	return out, nil
}
