// Package querystore implements the embedded query store the indexer
// flushes into: an idempotent MERGE keyed by (run_id, tick). It is
// deliberately opaque to what a tick's payload means — an organism
// indexer and an environment indexer both write through the same
// MergeTick call with whatever bytes their own wire-level decode produced.
package querystore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

// ErrNotFound is returned by GetTick when no row exists for (runID, tick).
var ErrNotFound = errors.New("querystore: row not found")

// Store is the embedded query store, backed by a single buntdb database.
// Every row is keyed by a run id and tick number; writing the same key
// twice overwrites the previous value rather than appending, which is
// what makes MergeTick idempotent under batch redelivery.
type Store struct {
	db *buntdb.DB
}

// Open opens (creating if necessary) a buntdb database at path. Pass
// ":memory:" for a non-persistent store, the shape tests use.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "querystore: open %s", path)
	}
	return &Store{db: db}, nil
}

func rowKey(runID string, tick int64) string {
	return fmt.Sprintf("tick:%s:%019d", runID, tick)
}

// MergeTick idempotently writes payload for (runID, tick). Calling it more
// than once with the same (runID, tick) — the restart-after-flush-before-ack
// scenario — leaves exactly one row behind, not a duplicate.
func (s *Store) MergeTick(ctx context.Context, runID string, tick int64, payload []byte) error {
	key := rowKey(runID, tick)
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(payload), nil)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "querystore: merge run=%s tick=%d", runID, tick)
	}
	return nil
}

// GetTick reads back the payload written by MergeTick.
func (s *Store) GetTick(ctx context.Context, runID string, tick int64) ([]byte, error) {
	key := rowKey(runID, tick)
	var val string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "run=%s tick=%d", runID, tick)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querystore: get run=%s tick=%d", runID, tick)
	}
	return []byte(val), nil
}

// CountRows returns the number of rows stored for runID, across all ticks.
// Tests use this to assert a redelivered batch's re-merge leaves the row
// count unchanged.
func (s *Store) CountRows(ctx context.Context, runID string) (int, error) {
	prefix := "tick:" + runID + ":"
	count := 0
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, value string) bool {
			if strings.HasPrefix(key, prefix) {
				count++
			}
			return true
		})
	})
	if err != nil {
		return 0, errors.Wrap(err, "querystore: count rows")
	}
	return count, nil
}

// HighestTick returns the greatest tick number stored for runID, used by
// callers that need to resume from where a prior run left off.
func (s *Store) HighestTick(ctx context.Context, runID string) (int64, bool, error) {
	prefix := "tick:" + runID + ":"
	var highest int64
	found := false
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.DescendKeys(prefix+"*", func(key, value string) bool {
			tickStr := strings.TrimPrefix(key, prefix)
			tick, err := strconv.ParseInt(tickStr, 10, 64)
			if err != nil {
				return true
			}
			highest = tick
			found = true
			return false
		})
	})
	if err != nil {
		return 0, false, errors.Wrap(err, "querystore: highest tick")
	}
	return highest, found, nil
}

func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "querystore: close")
}
