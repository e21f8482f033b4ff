package querystore

import (
	"context"
	"testing"

	"github.com/evochora/evochora-sub010/internal/tassert"
)

func TestMergeTickIsIdempotent(t *testing.T) {
	store, err := Open(":memory:")
	tassert.CheckFatal(t, err)
	defer store.Close()
	ctx := context.Background()

	tassert.CheckFatal(t, store.MergeTick(ctx, "run-a", 5, []byte("payload-v1")))
	tassert.CheckFatal(t, store.MergeTick(ctx, "run-a", 5, []byte("payload-v1")))

	count, err := store.CountRows(ctx, "run-a")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, count == 1, "expected 1 row after merging the same tick twice, got %d", count)

	val, err := store.GetTick(ctx, "run-a", 5)
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, string(val) == "payload-v1", "unexpected payload: %s", val)
}

func TestGetTickNotFound(t *testing.T) {
	store, err := Open(":memory:")
	tassert.CheckFatal(t, err)
	defer store.Close()

	_, err = store.GetTick(context.Background(), "run-a", 1)
	tassert.Fatalf(t, err != nil, "expected an error for a missing row")
}

func TestHighestTick(t *testing.T) {
	store, err := Open(":memory:")
	tassert.CheckFatal(t, err)
	defer store.Close()
	ctx := context.Background()

	for _, tick := range []int64{0, 5, 3, 19} {
		tassert.CheckFatal(t, store.MergeTick(ctx, "run-a", tick, []byte("x")))
	}

	highest, found, err := store.HighestTick(ctx, "run-a")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, found && highest == 19, "expected highest tick 19, got %d found=%v", highest, found)

	_, found, err = store.HighestTick(ctx, "run-b")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, !found, "expected no rows for an unrelated run id")
}

func TestRunsAreIsolated(t *testing.T) {
	store, err := Open(":memory:")
	tassert.CheckFatal(t, err)
	defer store.Close()
	ctx := context.Background()

	tassert.CheckFatal(t, store.MergeTick(ctx, "run-a", 1, []byte("a")))
	tassert.CheckFatal(t, store.MergeTick(ctx, "run-b", 1, []byte("b")))

	countA, err := store.CountRows(ctx, "run-a")
	tassert.CheckFatal(t, err)
	countB, err := store.CountRows(ctx, "run-b")
	tassert.CheckFatal(t, err)
	tassert.Fatalf(t, countA == 1 && countB == 1, "expected 1 row per run, got a=%d b=%d", countA, countB)
}
