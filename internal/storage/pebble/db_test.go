package pebblestore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cockroachdb/pebble"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSetGetDelete(t *testing.T) {
	db := openTestDB(t)
	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("get: %v %q", err, got)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPrefixIterBounds(t *testing.T) {
	db := openTestDB(t)
	_ = db.Set([]byte("a/1"), nil)
	_ = db.Set([]byte("a/2"), nil)
	_ = db.Set([]byte("b/1"), nil)

	it, err := db.PrefixIter([]byte("a/"))
	if err != nil {
		t.Fatalf("iter: %v", err)
	}
	defer it.Close()
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	if n != 2 {
		t.Fatalf("expected 2 keys under a/, got %d", n)
	}
}

func TestUpdateConditionalSemantics(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_ = db.Set([]byte("claim"), nil)

	// Two racing claimers both validate "claim unowned" inside Update. The
	// serialized section must let exactly one through.
	var wg sync.WaitGroup
	winners := 0
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(owner byte) {
			defer wg.Done()
			err := db.Update(ctx, func(b *pebble.Batch) error {
				v, err := db.Get([]byte("claim"))
				if err != nil {
					return err
				}
				if len(v) != 0 {
					return errors.New("already owned")
				}
				return b.Set([]byte("claim"), []byte{owner}, nil)
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(byte(i + 1))
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestUpdateErrorDiscardsBatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	err := db.Update(ctx, func(b *pebble.Batch) error {
		if err := b.Set([]byte("x"), []byte("y"), nil); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if ok, _ := db.Has([]byte("x")); ok {
		t.Fatalf("aborted batch must not be visible")
	}
}
