package auditlog

import (
	"context"
	"fmt"
	"testing"

	pebblestore "github.com/canvasshq/canvass/internal/storage/pebble"
)

const baseMs = int64(1_700_000_000_000)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestAppendAssignsSequential(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	seqs, err := l.Append(ctx, "svy-1",
		Event{Kind: EventSubmitted, ResponseID: "r-1", AtMs: baseMs},
		Event{Kind: EventAssigned, ActorID: "agent-1", ResponseID: "r-1", AtMs: baseMs + 10},
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Fatalf("want seqs [1 2], got %v", seqs)
	}

	// Surveys sequence independently.
	seqs, err = l.Append(ctx, "svy-2", Event{Kind: EventSubmitted, ResponseID: "r-9", AtMs: baseMs})
	if err != nil {
		t.Fatalf("append svy-2: %v", err)
	}
	if seqs[0] != 1 {
		t.Fatalf("want svy-2 to start at 1, got %d", seqs[0])
	}
}

func TestSequenceSurvivesReload(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	if _, err := l.Append(ctx, "svy-1", Event{Kind: EventSubmitted, ResponseID: "r-1", AtMs: baseMs}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A fresh Log over the same db resumes from stored metadata.
	fresh := New(l.db)
	seqs, err := fresh.Append(ctx, "svy-1", Event{Kind: EventVerified, ResponseID: "r-1", AtMs: baseMs + 1})
	if err != nil {
		t.Fatalf("append after reload: %v", err)
	}
	if seqs[0] != 2 {
		t.Fatalf("want seq 2 after reload, got %d", seqs[0])
	}
}

func TestReadForwardAndReverse(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ev := Event{Kind: EventSubmitted, ResponseID: fmt.Sprintf("r-%d", i), AtMs: baseMs + int64(i)}
		if _, err := l.Append(ctx, "svy-1", ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, next, err := l.Read("svy-1", ReadOptions{Limit: 3})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 || entries[0].Seq != 1 || entries[2].Seq != 3 {
		t.Fatalf("unexpected forward page: %+v", entries)
	}
	if next != 4 {
		t.Fatalf("want resume seq 4, got %d", next)
	}

	entries, next, err = l.Read("svy-1", ReadOptions{FromSeq: next, Limit: 10})
	if err != nil {
		t.Fatalf("read page 2: %v", err)
	}
	if len(entries) != 2 || entries[0].Seq != 4 || entries[1].ResponseID != "r-4" {
		t.Fatalf("unexpected second page: %+v", entries)
	}
	if next != 0 {
		t.Fatalf("want exhausted scan, got resume %d", next)
	}

	entries, _, err = l.Read("svy-1", ReadOptions{Limit: 2, Reverse: true})
	if err != nil {
		t.Fatalf("reverse read: %v", err)
	}
	if len(entries) != 2 || entries[0].Seq != 5 || entries[1].Seq != 4 {
		t.Fatalf("unexpected reverse page: %+v", entries)
	}
}

func TestReadEmptySurvey(t *testing.T) {
	l := newTestLog(t)
	entries, next, err := l.Read("svy-none", ReadOptions{Limit: 10})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 0 || next != 0 {
		t.Fatalf("want empty result, got %d entries resume %d", len(entries), next)
	}
}

func TestTrimOlderThan(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		ev := Event{Kind: EventSubmitted, ResponseID: fmt.Sprintf("r-%d", i), AtMs: baseMs + int64(i)*1000}
		if _, err := l.Append(ctx, "svy-1", ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	deleted, err := l.TrimOlderThan(ctx, "svy-1", baseMs+3000, 2)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("want 3 deleted, got %d", deleted)
	}

	entries, _, err := l.Read("svy-1", ReadOptions{Limit: 10})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 || entries[0].Seq != 4 {
		t.Fatalf("unexpected survivors: %+v", entries)
	}

	// Sequence keeps advancing past trimmed history.
	seqs, err := l.Append(ctx, "svy-1", Event{Kind: EventSubmitted, ResponseID: "r-6", AtMs: baseMs + 9000})
	if err != nil {
		t.Fatalf("append after trim: %v", err)
	}
	if seqs[0] != 7 {
		t.Fatalf("want seq 7 after trim, got %d", seqs[0])
	}
}
