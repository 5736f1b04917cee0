// Package auditlog keeps an append-only activity trail per survey: every
// submission, assignment, skip, release and verification is recorded with a
// monotonically increasing sequence so admins can replay who did what, when.
package auditlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/canvasshq/canvass/internal/storage/pebble"
)

// Event kinds recorded by the platform.
const (
	EventSubmitted     = "submitted"
	EventAutoRejected  = "auto_rejected"
	EventAssigned      = "assigned"
	EventSkipped       = "skipped"
	EventReleased      = "released"
	EventVerified      = "verified"
	EventTerminated    = "terminated"
	EventAbandoned     = "abandoned"
	EventBatchResolved = "batch_resolved"
)

// Event is one activity record before it is assigned a sequence.
type Event struct {
	Kind       string `json:"kind"`
	ActorID    string `json:"actorId,omitempty"`
	ResponseID string `json:"responseId,omitempty"`
	Detail     string `json:"detail,omitempty"`
	AtMs       int64  `json:"atMs"`
}

// Entry is a stored activity record.
type Entry struct {
	Seq uint64 `json:"seq"`
	Event
}

// Log provides append-only audit operations keyed by survey. A single Log
// serves all surveys; per-survey sequences are loaded lazily from metadata.
type Log struct {
	db *pebblestore.DB

	mu      sync.Mutex
	lastSeq map[string]uint64
}

// New opens the audit log over db.
func New(db *pebblestore.DB) *Log {
	return &Log{db: db, lastSeq: make(map[string]uint64)}
}

// loadSeqLocked returns the last assigned sequence for a survey, reading the
// metadata key on first use. Caller holds mu.
func (l *Log) loadSeqLocked(surveyID string) uint64 {
	if seq, ok := l.lastSeq[surveyID]; ok {
		return seq
	}
	var seq uint64
	if meta, err := l.db.Get(keyMeta(surveyID)); err == nil && len(meta) >= 8 {
		seq = binary.BigEndian.Uint64(meta[:8])
	}
	l.lastSeq[surveyID] = seq
	return seq
}

// Append records the provided events for a survey as a single atomic batch.
// Events with a zero timestamp get the current wall clock. Returns assigned
// sequence numbers.
func (l *Log) Append(ctx context.Context, surveyID string, events ...Event) ([]uint64, error) {
	if len(events) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.loadSeqLocked(surveyID)
	b := l.db.NewBatch()
	defer b.Close()

	seqs := make([]uint64, len(events))
	for i, ev := range events {
		if ev.AtMs <= 0 {
			ev.AtMs = time.Now().UnixMilli()
		}
		seq++
		val, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		if err := b.Set(keyEntry(surveyID, seq), val, nil); err != nil {
			return nil, err
		}
		seqs[i] = seq
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(keyMeta(surveyID), meta[:], nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	l.lastSeq[surveyID] = seq
	return seqs, nil
}

// ReadOptions bound a Read call.
type ReadOptions struct {
	// FromSeq is the first sequence returned (inclusive). Zero means the
	// oldest entry, or the newest when Reverse is set.
	FromSeq uint64
	Limit   int
	Reverse bool
}

// Read returns up to Limit entries for a survey along with the sequence to
// resume from on the next call (zero when the scan is exhausted).
func (l *Log) Read(surveyID string, opts ReadOptions) ([]Entry, uint64, error) {
	low := keyEntry(surveyID, 0)
	hi := keyEntry(surveyID, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()

	entries := make([]Entry, 0, opts.Limit)
	step := iter.Next
	var ok bool
	if opts.Reverse {
		step = iter.Prev
		if opts.FromSeq == 0 {
			ok = iter.Last()
		} else if ok = iter.SeekLT(keyEntry(surveyID, opts.FromSeq+1)); !ok {
			ok = iter.Last()
		}
	} else {
		if opts.FromSeq == 0 {
			ok = iter.First()
		} else {
			ok = iter.SeekGE(keyEntry(surveyID, opts.FromSeq))
		}
	}
	for ; ok; ok = step() {
		if opts.Limit > 0 && len(entries) >= opts.Limit {
			break
		}
		var ev Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			continue
		}
		entries = append(entries, Entry{Seq: seqFromKey(iter.Key()), Event: ev})
	}
	var next uint64
	if iter.Valid() && (opts.Limit <= 0 || len(entries) >= opts.Limit) {
		next = seqFromKey(iter.Key())
	}
	return entries, next, nil
}

// TrimOlderThan deletes entries recorded before cutoffMs, committing deletes
// in batches of up to batchLimit keys. Returns the number deleted.
func (l *Log) TrimOlderThan(ctx context.Context, surveyID string, cutoffMs int64, batchLimit int) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	low := keyEntry(surveyID, 0)
	hi := keyEntry(surveyID, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for ok := iter.First(); ok; {
		b := l.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			var ev Event
			if err := json.Unmarshal(iter.Value(), &ev); err == nil && ev.AtMs >= cutoffMs {
				// Entries are appended in time order; stop at the first keeper.
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			deleted++
			n++
			ok = iter.Next()
		}
		if n == 0 {
			b.Close()
			break
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
	}
	return deleted, nil
}
