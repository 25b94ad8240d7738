package stream

import (
	"container/heap"

	"github.com/jacentio/strata/session"
)

// bufferEntry pairs a fetched record with the shard it came from, plus the
// insertion clock tick that makes the heap ordering total.
type bufferEntry struct {
	record session.RawRecord
	shard  *Shard
	clock  uint64
}

// less orders by creation time, then sequence number, then insertion clock.
func (e *bufferEntry) less(o *bufferEntry) bool {
	if !e.record.CreatedAt.Equal(o.record.CreatedAt) {
		return e.record.CreatedAt.Before(o.record.CreatedAt)
	}
	if e.record.SequenceNumber != o.record.SequenceNumber {
		return sequenceLess(e.record.SequenceNumber, o.record.SequenceNumber)
	}
	return e.clock < o.clock
}

// sequenceLess compares two decimal sequence-number strings numerically:
// shorter is smaller, equal lengths compare lexicographically.
func sequenceLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

type entryHeap []*bufferEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(*bufferEntry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// RecordBuffer is a priority queue of fetched-but-unconsumed records,
// ordered by (creation time, sequence number, insertion clock). The clock is
// strictly increasing across the buffer's lifetime, so two records with
// identical timestamps and colliding sequence numbers from different shards
// still have a deterministic order.
type RecordBuffer struct {
	h     entryHeap
	clock uint64
}

// NewRecordBuffer returns an empty buffer.
func NewRecordBuffer() *RecordBuffer {
	return &RecordBuffer{}
}

// Push adds one record.
func (b *RecordBuffer) Push(rec session.RawRecord, shard *Shard) {
	b.clock++
	heap.Push(&b.h, &bufferEntry{record: rec, shard: shard, clock: b.clock})
}

// PushAll adds a batch with a single re-heapify, which is what the
// coordinator wants for its per-advance-cycle refill.
func (b *RecordBuffer) PushAll(recs []session.RawRecord, shard *Shard) {
	if len(recs) == 0 {
		return
	}
	for _, rec := range recs {
		b.clock++
		b.h = append(b.h, &bufferEntry{record: rec, shard: shard, clock: b.clock})
	}
	heap.Init(&b.h)
}

// Pop removes and returns the earliest record and its source shard.
// ok is false when the buffer is empty.
func (b *RecordBuffer) Pop() (rec session.RawRecord, shard *Shard, ok bool) {
	if len(b.h) == 0 {
		return session.RawRecord{}, nil, false
	}
	e := heap.Pop(&b.h).(*bufferEntry)
	return e.record, e.shard, true
}

// Peek returns the earliest record without removing it.
func (b *RecordBuffer) Peek() (rec session.RawRecord, shard *Shard, ok bool) {
	if len(b.h) == 0 {
		return session.RawRecord{}, nil, false
	}
	return b.h[0].record, b.h[0].shard, true
}

// Len reports the number of buffered records.
func (b *RecordBuffer) Len() int { return len(b.h) }

// Clear drops everything.
func (b *RecordBuffer) Clear() {
	b.h = nil
}

// purge drops every record sourced from shard. Linear in buffer size;
// buffers stay small because the coordinator never refills over unconsumed
// records.
func (b *RecordBuffer) purge(shard *Shard) {
	kept := b.h[:0]
	for _, e := range b.h {
		if e.shard != shard {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(b.h); i++ {
		b.h[i] = nil
	}
	b.h = kept
	heap.Init(&b.h)
}
