package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/jacentio/strata/session"
)

func shardIDs(shards []*Shard) map[string]bool {
	ids := make(map[string]bool, len(shards))
	for _, sh := range shards {
		ids[sh.ID()] = true
	}
	return ids
}

func TestCoordinator_MoveToTrimHorizon(t *testing.T) {
	f := newFakeStream(info("s1", ""), info("s2", "s1"), info("s3", ""))
	c := NewCoordinator(f, "arn:stream", Config{})

	if err := c.MoveTo(context.Background(), TrimHorizon); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	roots := shardIDs(c.Roots())
	if len(roots) != 2 || !roots["s1"] || !roots["s3"] {
		t.Errorf("expected roots s1 and s3, got %v", roots)
	}
	active := shardIDs(c.Active())
	if len(active) != 2 || !active["s1"] || !active["s3"] {
		t.Errorf("expected the roots active, got %v", active)
	}
	if kinds := f.iterKinds["s1"]; len(kinds) != 1 || kinds[0] != session.IteratorTrimHorizon {
		t.Errorf("expected a trim horizon iterator for s1, got %v", kinds)
	}
}

func TestCoordinator_MoveToLatest(t *testing.T) {
	f := newFakeStream(info("s1", ""), info("s2", "s1"), info("s3", ""))
	c := NewCoordinator(f, "arn:stream", Config{})

	if err := c.MoveTo(context.Background(), Latest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only childless shards carry the stream tip.
	active := shardIDs(c.Active())
	if len(active) != 2 || !active["s2"] || !active["s3"] {
		t.Errorf("expected leaves s2 and s3 active, got %v", active)
	}
	if kinds := f.iterKinds["s2"]; len(kinds) != 1 || kinds[0] != session.IteratorLatest {
		t.Errorf("expected a latest iterator for s2, got %v", kinds)
	}
}

func TestCoordinator_NextConsumesAndCheckpoints(t *testing.T) {
	f := newFakeStream(info("s1", ""))
	f.enqueue("s1", session.RecordsOutput{Records: []session.RawRecord{rawRec("100", 1), rawRec("101", 2)}})
	c := NewCoordinator(f, "arn:stream", Config{})
	if err := c.MoveTo(context.Background(), TrimHorizon); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil || rec.SequenceNumber != "100" || rec.ShardID != "s1" {
		t.Fatalf("expected the earliest record from s1, got %+v", rec)
	}

	// Consumption, not buffering, commits the checkpoint.
	sh := c.Active()[0]
	if sh.Sequence() != "100" || sh.Kind() != session.IteratorAfterSequence {
		t.Errorf("expected checkpoint after the consumed record, got %q %q", sh.Kind(), sh.Sequence())
	}

	rec, err = c.Next(context.Background())
	if err != nil || rec == nil || rec.SequenceNumber != "101" {
		t.Fatalf("expected the second record, got %+v, %v", rec, err)
	}
	if sh.Sequence() != "101" {
		t.Errorf("expected the checkpoint to advance with consumption, got %q", sh.Sequence())
	}
}

func TestCoordinator_NextReturnsNilWhenIdle(t *testing.T) {
	f := newFakeStream(info("s1", ""))
	c := NewCoordinator(f, "arn:stream", Config{})
	if err := c.MoveTo(context.Background(), TrimHorizon); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil when no data is available, got %+v", rec)
	}
}

func TestCoordinator_AdvanceShardsBackPressure(t *testing.T) {
	f := newFakeStream(info("s1", ""))
	f.enqueue("s1", session.RecordsOutput{Records: []session.RawRecord{rawRec("100", 1)}})
	f.enqueue("s1", session.RecordsOutput{Records: []session.RawRecord{rawRec("101", 2)}})
	c := NewCoordinator(f, "arn:stream", Config{})
	if err := c.MoveTo(context.Background(), TrimHorizon); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.AdvanceShards(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := f.recordCalls["s1"]

	// The buffer still holds the unconsumed record: no further polling.
	if err := c.AdvanceShards(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.recordCalls["s1"] != calls {
		t.Errorf("expected the second advance to be a no-op, fetches went %d -> %d", calls, f.recordCalls["s1"])
	}
}

func TestCoordinator_ExhaustedShardPromotesChildren(t *testing.T) {
	f := newFakeStream(info("s1", ""), info("s2", "s1"), info("s3", "s1"))
	f.closeAfter["s1"] = true
	c := NewCoordinator(f, "arn:stream", Config{})
	if err := c.MoveTo(context.Background(), TrimHorizon); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.AdvanceShards(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active := shardIDs(c.Active())
	if active["s1"] {
		t.Error("expected the exhausted shard out of the active set")
	}
	if !active["s2"] || !active["s3"] {
		t.Errorf("expected both children promoted, got %v", active)
	}
	roots := shardIDs(c.Roots())
	if roots["s1"] || !roots["s2"] || !roots["s3"] {
		t.Errorf("expected children to replace the exhausted root, got %v", roots)
	}

	// Children always begin at their own start.
	for _, id := range []string{"s2", "s3"} {
		if kinds := f.iterKinds[id]; len(kinds) != 1 || kinds[0] != session.IteratorTrimHorizon {
			t.Errorf("expected %s jumped to trim horizon, got %v", id, kinds)
		}
	}
}

func TestCoordinator_Heartbeat(t *testing.T) {
	f := newFakeStream(info("s1", ""), info("s2", ""))
	f.enqueue("s1", session.RecordsOutput{Records: []session.RawRecord{rawRec("100", 1)}})
	c := NewCoordinator(f, "arn:stream", Config{})
	if err := c.MoveTo(context.Background(), TrimHorizon); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Heartbeat(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One fetch per sequence-less shard, found records buffered.
	if f.recordCalls["s1"] != 1 || f.recordCalls["s2"] != 1 {
		t.Errorf("expected one fetch per shard, got s1=%d s2=%d", f.recordCalls["s1"], f.recordCalls["s2"])
	}

	// s1 now holds a fixed position; another heartbeat leaves it alone.
	if err := c.Heartbeat(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.recordCalls["s1"] != 1 {
		t.Errorf("expected no fetch for a position-fixed shard, got %d", f.recordCalls["s1"])
	}
	if f.recordCalls["s2"] != 2 {
		t.Errorf("expected another fetch for the still-relative shard, got %d", f.recordCalls["s2"])
	}

	rec, err := c.Next(context.Background())
	if err != nil || rec == nil || rec.SequenceNumber != "100" {
		t.Fatalf("expected the heartbeat-buffered record, got %+v, %v", rec, err)
	}
}

func TestCoordinator_RemoveShard(t *testing.T) {
	f := newFakeStream(info("a", ""), info("b", ""), info("c", "a"))
	c := NewCoordinator(f, "arn:stream", Config{})
	if err := c.MoveTo(context.Background(), TrimHorizon); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var a, b *Shard
	for _, sh := range c.Active() {
		switch sh.ID() {
		case "a":
			a = sh
		case "b":
			b = sh
		}
	}
	if _, err := a.LoadChildren(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Buffer a record from each shard, then remove a.
	c.buffer.Push(rawRec("1", 1), a)
	c.buffer.Push(rawRec("2", 2), b)
	c.RemoveShard(a)

	roots := shardIDs(c.Roots())
	if roots["a"] || !roots["b"] || !roots["c"] {
		t.Errorf("expected roots b and c after removal, got %v", roots)
	}
	active := shardIDs(c.Active())
	if active["a"] || !active["c"] {
		t.Errorf("expected the child promoted into the active set, got %v", active)
	}

	// a's buffered record is purged, b's survives.
	if c.buffer.Len() != 1 {
		t.Fatalf("expected 1 surviving buffered record, got %d", c.buffer.Len())
	}
	_, src, _ := c.buffer.Pop()
	if src != b {
		t.Error("expected the surviving record to come from b")
	}
}

func TestCoordinator_TokenWalksForest(t *testing.T) {
	f := newFakeStream(info("s1", ""), info("s2", "s1"))
	f.closeAfter["s1"] = true
	c := NewCoordinator(f, "arn:stream", Config{})
	if err := c.MoveTo(context.Background(), TrimHorizon); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.AdvanceShards(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tok := c.Token()
	if tok.StreamARN != "arn:stream" {
		t.Errorf("expected the stream arn in the token, got %q", tok.StreamARN)
	}
	if len(tok.Active) != 1 || tok.Active[0] != "s2" {
		t.Errorf("expected s2 active in the token, got %v", tok.Active)
	}

	// The exhausted root was replaced by its child, which keeps the
	// parent link for later reconciliation.
	if len(tok.Shards) != 1 {
		t.Fatalf("expected one shard in the token, got %d", len(tok.Shards))
	}
	if tok.Shards[0].ShardID != "s2" || tok.Shards[0].Parent != "s1" {
		t.Errorf("expected s2 with parent s1 recorded, got %+v", tok.Shards[0])
	}
}

func TestCoordinator_MoveToTokenRoundTrip(t *testing.T) {
	f := newFakeStream(info("s1", ""))
	f.enqueue("s1", session.RecordsOutput{Records: []session.RawRecord{rawRec("100", 1)}})
	c := NewCoordinator(f, "arn:stream", Config{})
	if err := c.MoveTo(context.Background(), TrimHorizon); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Next(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encoded, err := c.Token().Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok, err := DecodeToken(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Resume a fresh coordinator from the serialized position.
	resumed := NewCoordinator(f, "arn:stream", Config{})
	if err := resumed.MoveTo(context.Background(), tok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active := resumed.Active()
	if len(active) != 1 || active[0].ID() != "s1" {
		t.Fatalf("expected s1 active after resume, got %v", shardIDs(active))
	}
	if active[0].Sequence() != "100" || active[0].Kind() != session.IteratorAfterSequence {
		t.Errorf("expected the consumed position restored, got %q %q", active[0].Kind(), active[0].Sequence())
	}
}

func TestCoordinator_MoveToTokenPrunesToChildren(t *testing.T) {
	// The token knows a shard the live stream has trimmed; its surviving
	// child takes its place in the active set.
	f := newFakeStream(info("gone-child", "gone"))
	c := NewCoordinator(f, "arn:stream", Config{})

	tok := &Token{
		StreamARN: "arn:stream",
		Active:    []string{"gone"},
		Shards: []ShardToken{
			{ShardID: "gone", IteratorKind: "AFTER_SEQUENCE_NUMBER", SequenceNumber: "5"},
			{ShardID: "gone-child", Parent: "gone"},
		},
	}
	if err := c.MoveTo(context.Background(), tok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active := shardIDs(c.Active())
	if len(active) != 1 || !active["gone-child"] {
		t.Errorf("expected the surviving child active, got %v", active)
	}
}

func TestCoordinator_MoveToTokenUnrecoverable(t *testing.T) {
	f := newFakeStream(info("other", ""))
	c := NewCoordinator(f, "arn:stream", Config{})

	tok := &Token{
		StreamARN: "arn:stream",
		Active:    []string{"gone"},
		Shards:    []ShardToken{{ShardID: "gone"}},
	}
	err := c.MoveTo(context.Background(), tok)
	if !errors.Is(err, session.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken when no token shard survives, got %v", err)
	}
}

func TestCoordinator_MoveToTokenWrongStream(t *testing.T) {
	f := newFakeStream(info("s1", ""))
	c := NewCoordinator(f, "arn:stream", Config{})

	err := c.MoveTo(context.Background(), &Token{StreamARN: "arn:other"})
	if !errors.Is(err, session.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for a foreign token, got %v", err)
	}
}

func TestCoordinator_MoveToTokenExpiredPositionRewinds(t *testing.T) {
	f := newFakeStream(info("s1", ""))
	f.expiredSeqs["s1"] = true
	c := NewCoordinator(f, "arn:stream", Config{})

	tok := &Token{
		StreamARN: "arn:stream",
		Active:    []string{"s1"},
		Shards:    []ShardToken{{ShardID: "s1", IteratorKind: "AT_SEQUENCE_NUMBER", SequenceNumber: "100"}},
	}
	if err := c.MoveTo(context.Background(), tok); err != nil {
		t.Fatalf("expected the trim horizon fallback, got %v", err)
	}

	if kinds := f.iterKinds["s1"]; len(kinds) != 1 || kinds[0] != session.IteratorTrimHorizon {
		t.Errorf("expected a trim horizon iterator after the fallback, got %v", kinds)
	}
}
