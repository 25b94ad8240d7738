package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/strata/session"
)

// exhaustedIterator marks a shard whose final iterator returned no
// continuation: the shard is closed and fully read.
const exhaustedIterator = "<exhausted>"

// maxEmptyPolls bounds consecutive empty fetches inside one GetRecords call
// before the shard stops looping and waits for the next call.
const maxEmptyPolls = 5

// Shard is one partition of the change stream. It tracks the live iterator
// handle plus the durable (kind, sequence) position that handle was derived
// from, so an expired handle can always be re-derived.
//
// A shard with no iterator is unstarted; JumpTo starts it. The sequence
// number is set at most once by a raw fetch (from the first record seen) and
// thereafter advances only through consume, which the coordinator calls when
// a record is actually handed to the caller.
type Shard struct {
	sess      session.StreamSession
	streamARN string
	id        string

	parent         *Shard
	children       []*Shard
	childrenLoaded bool

	iterator   string
	kind       session.IteratorKind
	sequence   string
	emptyCount int
}

// NewShard creates an unstarted shard handle.
func NewShard(sess session.StreamSession, streamARN, id string) *Shard {
	return &Shard{sess: sess, streamARN: streamARN, id: id}
}

// ID returns the shard's identifier within its stream.
func (s *Shard) ID() string { return s.id }

// Parent returns the parent shard, if linked.
func (s *Shard) Parent() *Shard { return s.parent }

// Children returns the currently known child shards.
func (s *Shard) Children() []*Shard { return s.children }

// Sequence returns the shard's committed sequence number, empty while the
// shard is still on a relative position.
func (s *Shard) Sequence() string { return s.sequence }

// Kind returns the iterator kind the shard's position is expressed in.
func (s *Shard) Kind() session.IteratorKind { return s.kind }

// Exhausted reports whether the shard is closed and fully read.
func (s *Shard) Exhausted() bool { return s.iterator == exhaustedIterator }

// started reports whether the shard holds any cursor, live or exhausted.
func (s *Shard) started() bool { return s.iterator != "" }

// JumpTo discards the current cursor and requests a fresh one at the given
// position. Returns session.ErrRecordsExpired when sequence has fallen out
// of the stream's retention window; callers fall back to TRIM_HORIZON.
func (s *Shard) JumpTo(ctx context.Context, kind session.IteratorKind, sequence string) error {
	if kind.Relative() {
		sequence = ""
	}
	it, err := s.sess.GetShardIterator(ctx, s.streamARN, s.id, kind, sequence)
	if err != nil {
		return fmt.Errorf("shard %s: %w", s.id, err)
	}
	s.iterator = it
	s.kind = kind
	s.sequence = sequence
	s.emptyCount = 0
	return nil
}

// fetch makes exactly one GetRecords call and applies its bookkeeping: the
// iterator advances (or exhausts), the empty counter moves, and a shard that
// never had a sequence number adopts the first record's.
func (s *Shard) fetch(ctx context.Context) ([]session.RawRecord, error) {
	out, err := s.sess.GetRecords(ctx, s.iterator)
	if errors.Is(err, session.ErrIteratorExpired) {
		// The handle went stale from wall-clock expiry. The durable
		// position survives, so re-derive and retry once.
		if jerr := s.JumpTo(ctx, s.kind, s.sequence); jerr != nil {
			return nil, jerr
		}
		out, err = s.sess.GetRecords(ctx, s.iterator)
	}
	if err != nil {
		return nil, fmt.Errorf("shard %s: %w", s.id, err)
	}

	if out.NextIterator == "" {
		s.iterator = exhaustedIterator
	} else {
		s.iterator = out.NextIterator
	}

	if len(out.Records) == 0 {
		s.emptyCount++
		return nil, nil
	}
	s.emptyCount = 0
	if s.sequence == "" {
		s.sequence = out.Records[0].SequenceNumber
		s.kind = session.IteratorAtSequence
	}
	return out.Records, nil
}

// GetRecords reads from the shard. An exhausted or unstarted shard returns
// nothing. A shard that has already burned its empty-fetch budget makes
// exactly one fetch and returns whatever it finds; otherwise it keeps
// fetching until it gets records or the budget runs out.
func (s *Shard) GetRecords(ctx context.Context) ([]session.RawRecord, error) {
	if !s.started() || s.Exhausted() {
		return nil, nil
	}
	if s.emptyCount >= maxEmptyPolls {
		return s.fetch(ctx)
	}
	for s.emptyCount < maxEmptyPolls {
		recs, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			return recs, nil
		}
		if s.Exhausted() {
			return nil, nil
		}
	}
	return nil, nil
}

// LoadChildren discovers the shard's 0-2 children from the service and
// links them up. Subsequent calls reuse the first result.
func (s *Shard) LoadChildren(ctx context.Context) ([]*Shard, error) {
	if s.childrenLoaded {
		return s.children, nil
	}
	infos, err := s.sess.DescribeStream(ctx, s.streamARN)
	if err != nil {
		return nil, fmt.Errorf("shard %s children: %w", s.id, err)
	}
	for _, info := range infos {
		if info.ParentShardID != s.id {
			continue
		}
		child := NewShard(s.sess, s.streamARN, info.ShardID)
		child.parent = s
		s.children = append(s.children, child)
	}
	s.childrenLoaded = true
	return s.children, nil
}

// adopt wires an already-built child shard. Used when the forest is
// assembled from a single describe call or a token.
func (s *Shard) adopt(child *Shard) {
	child.parent = s
	s.children = append(s.children, child)
	s.childrenLoaded = true
}

// consume commits the checkpoint past seq. Only the coordinator calls this,
// and only once the record at seq has been handed to the caller.
func (s *Shard) consume(seq string) {
	s.sequence = seq
	s.kind = session.IteratorAfterSequence
}

// Equal reports whether o represents the same logical position: same stream
// and shard identity, same iterator handle, same set of child ids.
func (s *Shard) Equal(o *Shard) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.streamARN != o.streamARN || s.id != o.id || s.iterator != o.iterator {
		return false
	}
	if len(s.children) != len(o.children) {
		return false
	}
	ids := make(map[string]struct{}, len(s.children))
	for _, c := range s.children {
		ids[c.id] = struct{}{}
	}
	for _, c := range o.children {
		if _, ok := ids[c.id]; !ok {
			return false
		}
	}
	return true
}
