package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jacentio/strata/session"
)

// Position is where a coordinator should start or resume reading. The fixed
// positions are [TrimHorizon] and [Latest]; a [*Token] resumes a previously
// serialized position.
type Position interface {
	position()
}

type fixedPosition string

func (fixedPosition) position() {}

// TrimHorizon starts at the oldest retained record of every root shard.
var TrimHorizon Position = fixedPosition("trim_horizon")

// Latest starts at the tip of every currently open leaf shard.
var Latest Position = fixedPosition("latest")

// Config holds coordinator configuration.
type Config struct {
	// Logger receives polling diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Record is one consumed change-log entry tagged with its source shard.
type Record struct {
	session.RawRecord
	ShardID string
}

// Coordinator drives a shard forest for one stream: it polls active shards,
// merges their records into time order through a RecordBuffer, promotes
// children when a shard closes, and serializes its whole position as a
// Token. It is pull-based and never sleeps; the caller's polling loop is the
// only scheduler. One coordinator belongs to one logical consumer.
type Coordinator struct {
	sess      session.StreamSession
	streamARN string
	logger    *slog.Logger

	roots  []*Shard
	active []*Shard
	buffer *RecordBuffer
}

// NewCoordinator creates a coordinator for the stream. It holds no position
// until MoveTo is called.
func NewCoordinator(sess session.StreamSession, streamARN string, cfg Config) *Coordinator {
	cfg.validate()
	return &Coordinator{
		sess:      sess,
		streamARN: streamARN,
		logger:    cfg.Logger,
		buffer:    NewRecordBuffer(),
	}
}

// Roots returns the current root shards.
func (c *Coordinator) Roots() []*Shard { return c.roots }

// Active returns the shards currently being polled.
func (c *Coordinator) Active() []*Shard { return c.active }

// forest builds the full shard tree from one describe call and returns the
// roots plus an id lookup.
func (c *Coordinator) forest(ctx context.Context) ([]*Shard, map[string]*Shard, error) {
	infos, err := c.sess.DescribeStream(ctx, c.streamARN)
	if err != nil {
		return nil, nil, fmt.Errorf("describe %s: %w", c.streamARN, err)
	}
	byID := make(map[string]*Shard, len(infos))
	for _, info := range infos {
		byID[info.ShardID] = NewShard(c.sess, c.streamARN, info.ShardID)
	}
	var roots []*Shard
	for _, info := range infos {
		sh := byID[info.ShardID]
		parent, ok := byID[info.ParentShardID]
		if info.ParentShardID == "" || !ok {
			// Parent already trimmed away: this shard is a root now.
			roots = append(roots, sh)
			continue
		}
		parent.adopt(sh)
	}
	return roots, byID, nil
}

// MoveTo positions the coordinator. TrimHorizon and Latest rebuild the
// forest from a fresh describe call; a Token rebuilds it from the token and
// intersects against the live stream, pruning shards that have fallen out
// of retention (falling through to their children where possible). The
// buffer is cleared either way. Returns session.ErrInvalidToken when none
// of the token's shards survive the intersection.
func (c *Coordinator) MoveTo(ctx context.Context, pos Position) error {
	switch p := pos.(type) {
	case fixedPosition:
		return c.moveToFixed(ctx, p)
	case *Token:
		return c.moveToToken(ctx, p)
	default:
		return fmt.Errorf("%w: unsupported position %T", session.ErrInvalidToken, pos)
	}
}

func (c *Coordinator) moveToFixed(ctx context.Context, pos fixedPosition) error {
	roots, byID, err := c.forest(ctx)
	if err != nil {
		return err
	}
	c.roots = roots
	c.buffer.Clear()

	var active []*Shard
	var kind session.IteratorKind
	if pos == fixedPosition("latest") {
		// Only open leaves carry the tip of the stream.
		kind = session.IteratorLatest
		for _, sh := range byID {
			if len(sh.children) == 0 {
				active = append(active, sh)
			}
		}
	} else {
		kind = session.IteratorTrimHorizon
		active = append(active, roots...)
	}

	for _, sh := range active {
		if err := sh.JumpTo(ctx, kind, ""); err != nil {
			return err
		}
	}
	c.active = active
	c.logger.Debug("stream positioned", "stream", c.streamARN, "position", string(pos), "active", len(active))
	return nil
}

func (c *Coordinator) moveToToken(ctx context.Context, tok *Token) error {
	if tok.StreamARN != c.streamARN {
		return fmt.Errorf("%w: token is for stream %s", session.ErrInvalidToken, tok.StreamARN)
	}

	_, live, err := c.forest(ctx)
	if err != nil {
		return err
	}

	// Rebuild the token's forest, keeping only shards the live stream
	// still knows about.
	byID := make(map[string]*Shard, len(tok.Shards))
	positions := make(map[string]ShardToken, len(tok.Shards))
	for _, st := range tok.Shards {
		if _, ok := live[st.ShardID]; !ok {
			continue
		}
		byID[st.ShardID] = NewShard(c.sess, c.streamARN, st.ShardID)
		positions[st.ShardID] = st
	}
	var roots []*Shard
	for id, sh := range byID {
		parent, ok := byID[positions[id].Parent]
		if !ok {
			roots = append(roots, sh)
			continue
		}
		parent.adopt(sh)
	}
	if len(roots) == 0 {
		return fmt.Errorf("%w: no shard from the token survives on stream %s", session.ErrInvalidToken, c.streamARN)
	}

	// The active set is the token's, with pruned shards replaced by their
	// surviving descendants per the token's own forest.
	childrenOf := make(map[string][]string)
	for _, st := range tok.Shards {
		if st.Parent != "" {
			childrenOf[st.Parent] = append(childrenOf[st.Parent], st.ShardID)
		}
	}
	activeIDs := make(map[string]struct{})
	var expand func(id string)
	expand = func(id string) {
		if _, ok := byID[id]; ok {
			activeIDs[id] = struct{}{}
			return
		}
		for _, child := range childrenOf[id] {
			expand(child)
		}
	}
	for _, id := range tok.Active {
		expand(id)
	}

	var active []*Shard
	for id := range activeIDs {
		sh := byID[id]
		st := positions[id]
		kind := session.IteratorKind(st.IteratorKind)
		if kind == "" {
			kind = session.IteratorTrimHorizon
		}
		err := sh.JumpTo(ctx, kind, st.SequenceNumber)
		if errors.Is(err, session.ErrRecordsExpired) {
			// The recorded position aged out; the oldest retained
			// record is the best remaining start.
			c.logger.Warn("token position expired, rewinding shard", "shard", id)
			err = sh.JumpTo(ctx, session.IteratorTrimHorizon, "")
		}
		if err != nil {
			return err
		}
		active = append(active, sh)
	}

	c.roots = roots
	c.active = active
	c.buffer.Clear()
	c.logger.Debug("stream resumed from token", "stream", c.streamARN, "active", len(active))
	return nil
}

// AdvanceShards polls every active shard once and buffers what it finds.
// It is a no-op while unconsumed records remain buffered: refilling over
// them would grow memory without bound and could interleave out of order.
// Shards that come back exhausted are replaced by their children, each
// started at its own trim horizon.
func (c *Coordinator) AdvanceShards(ctx context.Context) error {
	if c.buffer.Len() > 0 {
		return nil
	}
	for _, sh := range c.active {
		recs, err := sh.GetRecords(ctx)
		if err != nil {
			return err
		}
		c.buffer.PushAll(recs, sh)
	}
	return c.retireExhausted(ctx)
}

// Heartbeat makes one fetch on every active shard still sitting on a
// relative position. A relative iterator that is never read expires from
// disuse; one periodic fetch pins it to a concrete sequence number.
func (c *Coordinator) Heartbeat(ctx context.Context) error {
	for _, sh := range c.active {
		if sh.Sequence() != "" || !sh.started() || sh.Exhausted() {
			continue
		}
		recs, err := sh.fetch(ctx)
		if err != nil {
			return err
		}
		c.buffer.PushAll(recs, sh)
	}
	return c.retireExhausted(ctx)
}

// retireExhausted promotes the children of every exhausted active shard
// into its place, in both active and roots.
func (c *Coordinator) retireExhausted(ctx context.Context) error {
	for _, sh := range append([]*Shard(nil), c.active...) {
		if !sh.Exhausted() {
			continue
		}
		children, err := sh.LoadChildren(ctx)
		if err != nil {
			return err
		}
		for _, child := range children {
			if !child.started() {
				if err := child.JumpTo(ctx, session.IteratorTrimHorizon, ""); err != nil {
					return err
				}
			}
		}
		c.active = replaceShard(c.active, sh, children)
		c.roots = replaceShard(c.roots, sh, children)
		c.logger.Debug("shard exhausted", "shard", sh.ID(), "children", len(children))
	}
	return nil
}

// replaceShard swaps sh for its replacements in set, preserving order.
// A set not containing sh is returned unchanged.
func replaceShard(set []*Shard, sh *Shard, replacements []*Shard) []*Shard {
	for i, cur := range set {
		if cur != sh {
			continue
		}
		out := make([]*Shard, 0, len(set)-1+len(replacements))
		out = append(out, set[:i]...)
		out = append(out, replacements...)
		out = append(out, set[i+1:]...)
		return out
	}
	return set
}

// Next returns the earliest available record, polling once if the buffer is
// empty. It returns (nil, nil) when no data is available right now; it
// never blocks waiting for records. Handing a record to the caller is what
// commits the source shard's checkpoint past it.
func (c *Coordinator) Next(ctx context.Context) (*Record, error) {
	if c.buffer.Len() == 0 {
		if err := c.AdvanceShards(ctx); err != nil {
			return nil, err
		}
	}
	rec, sh, ok := c.buffer.Pop()
	if !ok {
		return nil, nil
	}
	sh.consume(rec.SequenceNumber)
	return &Record{RawRecord: rec, ShardID: sh.ID()}, nil
}

// RemoveShard drops sh from the forest, promoting its known children into
// whichever of roots/active it occupied, and purges its buffered records.
func (c *Coordinator) RemoveShard(sh *Shard) {
	c.active = replaceShard(c.active, sh, sh.Children())
	c.roots = replaceShard(c.roots, sh, sh.Children())
	c.buffer.purge(sh)
}

// Token serializes the coordinator's position by walking every root's full
// descendant tree.
func (c *Coordinator) Token() *Token {
	tok := &Token{StreamARN: c.streamARN}
	for _, sh := range c.active {
		tok.Active = append(tok.Active, sh.ID())
	}
	var walk func(sh *Shard)
	walk = func(sh *Shard) {
		st := ShardToken{ShardID: sh.ID(), SequenceNumber: sh.Sequence()}
		if sh.Kind() != "" {
			st.IteratorKind = string(sh.Kind())
		}
		if sh.Parent() != nil {
			st.Parent = sh.Parent().ID()
		}
		tok.Shards = append(tok.Shards, st)
		for _, child := range sh.Children() {
			walk(child)
		}
	}
	for _, root := range c.roots {
		walk(root)
	}
	return tok
}
