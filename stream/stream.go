package stream

import (
	"context"

	"github.com/jacentio/strata/table"
)

// TypedRecord is a consumed record with its attribute maps decoded into the
// model type. Key/New/Old are nil when the model's stream view omits them
// or the record simply doesn't carry them.
type TypedRecord[T any] struct {
	Record
	Key *T
	New *T
	Old *T
}

// Stream reads a model's change stream in order. It wraps a Coordinator and
// decodes each record's attribute maps through the type engine, honoring
// the schema's stream view.
type Stream[T any] struct {
	coord *Coordinator
	view  table.StreamView
}

// NewStream wraps coord for the model described by schema.
func NewStream[T any](coord *Coordinator, schema *table.Schema) *Stream[T] {
	return &Stream[T]{coord: coord, view: schema.Stream}
}

// Next returns the next record in stream order, or (nil, nil) when nothing
// is available right now.
func (s *Stream[T]) Next(ctx context.Context) (*TypedRecord[T], error) {
	rec, err := s.coord.Next(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return decodeRecord[T](*rec, s.view)
}

// Heartbeat pins idle relative iterators; see Coordinator.Heartbeat.
func (s *Stream[T]) Heartbeat(ctx context.Context) error {
	return s.coord.Heartbeat(ctx)
}

// MoveTo positions the stream; see Coordinator.MoveTo.
func (s *Stream[T]) MoveTo(ctx context.Context, pos Position) error {
	return s.coord.MoveTo(ctx, pos)
}

// Token serializes the stream's position.
func (s *Stream[T]) Token() *Token {
	return s.coord.Token()
}
