package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/strata/internal/attrconv"
	"github.com/jacentio/strata/session"
	"github.com/jacentio/strata/table"
)

// FromLambdaRecord converts a Lambda-delivered stream event record into the
// same Record shape the pull-based coordinator produces, so both delivery
// paths share downstream handling.
func FromLambdaRecord(rec events.DynamoDBEventRecord) Record {
	return Record{
		RawRecord: session.RawRecord{
			EventID:        rec.EventID,
			EventName:      rec.EventName,
			EventVersion:   rec.EventVersion,
			SequenceNumber: rec.Change.SequenceNumber,
			CreatedAt:      rec.Change.ApproximateCreationDateTime.Time,
			Keys:           attrconv.FromLambdaMap(rec.Change.Keys),
			NewImage:       attrconv.FromLambdaMap(rec.Change.NewImage),
			OldImage:       attrconv.FromLambdaMap(rec.Change.OldImage),
		},
	}
}

// LambdaHandler adapts a typed record callback into an AWS Lambda handler
// for DynamoDB stream events. A processing error stops the batch so the
// service retries it.
type LambdaHandler[T any] struct {
	schema  *table.Schema
	logger  *slog.Logger
	process func(context.Context, *TypedRecord[T]) error
}

// NewLambdaHandler builds a handler that decodes each event record per the
// schema's stream view and passes it to process.
func NewLambdaHandler[T any](schema *table.Schema, logger *slog.Logger, process func(context.Context, *TypedRecord[T]) error) *LambdaHandler[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &LambdaHandler[T]{schema: schema, logger: logger, process: process}
}

// Handle processes one Lambda event batch in delivery order.
func (h *LambdaHandler[T]) Handle(ctx context.Context, event events.DynamoDBEvent) error {
	for _, raw := range event.Records {
		rec := FromLambdaRecord(raw)
		typed, err := decodeRecord[T](rec, h.schema.Stream)
		if err != nil {
			h.logger.Error("failed to decode record", "eventID", rec.EventID, "error", err)
			return err
		}
		if err := h.process(ctx, typed); err != nil {
			h.logger.Error("failed to process record", "eventID", rec.EventID, "error", err)
			return err
		}
	}
	return nil
}

// decodeRecord unpacks the attribute maps the view asks for.
func decodeRecord[T any](rec Record, view table.StreamView) (*TypedRecord[T], error) {
	out := &TypedRecord[T]{Record: rec}
	if view.Keys && rec.Keys != nil {
		out.Key = new(T)
		if err := table.DecodeMap(rec.Keys, out.Key); err != nil {
			return nil, fmt.Errorf("decode keys: %w", err)
		}
	}
	if view.NewImage && rec.NewImage != nil {
		out.New = new(T)
		if err := table.DecodeMap(rec.NewImage, out.New); err != nil {
			return nil, fmt.Errorf("decode new image: %w", err)
		}
	}
	if view.OldImage && rec.OldImage != nil {
		out.Old = new(T)
		if err := table.DecodeMap(rec.OldImage, out.Old); err != nil {
			return nil, fmt.Errorf("decode old image: %w", err)
		}
	}
	return out, nil
}
