// Package session defines the network collaborator interfaces the mapper
// and stream coordinator consume, the error taxonomy they surface, and an
// AWS SDK v2 implementation with retry/backoff.
package session

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ItemSession is the item-level surface of the database service. The AWS
// implementation maps service errors to this package's sentinels before
// returning, so callers discriminate with errors.Is rather than SDK types.
type ItemSession interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error)
}

// IteratorKind selects where in a shard a new iterator starts.
type IteratorKind string

const (
	IteratorTrimHorizon   IteratorKind = "TRIM_HORIZON"
	IteratorLatest        IteratorKind = "LATEST"
	IteratorAtSequence    IteratorKind = "AT_SEQUENCE_NUMBER"
	IteratorAfterSequence IteratorKind = "AFTER_SEQUENCE_NUMBER"
)

// Relative reports whether the kind names a position without a fixed
// sequence number.
func (k IteratorKind) Relative() bool {
	return k == IteratorTrimHorizon || k == IteratorLatest
}

// ShardInfo describes one shard of a stream as reported by the service.
type ShardInfo struct {
	ShardID          string
	ParentShardID    string
	StartingSequence string
	EndingSequence   string
}

// RawRecord is one change-log entry with its attribute maps already in the
// item wire-type space. Keys/NewImage/OldImage may be nil depending on the
// stream's view type.
type RawRecord struct {
	EventID        string
	EventName      string
	EventVersion   string
	SequenceNumber string
	CreatedAt      time.Time
	Keys           map[string]types.AttributeValue
	NewImage       map[string]types.AttributeValue
	OldImage       map[string]types.AttributeValue
}

// RecordsOutput is the result of one GetRecords call. An empty NextIterator
// means the shard is closed and fully consumed.
type RecordsOutput struct {
	Records      []RawRecord
	NextIterator string
}

// StreamSession is the change-stream surface of the database service.
type StreamSession interface {
	// DescribeStream returns every shard of the stream, transparently
	// following pagination.
	DescribeStream(ctx context.Context, streamARN string) ([]ShardInfo, error)

	// GetShardIterator requests a new cursor. sequence is ignored for
	// relative kinds. Returns ErrRecordsExpired when the requested
	// position has fallen out of retention.
	GetShardIterator(ctx context.Context, streamARN, shardID string, kind IteratorKind, sequence string) (string, error)

	// GetRecords reads from a cursor. Returns ErrIteratorExpired when the
	// cursor handle is stale and ErrRecordsExpired when its position has
	// been trimmed.
	GetRecords(ctx context.Context, iterator string) (RecordsOutput, error)
}

// Session is the full collaborator surface.
type Session interface {
	ItemSession
	StreamSession
}
