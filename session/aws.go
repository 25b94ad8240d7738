package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamtypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/jacentio/strata/internal/attrconv"
)

// Config holds retry configuration for the AWS session.
type Config struct {
	// MaxRetries is the number of retries for throttled calls.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the first retry delay. Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay. Default: 2s
	MaxBackoff time.Duration

	// Logger receives retry diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

func (c *Config) validate() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// dynamoAPI is the slice of the DynamoDB client the session uses.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// streamsAPI is the slice of the DynamoDB Streams client the session uses.
type streamsAPI interface {
	DescribeStream(ctx context.Context, in *dynamodbstreams.DescribeStreamInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error)
	GetShardIterator(ctx context.Context, in *dynamodbstreams.GetShardIteratorInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error)
	GetRecords(ctx context.Context, in *dynamodbstreams.GetRecordsInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error)
}

// AWS implements Session over the v2 SDK clients. Throttled calls retry
// with exponential backoff; conditional failures and the distinguished
// stream errors are mapped to sentinels and never retried.
type AWS struct {
	db      dynamoAPI
	streams streamsAPI
	cfg     Config
}

// NewAWS wraps existing SDK clients.
func NewAWS(db *dynamodb.Client, streams *dynamodbstreams.Client, cfg Config) *AWS {
	cfg.validate()
	return &AWS{db: db, streams: streams, cfg: cfg}
}

// NewAWSFromConfig builds clients from the ambient AWS configuration.
func NewAWSFromConfig(ctx context.Context, cfg Config) (*AWS, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewAWS(dynamodb.NewFromConfig(awsCfg), dynamodbstreams.NewFromConfig(awsCfg), cfg), nil
}

// retry runs fn, retrying only throttling errors.
func (s *AWS) retry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxInterval = s.cfg.MaxBackoff

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.MaxRetries)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isThrottle(err) {
			s.cfg.Logger.Debug("throttled, backing off", "op", op)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func isThrottle(err error) bool {
	var provisioned *dbtypes.ProvisionedThroughputExceededException
	var limited *dbtypes.LimitExceededException
	var streamLimited *streamtypes.LimitExceededException
	return errors.As(err, &provisioned) || errors.As(err, &limited) || errors.As(err, &streamLimited)
}

// classifyItem maps item-level service errors to sentinels.
func classifyItem(op string, err error) error {
	if err == nil {
		return nil
	}
	var cond *dbtypes.ConditionalCheckFailedException
	if errors.As(err, &cond) {
		return fmt.Errorf("%s: %w", op, ErrConditionFailed)
	}
	var missing *dbtypes.ResourceNotFoundException
	if errors.As(err, &missing) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// classifyStream maps stream-level service errors to sentinels.
func classifyStream(op string, err error) error {
	if err == nil {
		return nil
	}
	var trimmed *streamtypes.TrimmedDataAccessException
	if errors.As(err, &trimmed) {
		return fmt.Errorf("%s: %w", op, ErrRecordsExpired)
	}
	var expired *streamtypes.ExpiredIteratorException
	if errors.As(err, &expired) {
		return fmt.Errorf("%s: %w", op, ErrIteratorExpired)
	}
	var missing *streamtypes.ResourceNotFoundException
	if errors.As(err, &missing) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *AWS) GetItem(ctx context.Context, in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	var out *dynamodb.GetItemOutput
	err := s.retry(ctx, "get item", func() (err error) {
		out, err = s.db.GetItem(ctx, in)
		return err
	})
	return out, classifyItem("get item", err)
}

func (s *AWS) PutItem(ctx context.Context, in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	var out *dynamodb.PutItemOutput
	err := s.retry(ctx, "put item", func() (err error) {
		out, err = s.db.PutItem(ctx, in)
		return err
	})
	return out, classifyItem("put item", err)
}

func (s *AWS) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
	var out *dynamodb.UpdateItemOutput
	err := s.retry(ctx, "update item", func() (err error) {
		out, err = s.db.UpdateItem(ctx, in)
		return err
	})
	return out, classifyItem("update item", err)
}

func (s *AWS) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
	var out *dynamodb.DeleteItemOutput
	err := s.retry(ctx, "delete item", func() (err error) {
		out, err = s.db.DeleteItem(ctx, in)
		return err
	})
	return out, classifyItem("delete item", err)
}

func (s *AWS) Query(ctx context.Context, in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
	var out *dynamodb.QueryOutput
	err := s.retry(ctx, "query", func() (err error) {
		out, err = s.db.Query(ctx, in)
		return err
	})
	return out, classifyItem("query", err)
}

func (s *AWS) Scan(ctx context.Context, in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
	var out *dynamodb.ScanOutput
	err := s.retry(ctx, "scan", func() (err error) {
		out, err = s.db.Scan(ctx, in)
		return err
	})
	return out, classifyItem("scan", err)
}

func (s *AWS) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
	var out *dynamodb.BatchGetItemOutput
	err := s.retry(ctx, "batch get", func() (err error) {
		out, err = s.db.BatchGetItem(ctx, in)
		return err
	})
	return out, classifyItem("batch get", err)
}

func (s *AWS) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
	var out *dynamodb.CreateTableOutput
	err := s.retry(ctx, "create table", func() (err error) {
		out, err = s.db.CreateTable(ctx, in)
		return err
	})
	return out, classifyItem("create table", err)
}

func (s *AWS) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	var out *dynamodb.DescribeTableOutput
	err := s.retry(ctx, "describe table", func() (err error) {
		out, err = s.db.DescribeTable(ctx, in)
		return err
	})
	return out, classifyItem("describe table", err)
}

// DescribeStream lists every shard of the stream, following the paginated
// shard listing to the end.
func (s *AWS) DescribeStream(ctx context.Context, streamARN string) ([]ShardInfo, error) {
	var shards []ShardInfo
	var startAfter *string

	for {
		var out *dynamodbstreams.DescribeStreamOutput
		err := s.retry(ctx, "describe stream", func() (err error) {
			out, err = s.streams.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{
				StreamArn:             aws.String(streamARN),
				ExclusiveStartShardId: startAfter,
			})
			return err
		})
		if err != nil {
			return nil, classifyStream("describe stream", err)
		}
		desc := out.StreamDescription
		if desc == nil {
			break
		}
		for _, sh := range desc.Shards {
			info := ShardInfo{ShardID: aws.ToString(sh.ShardId), ParentShardID: aws.ToString(sh.ParentShardId)}
			if sh.SequenceNumberRange != nil {
				info.StartingSequence = aws.ToString(sh.SequenceNumberRange.StartingSequenceNumber)
				info.EndingSequence = aws.ToString(sh.SequenceNumberRange.EndingSequenceNumber)
			}
			shards = append(shards, info)
		}
		if desc.LastEvaluatedShardId == nil {
			break
		}
		startAfter = desc.LastEvaluatedShardId
	}

	return shards, nil
}

func (s *AWS) GetShardIterator(ctx context.Context, streamARN, shardID string, kind IteratorKind, sequence string) (string, error) {
	in := &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(streamARN),
		ShardId:           aws.String(shardID),
		ShardIteratorType: streamtypes.ShardIteratorType(kind),
	}
	if !kind.Relative() {
		in.SequenceNumber = aws.String(sequence)
	}

	var out *dynamodbstreams.GetShardIteratorOutput
	err := s.retry(ctx, "get shard iterator", func() (err error) {
		out, err = s.streams.GetShardIterator(ctx, in)
		return err
	})
	if err != nil {
		return "", classifyStream("get shard iterator", err)
	}
	return aws.ToString(out.ShardIterator), nil
}

func (s *AWS) GetRecords(ctx context.Context, iterator string) (RecordsOutput, error) {
	var out *dynamodbstreams.GetRecordsOutput
	err := s.retry(ctx, "get records", func() (err error) {
		out, err = s.streams.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{
			ShardIterator: aws.String(iterator),
		})
		return err
	})
	if err != nil {
		return RecordsOutput{}, classifyStream("get records", err)
	}

	result := RecordsOutput{NextIterator: aws.ToString(out.NextShardIterator)}
	for _, rec := range out.Records {
		raw := RawRecord{
			EventID:      aws.ToString(rec.EventID),
			EventName:    string(rec.EventName),
			EventVersion: aws.ToString(rec.EventVersion),
		}
		if rec.Dynamodb != nil {
			raw.SequenceNumber = aws.ToString(rec.Dynamodb.SequenceNumber)
			if rec.Dynamodb.ApproximateCreationDateTime != nil {
				raw.CreatedAt = *rec.Dynamodb.ApproximateCreationDateTime
			}
			raw.Keys = attrconv.FromStreamsMap(rec.Dynamodb.Keys)
			raw.NewImage = attrconv.FromStreamsMap(rec.Dynamodb.NewImage)
			raw.OldImage = attrconv.FromStreamsMap(rec.Dynamodb.OldImage)
		}
		result.Records = append(result.Records, raw)
	}
	return result, nil
}
