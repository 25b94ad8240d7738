package table

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/strata/expr"
	"github.com/jacentio/strata/session"
)

// PK is an item primary key.
type PK = map[string]types.AttributeValue

// Item is one raw stored item.
type Item map[string]types.AttributeValue

// Decode unmarshals the item into out via the type engine.
func (i Item) Decode(out any) error {
	return DecodeMap(i, out)
}

// Config holds engine configuration.
type Config struct {
	// Logger receives operation diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine owns the model registry, the change tracker and the renderer, and
// issues operations through the session. One engine serves one logical
// consumer; it is not safe for concurrent use without external locking.
type Engine struct {
	session   session.ItemSession
	registry  *Registry
	tracker   *Tracker
	renderer  *expr.Renderer
	logger    *slog.Logger
	observers []Observer
}

// NewEngine creates an engine over the given session.
func NewEngine(sess session.ItemSession, cfg Config) *Engine {
	cfg.validate()
	return &Engine{
		session:  sess,
		registry: NewRegistry(),
		tracker:  NewTracker(),
		renderer: expr.NewRenderer(Codec{}),
		logger:   cfg.Logger,
	}
}

// Registry returns the engine's schema registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Tracker returns the engine's change tracker.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// Table registers the schema and returns a handle for operating on it.
func (e *Engine) Table(schema *Schema) (*Table, error) {
	if err := e.registry.Register(schema); err != nil {
		return nil, err
	}
	return &Table{engine: e, schema: schema}, nil
}

// Table is the operation surface for one model.
type Table struct {
	engine *Engine
	schema *Schema
}

// Schema returns the table's schema.
func (t *Table) Schema() *Schema { return t.schema }

// Mark records explicit field mutations on obj for later Update and
// atomic-condition building.
func (t *Table) Mark(obj any, fields ...string) {
	t.engine.tracker.Mark(obj, fields...)
}

// key extracts obj's primary key from its encoded form.
func (t *Table) key(item map[string]types.AttributeValue) (PK, error) {
	key := PK{}
	hash, ok := item[t.schema.HashKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingKey, t.schema.HashKey)
	}
	key[t.schema.HashKey] = hash
	if t.schema.RangeKey != "" {
		rng, ok := item[t.schema.RangeKey]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, t.schema.RangeKey)
		}
		key[t.schema.RangeKey] = rng
	}
	return key, nil
}

// conditionRequest assembles the condition/atomic render request shared by
// Save, Update and Delete.
func (t *Table) conditionRequest(obj any, cond *expr.Condition, atomic bool) (expr.Request, error) {
	req := expr.Request{Condition: cond}
	if atomic {
		if obj == nil {
			return expr.Request{}, expr.ErrMissingSubject
		}
		snap, err := t.engine.tracker.Snapshot(obj)
		if err != nil {
			return expr.Request{}, err
		}
		if !snap.IsEmpty() {
			req.Atomic = snap
		}
	}
	return req, nil
}

// SaveOptions configures Save.
type SaveOptions struct {
	// Condition is an explicit precondition for the write.
	Condition *expr.Condition

	// Atomic additionally requires the persisted item to still match the
	// object's last-synchronized snapshot.
	Atomic bool
}

// Save writes the whole object, replacing any stored item.
func (t *Table) Save(ctx context.Context, obj any, opts SaveOptions) error {
	item, err := EncodeMap(obj)
	if err != nil {
		return fmt.Errorf("save encode: %w", err)
	}
	key, err := t.key(item)
	if err != nil {
		return err
	}

	req, err := t.conditionRequest(obj, opts.Condition, opts.Atomic)
	if err != nil {
		return err
	}
	rendered, err := t.engine.renderer.Render(req)
	if err != nil {
		return err
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(t.schema.TableName),
		Item:      item,
	}
	if rendered.Condition != "" {
		in.ConditionExpression = aws.String(rendered.Condition)
		in.ExpressionAttributeNames = rendered.Names
		in.ExpressionAttributeValues = rendered.Values
	}

	if _, err := t.engine.session.PutItem(ctx, in); err != nil {
		return fmt.Errorf("save %s: %w", t.schema.TableName, err)
	}

	if err := t.engine.tracker.Sync(obj, t.schema); err != nil {
		return err
	}
	t.engine.logger.Debug("saved item", "table", t.schema.TableName)
	t.engine.notify(OpSave, t.schema.TableName, key)
	return nil
}

// UpdateOptions configures Update.
type UpdateOptions struct {
	Condition *expr.Condition
	Atomic    bool
}

// Update writes a minimal update expression built from obj's marked
// non-key fields: SET for fields with a current value, REMOVE for fields
// whose value is now absent. A call with nothing marked is a no-op.
func (t *Table) Update(ctx context.Context, obj any, opts UpdateOptions) error {
	item, err := EncodeMap(obj)
	if err != nil {
		return fmt.Errorf("update encode: %w", err)
	}
	key, err := t.key(item)
	if err != nil {
		return err
	}

	upd := expr.NewUpdate()
	for _, field := range t.engine.tracker.Marked(obj) {
		if t.schema.IsKey(field) {
			continue
		}
		if av, ok := item[field]; ok {
			upd.SetEncoded(expr.Name(field), av)
		} else {
			upd.Remove(expr.Name(field))
		}
	}
	if upd.IsZero() {
		return nil
	}

	req, err := t.conditionRequest(obj, opts.Condition, opts.Atomic)
	if err != nil {
		return err
	}
	req.Update = upd
	rendered, err := t.engine.renderer.Render(req)
	if err != nil {
		return err
	}

	in := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.schema.TableName),
		Key:                       key,
		UpdateExpression:          aws.String(rendered.Update),
		ExpressionAttributeNames:  rendered.Names,
		ExpressionAttributeValues: rendered.Values,
	}
	if rendered.Condition != "" {
		in.ConditionExpression = aws.String(rendered.Condition)
	}

	if _, err := t.engine.session.UpdateItem(ctx, in); err != nil {
		return fmt.Errorf("update %s: %w", t.schema.TableName, err)
	}

	if err := t.engine.tracker.Sync(obj, t.schema); err != nil {
		return err
	}
	t.engine.logger.Debug("updated item", "table", t.schema.TableName)
	t.engine.notify(OpUpdate, t.schema.TableName, key)
	return nil
}

// GetOptions configures Get.
type GetOptions struct {
	Consistent bool
}

// Get loads the item keyed by obj's key attributes back into obj,
// returning session.ErrNotFound when no such item exists.
func (t *Table) Get(ctx context.Context, obj any, opts GetOptions) error {
	item, err := EncodeMap(obj)
	if err != nil {
		return fmt.Errorf("get encode: %w", err)
	}
	key, err := t.key(item)
	if err != nil {
		return err
	}

	out, err := t.engine.session.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.schema.TableName),
		Key:            key,
		ConsistentRead: aws.Bool(opts.Consistent),
	})
	if err != nil {
		return fmt.Errorf("get %s: %w", t.schema.TableName, err)
	}
	if out.Item == nil {
		return fmt.Errorf("get %s: %w", t.schema.TableName, session.ErrNotFound)
	}

	if err := DecodeMap(out.Item, obj); err != nil {
		return fmt.Errorf("get decode: %w", err)
	}
	t.engine.tracker.SyncLoaded(obj, t.schema, out.Item)
	t.engine.notify(OpLoad, t.schema.TableName, key)
	return nil
}

// DeleteOptions configures Delete.
type DeleteOptions struct {
	Condition *expr.Condition
	Atomic    bool
}

// Delete removes the stored item and clears obj's tracking state.
func (t *Table) Delete(ctx context.Context, obj any, opts DeleteOptions) error {
	item, err := EncodeMap(obj)
	if err != nil {
		return fmt.Errorf("delete encode: %w", err)
	}
	key, err := t.key(item)
	if err != nil {
		return err
	}

	req, err := t.conditionRequest(obj, opts.Condition, opts.Atomic)
	if err != nil {
		return err
	}
	rendered, err := t.engine.renderer.Render(req)
	if err != nil {
		return err
	}

	in := &dynamodb.DeleteItemInput{
		TableName: aws.String(t.schema.TableName),
		Key:       key,
	}
	if rendered.Condition != "" {
		in.ConditionExpression = aws.String(rendered.Condition)
		in.ExpressionAttributeNames = rendered.Names
		in.ExpressionAttributeValues = rendered.Values
	}

	if _, err := t.engine.session.DeleteItem(ctx, in); err != nil {
		return fmt.Errorf("delete %s: %w", t.schema.TableName, err)
	}

	t.engine.tracker.Forget(obj)
	t.engine.logger.Debug("deleted item", "table", t.schema.TableName)
	t.engine.notify(OpDelete, t.schema.TableName, key)
	return nil
}

// QueryInput defines parameters for a key-condition query.
type QueryInput struct {
	// Key is the key condition (required).
	Key *expr.Condition

	// Filter is an optional post-read filter.
	Filter *expr.Condition

	// Projection limits the returned attributes.
	Projection []expr.Path

	// Index selects a secondary index by name.
	Index string

	// Limit caps the number of evaluated items (0 = service default).
	Limit int32

	// Forward sets sort order; nil means ascending.
	Forward *bool

	// StartToken resumes from a previous page's NextToken.
	StartToken string

	Consistent bool
}

// QueryOutput is one page of query results.
type QueryOutput struct {
	Items        []Item
	Count        int32
	ScannedCount int32

	// NextToken resumes the query; empty when the result set is done.
	NextToken string
}

// Query runs a key-condition query and returns one page.
func (t *Table) Query(ctx context.Context, in QueryInput) (QueryOutput, error) {
	rendered, err := t.engine.renderer.Render(expr.Request{
		Key:        in.Key,
		Filter:     in.Filter,
		Projection: in.Projection,
	})
	if err != nil {
		return QueryOutput{}, err
	}
	if rendered.KeyCondition == "" {
		return QueryOutput{}, fmt.Errorf("%w: query requires a key condition", expr.ErrInvalidCondition)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(t.schema.TableName),
		KeyConditionExpression:    aws.String(rendered.KeyCondition),
		ExpressionAttributeNames:  rendered.Names,
		ExpressionAttributeValues: rendered.Values,
		ScanIndexForward:          in.Forward,
		ConsistentRead:            aws.Bool(in.Consistent),
	}
	if rendered.Filter != "" {
		input.FilterExpression = aws.String(rendered.Filter)
	}
	if rendered.Projection != "" {
		input.ProjectionExpression = aws.String(rendered.Projection)
	}
	if in.Index != "" {
		if _, ok := t.schema.Index(in.Index); !ok {
			return QueryOutput{}, fmt.Errorf("%w: table %s has no index %q", ErrUnknownModel, t.schema.TableName, in.Index)
		}
		input.IndexName = aws.String(in.Index)
		input.ConsistentRead = nil
	}
	if in.Limit > 0 {
		input.Limit = aws.Int32(in.Limit)
	}
	if in.StartToken != "" {
		start, err := decodeKeyToken(in.StartToken)
		if err != nil {
			return QueryOutput{}, err
		}
		input.ExclusiveStartKey = start
	}

	out, err := t.engine.session.Query(ctx, input)
	if err != nil {
		return QueryOutput{}, fmt.Errorf("query %s: %w", t.schema.TableName, err)
	}
	return pageOutput(out.Items, out.Count, out.ScannedCount, out.LastEvaluatedKey)
}

// ScanInput defines parameters for a full-table scan.
type ScanInput struct {
	Filter     *expr.Condition
	Projection []expr.Path
	Limit      int32
	StartToken string
	Consistent bool
}

// Scan reads one page of the table.
func (t *Table) Scan(ctx context.Context, in ScanInput) (QueryOutput, error) {
	rendered, err := t.engine.renderer.Render(expr.Request{
		Filter:     in.Filter,
		Projection: in.Projection,
	})
	if err != nil {
		return QueryOutput{}, err
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(t.schema.TableName),
		ExpressionAttributeNames:  rendered.Names,
		ExpressionAttributeValues: rendered.Values,
		ConsistentRead:            aws.Bool(in.Consistent),
	}
	if rendered.Filter != "" {
		input.FilterExpression = aws.String(rendered.Filter)
	}
	if rendered.Projection != "" {
		input.ProjectionExpression = aws.String(rendered.Projection)
	}
	if in.Limit > 0 {
		input.Limit = aws.Int32(in.Limit)
	}
	if in.StartToken != "" {
		start, err := decodeKeyToken(in.StartToken)
		if err != nil {
			return QueryOutput{}, err
		}
		input.ExclusiveStartKey = start
	}

	out, err := t.engine.session.Scan(ctx, input)
	if err != nil {
		return QueryOutput{}, fmt.Errorf("scan %s: %w", t.schema.TableName, err)
	}
	return pageOutput(out.Items, out.Count, out.ScannedCount, out.LastEvaluatedKey)
}

// batchGetChunk is the service's per-call key limit.
const batchGetChunk = 100

// BatchGet fetches many items by key, re-submitting unprocessed keys until
// the service has answered for all of them.
func (t *Table) BatchGet(ctx context.Context, keys []PK) ([]Item, error) {
	var items []Item
	pending := append([]PK{}, keys...)

	for len(pending) > 0 {
		n := len(pending)
		if n > batchGetChunk {
			n = batchGetChunk
		}
		chunk := make([]map[string]types.AttributeValue, n)
		for i := 0; i < n; i++ {
			chunk[i] = pending[i]
		}
		pending = pending[n:]

		out, err := t.engine.session.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				t.schema.TableName: {Keys: chunk},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("batch get %s: %w", t.schema.TableName, err)
		}

		for _, raw := range out.Responses[t.schema.TableName] {
			items = append(items, Item(raw))
		}
		if unprocessed, ok := out.UnprocessedKeys[t.schema.TableName]; ok {
			for _, key := range unprocessed.Keys {
				pending = append(pending, key)
			}
		}
	}

	return items, nil
}

func pageOutput(raw []map[string]types.AttributeValue, count, scanned int32, lastKey map[string]types.AttributeValue) (QueryOutput, error) {
	out := QueryOutput{Count: count, ScannedCount: scanned}
	for _, item := range raw {
		out.Items = append(out.Items, Item(item))
	}
	if lastKey != nil {
		token, err := encodeKeyToken(lastKey)
		if err != nil {
			return QueryOutput{}, err
		}
		out.NextToken = token
	}
	return out, nil
}

// Pagination tokens are the service's LastEvaluatedKey, JSON-encoded and
// base64-wrapped so callers can treat them as opaque strings.

func encodeKeyToken(key map[string]types.AttributeValue) (string, error) {
	plain := make(map[string]any, len(key))
	for k, av := range key {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			plain[k] = map[string]string{"S": v.Value}
		case *types.AttributeValueMemberN:
			plain[k] = map[string]string{"N": v.Value}
		case *types.AttributeValueMemberB:
			plain[k] = map[string][]byte{"B": v.Value}
		default:
			return "", fmt.Errorf("strata: unsupported key attribute type %T", av)
		}
	}
	b, err := json.Marshal(plain)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeKeyToken(token string) (map[string]types.AttributeValue, error) {
	b, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("strata: malformed page token: %w", err)
	}
	var plain map[string]map[string]json.RawMessage
	if err := json.Unmarshal(b, &plain); err != nil {
		return nil, fmt.Errorf("strata: malformed page token: %w", err)
	}
	key := make(map[string]types.AttributeValue, len(plain))
	for k, tagged := range plain {
		for tag, rawVal := range tagged {
			switch tag {
			case "S":
				var s string
				if err := json.Unmarshal(rawVal, &s); err != nil {
					return nil, fmt.Errorf("strata: malformed page token: %w", err)
				}
				key[k] = &types.AttributeValueMemberS{Value: s}
			case "N":
				var s string
				if err := json.Unmarshal(rawVal, &s); err != nil {
					return nil, fmt.Errorf("strata: malformed page token: %w", err)
				}
				key[k] = &types.AttributeValueMemberN{Value: s}
			case "B":
				var bs []byte
				if err := json.Unmarshal(rawVal, &bs); err != nil {
					return nil, fmt.Errorf("strata: malformed page token: %w", err)
				}
				key[k] = &types.AttributeValueMemberB{Value: bs}
			default:
				return nil, fmt.Errorf("strata: malformed page token: unknown tag %q", tag)
			}
		}
	}
	return key, nil
}
