// Package stream reads DynamoDB change streams in record order.
//
// A [Coordinator] owns the shard forest for one stream: [Shard] tracks one
// partition's cursor state, and a [RecordBuffer] merges fetched records
// into (creation time, sequence number) order before they are handed out.
// Consumption is pull-based and single-consumer: the caller drives
// [Coordinator.Next] (or [Stream.Next]) in its own polling loop, the
// library never sleeps or spawns goroutines, and a record's source shard
// only checkpoints past it when Next has returned it.
//
// [Coordinator.Token] serializes the whole position as an opaque string;
// [Coordinator.MoveTo] resumes from one, reconciling it against the live
// stream and rewinding any shard whose recorded position has aged out of
// retention.
//
// [Stream] layers model-typed decoding on top, and [LambdaHandler] adapts
// the same typed handling to push-based AWS Lambda event delivery.
package stream
