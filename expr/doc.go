// Package expr builds and renders DynamoDB expression clauses.
//
// Conditions are composed from typed [Path] handles:
//
//	cond := expr.Name("status").Equals("active").
//	    And(expr.Name("age").GreaterOrEqual(21))
//
// A [Renderer] turns condition trees, projections and [Update] mutation
// sets into the wire clauses (ConditionExpression, FilterExpression,
// KeyConditionExpression, ProjectionExpression, UpdateExpression) together
// with their ExpressionAttributeNames / ExpressionAttributeValues maps.
// Placeholders use `#n<i>` for attribute names and `:v<i>` for values; name
// placeholders are de-duplicated per attribute path within a render pass,
// value placeholders never are.
//
// Condition trees are algebraic: [Empty] is the identity for And/Or,
// combining same-kind meta nodes flattens, and double negation returns the
// original node. Traversal ([Condition.Walk], [Condition.Len],
// [Condition.Equal]) is cycle-safe, since And/Or nodes can be extended in
// place with [Condition.Append] and may end up referencing an ancestor.
//
// A failed render rolls back every placeholder it allocated, so the
// tracker's emitted maps are unchanged by a render that returns an error.
package expr
