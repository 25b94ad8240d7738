// Package table maps Go structs onto DynamoDB tables.
//
// An [Engine] owns the schema registry, the change [Tracker] and the
// expression renderer; [Engine.Table] yields a [Table] handle bound to one
// [Schema]. Table operations (Save, Update, Get, Delete, Query, Scan,
// BatchGet) encode through the attributevalue type engine, render their
// condition and update expressions through package expr, and issue the
// wire calls through a session.ItemSession.
//
// Change tracking feeds two features. Fields marked with [Table.Mark] drive
// [Table.Update], which writes a minimal SET/REMOVE expression instead of
// replacing the item. Snapshots captured on load and save drive the Atomic
// write option: the write carries a condition asserting the stored item
// still matches the values last seen, so concurrent writers fail with
// session.ErrConditionFailed instead of silently clobbering each other. An
// object that was never loaded snapshots as all-absent, making its first
// atomic Save an insert-only write.
package table
