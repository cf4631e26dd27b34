// Package record maps strongly-typed structured records onto a remote,
// schemaless, transactional key-value store (DynamoDB).
//
// Lattice is designed for applications that need typed CRUD plus filtered
// queries over a store that offers only keyed puts/gets, indexed reads,
// and bounded optimistic transactions.
//
// # Entity Specs
//
// Every stored record type is described once by a [Spec], binding its
// identifier and payload types to a kind, a key layout, and its indexed
// columns:
//
//	spec, err := record.NewSpec[OrderID, Order](
//	    "order",
//	    record.FlatLayout[OrderID]{},
//	    ParseOrderID,
//	    map[string]record.Column[Order]{
//	        "status":     {Type: record.TypeEnum, Value: func(o Order) any { return o.Status }},
//	        "created_at": {Type: record.TypeTimestamp, Value: func(o Order) any { return o.Created }},
//	    },
//	)
//
// Records with a natural hierarchy can use [ChildLayout] to share their
// parent's partition, which also scopes them into one transaction group.
//
// # Storage
//
// [Storage] is the façade: Write, WriteAll, Find, Select, Delete, Index,
// IndexWhere, and the optimistic read-modify-write Update. Whether writes
// run inside a store transaction is fixed by [Config.Transactional] at
// construction time, never per call.
//
// # Queries
//
// A [Query] carries conjunctive predicates, optional ordering, pagination
// and a payload field projection. Predicates the store can compare
// natively are pushed down; the rest run client-side after retrieval, so
// results never depend on the store's comparison semantics matching the
// logical ones.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - no record stored under the identifier
//   - [ErrUnknownColumn] - filter or ordering on an undeclared column
//   - [ErrUnsupportedType] - value with no conversion rule
//   - [ErrConflict] - transactional write lost to a concurrent writer
//   - [ErrBadPayload] - stored payload failed to decode
//   - [ErrInvalidSpec] - spec or storage constructed with missing parts
package record
