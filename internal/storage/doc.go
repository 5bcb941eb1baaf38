// Package storage implements the durable Retention Store.
//
// Backends:
//   - sqlite and postgres share one SQL implementation (squirrel + sqlx)
//     with embedded, versioned migrations
//   - file keeps policies in memory and persists them as a JSON snapshot
//     plus an append-only journal
//
// Every backend also keeps the operator audit log and the notifier's
// dedup state.
package storage
