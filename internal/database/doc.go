// Package database holds the store error sentinels shared by every
// persistence backend and the SurrealDB client used by the repository
// package.
//
// # Error Handling
//
// Every backend reports through the same sentinels:
//   - ErrNotFound: record does not exist
//   - ErrDuplicate: unique constraint violation
//   - ErrConflict: compare-and-swap guard failed
//   - ErrAborted: transaction cancelled by a concurrent writer
//   - ErrConnection: backend unavailable, busy or timed out
//   - ErrQuery: anything else
//
// [IsTransient] tells the dispatcher which failures may be retried.
//
// # Transactions
//
// SurrealDB mutations are sent as BEGIN/COMMIT scripts built with
// [TxBuilder]; guards THROW a marker which Query classifies. See
// transaction.go.
package database
