// Package kv provides the key-value persistence the client keeps its local
// state in.
//
// Each persisted collection (records, sync queue, token slot) lives under a
// single key as one serialized document, so a Set replaces the whole
// collection in one atomic write.
//
// Implementations:
//
//   - SQLiteStore: durable store over modernc.org/sqlite, schema managed by
//     goose (see OpenSQLite).
//   - MemoryStore: in-process store with error injection, used by tests.
//
// Errors from the backing store match common.ErrStorage.
package kv
