// Package vectorindex stores chunk vectors per client and answers similarity queries.
//
// Every client owns one physical index (a chromem-go database directory or a
// Qdrant collection) named by sanitize.Namespace. A Provider opens typed
// Handles; a Handle enforces the index invariants on top of a Backend:
//
//   - one fixed dimension per index, recorded in a manifest
//   - entries and hits always belong to the handle's client
//   - reads under a read lock, writes under the write lock, never across
//     embedding or chat calls
//   - deterministic ranking: score descending, then chunk index, source
//     timestamp and chunk ID ascending
//
// A detected violation marks the handle corrupt (model.ErrIndexCorrupt) and
// writes are refused until Repair drops and recreates the index.
package vectorindex
