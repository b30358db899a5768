// Package dedupe drops push frames that were already delivered.
//
// Push feeds may replay an entity during reconnect storms or when the
// backend fans the same update out twice. A Cache remembers recently seen
// frame keys (entity kind, id and payload digest) for a TTL window and a bounded
// number of entries, so a channel can skip duplicates before they reach the
// store. Dropping duplicates is an optimization: applying a full entity twice
// is already idempotent.
package dedupe
