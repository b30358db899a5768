// Package store holds the authoritative in-memory conversation collection of
// the current tenant view.
//
// # Mutation
//
// Only two writers exist: channel event application and confirmed hand-off
// results. Every mutation takes the store lock, bumps the revision and
// publishes a new snapshot.
//
//   - Apply(c): upsert keyed by id. Last write wins; an entity whose
//     updated_at is older than the stored copy is ignored, so out-of-order
//     frames cannot regress state. Re-applying an identical entity is a no-op.
//   - Remove(id): explicit deletion (end of attendance). The id is
//     tombstoned so a late frame cannot resurrect it.
//   - ReplaceAll(cs): atomic swap after the initial fetch.
//   - Reconcile(cs, since): swap after a refetch that started at revision
//     since. Entries applied or removed after since are newer than the fetch
//     and are kept.
//
// # Observation
//
// Subscribe returns a channel that always holds the latest Snapshot. Slow
// subscribers skip intermediate snapshots instead of blocking writers.
// Snapshots are immutable: accessors return deep copies.
//
//	snaps, _ := st.Subscribe(ctx)
//	for snap := range snaps {
//	    board := stage.Summarize(snap.All())
//	    render(board)
//	}
package store
