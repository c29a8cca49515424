// Package snapshotstore is the reference SnapshotStore implementation: FSM
// snapshots are written to a temp file and atomically renamed into place,
// each with a sidecar .meta file recording (last_included_index,
// last_included_term, configuration). Snapshot IDs incorporate a random
// suffix from google/uuid so two snapshots taken at the same index (after
// a restart that re-triggers a capture) never collide on disk.
package snapshotstore
