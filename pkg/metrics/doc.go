/*
Package metrics defines and registers the Prometheus metrics exposed by a
raft node, and provides a small health-check registry for liveness and
readiness probes.

All metrics are registered at package init time via prometheus.MustRegister
and are safe for concurrent use. The package intentionally holds no
reference to the raft package itself: the root raft package imports
metrics and updates these variables directly from its reactor loop, which
keeps the dependency one-directional.

# Metric Categories

  - Cluster state: raft_current_term, raft_is_leader, raft_role,
    raft_peers_total, raft_commit_index, raft_last_applied_index,
    raft_last_log_index
  - Elections: raft_elections_started_total, raft_elections_won_total,
    raft_votes_granted_total, raft_votes_denied_total,
    raft_leadership_changes_total
  - Replication: raft_append_entries_accepted_total,
    raft_append_entries_rejected_total,
    raft_replication_round_trip_seconds, raft_install_snapshots_sent_total
  - Commit pipeline: raft_commit_latency_seconds, raft_apply_latency_seconds
  - Durable log: raft_log_append_latency_seconds,
    raft_disk_sync_latency_seconds, raft_log_bytes_written_total
  - Snapshots: raft_snapshots_taken_total, raft_snapshot_duration_seconds,
    raft_snapshot_restores_total
  - Membership: raft_membership_changes_total
  - Control API: raft_control_api_requests_total,
    raft_control_api_request_duration_seconds

# Usage

	timer := metrics.NewTimer()
	// ... perform an append ...
	timer.ObserveDuration(metrics.RaftLogAppendLatencySeconds)

	metrics.RaftIsLeader.Set(1)
	metrics.RaftAppendEntriesAcceptedTotal.WithLabelValues(peerID).Inc()

# Health

	metrics.RegisterComponent("log", true, "")
	metrics.RegisterComponent("transport", true, "")
	http.Handle("/healthz", metrics.HealthHandler())
	http.Handle("/readyz", metrics.ReadyHandler())

Readiness treats "log", "fsm", and "transport" as the components a node
must report healthy before it is considered ready to serve traffic;
leadership is not required, since a healthy follower is also ready.
*/
package metrics
