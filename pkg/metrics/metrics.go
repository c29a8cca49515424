package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster-wide state

	RaftTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_current_term",
			Help: "Current Raft term observed by this node",
		},
	)

	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower/candidate)",
		},
	)

	RaftRole = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raft_role",
			Help: "Current role of this node (1 for the active role, 0 otherwise)",
		},
		[]string{"role"},
	)

	RaftPeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_peers_total",
			Help: "Total number of voting and non-voting servers in the current configuration",
		},
	)

	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_commit_index",
			Help: "Highest log index known to be committed",
		},
	)

	RaftLastAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_last_applied_index",
			Help: "Highest log index applied to the state machine",
		},
	)

	RaftLastLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_last_log_index",
			Help: "Index of the last entry in the local log",
		},
	)

	// Elections

	RaftElectionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raft_elections_started_total",
			Help: "Total number of elections this node has started as a candidate",
		},
	)

	RaftElectionsWonTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raft_elections_won_total",
			Help: "Total number of elections this node has won",
		},
	)

	RaftVotesGrantedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raft_votes_granted_total",
			Help: "Total number of RequestVote RPCs this node has granted",
		},
	)

	RaftVotesDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raft_votes_denied_total",
			Help: "Total number of RequestVote RPCs this node has denied",
		},
	)

	RaftLeadershipChangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raft_leadership_changes_total",
			Help: "Total number of observed leader changes",
		},
	)

	// Replication

	RaftAppendEntriesAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_append_entries_accepted_total",
			Help: "Total number of AppendEntries RPCs accepted, by peer",
		},
		[]string{"peer"},
	)

	RaftAppendEntriesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_append_entries_rejected_total",
			Help: "Total number of AppendEntries RPCs rejected, by peer",
		},
		[]string{"peer"},
	)

	RaftReplicationRoundTripSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raft_replication_round_trip_seconds",
			Help:    "AppendEntries round trip latency to a peer, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"peer"},
	)

	RaftInstallSnapshotsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_install_snapshots_sent_total",
			Help: "Total number of InstallSnapshot RPCs sent, by peer",
		},
		[]string{"peer"},
	)

	// Commit and apply pipeline

	RaftCommitLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raft_commit_latency_seconds",
			Help:    "Time from appending a leader entry to its commitment, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftApplyLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raft_apply_latency_seconds",
			Help:    "Time to apply a committed entry to the state machine, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Durable log / disk I/O

	RaftLogAppendLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raft_log_append_latency_seconds",
			Help:    "Latency of durable log append calls, in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	RaftDiskSyncLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raft_disk_sync_latency_seconds",
			Help:    "Latency of the underlying disk sync (AIO completion or fallback fsync), in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	RaftLogBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raft_log_bytes_written_total",
			Help: "Total bytes written to the durable log",
		},
	)

	// Snapshots

	RaftSnapshotsTakenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raft_snapshots_taken_total",
			Help: "Total number of snapshots this node has taken",
		},
	)

	RaftSnapshotDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raft_snapshot_duration_seconds",
			Help:    "Time taken to capture and persist a snapshot, in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	RaftSnapshotRestoresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raft_snapshot_restores_total",
			Help: "Total number of snapshot restores applied to the state machine",
		},
	)

	// Membership changes

	RaftMembershipChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_membership_changes_total",
			Help: "Total number of membership change operations, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Peer transport

	TransportDialFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_transport_dial_failures_total",
			Help: "Total number of failed outbound connection attempts, by peer",
		},
		[]string{"peer"},
	)

	TransportMessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_transport_messages_sent_total",
			Help: "Total number of messages sent, by peer and message type",
		},
		[]string{"peer", "type"},
	)

	TransportMessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_transport_messages_received_total",
			Help: "Total number of messages received, by peer and message type",
		},
		[]string{"peer", "type"},
	)

	// Control API

	ControlAPIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_control_api_requests_total",
			Help: "Total number of control API requests by method and status",
		},
		[]string{"method", "status"},
	)

	ControlAPIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raft_control_api_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(RaftTerm)
	prometheus.MustRegister(RaftIsLeader)
	prometheus.MustRegister(RaftRole)
	prometheus.MustRegister(RaftPeersTotal)
	prometheus.MustRegister(RaftCommitIndex)
	prometheus.MustRegister(RaftLastAppliedIndex)
	prometheus.MustRegister(RaftLastLogIndex)

	prometheus.MustRegister(RaftElectionsStartedTotal)
	prometheus.MustRegister(RaftElectionsWonTotal)
	prometheus.MustRegister(RaftVotesGrantedTotal)
	prometheus.MustRegister(RaftVotesDeniedTotal)
	prometheus.MustRegister(RaftLeadershipChangesTotal)

	prometheus.MustRegister(RaftAppendEntriesAcceptedTotal)
	prometheus.MustRegister(RaftAppendEntriesRejectedTotal)
	prometheus.MustRegister(RaftReplicationRoundTripSeconds)
	prometheus.MustRegister(RaftInstallSnapshotsSentTotal)

	prometheus.MustRegister(RaftCommitLatencySeconds)
	prometheus.MustRegister(RaftApplyLatencySeconds)

	prometheus.MustRegister(RaftLogAppendLatencySeconds)
	prometheus.MustRegister(RaftDiskSyncLatencySeconds)
	prometheus.MustRegister(RaftLogBytesWrittenTotal)

	prometheus.MustRegister(RaftSnapshotsTakenTotal)
	prometheus.MustRegister(RaftSnapshotDurationSeconds)
	prometheus.MustRegister(RaftSnapshotRestoresTotal)

	prometheus.MustRegister(RaftMembershipChangesTotal)

	prometheus.MustRegister(TransportDialFailuresTotal)
	prometheus.MustRegister(TransportMessagesSentTotal)
	prometheus.MustRegister(TransportMessagesReceivedTotal)

	prometheus.MustRegister(ControlAPIRequestsTotal)
	prometheus.MustRegister(ControlAPIRequestDuration)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
