package raft

import "github.com/ironquorum/raft/pkg/metrics"

// latencyTimer is a thin adapter from the generic metrics.Timer to the
// specific histograms the reactor records against, so call sites read as
// "start a timer, observe a named phase" rather than naming a histogram
// variable at each call site.
type latencyTimer struct {
	t *metrics.Timer
}

func newLatencyTimer() latencyTimer {
	return latencyTimer{t: metrics.NewTimer()}
}

func (lt latencyTimer) observeApply() {
	lt.t.ObserveDuration(metrics.RaftApplyLatencySeconds)
}

func (lt latencyTimer) observeCommit() {
	lt.t.ObserveDuration(metrics.RaftCommitLatencySeconds)
}
