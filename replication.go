package raft

import (
	"context"
	"strconv"
	"time"

	"github.com/ironquorum/raft/pkg/metrics"
)

// sendHeartbeats replicates to every peer on the heartbeat tick, which
// doubles as an empty-entries AppendEntries when a peer is already caught
// up.
func (n *Node) sendHeartbeats(now time.Time) {
	n.replicateToAllPeers()
}

func (n *Node) replicateToAllPeers() {
	if n.vol.role != Leader {
		return
	}
	for id := range n.peers {
		if id == n.id {
			continue
		}
		n.replicateToPeer(id)
	}
}

// replicateToPeer sends the next AppendEntries batch to peer, or switches
// it to InstallSnapshot if its next_index has fallen behind the local
// snapshot boundary. Pipelining is bounded by MaxInFlightAppends
// unacknowledged batches.
func (n *Node) replicateToPeer(id ServerID) {
	ps, ok := n.peers[id]
	if !ok || ps.installingSnapshot {
		return
	}
	if ps.inFlight >= n.cfg.MaxInFlightAppends {
		return
	}

	if ps.nextIndex <= n.lastIncludedIndex && n.lastIncludedIndex > 0 {
		n.beginInstallSnapshot(id, ps)
		return
	}

	prevIndex := ps.nextIndex - 1
	var prevTerm Term
	if prevIndex == n.lastIncludedIndex {
		prevTerm = n.lastIncludedTerm
	} else if prevIndex > 0 {
		t, ok, err := n.logStore.TermOf(prevIndex)
		if err != nil || !ok {
			n.beginInstallSnapshot(id, ps)
			return
		}
		prevTerm = t
	}

	entries := n.collectEntries(ps.nextIndex, n.cfg.MaxEntriesPerAppend)

	req := &AppendEntries{
		Term:         n.persist.currentTerm,
		LeaderID:     n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.vol.commitIndex,
	}
	ps.inFlight++
	ps.lastSentAt = time.Now()

	// Track the range this batch covers and, if it carries entries,
	// speculatively advance nextIndex past them so a second batch can be
	// pipelined on the next tick before this one is acked.
	sentThrough := prevIndex + Index(len(entries))
	ps.pending = append(ps.pending, sentThrough)
	if len(entries) > 0 {
		ps.nextIndex = sentThrough + 1
	}
	msg := Message{Type: MsgAppendEntries, From: n.id, To: id, AppendEntries: req}
	n.transport.Send(context.Background(), id, msg, func(err error) {
		// A delivery failure is observed only as the absence of a result;
		// inFlight is decremented when (if) the reply eventually arrives,
		// so a dropped send leaks one in-flight slot until the next
		// successful round trip clears it via handleAppendEntriesResult.
	})
}

func (n *Node) collectEntries(from Index, max int) []Entry {
	last := n.logStore.LastIndex()
	if from > last {
		return nil
	}
	end := from + Index(max) - 1
	if end > last {
		end = last
	}
	entries := make([]Entry, 0, end-from+1)
	for i := from; i <= end; i++ {
		e, ok, err := n.logStore.Get(i)
		if err != nil || !ok {
			break
		}
		entries = append(entries, e)
	}
	return entries
}

// handleAppendEntries is the follower-side receipt of a leader's
// AppendEntries: log-matching check, conflict-hint computation, suffix
// truncation on conflict, append, and commit-index advancement.
func (n *Node) handleAppendEntries(from ServerID, req *AppendEntries) {
	result := &AppendEntriesResult{Term: n.persist.currentTerm}
	defer func() {
		n.transport.Send(context.Background(), from, Message{
			Type: MsgAppendEntriesResult, From: n.id, To: from, AppendEntriesResult: result,
		}, func(error) {})
	}()

	if req.Term < n.persist.currentTerm {
		metrics.RaftAppendEntriesRejectedTotal.WithLabelValues(serverLabel(from)).Inc()
		return
	}
	if req.Term > n.persist.currentTerm || n.vol.role != Follower {
		n.stepDown(req.Term)
		result.Term = n.persist.currentTerm
	}

	n.lastLeaderContact = time.Now()
	n.resetElectionTimer()
	n.vol.leaderHint = req.LeaderID
	if !n.vol.hasLeaderHint || n.vol.leaderHint != req.LeaderID {
		n.vol.hasLeaderHint = true
		n.notifyObservers()
	}

	if req.PrevLogIndex > 0 {
		if req.PrevLogIndex == n.lastIncludedIndex {
			if req.PrevLogTerm != n.lastIncludedTerm {
				n.fillConflictHint(result, req.PrevLogIndex)
				metrics.RaftAppendEntriesRejectedTotal.WithLabelValues(serverLabel(from)).Inc()
				return
			}
		} else {
			localTerm, ok, err := n.logStore.TermOf(req.PrevLogIndex)
			if err != nil {
				return
			}
			if !ok || localTerm != req.PrevLogTerm {
				n.fillConflictHint(result, req.PrevLogIndex)
				metrics.RaftAppendEntriesRejectedTotal.WithLabelValues(serverLabel(from)).Inc()
				return
			}
		}
	}

	for _, entry := range req.Entries {
		existingTerm, ok, err := n.logStore.TermOf(entry.Index)
		if err != nil {
			return
		}
		if ok && existingTerm != entry.Term {
			if err := n.logStore.TruncateSuffix(entry.Index); err != nil {
				n.logger.Error().Err(err).Msg("failed to truncate conflicting suffix")
				return
			}
			if n.uncommittedConfig && entry.Index <= n.uncommittedConfigAt {
				n.uncommittedConfig = false
				n.config = n.loadLatestConfiguration()
			}
			ok = false
		}
		if !ok {
			if err := n.logStore.Append([]Entry{entry}); err != nil {
				n.logger.Error().Err(err).Msg("failed to append entry")
				return
			}
			if entry.Type == EntryConfiguration {
				if cfg, err := decodeConfiguration(entry.Payload); err == nil {
					n.config = cfg
					n.uncommittedConfig = true
					n.uncommittedConfigAt = entry.Index
				}
			}
		}
	}

	if req.LeaderCommit > n.vol.commitIndex {
		lastNew := req.PrevLogIndex + Index(len(req.Entries))
		if lastNew < req.PrevLogIndex {
			lastNew = n.logStore.LastIndex()
		}
		newCommit := req.LeaderCommit
		if lastNew < newCommit {
			newCommit = lastNew
		}
		n.vol.commitIndex = newCommit
		n.applyCommitted()
	}

	result.Success = true
	metrics.RaftAppendEntriesAcceptedTotal.WithLabelValues(serverLabel(from)).Inc()
}

// fillConflictHint reports either the first index of the conflicting term,
// or one past our own last index when we're simply missing entries —
// letting the leader back next_index up in one round trip.
func (n *Node) fillConflictHint(result *AppendEntriesResult, atIndex Index) {
	result.HasConflict = true
	localTerm, ok, _ := n.logStore.TermOf(atIndex)
	if !ok {
		result.ConflictIndex = n.logStore.LastIndex() + 1
		return
	}
	result.ConflictTerm = localTerm
	idx := atIndex
	for idx > n.logStore.FirstIndex() {
		t, ok, _ := n.logStore.TermOf(idx - 1)
		if !ok || t != localTerm {
			break
		}
		idx--
	}
	result.ConflictIndex = idx
}

// handleAppendEntriesResult is the leader-side receipt of a follower's
// reply: next_index/match_index bookkeeping, conflict-hint backoff, and
// commit-index advancement.
func (n *Node) handleAppendEntriesResult(from ServerID, res *AppendEntriesResult) {
	if res.Term > n.persist.currentTerm {
		n.stepDown(res.Term)
		return
	}
	if n.vol.role != Leader {
		return
	}
	ps, ok := n.peers[from]
	if !ok {
		return
	}
	if ps.inFlight > 0 {
		ps.inFlight--
	}
	now := time.Now()
	ps.lastContact = now
	if !ps.lastSentAt.IsZero() {
		metrics.RaftReplicationRoundTripSeconds.WithLabelValues(serverLabel(from)).Observe(now.Sub(ps.lastSentAt).Seconds())
	}

	if !res.Success {
		// Every speculatively advanced nextIndex since the last ack is now
		// known stale; drop the pending queue so it doesn't later
		// misattribute a since-superseded range to matchIndex.
		ps.pending = nil
		if res.HasConflict {
			ps.nextIndex = res.ConflictIndex
		} else if ps.nextIndex > 1 {
			ps.nextIndex--
		}
		n.replicateToPeer(from)
		return
	}

	// Success: correlate this reply to the oldest outstanding batch (the
	// transport preserves per-peer send order) and advance matchIndex to
	// exactly what that batch covered, not to wherever nextIndex has since
	// speculatively run ahead to from other in-flight batches.
	if sentThrough, ok := ps.popPending(); ok && sentThrough > ps.matchIndex {
		ps.matchIndex = sentThrough
	}
	if ps.nextIndex <= ps.matchIndex {
		ps.nextIndex = ps.matchIndex + 1
	}
	n.advanceCommitIndex()
	n.replicateToPeer(from)
	n.tickPromotion(time.Now())
}

// advanceCommitIndex implements the commit rule: a leader may only commit
// entries from its own term directly; earlier-term entries become
// committed as a side effect once a same-term entry is.
func (n *Node) advanceCommitIndex() {
	if n.vol.role != Leader {
		return
	}
	voters := n.config.Voters()
	lastIndex := n.logStore.LastIndex()
	for N := lastIndex; N > n.vol.commitIndex; N-- {
		term, ok, err := n.logStore.TermOf(N)
		if err != nil || !ok {
			continue
		}
		if term != n.persist.currentTerm {
			continue
		}
		matched := 0
		for _, id := range voters {
			ps, ok := n.peers[id]
			if id == n.id {
				matched++
				continue
			}
			if ok && ps.matchIndex >= N {
				matched++
			}
		}
		if n.config.HasQuorum(matched) {
			n.vol.commitIndex = N
			n.applyCommitted()
			return
		}
	}
}

func serverLabel(id ServerID) string {
	return strconv.FormatUint(uint64(id), 10)
}
