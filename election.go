package raft

import (
	"context"
	"time"

	"github.com/ironquorum/raft/pkg/metrics"
)

// startElection runs the pre-vote phase first: a probe that does not bump
// the term, so a partitioned node that keeps timing out doesn't disrupt
// the cluster's term once it rejoins. Only a quorum of granted pre-votes
// promotes the node to an actual candidacy.
func (n *Node) startElection(now time.Time) {
	n.resetElectionTimer()
	if len(n.config.Voters()) == 0 {
		return
	}
	n.beginCandidacy(now, true)
}

// beginCandidacy starts a (pre-)election: resets vote tracking, and for a
// real candidacy (preVote=false) bumps the term and votes for self first,
// durably, before any RequestVote is sent.
func (n *Node) beginCandidacy(now time.Time, preVote bool) {
	n.candidate = newCandidateState(preVote, now)
	term := n.persist.currentTerm
	if !preVote {
		term++
		if err := n.persistTermAndVote(term, n.id, true); err != nil {
			n.logger.Error().Err(err).Msg("failed to persist vote for self")
			n.candidate = nil
			return
		}
		n.setRole(Candidate)
		metrics.RaftElectionsStartedTotal.Inc()
	}
	n.candidate.grant(n.id)

	lastIndex := n.logStore.LastIndex()
	lastTerm, _, _ := n.logStore.TermOf(lastIndex)
	req := &RequestVote{
		Term:         term,
		CandidateID:  n.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
		PreVote:      preVote,
	}

	for _, peerID := range n.config.Voters() {
		if peerID == n.id {
			continue
		}
		peerID := peerID
		msg := Message{Type: MsgRequestVote, From: n.id, To: peerID, RequestVote: req}
		n.transport.Send(context.Background(), peerID, msg, func(err error) {
			// Delivery failures are silently dropped; a missing vote is
			// indistinguishable from one still in flight until the
			// election timeout fires again.
		})
	}

	if n.config.HasQuorum(n.candidate.count()) {
		n.onElectionMajority(preVote, term)
	}
}

func (n *Node) onElectionMajority(preVote bool, term Term) {
	if preVote {
		n.beginCandidacy(time.Now(), false)
		return
	}
	n.becomeLeader()
}

// handleRequestVote implements the vote-grant rules: candidate term at
// least as current, candidate log at least as up-to-date, not already
// voted for someone else this term, and — for a pre-vote — only if this
// node hasn't heard from a leader recently.
func (n *Node) handleRequestVote(from ServerID, req *RequestVote) {
	result := &RequestVoteResult{Term: n.persist.currentTerm, PreVote: req.PreVote}
	defer func() {
		n.transport.Send(context.Background(), from, Message{
			Type: MsgRequestVoteResult, From: n.id, To: from, RequestVoteResult: result,
		}, func(error) {})
	}()

	if req.Term < n.persist.currentTerm {
		metrics.RaftVotesDeniedTotal.Inc()
		return
	}
	if !req.PreVote && req.Term > n.persist.currentTerm {
		n.stepDown(req.Term)
		result.Term = n.persist.currentTerm
	}

	if req.PreVote {
		if time.Since(n.lastLeaderContact) < n.cfg.ElectionTimeout {
			return
		}
	} else {
		if n.persist.hasVotedFor && n.persist.votedFor != req.CandidateID {
			return
		}
	}

	lastIndex := n.logStore.LastIndex()
	lastTerm, _, _ := n.logStore.TermOf(lastIndex)
	upToDate := req.LastLogTerm > lastTerm || (req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIndex)
	if !upToDate {
		metrics.RaftVotesDeniedTotal.Inc()
		return
	}

	if !req.PreVote {
		if err := n.persistTermAndVote(n.persist.currentTerm, req.CandidateID, true); err != nil {
			n.logger.Error().Err(err).Msg("failed to persist vote")
			return
		}
		n.resetElectionTimer()
	}
	result.VoteGranted = true
	metrics.RaftVotesGrantedTotal.Inc()
}

func (n *Node) handleRequestVoteResult(from ServerID, res *RequestVoteResult) {
	if res.Term > n.persist.currentTerm {
		n.stepDown(res.Term)
		return
	}
	if n.vol.role != Candidate && n.candidate == nil {
		return
	}
	if n.candidate == nil || n.candidate.preVote != res.PreVote {
		return
	}
	if !res.VoteGranted {
		return
	}
	n.candidate.grant(from)
	if n.config.HasQuorum(n.candidate.count()) {
		n.onElectionMajority(n.candidate.preVote, n.persist.currentTerm)
	}
}

// becomeLeader transitions a winning candidate to leader: resets per-peer
// replication state and appends a barrier entry so that prior-term entries
// can become committed once this barrier itself commits (leader
// completeness combined with the "leaders only commit their own term"
// rule).
func (n *Node) becomeLeader() {
	n.setRole(Leader)
	n.candidate = nil
	n.vol.leaderHint = n.id
	n.vol.hasLeaderHint = true
	metrics.RaftElectionsWonTotal.Inc()
	metrics.RaftLeadershipChangesTotal.Inc()

	lastIndex := n.logStore.LastIndex()
	n.peers = make(map[ServerID]*peerState)
	n.outboundSnapshots = make(map[ServerID]*outboundSnapshot)
	for _, s := range n.config.Servers {
		n.peers[s.ID] = &peerState{nextIndex: lastIndex + 1, matchIndex: 0, lastContact: time.Now()}
	}
	if ps, ok := n.peers[n.id]; ok {
		ps.matchIndex = lastIndex
	}
	n.lastHeartbeatSent = time.Time{}

	n.appendLeaderEntry(Entry{
		Term:  n.persist.currentTerm,
		Index: lastIndex + 1,
		Type:  EntryBarrier,
	})
	n.notifyObservers()
	n.replicateToAllPeers()
}

// stepDown transitions to follower on discovering a higher term, per the
// rule that current_term never decreases and must be persisted before any
// reply that depends on it.
func (n *Node) stepDown(term Term) {
	votedFor, hasVotedFor := ServerID(0), false
	if term == n.persist.currentTerm {
		votedFor, hasVotedFor = n.persist.votedFor, n.persist.hasVotedFor
	}
	if err := n.persistTermAndVote(term, votedFor, hasVotedFor); err != nil {
		n.logger.Error().Err(err).Msg("failed to persist term on step-down")
		return
	}
	wasLeader := n.vol.role == Leader
	n.setRole(Follower)
	n.candidate = nil
	n.peers = make(map[ServerID]*peerState)
	n.outboundSnapshots = make(map[ServerID]*outboundSnapshot)
	if n.promotion != nil {
		n.promotion.done(0, nil, notLeaderError(0, false))
		n.promotion = nil
	}
	if n.vol.hasLeaderHint {
		n.vol.hasLeaderHint = false
		n.notifyObservers()
	}
	n.resetElectionTimer()
	if wasLeader {
		n.failPendingAsNotLeader()
	}
}

func (n *Node) failPendingAsNotLeader() {
	for idx, done := range n.pendingCompletions {
		done(idx, nil, notLeaderError(n.vol.leaderHint, n.vol.hasLeaderHint))
		delete(n.pendingCompletions, idx)
	}
}

func (n *Node) setRole(r Role) {
	if n.vol.role != r {
		n.vol.role = r
		n.logger.Info().Str("role", r.String()).Uint64("term", uint64(n.persist.currentTerm)).Msg("role changed")
	}
}

func (n *Node) persistTermAndVote(term Term, votedFor ServerID, hasVotedFor bool) error {
	if err := n.stable.SetTermAndVote(term, votedFor, hasVotedFor); err != nil {
		return ioError(err)
	}
	termChanged := term != n.persist.currentTerm
	n.persist.currentTerm = term
	n.persist.votedFor = votedFor
	n.persist.hasVotedFor = hasVotedFor
	if termChanged {
		n.observers.notify(Event{Kind: EventTermChange, Term: term})
	}
	return nil
}

func (n *Node) notifyObservers() {
	n.observers.notify(Event{
		Kind:      EventLeaderChange,
		Term:      n.persist.currentTerm,
		LeaderID:  n.vol.leaderHint,
		HasLeader: n.vol.hasLeaderHint,
	})
}

// checkQuorumContact steps a leader down to follower if it has not heard
// from a quorum of voters within a full election timeout — the optional
// check-quorum safeguard against a partitioned leader serving stale reads.
func (n *Node) checkQuorumContact(now time.Time) {
	voters := n.config.Voters()
	if len(voters) <= 1 {
		return
	}
	contacted := 0
	for _, id := range voters {
		if id == n.id {
			contacted++
			continue
		}
		ps, ok := n.peers[id]
		if ok && now.Sub(ps.lastContact) < n.cfg.ElectionTimeout {
			contacted++
		}
	}
	if !n.config.HasQuorum(contacted) {
		n.logger.Warn().Msg("lost quorum contact, stepping down")
		n.stepDown(n.persist.currentTerm)
	}
}

func (n *Node) handleTimeoutNow(from ServerID, msg *TimeoutNow) {
	if msg.Term < n.persist.currentTerm {
		return
	}
	// Skip the pre-vote phase: voters still in contact with the current
	// leader deny pre-votes, which would defeat the requested handoff.
	n.resetElectionTimer()
	if len(n.config.Voters()) == 0 {
		return
	}
	n.beginCandidacy(time.Now(), false)
}
