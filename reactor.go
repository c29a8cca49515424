package raft

import "time"

// run is the single-threaded reactor. Every mutation of Raft state happens
// here; external goroutines only ever post to inbox, submitCh, or memberCh
// and wait for a Completion. Disk appends and snapshot capture run
// synchronously on this goroutine, so no other goroutine touches Node
// fields directly.
func (n *Node) run() {
	defer close(n.stoppedCh)

	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()

	n.logger.Info().Msg("reactor started")

	for {
		select {
		case <-n.stopCh:
			n.drainOnShutdown()
			n.logger.Info().Msg("reactor stopped")
			return

		case msg := <-n.inbox:
			n.handleMessage(msg)

		case req := <-n.submitCh:
			n.handleSubmit(req)

		case req := <-n.memberCh:
			n.handleMembership(req)

		case now := <-ticker.C:
			n.tick(now)
		}
	}
}

// tick runs on the coarse reactor interval and drives every timer-based
// behaviour: election timeout, heartbeats, promotion rounds, snapshotting.
func (n *Node) tick(now time.Time) {
	switch n.vol.role {
	case Follower, Candidate:
		if now.After(n.electionDeadline) {
			n.startElection(now)
		}
	case Leader:
		if now.Sub(n.lastHeartbeatSent) >= n.cfg.HeartbeatInterval {
			n.sendHeartbeats(now)
			n.lastHeartbeatSent = now
		}
		n.checkQuorumContact(now)
		n.tickPromotion(now)
	}
	n.maybeSnapshot()
	n.reportMetrics()
}

// handleMessage dispatches an inbound RPC or RPC reply to the appropriate
// handler, all of which run to completion on the reactor goroutine.
func (n *Node) handleMessage(msg Message) {
	switch msg.Type {
	case MsgRequestVote:
		n.handleRequestVote(msg.From, msg.RequestVote)
	case MsgRequestVoteResult:
		n.handleRequestVoteResult(msg.From, msg.RequestVoteResult)
	case MsgAppendEntries:
		n.handleAppendEntries(msg.From, msg.AppendEntries)
	case MsgAppendEntriesResult:
		n.handleAppendEntriesResult(msg.From, msg.AppendEntriesResult)
	case MsgInstallSnapshot:
		n.handleInstallSnapshot(msg.From, msg.InstallSnapshot)
	case MsgInstallSnapshotResult:
		n.handleInstallSnapshotResult(msg.From, msg.InstallSnapshotResult)
	case MsgTimeoutNow:
		n.handleTimeoutNow(msg.From, msg.TimeoutNow)
	}
}

// handleSubmit appends payload as a command entry if this node is leader.
func (n *Node) handleSubmit(req *commandRequest) {
	if n.vol.role != Leader {
		req.done(0, nil, notLeaderError(n.vol.leaderHint, n.vol.hasLeaderHint))
		return
	}
	entryType := EntryCommand
	if req.isNoop {
		entryType = EntryBarrier
	}
	entry := Entry{
		Term:    n.persist.currentTerm,
		Index:   n.logStore.LastIndex() + 1,
		Type:    entryType,
		Payload: req.payload,
	}
	if err := n.appendLeaderEntry(entry); err != nil {
		req.done(0, nil, err)
		return
	}
	if req.done != nil {
		n.pendingCompletions[entry.Index] = req.done
	}
	n.replicateToAllPeers()
}

// appendLeaderEntry durably appends entry to the local log and advances
// the leader's own match index, which participates in commit advancement
// like any other peer.
func (n *Node) appendLeaderEntry(entry Entry) error {
	if err := n.logStore.Append([]Entry{entry}); err != nil {
		return ioError(err)
	}
	if ps, ok := n.peers[n.id]; ok {
		ps.matchIndex = entry.Index
	}
	return nil
}

// drainOnShutdown awaits nothing new, fails pending command completions
// with ErrCancelled, and lets the caller release the transport/log/stable
// handles after run() returns.
func (n *Node) drainOnShutdown() {
	for idx, done := range n.pendingCompletions {
		done(idx, nil, ErrCancelled)
		delete(n.pendingCompletions, idx)
	}
	if n.promotion != nil {
		n.promotion.done(0, nil, ErrCancelled)
		n.promotion = nil
	}
}

// applyCommitted applies every entry between lastApplied+1 and commitIndex,
// in order, invoking any pending Completion for entries this node is
// leader for.
func (n *Node) applyCommitted() {
	for n.vol.lastApplied < n.vol.commitIndex {
		idx := n.vol.lastApplied + 1
		entry, ok, err := n.logStore.Get(idx)
		if err != nil {
			n.logger.Error().Err(err).Uint64("index", uint64(idx)).Msg("failed to read committed entry")
			return
		}
		if !ok {
			// Entry fell behind a snapshot; lastApplied catches up to the
			// snapshot boundary instead of re-applying it.
			if idx <= n.lastIncludedIndex {
				n.vol.lastApplied = n.lastIncludedIndex
				continue
			}
			return
		}

		var result interface{}
		switch entry.Type {
		case EntryCommand, EntryBarrier:
			timer := newLatencyTimer()
			result = n.fsm.Apply(entry)
			timer.observeApply()
		case EntryConfiguration:
			if cfg, err := decodeConfiguration(entry.Payload); err == nil {
				n.config = cfg
			}
			if n.uncommittedConfig && entry.Index == n.uncommittedConfigAt {
				n.uncommittedConfig = false
			}
		}

		n.vol.lastApplied = idx
		if done, ok := n.pendingCompletions[idx]; ok {
			done(idx, result, nil)
			delete(n.pendingCompletions, idx)
		}
		n.bytesSinceSnapshot++
	}
}

func (n *Node) resetElectionTimer() {
	n.electionDeadline = time.Now().Add(n.jitteredElectionTimeout())
}

func (n *Node) jitteredElectionTimeout() time.Duration {
	base := n.cfg.ElectionTimeout
	jitter := time.Duration(n.rng.Int63n(int64(base)))
	return base + jitter
}
