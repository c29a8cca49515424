package raft

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/ironquorum/raft/pkg/metrics"
)

var (
	errAlreadyMember = errors.New("raft: server is already a member of the configuration")
	errNotMember     = errors.New("raft: server is not a member of the configuration")
)

// encodeConfiguration is the log-entry encoding for a Configuration, kept
// independent of any peer-transport Codec since it is a durable artifact,
// not a wire message.
func encodeConfiguration(cfg Configuration) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(configurationPayload{Servers: cfg.Servers}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeConfiguration(payload []byte) (Configuration, error) {
	var p configurationPayload
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&p); err != nil {
		return Configuration{}, err
	}
	return Configuration{Servers: p.Servers}, nil
}

// promotionState tracks a single in-progress promote-to-voter operation.
// Only one membership change may be uncommitted at a time, so there is at
// most one of these per Node.
type promotionState struct {
	target          ServerID
	round           int
	roundStart      time.Time
	roundStartIndex Index
	done            Completion
}

// handleMembership dispatches an add/promote/remove/transfer request. Only
// the leader may originate a membership change, and at most one
// configuration entry may be outstanding (appended but not yet committed)
// at a time.
func (n *Node) handleMembership(req *membershipRequest) {
	if n.vol.role != Leader {
		req.done(0, nil, notLeaderError(n.vol.leaderHint, n.vol.hasLeaderHint))
		return
	}
	if n.uncommittedConfig {
		req.done(0, nil, ErrBusy)
		return
	}

	switch req.kind {
	case membershipAdd:
		n.handleAddServer(req)
	case membershipPromote:
		n.handlePromoteServer(req)
	case membershipRemove:
		n.handleRemoveServer(req)
	case membershipTransfer:
		n.handleTransferLeadership(req)
	}
}

func (n *Node) handleAddServer(req *membershipRequest) {
	if _, exists := n.config.Get(req.server.ID); exists {
		req.done(0, nil, &Error{Kind: KindBusy, Cause: errAlreadyMember})
		return
	}
	next := n.config.withServer(req.server)
	n.appendConfiguration(next, req.done)
	n.peers[req.server.ID] = &peerState{nextIndex: n.logStore.LastIndex() + 1, lastContact: time.Now()}
	metrics.RaftMembershipChangesTotal.WithLabelValues("add", "started").Inc()
}

func (n *Node) handleRemoveServer(req *membershipRequest) {
	if _, exists := n.config.Get(req.server.ID); !exists {
		req.done(0, nil, &Error{Kind: KindBusy, Cause: errNotMember})
		return
	}
	next := n.config.withoutServer(req.server.ID)
	n.appendConfiguration(next, req.done)
	metrics.RaftMembershipChangesTotal.WithLabelValues("remove", "started").Inc()
}

// handlePromoteServer begins the bounded catch-up process described for
// turning a non-voter into a voter: the leader replicates to the target as
// a non-voter for up to MaxPromotionRounds rounds, and appends the
// voter-promoting configuration entry once, within one election timeout of
// a round's start, the target's match index reaches the leader's last
// index as of that round's start.
func (n *Node) handlePromoteServer(req *membershipRequest) {
	server, exists := n.config.Get(req.server.ID)
	if !exists {
		req.done(0, nil, &Error{Kind: KindBusy, Cause: errNotMember})
		return
	}
	if server.Role == RoleVoter {
		req.done(0, nil, nil)
		return
	}
	if n.promotion != nil {
		req.done(0, nil, ErrBusy)
		return
	}
	n.promotion = &promotionState{
		target:          req.server.ID,
		round:           1,
		roundStart:      time.Now(),
		roundStartIndex: n.logStore.LastIndex(),
		done:            req.done,
	}
	n.replicateToPeer(req.server.ID)
}

// tickPromotion advances the catch-up round state machine. It is called
// after every AppendEntriesResult from the promotion target and once per
// leader tick, so both "caught up" and "round timed out" transitions are
// noticed promptly.
func (n *Node) tickPromotion(now time.Time) {
	p := n.promotion
	if p == nil {
		return
	}
	ps, ok := n.peers[p.target]
	if !ok {
		n.promotion.done(0, nil, &Error{Kind: KindBusy, Cause: errNotMember})
		n.promotion = nil
		return
	}

	caughtUpAtRoundStart := ps.matchIndex >= p.roundStartIndex
	elapsed := now.Sub(p.roundStart)

	if caughtUpAtRoundStart && elapsed <= n.cfg.ElectionTimeout {
		n.finishPromotion(p)
		return
	}

	if elapsed <= n.cfg.ElectionTimeout {
		return
	}

	if p.round >= n.cfg.MaxPromotionRounds {
		metrics.RaftMembershipChangesTotal.WithLabelValues("promote", "timed_out").Inc()
		p.done(0, nil, ErrBusy)
		n.promotion = nil
		return
	}

	p.round++
	p.roundStart = now
	p.roundStartIndex = n.logStore.LastIndex()
}

func (n *Node) finishPromotion(p *promotionState) {
	server, exists := n.config.Get(p.target)
	if !exists {
		p.done(0, nil, &Error{Kind: KindBusy, Cause: errNotMember})
		n.promotion = nil
		return
	}
	server.Role = RoleVoter
	next := n.config.withServer(server)
	n.appendConfiguration(next, p.done)
	metrics.RaftMembershipChangesTotal.WithLabelValues("promote", "committed").Inc()
	n.promotion = nil
}

// appendConfiguration appends a new EntryConfiguration entry reflecting
// next, marks the single-outstanding-configuration flag, and registers
// done against the new entry's eventual commit.
func (n *Node) appendConfiguration(next Configuration, done Completion) {
	payload, err := encodeConfiguration(next)
	if err != nil {
		done(0, nil, ioError(err))
		return
	}
	entry := Entry{
		Term:    n.persist.currentTerm,
		Index:   n.logStore.LastIndex() + 1,
		Type:    EntryConfiguration,
		Payload: payload,
	}
	if err := n.appendLeaderEntry(entry); err != nil {
		done(0, nil, err)
		return
	}
	n.config = next
	n.uncommittedConfig = true
	n.uncommittedConfigAt = entry.Index
	if done != nil {
		n.pendingCompletions[entry.Index] = done
	}
	n.replicateToAllPeers()
}

// handleTransferLeadership hands leadership to target when it is already
// fully caught up, by sending it a TimeoutNow so it starts an election
// without waiting out a normal timeout; the request completes once the
// TimeoutNow is handed to the transport. If target is not yet caught up,
// the leader starts replicating to it and fails the request with ErrBusy;
// no TimeoutNow is sent for that request.
func (n *Node) handleTransferLeadership(req *membershipRequest) {
	target := req.server.ID
	ps, ok := n.peers[target]
	if !ok {
		req.done(0, nil, &Error{Kind: KindBusy, Cause: errNotMember})
		return
	}
	lastIndex := n.logStore.LastIndex()
	if ps.matchIndex < lastIndex {
		n.replicateToPeer(target)
		req.done(0, nil, ErrBusy)
		return
	}
	msg := Message{Type: MsgTimeoutNow, From: n.id, To: target, TimeoutNow: &TimeoutNow{Term: n.persist.currentTerm}}
	n.transport.Send(context.Background(), target, msg, func(error) {})
	req.done(0, nil, nil)
}
