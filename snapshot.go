package raft

import (
	"context"
	"io"
	"time"

	"github.com/ironquorum/raft/pkg/metrics"
)

// snapshotChunkSize bounds how much of a snapshot payload travels in one
// InstallSnapshot message, keeping any single RPC bounded regardless of
// total FSM state size.
const snapshotChunkSize = 32 * 1024

// inboundSnapshot accumulates chunks of an InstallSnapshot transfer the
// local node is receiving as a follower.
type inboundSnapshot struct {
	sink     SnapshotSink
	meta     SnapshotMeta
	leaderID ServerID
}

// outboundSnapshot tracks an in-progress InstallSnapshot transfer the
// local node is sending as leader.
type outboundSnapshot struct {
	meta   SnapshotMeta
	reader io.ReadCloser
	offset uint64
}

// maybeSnapshot triggers a new snapshot once enough entries have
// accumulated since the last one. It only ever runs synchronously on the
// reactor goroutine: FSM.SnapshotCapture is expected to return a consistent
// point-in-time copy cheaply (e.g. a copy-on-write structure), not to block
// on real I/O.
func (n *Node) maybeSnapshot() {
	if n.snapshots == nil {
		return
	}
	if n.bytesSinceSnapshot < n.cfg.SnapshotThreshold {
		return
	}
	capturer, ok := n.fsm.(SnapshotCapturer)
	if !ok {
		return
	}
	if n.vol.lastApplied == 0 || n.vol.lastApplied <= n.lastIncludedIndex {
		return
	}

	lastIncludedIndex := n.vol.lastApplied
	lastIncludedTerm, ok, err := n.logStore.TermOf(lastIncludedIndex)
	if err != nil || !ok {
		if lastIncludedIndex == n.lastIncludedIndex {
			lastIncludedTerm = n.lastIncludedTerm
		} else {
			n.logger.Warn().Msg("cannot determine term for snapshot boundary, deferring")
			return
		}
	}

	timer := metrics.NewTimer()
	data, err := capturer.SnapshotCapture()
	if err != nil {
		n.logger.Error().Err(err).Msg("snapshot capture failed")
		return
	}

	sink, err := n.snapshots.Create(lastIncludedIndex, lastIncludedTerm, n.config)
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to create snapshot sink")
		return
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		n.logger.Error().Err(err).Msg("failed to write snapshot payload")
		return
	}
	if err := sink.Close(); err != nil {
		n.logger.Error().Err(err).Msg("failed to finalize snapshot")
		return
	}
	timer.ObserveDuration(metrics.RaftSnapshotDurationSeconds)
	metrics.RaftSnapshotsTakenTotal.Inc()

	n.lastIncludedIndex = lastIncludedIndex
	n.lastIncludedTerm = lastIncludedTerm
	n.bytesSinceSnapshot = 0

	trailing := n.cfg.InstallSnapshotTrailing
	if lastIncludedIndex > Index(trailing) {
		throughIndex := lastIncludedIndex - Index(trailing)
		if throughIndex > 0 {
			if err := n.logStore.TruncatePrefix(throughIndex); err != nil {
				n.logger.Warn().Err(err).Msg("snapshot taken but log prefix truncation deferred")
			}
		}
	}
}

// beginInstallSnapshot switches a lagging peer from AppendEntries to an
// InstallSnapshot transfer because its next_index has fallen at or below
// what this node's log still retains.
func (n *Node) beginInstallSnapshot(id ServerID, ps *peerState) {
	if n.snapshots == nil {
		return
	}
	metas, err := n.snapshots.List()
	if err != nil || len(metas) == 0 {
		n.logger.Warn().Uint64("peer", uint64(id)).Msg("peer needs a snapshot but none is available")
		return
	}
	meta, reader, err := n.snapshots.Open(metas[0].ID)
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to open snapshot for transfer")
		return
	}
	ps.installingSnapshot = true
	ps.snapshotOffset = 0
	n.sendSnapshotChunk(id, &outboundSnapshot{meta: meta, reader: reader})
}

func (n *Node) sendSnapshotChunk(id ServerID, out *outboundSnapshot) {
	buf := make([]byte, snapshotChunkSize)
	read, err := out.reader.Read(buf)
	done := err == io.EOF || read == 0
	chunk := buf[:read]

	req := &InstallSnapshot{
		Term:              n.persist.currentTerm,
		LeaderID:          n.id,
		LastIncludedIndex: out.meta.LastIncludedIndex,
		LastIncludedTerm:  out.meta.LastIncludedTerm,
		Configuration:     out.meta.Configuration,
		Offset:            out.offset,
		Data:              chunk,
		Done:              done,
	}
	out.offset += uint64(read)

	msg := Message{Type: MsgInstallSnapshot, From: n.id, To: id, InstallSnapshot: req}
	n.transport.Send(context.Background(), id, msg, func(error) {})
	metrics.RaftInstallSnapshotsSentTotal.WithLabelValues(serverLabel(id)).Inc()

	if done {
		out.reader.Close()
		// This was the final chunk: clear any tracked transfer so the
		// InstallSnapshotResult for it is handled as a completed transfer,
		// not resent as if another chunk were still outstanding.
		delete(n.outboundSnapshots, id)
		return
	}
	// The next chunk is sent once this one's InstallSnapshotResult arrives;
	// the in-flight outbound transfer is tracked per peer so
	// handleInstallSnapshotResult can resume it.
	n.outboundSnapshots[id] = out
}

// handleInstallSnapshot is the follower-side receipt of one chunk of a
// leader's snapshot transfer: accumulate into a temp sink, and on the
// final chunk atomically install it, discarding any log entries it
// supersedes.
func (n *Node) handleInstallSnapshot(from ServerID, req *InstallSnapshot) {
	result := &InstallSnapshotResult{Term: n.persist.currentTerm}
	defer func() {
		n.transport.Send(context.Background(), from, Message{
			Type: MsgInstallSnapshotResult, From: n.id, To: from, InstallSnapshotResult: result,
		}, func(error) {})
	}()

	if req.Term < n.persist.currentTerm {
		return
	}
	if req.Term > n.persist.currentTerm || n.vol.role != Follower {
		n.stepDown(req.Term)
		result.Term = n.persist.currentTerm
	}
	n.lastLeaderContact = time.Now()
	n.resetElectionTimer()
	if !n.vol.hasLeaderHint || n.vol.leaderHint != req.LeaderID {
		n.vol.leaderHint = req.LeaderID
		n.vol.hasLeaderHint = true
		n.notifyObservers()
	}

	if n.snapshots == nil {
		return
	}

	in := n.inboundSnapshot
	if in == nil || in.leaderID != from || in.meta.LastIncludedIndex != req.LastIncludedIndex {
		sink, err := n.snapshots.Create(req.LastIncludedIndex, req.LastIncludedTerm, req.Configuration)
		if err != nil {
			n.logger.Error().Err(err).Msg("failed to open snapshot sink for install")
			return
		}
		in = &inboundSnapshot{
			sink: sink,
			meta: SnapshotMeta{ID: sink.ID(), LastIncludedIndex: req.LastIncludedIndex, LastIncludedTerm: req.LastIncludedTerm, Configuration: req.Configuration},
			leaderID: from,
		}
		n.inboundSnapshot = in
	}

	if _, err := in.sink.Write(req.Data); err != nil {
		in.sink.Cancel()
		n.inboundSnapshot = nil
		n.logger.Error().Err(err).Msg("failed to write snapshot chunk")
		return
	}

	if !req.Done {
		result.Success = true
		return
	}

	if err := in.sink.Close(); err != nil {
		n.logger.Error().Err(err).Msg("failed to finalize installed snapshot")
		n.inboundSnapshot = nil
		return
	}
	n.inboundSnapshot = nil

	if err := n.installSnapshot(in.meta); err != nil {
		n.logger.Error().Err(err).Msg("failed to apply installed snapshot")
		return
	}
	result.Success = true
}

// installSnapshot makes a just-received (or just-restored) snapshot the
// node's new baseline: the FSM is reset from it, the log's prefix up to
// the snapshot boundary is discarded, and commit/apply bookkeeping jumps
// forward to match.
func (n *Node) installSnapshot(meta SnapshotMeta) error {
	_, reader, err := n.snapshots.Open(meta.ID)
	if err != nil {
		return ioError(err)
	}
	defer reader.Close()

	if restorer, ok := n.fsm.(SnapshotRestorer); ok {
		data, err := io.ReadAll(reader)
		if err != nil {
			return ioError(err)
		}
		if err := restorer.SnapshotRestore(data); err != nil {
			return corruptError(err)
		}
	}

	if meta.LastIncludedIndex > n.logStore.LastIndex() {
		if err := n.logStore.TruncateSuffix(n.logStore.FirstIndex()); err != nil {
			n.logger.Warn().Err(err).Msg("failed to clear stale log ahead of installed snapshot")
		}
	} else if meta.LastIncludedIndex > 0 {
		if err := n.logStore.TruncatePrefix(meta.LastIncludedIndex); err != nil {
			n.logger.Warn().Err(err).Msg("failed to truncate log prefix after snapshot install")
		}
	}

	n.lastIncludedIndex = meta.LastIncludedIndex
	n.lastIncludedTerm = meta.LastIncludedTerm
	n.vol.lastApplied = meta.LastIncludedIndex
	if meta.LastIncludedIndex > n.vol.commitIndex {
		n.vol.commitIndex = meta.LastIncludedIndex
	}
	n.config = meta.Configuration
	metrics.RaftSnapshotRestoresTotal.Inc()
	return nil
}

// handleInstallSnapshotResult is the leader-side receipt of a follower's
// reply to one chunk: on success, either send the next chunk of an
// in-progress transfer, or (on the final chunk) resume ordinary
// AppendEntries replication from the new snapshot boundary.
func (n *Node) handleInstallSnapshotResult(from ServerID, res *InstallSnapshotResult) {
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
	if !res.Success {
		ps.installingSnapshot = false
		delete(n.outboundSnapshots, from)
		return
	}

	out, inProgress := n.outboundSnapshots[from]
	if !inProgress {
		ps.installingSnapshot = false
		ps.nextIndex = n.lastIncludedIndex + 1
		ps.matchIndex = n.lastIncludedIndex
		n.advanceCommitIndex()
		n.replicateToPeer(from)
		return
	}
	n.sendSnapshotChunk(from, out)
}
