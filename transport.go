package raft

import "context"

// MessageType discriminates the typed messages exchanged between peers.
// The wire framing itself (version byte, message-type byte, length,
// payload) is owned by the transport collaborator; the core only promises
// to hand these typed values in and out. See pkg/rpctransport for a
// concrete TCP implementation.
type MessageType uint8

const (
	MsgRequestVote MessageType = iota
	MsgRequestVoteResult
	MsgAppendEntries
	MsgAppendEntriesResult
	MsgInstallSnapshot
	MsgInstallSnapshotResult
	MsgTimeoutNow
)

func (t MessageType) String() string {
	switch t {
	case MsgRequestVote:
		return "RequestVote"
	case MsgRequestVoteResult:
		return "RequestVoteResult"
	case MsgAppendEntries:
		return "AppendEntries"
	case MsgAppendEntriesResult:
		return "AppendEntriesResult"
	case MsgInstallSnapshot:
		return "InstallSnapshot"
	case MsgInstallSnapshotResult:
		return "InstallSnapshotResult"
	case MsgTimeoutNow:
		return "TimeoutNow"
	default:
		return "unknown"
	}
}

// RequestVote is sent by a candidate (or pre-candidate) to solicit a vote.
type RequestVote struct {
	Term         Term
	CandidateID  ServerID
	LastLogIndex Index
	LastLogTerm  Term
	// PreVote marks a probe that does not cause the receiver to bump its
	// term or record a vote, per the election pre-vote extension.
	PreVote bool
}

// RequestVoteResult is the reply to a RequestVote.
type RequestVoteResult struct {
	Term        Term
	VoteGranted bool
	PreVote     bool
}

// AppendEntries both replicates log entries and serves as the heartbeat
// when Entries is empty.
type AppendEntries struct {
	Term         Term
	LeaderID     ServerID
	PrevLogIndex Index
	PrevLogTerm  Term
	Entries      []Entry
	LeaderCommit Index
}

// AppendEntriesResult is the reply to an AppendEntries. On rejection due
// to a log-matching failure, ConflictIndex/ConflictTerm let the leader
// back up next_index in one round trip instead of one entry at a time.
type AppendEntriesResult struct {
	Term          Term
	Success       bool
	HasConflict   bool
	ConflictIndex Index
	ConflictTerm  Term
}

// InstallSnapshot streams a chunk of a snapshot to a lagging follower.
type InstallSnapshot struct {
	Term              Term
	LeaderID          ServerID
	LastIncludedIndex Index
	LastIncludedTerm  Term
	Configuration     Configuration
	Offset            uint64
	Data              []byte
	Done              bool
}

// InstallSnapshotResult is the reply to an InstallSnapshot chunk.
type InstallSnapshotResult struct {
	Term    Term
	Success bool
}

// TimeoutNow asks a non-voter or caught-up follower to start an election
// immediately, used to hand off leadership without waiting out a full
// election timeout.
type TimeoutNow struct {
	Term Term
}

// Message is the envelope exchanged between Node and its Transport. Exactly
// one payload field is set, matching Type.
type Message struct {
	Type MessageType
	From ServerID
	To   ServerID

	RequestVote           *RequestVote
	RequestVoteResult     *RequestVoteResult
	AppendEntries         *AppendEntries
	AppendEntriesResult   *AppendEntriesResult
	InstallSnapshot       *InstallSnapshot
	InstallSnapshotResult *InstallSnapshotResult
	TimeoutNow            *TimeoutNow
}

// Transport is the external collaborator responsible for getting Messages
// to and from peers. Send must not block the reactor: it returns
// immediately and reports completion (or the cancellation/error status)
// via onComplete from some other goroutine. The Node's own onComplete
// callbacks ignore that status; a lost message shows up only as a reply
// that never arrives.
type Transport interface {
	// Send enqueues msg for delivery to peer. onComplete is invoked
	// exactly once, even on shutdown (with a cancellation error).
	Send(ctx context.Context, peer ServerID, msg Message, onComplete func(error))
	// RecvStream registers the callback invoked for every inbound Message.
	// Implementations must serialize their own calls to callback; the
	// callback itself enqueues onto the reactor's inbound channel rather
	// than touching Node state directly.
	RecvStream(callback func(Message))
	// LocalID returns the ServerID this transport answers to.
	LocalID() ServerID
	// Close releases the transport's resources. Idempotent.
	Close() error
}

// Codec encodes and decodes the payload of a Message. The stable wire
// framing around that payload (version byte, message-type byte, uint32
// length, payload) is written and read by the Transport, not by the
// Codec. A concrete Transport is free to use Codec or to define its own
// on-wire representation, as long as Messages round-trip identically.
type Codec interface {
	Encode(msg Message) ([]byte, error)
	Decode(data []byte) (Message, error)
}
