package raft

// Term is a monotonically non-decreasing election epoch.
type Term uint64

// Index is a 1-based position in the replicated log. 0 means "no entry".
type Index uint64

// EntryType discriminates the three kinds of log entry the core produces.
type EntryType uint8

const (
	// EntryCommand carries an opaque byte payload destined for the user FSM.
	EntryCommand EntryType = iota
	// EntryConfiguration carries an encoded Configuration.
	EntryConfiguration
	// EntryBarrier is an empty no-op the leader appends on election so it
	// can commit entries left uncommitted by a prior leader.
	EntryBarrier
)

func (t EntryType) String() string {
	switch t {
	case EntryCommand:
		return "command"
	case EntryConfiguration:
		return "configuration"
	case EntryBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// Entry is one unit of the replicated log. Immutable once durably appended;
// entries sharing a (Term, Index) pair across servers must be byte-identical
// (log matching).
type Entry struct {
	Term    Term
	Index   Index
	Type    EntryType
	Payload []byte
}

// configurationPayload is the encoding of a Configuration carried inside an
// EntryConfiguration entry's Payload. Kept distinct from the wire Message
// types in transport.go since it is a log artifact, not an RPC.
type configurationPayload struct {
	Servers []Server
}
