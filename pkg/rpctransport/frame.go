package rpctransport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/ironquorum/raft"
)

const (
	frameVersion   = 1
	maxFrameLength = 64 * 1024 * 1024
	headerLength   = 1 + 1 + 4 // version byte + message-type byte + big-endian uint32 length
)

// writeFrame writes a single [version][message-type][length][payload]
// frame to conn. The message-type byte duplicates what's already encoded
// inside payload, letting a future reader filter frames (e.g. for
// prioritizing AppendEntries over InstallSnapshot chunks) without
// decoding the full payload first.
func writeFrame(conn net.Conn, msgType raft.MessageType, payload []byte) error {
	if len(payload) > maxFrameLength {
		return fmt.Errorf("rpctransport: frame of %d bytes exceeds max %d", len(payload), maxFrameLength)
	}
	header := make([]byte, headerLength)
	header[0] = frameVersion
	header[1] = byte(msgType)
	binary.BigEndian.PutUint32(header[2:], uint32(len(payload)))

	if _, err := conn.Write(header); err != nil {
		return fmt.Errorf("rpctransport: write frame header: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("rpctransport: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads a single frame from r, validating the version byte and
// length against maxFrameLength. The message-type byte is informational
// only here; the authoritative type comes from decoding the payload.
func readFrame(r io.Reader) (raft.MessageType, []byte, error) {
	header := make([]byte, headerLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	if header[0] != frameVersion {
		return 0, nil, fmt.Errorf("rpctransport: unsupported frame version %d", header[0])
	}
	msgType := raft.MessageType(header[1])
	length := binary.BigEndian.Uint32(header[2:])
	if length > maxFrameLength {
		return 0, nil, fmt.Errorf("rpctransport: frame of %d bytes exceeds max %d", length, maxFrameLength)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("rpctransport: read frame payload: %w", err)
	}
	return msgType, payload, nil
}
