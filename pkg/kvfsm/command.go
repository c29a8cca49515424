package kvfsm

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Op discriminates the two mutations a Command can carry.
type Op uint8

const (
	// OpPut sets Key to Value.
	OpPut Op = iota
	// OpDelete removes Key.
	OpDelete
)

// Command is the payload of every EntryCommand this FSM applies.
type Command struct {
	Op    Op
	Key   string
	Value []byte
}

// EncodeCommand gob-encodes cmd for use as an Entry payload.
func EncodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&cmd); err != nil {
		return nil, fmt.Errorf("kvfsm: encode command: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeCommand reverses EncodeCommand.
func decodeCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("kvfsm: decode command: %w", err)
	}
	return cmd, nil
}

// Result is returned from Node.SubmitCommand once a Command commits and
// is applied; it is the value FSM.Apply hands back to the reactor.
type Result struct {
	// Applied is false only if the command's Op was unrecognized — Apply
	// never returns an error since a bad command must not stall the log.
	Applied bool
	// Previous is the value overwritten by OpPut, or removed by OpDelete,
	// if the key previously existed.
	Previous []byte
	Existed  bool
}
