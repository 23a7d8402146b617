package gateway

import (
	"encoding/binary"
	"fmt"

	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/registry"
	"github.com/amoylab/coordinator/internal/wire"
)

// Client entry opcodes
const (
	OpSubscribe uint8 = 0
	OpCreate    uint8 = 1
)

// entry is a decoded session-selection request
type entry struct {
	op      uint8
	token   string
	session registry.SessionID
	payload []byte
}

func (e entry) name() string {
	if e.op == OpCreate {
		return "create"
	}
	return "subscribe"
}

// parseSingle decodes [opcode][token] followed by a session id or creation payload
func parseSingle(order binary.ByteOrder, frame []byte) (entry, error) {
	r := wire.NewReader(frame, order)
	op, err := readOpcode(r)
	if err != nil {
		return entry{}, err
	}
	token, err := readToken(r)
	if err != nil {
		return entry{}, err
	}
	e := entry{op: op, token: token}
	return e, readSelection(r, &e)
}

// parseToken decodes the first frame of a split handshake
func parseToken(order binary.ByteOrder, frame []byte) (string, error) {
	return readToken(wire.NewReader(frame, order))
}

// parseSelection decodes the second frame of a split handshake
func parseSelection(order binary.ByteOrder, frame []byte) (entry, error) {
	r := wire.NewReader(frame, order)
	op, err := readOpcode(r)
	if err != nil {
		return entry{}, err
	}
	e := entry{op: op}
	return e, readSelection(r, &e)
}

func readOpcode(r *wire.Reader) (uint8, error) {
	op, err := r.Uint8()
	if err != nil {
		return 0, fmt.Errorf("%w: empty entry frame", cnst.ErrProtocol)
	}
	if op != OpSubscribe && op != OpCreate {
		return 0, fmt.Errorf("%w: unknown entry opcode %d", cnst.ErrProtocol, op)
	}
	return op, nil
}

func readToken(r *wire.Reader) (string, error) {
	token, err := r.String()
	if err != nil {
		return "", fmt.Errorf("%w: read token: %w", cnst.ErrAuth, err)
	}
	if token == "" {
		return "", fmt.Errorf("%w: missing token", cnst.ErrAuth)
	}
	return token, nil
}

func readSelection(r *wire.Reader, e *entry) error {
	if e.op == OpCreate {
		e.payload = r.Rest()
		return nil
	}
	id, err := r.Uint64()
	if err != nil {
		return fmt.Errorf("%w: truncated session id", cnst.ErrProtocol)
	}
	e.session = registry.SessionID(id)
	return nil
}
