package storelink

import (
	"encoding/binary"
	"fmt"

	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/registry"
	"github.com/amoylab/coordinator/internal/wire"
)

// Opcode identifies a coordinator-to-store request
type Opcode uint8

const (
	OpNewState        Opcode = 0
	OpSubscribeUser   Opcode = 1
	OpUnsubscribeUser Opcode = 2
	OpHandleUpdate    Opcode = 3
)

func (o Opcode) String() string {
	switch o {
	case OpNewState:
		return "NEW_STATE"
	case OpSubscribeUser:
		return "SUBSCRIBE_USER"
	case OpUnsubscribeUser:
		return "UNSUBSCRIBE_USER"
	case OpHandleUpdate:
		return "HANDLE_UPDATE"
	default:
		return fmt.Sprintf("OPCODE(%d)", uint8(o))
	}
}

// opcodes of the typed inbound format
const (
	inboundData          uint8 = 0
	inboundStateNotFound uint8 = 1
)

// Request is one coordinator-to-store message. Payload is only carried by NEW_STATE and
// HANDLE_UPDATE.
type Request struct {
	Op      Opcode
	Session registry.SessionID
	User    registry.UserID
	Payload []byte
}

// Inbound is one store-to-coordinator message. Gone marks the session as no longer
// existing.
type Inbound struct {
	Session registry.SessionID
	User    registry.UserID
	Payload []byte
	Gone    bool
}

// EncodeRequest returns the framed bytes of req
func EncodeRequest(order binary.ByteOrder, req Request) []byte {
	w := wire.NewFrameWriter(order, 1+8+binary.MaxVarintLen64+len(req.User)+len(req.Payload)).
		Uint8(uint8(req.Op)).
		Uint64(uint64(req.Session)).
		String(string(req.User))
	if req.Op == OpNewState || req.Op == OpHandleUpdate {
		w.Raw(req.Payload)
	}
	return w.Bytes()
}

// DecodeRequest parses an unframed request payload, as the store side does
func DecodeRequest(order binary.ByteOrder, payload []byte) (Request, error) {
	r := wire.NewReader(payload, order)
	op, err := r.Uint8()
	if err != nil {
		return Request{}, err
	}
	req := Request{Op: Opcode(op)}
	if req.Op > OpHandleUpdate {
		return Request{}, fmt.Errorf("%w: unknown store opcode %d", cnst.ErrProtocol, op)
	}
	if err := readAddress(r, &req.Session, &req.User); err != nil {
		return Request{}, err
	}
	rest := r.Rest()
	if req.Op == OpNewState || req.Op == OpHandleUpdate {
		req.Payload = rest
	} else if len(rest) > 0 {
		return Request{}, fmt.Errorf("%w: %d trailing bytes after %s", cnst.ErrProtocol, len(rest), req.Op)
	}
	return req, nil
}

// EncodeInbound returns the framed bytes of msg in the given format, as the store sends it
func EncodeInbound(format cnst.InboundFormat, order binary.ByteOrder, msg Inbound) []byte {
	w := wire.NewFrameWriter(order, 1+8+binary.MaxVarintLen64+len(msg.User)+len(msg.Payload))
	if format == cnst.InboundTyped {
		if msg.Gone {
			return w.Uint8(inboundStateNotFound).Uint64(uint64(msg.Session)).String(string(msg.User)).Bytes()
		}
		w.Uint8(inboundData)
	}
	w.Uint64(uint64(msg.Session)).String(string(msg.User))
	if !msg.Gone {
		w.Raw(msg.Payload)
	}
	return w.Bytes()
}

// DecodeInbound parses an unframed store message
func DecodeInbound(format cnst.InboundFormat, order binary.ByteOrder, payload []byte) (Inbound, error) {
	r := wire.NewReader(payload, order)
	var msg Inbound

	if format == cnst.InboundTyped {
		op, err := r.Uint8()
		if err != nil {
			return Inbound{}, err
		}
		switch op {
		case inboundData:
		case inboundStateNotFound:
			msg.Gone = true
		default:
			return Inbound{}, fmt.Errorf("%w: unknown inbound opcode %d", cnst.ErrProtocol, op)
		}
	}

	if err := readAddress(r, &msg.Session, &msg.User); err != nil {
		return Inbound{}, err
	}
	if msg.Gone {
		return msg, nil
	}
	msg.Payload = r.Rest()
	msg.Gone = len(msg.Payload) == 0
	return msg, nil
}

func readAddress(r *wire.Reader, session *registry.SessionID, user *registry.UserID) error {
	id, err := r.Uint64()
	if err != nil {
		return fmt.Errorf("read session id: %w", err)
	}
	u, err := r.String()
	if err != nil {
		return fmt.Errorf("read user id: %w", err)
	}
	*session, *user = registry.SessionID(id), registry.UserID(u)
	return nil
}
