// Package backend implements a minimal in-memory state store speaking the coordinator's
// store protocol. It keeps every session's latest state and echoes updates to all
// subscribed users, which is enough to drive the coordinator by hand.
package backend

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/registry"
	"github.com/amoylab/coordinator/internal/storelink"
	"github.com/amoylab/coordinator/internal/wire"

	"go.uber.org/zap"
)

type session struct {
	state []byte
	users map[registry.UserID]struct{}
}

// Store holds session state for one coordinator connection
type Store struct {
	logger *zap.Logger
	order  binary.ByteOrder
	format cnst.InboundFormat

	mu       sync.Mutex
	sessions map[registry.SessionID]*session
}

func NewStore(logger *zap.Logger, order binary.ByteOrder, format cnst.InboundFormat) *Store {
	return &Store{
		logger:   logger,
		order:    order,
		format:   format,
		sessions: make(map[registry.SessionID]*session),
	}
}

// Serve handles requests from conn until it closes
func (s *Store) Serve(conn net.Conn) error {
	var wmu sync.Mutex
	send := func(msg storelink.Inbound) error {
		wmu.Lock()
		defer wmu.Unlock()
		_, err := conn.Write(storelink.EncodeInbound(s.format, s.order, msg))
		return err
	}

	err := wire.ReadFrames(conn, wire.NewDecoder(0), 0, func(frame []byte) error {
		req, err := storelink.DecodeRequest(s.order, frame)
		if err != nil {
			return err
		}
		for _, out := range s.Handle(req) {
			if err := send(out); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Handle applies one request and returns the messages to send back
func (s *Store) Handle(req storelink.Request) []storelink.Inbound {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("store request",
		zap.Stringer("op", req.Op),
		zap.Stringer("session", req.Session),
		zap.String("user", string(req.User)))

	sess := s.sessions[req.Session]
	switch req.Op {
	case storelink.OpNewState:
		s.sessions[req.Session] = &session{
			state: append([]byte(nil), req.Payload...),
			users: make(map[registry.UserID]struct{}),
		}
		return nil
	case storelink.OpSubscribeUser:
		if sess == nil {
			return []storelink.Inbound{{Session: req.Session, User: req.User, Gone: true}}
		}
		sess.users[req.User] = struct{}{}
		if len(sess.state) == 0 {
			return nil
		}
		return []storelink.Inbound{{Session: req.Session, User: req.User, Payload: sess.state}}
	case storelink.OpUnsubscribeUser:
		if sess != nil {
			delete(sess.users, req.User)
		}
		return nil
	case storelink.OpHandleUpdate:
		if sess == nil {
			return []storelink.Inbound{{Session: req.Session, User: req.User, Gone: true}}
		}
		if len(req.Payload) == 0 {
			return nil
		}
		sess.state = append([]byte(nil), req.Payload...)
		out := make([]storelink.Inbound, 0, len(sess.users))
		for user := range sess.users {
			out = append(out, storelink.Inbound{Session: req.Session, User: user, Payload: sess.state})
		}
		return out
	default:
		s.logger.Warn("unknown store request", zap.Stringer("op", req.Op))
		return nil
	}
}

// Drop forgets a session; the next request touching it reports it gone
func (s *Store) Drop(id registry.SessionID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
