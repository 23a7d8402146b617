package storelink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/amoylab/coordinator/internal/registry"
	"github.com/amoylab/coordinator/internal/wire"
	"github.com/amoylab/coordinator/pkg/metrics"

	"go.uber.org/zap"
)

// Router receives every decoded inbound store message, in arrival order
type Router interface {
	Deliver(msg Inbound)
}

// Link is the established transport to the store. Sends are safe for concurrent use and
// each request is written as one frame.
type Link struct {
	logger  *zap.Logger
	conn    net.Conn
	order   binary.ByteOrder
	format  cnst.InboundFormat
	maxSize int
	bufSize int
	metrics *metrics.Metrics

	wmu    sync.Mutex
	closed bool
}

// NewLink wraps an accepted store connection. m may be nil.
func NewLink(logger *zap.Logger, conn net.Conn, cfg config.StoreConfig, m *metrics.Metrics) *Link {
	return &Link{
		logger:  logger.With(zap.String("remote", conn.RemoteAddr().String())),
		conn:    conn,
		order:   cfg.SessionIDByteOrder.Order(),
		format:  cfg.InboundFormat,
		maxSize: cfg.MaxFrameSize,
		bufSize: cfg.ReadBufferSize,
		metrics: m,
	}
}

func (l *Link) NewState(session registry.SessionID, user registry.UserID, payload []byte) error {
	return l.send(Request{Op: OpNewState, Session: session, User: user, Payload: payload})
}

func (l *Link) SubscribeUser(session registry.SessionID, user registry.UserID) error {
	return l.send(Request{Op: OpSubscribeUser, Session: session, User: user})
}

func (l *Link) UnsubscribeUser(session registry.SessionID, user registry.UserID) error {
	return l.send(Request{Op: OpUnsubscribeUser, Session: session, User: user})
}

func (l *Link) HandleUpdate(session registry.SessionID, user registry.UserID, payload []byte) error {
	return l.send(Request{Op: OpHandleUpdate, Session: session, User: user, Payload: payload})
}

func (l *Link) send(req Request) error {
	frame := EncodeRequest(l.order, req)

	l.wmu.Lock()
	defer l.wmu.Unlock()
	if l.closed {
		return fmt.Errorf("%w: %w", cnst.ErrStoreUnavailable, cnst.ErrStoreLinkLost)
	}
	if _, err := l.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: write %s: %w", cnst.ErrStoreUnavailable, req.Op, err)
	}
	if l.metrics != nil {
		l.metrics.StoreSent(req.Op.String())
	}
	l.logger.Debug("sent store request",
		zap.Stringer("op", req.Op),
		zap.Stringer("session", req.Session),
		zap.String("user", string(req.User)),
		zap.Int("payload", len(req.Payload)))
	return nil
}

// Run reads inbound frames until the connection fails and hands each decoded message to
// router. A message that fails to decode is logged and dropped; framing stays aligned.
func (l *Link) Run(router Router) error {
	err := wire.ReadFrames(l.conn, wire.NewDecoder(l.maxSize), l.bufSize, func(frame []byte) error {
		msg, err := DecodeInbound(l.format, l.order, frame)
		if err != nil {
			l.logger.Warn("dropping malformed store message", zap.Error(err), zap.Int("size", len(frame)))
			if l.metrics != nil {
				l.metrics.StoreReceived("malformed")
			}
			return nil
		}
		if l.metrics != nil {
			if msg.Gone {
				l.metrics.StoreReceived("gone")
			} else {
				l.metrics.StoreReceived("data")
			}
		}
		router.Deliver(msg)
		return nil
	})
	l.markClosed()
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return cnst.ErrStoreLinkLost
	}
	return fmt.Errorf("%w: %w", cnst.ErrStoreLinkLost, err)
}

// Close shuts the connection down, which ends Run
func (l *Link) Close() error {
	err := l.conn.Close()
	l.markClosed()
	return err
}

func (l *Link) RemoteAddr() net.Addr {
	return l.conn.RemoteAddr()
}

func (l *Link) markClosed() {
	l.wmu.Lock()
	l.closed = true
	l.wmu.Unlock()
}
