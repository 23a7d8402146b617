// Package gateway accepts client websocket connections and runs the per-connection session
// state machine. It is the only component that mutates the connections registry and the
// only one that issues store requests; a single mutex orders both against inbound store
// messages.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amoylab/coordinator/internal/auth"
	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/amoylab/coordinator/internal/presence"
	"github.com/amoylab/coordinator/internal/registry"
	"github.com/amoylab/coordinator/internal/storelink"
	"github.com/amoylab/coordinator/pkg/metrics"
	"github.com/amoylab/coordinator/pkg/trace"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Upstream is the store side of the gateway
type Upstream interface {
	Established() bool
	Wait(ctx context.Context) error
	NewState(session registry.SessionID, user registry.UserID, payload []byte) error
	SubscribeUser(session registry.SessionID, user registry.UserID) error
	UnsubscribeUser(session registry.SessionID, user registry.UserID) error
	HandleUpdate(session registry.SessionID, user registry.UserID, payload []byte) error
}

// Gateway owns the registry and serializes every mutation and store send
type Gateway struct {
	logger   *zap.Logger
	cfg      config.GatewayConfig
	order    binary.ByteOrder
	registry *registry.Registry
	upstream Upstream
	auth     auth.Authenticator
	presence presence.Publisher
	metrics  *metrics.Metrics
	tracer   *trace.Builder

	mu sync.Mutex
}

// New creates a gateway. pub and m may be nil.
func New(logger *zap.Logger, cfg config.GatewayConfig, reg *registry.Registry, up Upstream,
	a auth.Authenticator, pub presence.Publisher, m *metrics.Metrics) *Gateway {
	if pub == nil {
		pub = presence.Noop{}
	}
	return &Gateway{
		logger:   logger.Named("gateway"),
		cfg:      cfg,
		order:    cfg.SessionIDByteOrder.Order(),
		registry: reg,
		upstream: up,
		auth:     a,
		presence: pub,
		metrics:  m,
		tracer:   trace.Tracer(cnst.TraceGateway),
	}
}

// Deliver routes one inbound store message. An empty payload evicts the whole session.
func (g *Gateway) Deliver(msg storelink.Inbound) {
	g.mu.Lock()
	if !msg.Gone {
		for _, conn := range g.registry.Lookup(msg.Session, msg.User) {
			if err := conn.Send(msg.Payload); err != nil {
				g.logger.Debug("dropping update for closed connection",
					zap.String("conn", conn.ID()), zap.Error(err))
			}
		}
		g.mu.Unlock()
		return
	}

	for _, user := range g.registry.Users(msg.Session) {
		for _, conn := range g.registry.Lookup(msg.Session, user) {
			if c, ok := conn.(*wsConn); ok {
				c.active = false
			}
		}
	}
	n := g.registry.EvictSession(msg.Session, cnst.CloseStateNotFound, cnst.ReasonStateNotFound)
	g.recordSize()
	g.mu.Unlock()

	if n == 0 {
		g.logger.Debug("store reported unknown session gone", zap.Stringer("session", msg.Session))
		return
	}
	g.logger.Info("session evicted", zap.Stringer("session", msg.Session), zap.Int("connections", n))
	if g.metrics != nil {
		g.metrics.Evicted()
	}
	g.mirror(func(ctx context.Context) error { return g.presence.Evicted(ctx, msg.Session) })
}

// admit runs the entry transition for a connection that passed authentication
func (g *Gateway) admit(ctx context.Context, c *wsConn, user registry.UserID, e entry) (registry.SessionID, error) {
	span := g.tracer.Start(ctx, "gateway."+e.name()).WithAttrs(
		attribute.String("user", string(user)),
		attribute.String("conn", c.id),
	)
	defer span.End()

	g.mu.Lock()
	session := e.session
	if e.op == OpCreate {
		session = g.drawSessionID()
	}
	first := g.registry.Register(session, user, c)
	c.active = true

	var err error
	if e.op == OpCreate {
		err = g.upstream.NewState(session, user, e.payload)
	}
	if err == nil {
		err = g.upstream.SubscribeUser(session, user)
	}
	if err != nil {
		c.active = false
		g.registry.Deregister(session, user, c)
		g.recordSize()
		g.mu.Unlock()
		span.Fail(err)
		return 0, err
	}
	if e.op == OpCreate {
		_ = c.SendText(session.String())
	}
	g.recordSize()
	g.mu.Unlock()

	span.WithAttrs(attribute.String("session", session.String()))
	if first {
		g.mirror(func(ctx context.Context) error { return g.presence.Subscribed(ctx, session, user) })
	}
	return session, nil
}

// forward relays one client frame to the store. Frames from a connection that has been
// evicted are dropped.
func (g *Gateway) forward(c *wsConn, session registry.SessionID, user registry.UserID, payload []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !c.active {
		return nil
	}
	if g.metrics != nil {
		g.metrics.ClientFrame()
	}
	return g.upstream.HandleUpdate(session, user, payload)
}

// release deregisters a connection once. UNSUBSCRIBE_USER is sent when the user has no
// connection left in the session.
func (g *Gateway) release(c *wsConn, session registry.SessionID, user registry.UserID) {
	g.mu.Lock()
	if !c.active {
		g.mu.Unlock()
		return
	}
	c.active = false
	ripple := g.registry.Deregister(session, user, c)
	if ripple.UserEmpty {
		if err := g.upstream.UnsubscribeUser(session, user); err != nil {
			g.logger.Warn("failed to unsubscribe user",
				zap.Stringer("session", session), zap.String("user", string(user)), zap.Error(err))
		}
	}
	g.recordSize()
	g.mu.Unlock()

	if ripple.UserEmpty {
		g.mirror(func(ctx context.Context) error {
			return g.presence.Unsubscribed(ctx, session, user, ripple.SessionEmpty)
		})
	}
}

// CreateState announces a new session on behalf of an HTTP caller without registering
// any connection.
func (g *Gateway) CreateState(ctx context.Context, token string, payload []byte) (registry.SessionID, error) {
	span := g.tracer.Start(ctx, "gateway.create_http")
	defer span.End()

	user, err := g.auth.Verify(token)
	if err != nil {
		span.Fail(err)
		return 0, err
	}

	g.mu.Lock()
	session := g.drawSessionID()
	err = g.upstream.NewState(session, user, payload)
	g.mu.Unlock()
	if err != nil {
		span.Fail(err)
		return 0, err
	}
	span.WithAttrs(attribute.String("session", session.String()), attribute.String("user", string(user)))
	return session, nil
}

// Issue returns a credential for id
func (g *Gateway) Issue(id auth.Identity) (string, error) {
	return g.auth.Issue(id)
}

// awaitStore blocks until the store link is usable or the configured wait elapses
func (g *Gateway) awaitStore(ctx context.Context) error {
	if g.upstream.Established() {
		return nil
	}
	if g.cfg.StoreWaitTimeout <= 0 {
		return cnst.ErrStoreUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.StoreWaitTimeout)
	defer cancel()
	return g.upstream.Wait(ctx)
}

// drawSessionID returns a uniformly random id not present in the registry. Callers hold g.mu.
func (g *Gateway) drawSessionID() registry.SessionID {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
		}
		id := registry.SessionID(binary.BigEndian.Uint64(b[:]))
		if !g.registry.Has(id) {
			return id
		}
	}
}

func (g *Gateway) recordSize() {
	if g.metrics != nil {
		g.metrics.SetRegistrySize(g.registry.Counts())
	}
}

// mirror forwards a membership change to the presence publisher outside the lock
func (g *Gateway) mirror(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		g.logger.Warn("presence update failed", zap.Error(err))
	}
}

// closeFor maps a session error to a websocket close code and reason
func closeFor(err error) (int, string) {
	switch {
	case errors.Is(err, cnst.ErrAuth):
		return cnst.ClosePolicyViolation, cnst.ReasonUnauthorized
	case errors.Is(err, cnst.ErrProtocol):
		return cnst.CloseProtocolError, cnst.ReasonProtocolError
	case errors.Is(err, cnst.ErrStoreUnavailable):
		return cnst.CloseTryAgainLater, cnst.ReasonStoreUnavailable
	default:
		return cnst.CloseInternalError, "Internal error"
	}
}

// isNormalClose reports whether a read error is an orderly client departure
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
