package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/registry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// serveConn runs one client connection from the first frame to its close
func (g *Gateway) serveConn(ctx context.Context, ws *websocket.Conn) {
	c := newConn(ws, g.logger)
	defer c.wait()

	start := time.Now()
	session, user, op, err := g.handshake(ctx, c)
	if err != nil {
		g.reject(c, err)
		return
	}
	if g.metrics != nil {
		g.metrics.HandshakeDone(op, start)
	}
	c.logger.Info("client joined session",
		zap.Stringer("session", session), zap.String("user", string(user)), zap.String("op", op))

	err = g.readLoop(c, session, user)
	g.release(c, session, user)
	if err != nil {
		code, reason := closeFor(err)
		c.logger.Info("closing client connection", zap.Int("code", code), zap.Error(err))
		if g.metrics != nil {
			g.metrics.Rejected(reason)
		}
		_ = c.Close(code, reason)
		return
	}
	c.logger.Debug("client left session", zap.Stringer("session", session))
	c.stop()
}

// handshake authenticates the client and enters a session
func (g *Gateway) handshake(ctx context.Context, c *wsConn) (registry.SessionID, registry.UserID, string, error) {
	frame, err := readBinary(c.ws)
	if err != nil {
		return 0, "", "", err
	}

	var e entry
	switch g.cfg.Handshake {
	case cnst.HandshakeSplit:
		token, err := parseToken(g.order, frame)
		if err != nil {
			return 0, "", "", err
		}
		user, err := g.auth.Verify(token)
		if err != nil {
			return 0, "", "", err
		}
		if frame, err = readBinary(c.ws); err != nil {
			return 0, "", "", err
		}
		if e, err = parseSelection(g.order, frame); err != nil {
			return 0, "", "", err
		}
		session, err := g.admit(ctx, c, user, e)
		return session, user, e.name(), err
	default:
		if e, err = parseSingle(g.order, frame); err != nil {
			return 0, "", "", err
		}
		user, err := g.auth.Verify(e.token)
		if err != nil {
			return 0, "", "", err
		}
		session, err := g.admit(ctx, c, user, e)
		return session, user, e.name(), err
	}
}

// readLoop forwards every binary frame to the store until the client goes away. A nil
// return means the client closed the connection.
func (g *Gateway) readLoop(c *wsConn, session registry.SessionID, user registry.UserID) error {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if !isNormalClose(err) {
				c.logger.Debug("client read ended", zap.Error(err))
			}
			return nil
		}
		if kind != websocket.BinaryMessage {
			return fmt.Errorf("%w: unexpected message type %d", cnst.ErrProtocol, kind)
		}
		if err := g.forward(c, session, user, data); err != nil {
			return err
		}
	}
}

// reject closes a connection that failed before entering a session
func (g *Gateway) reject(c *wsConn, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, errReadFailed) {
		c.logger.Debug("client left during handshake", zap.Error(err))
		c.stop()
		return
	}
	code, reason := closeFor(err)
	c.logger.Info("rejecting client", zap.Int("code", code), zap.Error(err))
	if g.metrics != nil {
		g.metrics.Rejected(reason)
	}
	_ = c.Close(code, reason)
}

var errReadFailed = errors.New("client read failed")

func readBinary(ws *websocket.Conn) ([]byte, error) {
	kind, data, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errReadFailed, err)
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: handshake frame must be binary", cnst.ErrProtocol)
	}
	return data, nil
}
