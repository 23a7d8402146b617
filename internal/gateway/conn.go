package gateway

import (
	"sync"
	"time"

	"github.com/amoylab/coordinator/internal/common/cnst"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const closeWriteWait = time.Second

type outbound struct {
	kind   int
	data   []byte
	close  bool
	code   int
	reason string
}

// wsConn is one client socket. Writes go through an unbounded FIFO drained by a
// dedicated goroutine, so Send and Close never block the caller.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.Queue
	closing bool
	stopped bool
	done    chan struct{}

	// guarded by Gateway.mu
	active bool
}

func newConn(ws *websocket.Conn, logger *zap.Logger) *wsConn {
	id := uuid.NewString()
	c := &wsConn{
		id:      id,
		ws:      ws,
		logger:  logger.With(zap.String("conn", id), zap.String("remote", ws.RemoteAddr().String())),
		pending: queue.New(),
		done:    make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.writeLoop()
	return c
}

func (c *wsConn) ID() string {
	return c.id
}

// Send queues a binary frame
func (c *wsConn) Send(b []byte) error {
	return c.enqueue(outbound{kind: websocket.BinaryMessage, data: b})
}

// SendText queues a text frame
func (c *wsConn) SendText(s string) error {
	return c.enqueue(outbound{kind: websocket.TextMessage, data: []byte(s)})
}

// Close queues a close frame behind everything already queued. Later sends fail.
func (c *wsConn) Close(code int, reason string) error {
	return c.enqueue(outbound{close: true, code: code, reason: reason})
}

func (c *wsConn) enqueue(msg outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || c.stopped {
		return cnst.ErrConnClosed
	}
	if msg.close {
		c.closing = true
	}
	c.pending.Add(msg)
	c.cond.Signal()
	return nil
}

// stop discards anything still queued and ends the writer
func (c *wsConn) stop() {
	c.mu.Lock()
	c.stopped = true
	c.cond.Signal()
	c.mu.Unlock()
}

// wait blocks until the writer has exited
func (c *wsConn) wait() {
	<-c.done
}

func (c *wsConn) writeLoop() {
	defer close(c.done)
	defer c.ws.Close()

	for {
		c.mu.Lock()
		for c.pending.Length() == 0 && !c.stopped {
			c.cond.Wait()
		}
		if c.stopped {
			c.mu.Unlock()
			return
		}
		msg := c.pending.Remove().(outbound)
		c.mu.Unlock()

		if msg.close {
			err := c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(msg.code, msg.reason), time.Now().Add(closeWriteWait))
			if err != nil {
				c.logger.Debug("failed to write close frame", zap.Error(err))
			}
			c.stop()
			return
		}
		if err := c.ws.WriteMessage(msg.kind, msg.data); err != nil {
			c.logger.Debug("failed to write client frame", zap.Error(err))
			c.stop()
			return
		}
	}
}
