package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/coordinator/internal/auth"
	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/amoylab/coordinator/internal/registry"
	"github.com/amoylab/coordinator/internal/wire"
	"github.com/amoylab/coordinator/pkg/metrics"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type call struct {
	op      string
	session registry.SessionID
	user    registry.UserID
	payload []byte
}

type fakeUpstream struct {
	mu     sync.Mutex
	calls  []call
	down   bool
	failOn string
}

func (f *fakeUpstream) record(op string, session registry.SessionID, user registry.UserID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || f.failOn == op {
		return cnst.ErrStoreUnavailable
	}
	f.calls = append(f.calls, call{op: op, session: session, user: user, payload: append([]byte(nil), payload...)})
	return nil
}

func (f *fakeUpstream) set(down bool, failOn string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down, f.failOn = down, failOn
}

func (f *fakeUpstream) Established() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.down
}

func (f *fakeUpstream) Wait(ctx context.Context) error {
	if f.Established() {
		return nil
	}
	<-ctx.Done()
	return errors.Join(cnst.ErrStoreUnavailable, ctx.Err())
}

func (f *fakeUpstream) NewState(s registry.SessionID, u registry.UserID, p []byte) error {
	return f.record("NEW_STATE", s, u, p)
}

func (f *fakeUpstream) SubscribeUser(s registry.SessionID, u registry.UserID) error {
	return f.record("SUBSCRIBE_USER", s, u, nil)
}

func (f *fakeUpstream) UnsubscribeUser(s registry.SessionID, u registry.UserID) error {
	return f.record("UNSUBSCRIBE_USER", s, u, nil)
}

func (f *fakeUpstream) HandleUpdate(s registry.SessionID, u registry.UserID, p []byte) error {
	return f.record("HANDLE_UPDATE", s, u, p)
}

func (f *fakeUpstream) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// waitCalls blocks until at least n store requests were recorded
func (f *fakeUpstream) waitCalls(t *testing.T, n int) []call {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if calls := f.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d store requests, got %v", n, f.snapshot())
	return nil
}

type testEnv struct {
	gateway  *Gateway
	server   *Server
	registry *registry.Registry
	upstream *fakeUpstream
	http     *httptest.Server
	order    binary.ByteOrder
}

func defaultGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Handshake:          cnst.HandshakeSingle,
		SessionIDByteOrder: config.BigEndian,
		ReadBufferSize:     1024,
		WriteBufferSize:    1024,
	}
}

func newTestEnv(t *testing.T, mutate func(*config.GatewayConfig)) *testEnv {
	t.Helper()
	cfg := defaultGatewayConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m := metrics.New(config.MetricsConfig{Namespace: "gateway_test", Buckets: []float64{0.1, 1}})
	reg := registry.New()
	up := &fakeUpstream{}
	gw := New(zap.NewNop(), cfg, reg, up, auth.NewUnsigned("."), nil, m)
	srv := NewServer(zap.NewNop(), cfg, config.MetricsConfig{Enabled: true, Path: "/metrics"}, gw, m)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{gateway: gw, server: srv, registry: reg, upstream: up, http: ts, order: cfg.SessionIDByteOrder.Order()}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/connect/app"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func tokenFor(t *testing.T, user string) string {
	t.Helper()
	tok, err := auth.NewUnsigned(".").Issue(auth.Identity{Type: auth.KindNickname, ID: user, Name: user})
	require.NoError(t, err)
	return tok
}

func (e *testEnv) createFrame(token string, payload []byte) []byte {
	return wire.NewWriter(e.order).Uint8(OpCreate).String(token).Raw(payload).Bytes()
}

func (e *testEnv) subscribeFrame(token string, session registry.SessionID) []byte {
	return wire.NewWriter(e.order).Uint8(OpSubscribe).String(token).Uint64(uint64(session)).Bytes()
}

// create runs a Create handshake and returns the announced session id
func (e *testEnv) create(t *testing.T, user string, payload []byte) (*websocket.Conn, registry.SessionID) {
	t.Helper()
	ws := e.dial(t)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, e.createFrame(tokenFor(t, user), payload)))
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	session, err := registry.ParseSessionID(string(data))
	require.NoError(t, err)
	return ws, session
}

// subscribe runs a Subscribe handshake and waits until the store saw it
func (e *testEnv) subscribe(t *testing.T, user string, session registry.SessionID) *websocket.Conn {
	t.Helper()
	before := len(e.upstream.snapshot())
	ws := e.dial(t)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, e.subscribeFrame(tokenFor(t, user), session)))
	e.upstream.waitCalls(t, before+1)
	return ws
}

func closeNormally(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()
}

// closeCode reads until the server closes and returns the close code
func closeCode(t *testing.T, ws *websocket.Conn) (int, string) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		return ce.Code, ce.Text
	}
}

func (e *testEnv) waitEmpty(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, c := e.registry.Counts()
		return s == 0 && c == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func ops(calls []call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.op)
	}
	return out
}
