package storelink

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/amoylab/coordinator/internal/registry"
	"github.com/amoylab/coordinator/internal/wire"
	"github.com/amoylab/coordinator/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingRouter struct {
	mu   sync.Mutex
	msgs []Inbound
	ch   chan struct{}
}

func newRecordingRouter() *recordingRouter {
	return &recordingRouter{ch: make(chan struct{}, 1024)}
}

func (r *recordingRouter) Deliver(msg Inbound) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recordingRouter) waitFor(t *testing.T, n int) []Inbound {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d of %d messages", i, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Inbound(nil), r.msgs...)
}

type harness struct {
	acceptor *Acceptor
	router   *recordingRouter
	addr     string
	cancel   context.CancelFunc
	done     chan error
}

func startAcceptor(t *testing.T, cfg config.StoreConfig) *harness {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := metrics.New(config.MetricsConfig{Namespace: "storelink_test", Buckets: []float64{0.1, 1}})
	h := &harness{
		acceptor: NewAcceptor(zap.NewNop(), cfg, m),
		router:   newRecordingRouter(),
		addr:     ln.Addr().String(),
		done:     make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.acceptor.Serve(ctx, ln, h.router) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) dialStore(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	select {
	case <-h.acceptor.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("link never became ready")
	}
	return conn
}

func defaultStoreConfig() config.StoreConfig {
	return config.StoreConfig{
		SessionIDByteOrder: config.BigEndian,
		InboundFormat:      cnst.InboundImplicit,
		ReadBufferSize:     512,
	}
}

func TestAcceptor_SendBeforeLink(t *testing.T) {
	h := startAcceptor(t, defaultStoreConfig())

	err := h.acceptor.SubscribeUser(1, "u1")
	assert.ErrorIs(t, err, cnst.ErrStoreUnavailable)
	assert.False(t, h.acceptor.Established())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = h.acceptor.Wait(ctx)
	assert.ErrorIs(t, err, cnst.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcceptor_RequestsReachStoreInOrder(t *testing.T) {
	h := startAcceptor(t, defaultStoreConfig())
	store := h.dialStore(t)
	require.NoError(t, h.acceptor.Wait(context.Background()))
	assert.True(t, h.acceptor.Established())

	big := bytes.Repeat([]byte{7}, 100000)
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- errors.Join(
			h.acceptor.NewState(10, "u1", big),
			h.acceptor.SubscribeUser(10, "u1"),
			h.acceptor.HandleUpdate(10, "u1", []byte("a")),
			h.acceptor.HandleUpdate(10, "u1", []byte("b")),
			h.acceptor.UnsubscribeUser(10, "u1"),
		)
	}()

	var got []Request
	errStop := errors.New("stop")
	_ = store.SetReadDeadline(time.Now().Add(5 * time.Second))
	err := wire.ReadFrames(store, wire.NewDecoder(0), 1000, func(frame []byte) error {
		req, err := DecodeRequest(binary.BigEndian, frame)
		if err != nil {
			return err
		}
		got = append(got, req)
		if len(got) == 5 {
			return errStop
		}
		return nil
	})
	require.ErrorIs(t, err, errStop)
	require.NoError(t, <-sendErr)

	ops := make([]Opcode, 0, len(got))
	for _, r := range got {
		ops = append(ops, r.Op)
		assert.Equal(t, registry.SessionID(10), r.Session)
		assert.Equal(t, registry.UserID("u1"), r.User)
	}
	assert.Equal(t, []Opcode{OpNewState, OpSubscribeUser, OpHandleUpdate, OpHandleUpdate, OpUnsubscribeUser}, ops)
	assert.True(t, bytes.Equal(big, got[0].Payload))
	assert.Equal(t, []byte("a"), got[2].Payload)
	assert.Equal(t, []byte("b"), got[3].Payload)
}

func TestAcceptor_InboundSplitAcrossWrites(t *testing.T) {
	h := startAcceptor(t, defaultStoreConfig())
	store := h.dialStore(t)

	var stream []byte
	stream = append(stream, EncodeInbound(cnst.InboundImplicit, binary.BigEndian, Inbound{Session: 1, User: "u1", Payload: []byte("first")})...)
	stream = append(stream, EncodeInbound(cnst.InboundImplicit, binary.BigEndian, Inbound{Session: 1, User: "u2", Payload: []byte("second")})...)
	stream = append(stream, EncodeInbound(cnst.InboundImplicit, binary.BigEndian, Inbound{Session: 1, User: "u1", Gone: true})...)
	for _, b := range stream {
		_, err := store.Write([]byte{b})
		require.NoError(t, err)
	}

	msgs := h.router.waitFor(t, 3)
	require.Len(t, msgs, 3)
	assert.Equal(t, []byte("first"), msgs[0].Payload)
	assert.Equal(t, registry.UserID("u2"), msgs[1].User)
	assert.Equal(t, []byte("second"), msgs[1].Payload)
	assert.True(t, msgs[2].Gone)
}

func TestAcceptor_TypedInbound(t *testing.T) {
	cfg := defaultStoreConfig()
	cfg.InboundFormat = cnst.InboundTyped
	cfg.SessionIDByteOrder = config.LittleEndian
	h := startAcceptor(t, cfg)
	store := h.dialStore(t)

	_, err := store.Write(EncodeInbound(cnst.InboundTyped, binary.LittleEndian, Inbound{Session: 5, User: "u", Gone: true}))
	require.NoError(t, err)

	msgs := h.router.waitFor(t, 1)
	assert.True(t, msgs[0].Gone)
	assert.Equal(t, registry.SessionID(5), msgs[0].Session)
}

func TestAcceptor_MalformedMessageDropped(t *testing.T) {
	h := startAcceptor(t, defaultStoreConfig())
	store := h.dialStore(t)

	// three bytes cannot hold a session id
	_, err := store.Write([]byte{0, 0, 0, 3, 1, 2, 3})
	require.NoError(t, err)
	_, err = store.Write(EncodeInbound(cnst.InboundImplicit, binary.BigEndian, Inbound{Session: 2, User: "u", Payload: []byte("ok")}))
	require.NoError(t, err)

	msgs := h.router.waitFor(t, 1)
	assert.Equal(t, []byte("ok"), msgs[0].Payload)
}

func TestAcceptor_SecondConnectionRefused(t *testing.T) {
	h := startAcceptor(t, defaultStoreConfig())
	_ = h.dialStore(t)

	second, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = second.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	assert.True(t, h.acceptor.Established())
}

func TestAcceptor_LinkLossIsTerminal(t *testing.T) {
	h := startAcceptor(t, defaultStoreConfig())
	store := h.dialStore(t)
	require.NoError(t, store.Close())

	select {
	case err := <-h.done:
		assert.True(t, IsLinkLost(err))
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after link loss")
	}

	err := h.acceptor.HandleUpdate(1, "u1", []byte("x"))
	assert.ErrorIs(t, err, cnst.ErrStoreUnavailable)
	assert.ErrorIs(t, err, cnst.ErrStoreLinkLost)
	assert.False(t, h.acceptor.Established())
}

func TestAcceptor_ContextCancelStopsCleanly(t *testing.T) {
	h := startAcceptor(t, defaultStoreConfig())
	_ = h.dialStore(t)
	h.cancel()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.ErrorIs(t, h.acceptor.SubscribeUser(1, "u"), cnst.ErrStoreUnavailable)
}
