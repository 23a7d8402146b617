package storelink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/amoylab/coordinator/internal/registry"
	"github.com/amoylab/coordinator/pkg/metrics"

	"go.uber.org/zap"
)

// Acceptor owns the store listener. The first accepted connection becomes the link;
// later connections are refused while it lives, and its loss is terminal.
type Acceptor struct {
	logger  *zap.Logger
	cfg     config.StoreConfig
	metrics *metrics.Metrics

	mu    sync.RWMutex
	link  *Link
	lost  bool
	ready chan struct{}
}

// NewAcceptor creates an acceptor. m may be nil.
func NewAcceptor(logger *zap.Logger, cfg config.StoreConfig, m *metrics.Metrics) *Acceptor {
	return &Acceptor{
		logger:  logger.Named("storelink"),
		cfg:     cfg,
		metrics: m,
		ready:   make(chan struct{}),
	}
}

// Serve accepts store connections on ln until ctx is done, the listener fails or the
// link is lost. Link loss is returned wrapped in cnst.ErrStoreLinkLost.
func (a *Acceptor) Serve(ctx context.Context, ln net.Listener, router Router) error {
	errCh := make(chan error, 2)
	report := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				report(fmt.Errorf("accept store connection: %w", err))
				return
			}
			link, err := a.install(conn)
			if err != nil {
				a.logger.Warn("refusing store connection",
					zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
				_ = conn.Close()
				continue
			}
			go func() {
				err := link.Run(router)
				a.markLost()
				report(err)
			}()
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	_ = ln.Close()
	a.shutdown()
	if err != nil {
		a.logger.Error("store acceptor stopped", zap.Error(err))
	}
	return err
}

func (a *Acceptor) install(conn net.Conn) (*Link, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.link != nil || a.lost {
		return nil, cnst.ErrStoreLinkExists
	}
	a.link = NewLink(a.logger, conn, a.cfg, a.metrics)
	close(a.ready)
	if a.metrics != nil {
		a.metrics.SetStoreLinkUp(true)
	}
	a.logger.Info("store link established", zap.String("remote", conn.RemoteAddr().String()))
	return a.link, nil
}

func (a *Acceptor) markLost() {
	a.mu.Lock()
	a.lost = true
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.SetStoreLinkUp(false)
	}
}

func (a *Acceptor) shutdown() {
	a.mu.Lock()
	link := a.link
	a.lost = true
	a.mu.Unlock()
	if link != nil {
		_ = link.Close()
	}
}

// Ready is closed once the link is established
func (a *Acceptor) Ready() <-chan struct{} {
	return a.ready
}

// Established reports whether a usable link exists right now
func (a *Acceptor) Established() bool {
	_, err := a.Current()
	return err == nil
}

// Wait blocks until the link is established or ctx is done
func (a *Acceptor) Wait(ctx context.Context) error {
	select {
	case <-a.ready:
		_, err := a.Current()
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", cnst.ErrStoreUnavailable, ctx.Err())
	}
}

// Current returns the live link
func (a *Acceptor) Current() (*Link, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch {
	case a.lost:
		return nil, fmt.Errorf("%w: %w", cnst.ErrStoreUnavailable, cnst.ErrStoreLinkLost)
	case a.link == nil:
		return nil, cnst.ErrStoreUnavailable
	}
	return a.link, nil
}

func (a *Acceptor) NewState(session registry.SessionID, user registry.UserID, payload []byte) error {
	link, err := a.Current()
	if err != nil {
		return err
	}
	return link.NewState(session, user, payload)
}

func (a *Acceptor) SubscribeUser(session registry.SessionID, user registry.UserID) error {
	link, err := a.Current()
	if err != nil {
		return err
	}
	return link.SubscribeUser(session, user)
}

func (a *Acceptor) UnsubscribeUser(session registry.SessionID, user registry.UserID) error {
	link, err := a.Current()
	if err != nil {
		return err
	}
	return link.UnsubscribeUser(session, user)
}

func (a *Acceptor) HandleUpdate(session registry.SessionID, user registry.UserID, payload []byte) error {
	link, err := a.Current()
	if err != nil {
		return err
	}
	return link.HandleUpdate(session, user, payload)
}

// IsLinkLost reports whether err marks the end of the store link
func IsLinkLost(err error) bool {
	return errors.Is(err, cnst.ErrStoreLinkLost)
}
