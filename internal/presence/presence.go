// Package presence mirrors session membership to an external system so that other
// services can observe who is connected where. Mirroring is best-effort: failures are
// reported to the caller and never affect the session itself.
package presence

import (
	"context"
	"fmt"

	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/amoylab/coordinator/internal/registry"

	"go.uber.org/zap"
)

// Event kinds
const (
	KindSubscribed   = "subscribed"
	KindUnsubscribed = "unsubscribed"
	KindEvicted      = "evicted"
)

// Event is published for every membership change
type Event struct {
	Kind    string `json:"kind"`
	Session string `json:"session"`
	User    string `json:"user,omitempty"`
	At      int64  `json:"at"`
}

// Publisher receives membership transitions. Subscribed fires when a user gains its
// first connection in a session and Unsubscribed when it loses its last.
type Publisher interface {
	Subscribed(ctx context.Context, session registry.SessionID, user registry.UserID) error
	Unsubscribed(ctx context.Context, session registry.SessionID, user registry.UserID, sessionEmpty bool) error
	Evicted(ctx context.Context, session registry.SessionID) error
	Close() error
}

// New creates a publisher based on configuration
func New(ctx context.Context, logger *zap.Logger, cfg config.PresenceConfig) (Publisher, error) {
	logger.Info("Initializing presence mirror", zap.String("type", cfg.Type.String()))
	switch cfg.Type {
	case cnst.PresenceNone, "":
		return Noop{}, nil
	case cnst.PresenceRedis:
		return NewRedisPublisher(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported presence type: %s", cfg.Type)
	}
}

// Noop discards every event
type Noop struct{}

func (Noop) Subscribed(context.Context, registry.SessionID, registry.UserID) error { return nil }

func (Noop) Unsubscribed(context.Context, registry.SessionID, registry.UserID, bool) error {
	return nil
}

func (Noop) Evicted(context.Context, registry.SessionID) error { return nil }

func (Noop) Close() error { return nil }
