package config

import (
	"fmt"
	"strings"

	"github.com/amoylab/coordinator/internal/common/cnst"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid configuration")
	sb.WriteString("\n\n")
	for _, p := range e.Problems {
		sb.WriteString("--> ")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Validate checks enumerated settings and cross-field requirements
func (c *CoordinatorConfig) Validate() error {
	var problems []string

	switch c.Gateway.Handshake {
	case cnst.HandshakeSingle, cnst.HandshakeSplit:
	default:
		problems = append(problems, fmt.Sprintf("gateway.handshake: unsupported mode %q", c.Gateway.Handshake))
	}
	problems = append(problems, validateByteOrder("gateway.session_id_byte_order", c.Gateway.SessionIDByteOrder)...)
	if (c.Gateway.TLS.CertFile == "") != (c.Gateway.TLS.KeyFile == "") {
		problems = append(problems, "gateway.tls: cert_file and key_file must be set together")
	}
	if c.Gateway.StoreWaitTimeout < 0 {
		problems = append(problems, "gateway.store_wait_timeout: must not be negative")
	}

	switch c.Store.InboundFormat {
	case cnst.InboundImplicit, cnst.InboundTyped:
	default:
		problems = append(problems, fmt.Sprintf("store.inbound_format: unsupported format %q", c.Store.InboundFormat))
	}
	problems = append(problems, validateByteOrder("store.session_id_byte_order", c.Store.SessionIDByteOrder)...)
	if c.Store.MaxFrameSize < 0 {
		problems = append(problems, "store.max_frame_size: must not be negative")
	}

	switch c.Auth.Mode {
	case cnst.AuthModeUnsigned:
	case cnst.AuthModeJWT:
		if len(c.Auth.JWT.SecretKey) < 32 {
			problems = append(problems, "auth.jwt.secret_key: must be at least 32 characters")
		}
	default:
		problems = append(problems, fmt.Sprintf("auth.mode: unsupported mode %q", c.Auth.Mode))
	}

	switch c.Presence.Type {
	case cnst.PresenceNone:
	case cnst.PresenceRedis:
		if c.Presence.Redis.Addr == "" {
			problems = append(problems, "presence.redis.addr: required when presence.type is redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("presence.type: unsupported type %q", c.Presence.Type))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateByteOrder(field string, o ByteOrder) []string {
	switch o {
	case BigEndian, LittleEndian:
		return nil
	}
	return []string{fmt.Sprintf("%s: unsupported byte order %q", field, o)}
}
