package cnst

// HandshakeMode selects how a client announces its credential and session
type HandshakeMode string

const (
	// HandshakeSingle carries credential and session selection in the first frame
	HandshakeSingle HandshakeMode = "single"
	// HandshakeSplit carries the credential first and the session selection second
	HandshakeSplit HandshakeMode = "split"
)

// AuthMode selects how bearer credentials are verified
type AuthMode string

const (
	// AuthModeUnsigned trusts the id field of an unsigned base64 JSON segment
	AuthModeUnsigned AuthMode = "unsigned"
	// AuthModeJWT verifies an HS256 signature before reading the id claim
	AuthModeJWT AuthMode = "jwt"
)

// InboundFormat selects the layout of store-to-coordinator messages
type InboundFormat string

const (
	// InboundImplicit frames carry session, user and payload with no opcode
	InboundImplicit InboundFormat = "implicit"
	// InboundTyped frames lead with an opcode: 0 data, 1 state not found
	InboundTyped InboundFormat = "typed"
)

// PresenceType selects the presence publisher backend
type PresenceType string

const (
	PresenceNone  PresenceType = "none"
	PresenceRedis PresenceType = "redis"
)

func (m HandshakeMode) String() string { return string(m) }

func (m AuthMode) String() string { return string(m) }

func (f InboundFormat) String() string { return string(f) }

func (p PresenceType) String() string { return string(p) }
