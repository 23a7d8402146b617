package cnst

// Websocket close codes sent to clients
const (
	CloseNormal          = 1000
	CloseProtocolError   = 1002
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
	CloseTryAgainLater   = 1013

	// CloseStateNotFound is sent to every connection of a session the store reports gone
	CloseStateNotFound = 4000
)

// Close reasons
const (
	ReasonStateNotFound    = "State not found"
	ReasonUnauthorized     = "Unauthorized"
	ReasonProtocolError    = "Protocol error"
	ReasonStoreUnavailable = "Store unavailable"
)
