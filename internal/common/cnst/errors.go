package cnst

import "errors"

var (
	// ErrAuth is returned when a bearer credential is missing or malformed
	ErrAuth = errors.New("authentication failed")
	// ErrProtocol is returned when a client frame has an unexpected shape or opcode
	ErrProtocol = errors.New("protocol error")
	// ErrStoreUnavailable is returned when no store link has been established
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStoreLinkLost is returned once the store link has terminated
	ErrStoreLinkLost = errors.New("store link lost")
	// ErrStoreLinkExists is returned when a second store connection is offered
	ErrStoreLinkExists = errors.New("store link already established")
	// ErrConnClosed is returned when sending on a closed client connection
	ErrConnClosed = errors.New("connection closed")
)
