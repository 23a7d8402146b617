package cnst

// Tracer names used across the services
const (
	// TraceGateway is the tracer name for the client gateway
	TraceGateway = "coordinator/gateway"
	// TraceStoreLink is the tracer name for the store link
	TraceStoreLink = "coordinator/storelink"
)
