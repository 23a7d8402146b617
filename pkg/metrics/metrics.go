package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry     *prometheus.Registry
	namespace    string
	httpReqCnt   *prometheus.CounterVec
	httpDur      *prometheus.HistogramVec
	httpInfl     *prometheus.GaugeVec
	connections  prometheus.Gauge
	sessions     prometheus.Gauge
	storeSent    *prometheus.CounterVec
	storeRecv    *prometheus.CounterVec
	clientFrames prometheus.Counter
	rejected     *prometheus.CounterVec
	evictions    prometheus.Counter
	handshakeDur *prometheus.HistogramVec
	storeLinkUp  prometheus.Gauge
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	connections := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "client_connections"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "sessions"})
	clientFrames := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "client_frames_total"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "client_rejections_total"}, []string{"reason"})
	evictions := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "session_evictions_total"})
	handshakeDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "handshake_duration_seconds", Buckets: cfg.Buckets}, []string{"op"})
	r.MustRegister(connections, sessions, clientFrames, rejected, evictions, handshakeDur)

	storeSent := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "store_messages_sent_total"}, []string{"op"})
	storeRecv := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "store_messages_received_total"}, []string{"kind"})
	storeLinkUp := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "store_link_up"})
	r.MustRegister(storeSent, storeRecv, storeLinkUp)

	return &Metrics{
		registry:     r,
		namespace:    ns,
		httpReqCnt:   httpReqCnt,
		httpDur:      httpDur,
		httpInfl:     httpInfl,
		connections:  connections,
		sessions:     sessions,
		storeSent:    storeSent,
		storeRecv:    storeRecv,
		clientFrames: clientFrames,
		rejected:     rejected,
		evictions:    evictions,
		handshakeDur: handshakeDur,
		storeLinkUp:  storeLinkUp,
	}
}

// SetRegistrySize records the current number of live connections and sessions
func (m *Metrics) SetRegistrySize(sessions, connections int) {
	m.sessions.Set(float64(sessions))
	m.connections.Set(float64(connections))
}

func (m *Metrics) StoreSent(op string) {
	m.storeSent.WithLabelValues(op).Inc()
}

func (m *Metrics) StoreReceived(kind string) {
	m.storeRecv.WithLabelValues(kind).Inc()
}

func (m *Metrics) ClientFrame() {
	m.clientFrames.Inc()
}

func (m *Metrics) Rejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Evicted() {
	m.evictions.Inc()
}

func (m *Metrics) HandshakeDone(op string, since time.Time) {
	m.handshakeDur.WithLabelValues(op).Observe(time.Since(since).Seconds())
}

func (m *Metrics) SetStoreLinkUp(up bool) {
	if up {
		m.storeLinkUp.Set(1)
		return
	}
	m.storeLinkUp.Set(0)
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
