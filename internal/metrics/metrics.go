// Package metrics exposes relay and HTTP metrics on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"GAINS-Bridge/internal/bridge"
	"GAINS-Bridge/internal/core/network"
)

const namespace = "gains_bridge"

type Prom struct {
	reg *prometheus.Registry

	RelayState        prometheus.Gauge
	ConnectFailures   prometheus.Counter
	Received          prometheus.Counter
	Forwarded         prometheus.Counter
	Dropped           *prometheus.CounterVec
	ReceiveErrors     prometheus.Counter
	PayloadBytes      prometheus.Histogram
	HTTPRequests      *prometheus.CounterVec
	HTTPResponseTime  prometheus.Histogram
	StreamSubscribers prometheus.Gauge
}

func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	p := &Prom{
		reg: reg,
		RelayState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "relay_state",
			Help: "Relay state code (0 disconnected, 1 connecting, 2 connected, 3 stopped)",
		}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_connect_failures_total", Help: "Failed subscribe attempts",
		}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_messages_received_total", Help: "Raw messages received",
		}),
		Forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_messages_forwarded_total", Help: "Messages broadcast to the host",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_messages_dropped_total", Help: "Received messages not broadcast, by reason",
		}, []string{"reason"}),
		ReceiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_receive_errors_total", Help: "Transport receive errors",
		}),
		PayloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "relay_payload_bytes", Help: "Size of received payloads",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "http requests by code, uri and method",
		}, []string{"code", "uri", "method"}),
		HTTPResponseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_response_time_seconds", Help: "http response time.",
			Buckets: []float64{0.005, 0.05, 0.5, 1, 5, 30},
		}),
		StreamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stream_subscribers", Help: "Open SSE and WebSocket listeners",
		}),
	}
	reg.MustRegister(
		p.RelayState, p.ConnectFailures, p.Received, p.Forwarded, p.Dropped,
		p.ReceiveErrors, p.PayloadBytes, p.HTTPRequests, p.HTTPResponseTime, p.StreamSubscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prom) Registry() *prometheus.Registry { return p.reg }

func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// Reporter returns a bridge.Reporter that feeds the relay collectors.
func (p *Prom) Reporter() bridge.Reporter { return relayReporter{p} }

type relayReporter struct{ p *Prom }

func (r relayReporter) StateChanged(_, to bridge.State, _ error) {
	r.p.RelayState.Set(float64(to))
}

func (r relayReporter) ConnectFailed(int, error) { r.p.ConnectFailures.Inc() }

func (r relayReporter) Forwarded(_ string, msg network.Message) {
	r.p.Received.Inc()
	r.p.Forwarded.Inc()
	r.p.PayloadBytes.Observe(float64(len(msg.Payload)))
}

func (r relayReporter) ReceiveFailed(error) { r.p.ReceiveErrors.Inc() }

func (r relayReporter) DecodeFailed(msg network.Message, _ error) {
	r.p.Received.Inc()
	r.p.PayloadBytes.Observe(float64(len(msg.Payload)))
	r.p.Dropped.WithLabelValues("decode").Inc()
}

func (r relayReporter) BroadcastFailed(string, error) {
	r.p.Received.Inc()
	r.p.Dropped.WithLabelValues("broadcast").Inc()
}
