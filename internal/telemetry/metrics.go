package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	DatagramsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "godiscover",
		Name:      "datagrams_sent_total",
		Help:      "Total number of UDP datagrams handed to the kernel.",
	})

	DatagramsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "godiscover",
		Name:      "datagrams_received_total",
		Help:      "Total number of UDP datagrams read from the socket.",
	})

	SendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "godiscover",
		Name:      "send_errors_total",
		Help:      "Per-destination send failures (best-effort UDP, swallowed).",
	})

	HellosSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "godiscover",
		Name:      "hellos_sent_total",
		Help:      "Hello datagrams emitted by the local instance.",
	})

	HellosReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "godiscover",
		Name:      "hellos_received_total",
		Help:      "Well-formed hello datagrams accepted from peers.",
	})

	PeersAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "godiscover",
		Name:      "peers_added_total",
		Help:      "Peer records created on first hello.",
	})

	PeersRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "godiscover",
		Name:      "peers_removed_total",
		Help:      "Peer records aged out by the check loop.",
	})

	Peers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "godiscover",
		Name:      "peers",
		Help:      "Peer records currently tracked.",
	})

	MastersObserved = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "godiscover",
		Name:      "masters_observed",
		Help:      "Remote masters counted on the last check pass.",
	})

	Promotions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "godiscover",
		Name:      "promotions_total",
		Help:      "Times the local instance promoted itself to master.",
	})

	Demotions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "godiscover",
		Name:      "demotions_total",
		Help:      "Times the local instance demoted itself.",
	})

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "godiscover",
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds.",
	}, func() float64 { return time.Since(startTime).Seconds() })
)

func init() {
	Registry.MustRegister(
		DatagramsSent, DatagramsReceived, SendErrors,
		HellosSent, HellosReceived,
		PeersAdded, PeersRemoved, Peers, MastersObserved,
		Promotions, Demotions, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
