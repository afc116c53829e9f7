package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	XMDSRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arexibo_xmds_requests_total",
			Help: "XMDS SOAP calls by call name and outcome",
		},
		[]string{"call", "result"}, // "ok", "fault", "transport"
	)

	XMDSDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arexibo_xmds_request_duration_seconds",
			Help:    "Duration of XMDS SOAP calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call"},
	)

	CollectCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arexibo_collect_cycles_total",
			Help: "Completed collection cycles by outcome",
		},
		[]string{"result"},
	)

	CollectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arexibo_collect_duration_seconds",
			Help:    "Duration of collection cycles in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	Downloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arexibo_downloads_total",
			Help: "Required file downloads by file type, transport and outcome",
		},
		[]string{"type", "via", "result"}, // via: "http", "xmds"
	)

	DownloadedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arexibo_downloaded_bytes_total",
			Help: "Bytes written to the resource cache",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arexibo_cache_entries",
			Help: "Entries in the content index",
		},
	)

	HTTPBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arexibo_http_breaker_open",
			Help: "1 while the direct HTTP download path is short-circuited",
		},
	)

	PushMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arexibo_push_messages_total",
			Help: "Push messages by outcome",
		},
		[]string{"result"}, // "accepted", "expired", "unsupported", "invalid"
	)

	DisplayClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arexibo_display_clients",
			Help: "Connected display event stream clients",
		},
	)
)

// ObserveXMDS records one SOAP call.
func ObserveXMDS(call, result string, started time.Time) {
	XMDSRequests.WithLabelValues(call, result).Inc()
	XMDSDuration.WithLabelValues(call).Observe(time.Since(started).Seconds())
}
