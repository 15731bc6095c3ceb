// Package metrics provides Prometheus metrics for the ratlocker server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry for all ratlocker metrics.
var Registry = prometheus.NewRegistry()

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// ServerMetrics holds all Prometheus metrics for the file server.
type ServerMetrics struct {
	UploadsTotal   prometheus.Counter
	UploadBytes    prometheus.Counter
	UploadErrors   *prometheus.CounterVec // labels: reason
	DownloadsTotal prometheus.Counter
	DownloadBytes  prometheus.Counter
	KeyDenials     prometheus.Counter
	ReconcileAdded prometheus.Counter

	FilesRegistered  prometheus.Gauge
	KeysConfigured   prometheus.Gauge
	RequestsInFlight prometheus.Gauge
}

// InitMetrics initializes all server metrics on the shared registry.
func InitMetrics() *ServerMetrics {
	return &ServerMetrics{
		UploadsTotal: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "ratlocker_uploads_total",
			Help: "Total files successfully uploaded",
		}),
		UploadBytes: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "ratlocker_upload_bytes_total",
			Help: "Total bytes accepted through uploads",
		}),
		UploadErrors: promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ratlocker_upload_errors_total",
			Help: "Upload failures by reason",
		}, []string{"reason"}),
		DownloadsTotal: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "ratlocker_downloads_total",
			Help: "Total download requests served",
		}),
		DownloadBytes: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "ratlocker_download_bytes_total",
			Help: "Total bytes streamed to downloaders",
		}),
		KeyDenials: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "ratlocker_key_denials_total",
			Help: "Requests rejected for an invalid or exhausted upload key",
		}),
		ReconcileAdded: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name: "ratlocker_reconcile_added_total",
			Help: "Files registered by reconciliation passes",
		}),
		FilesRegistered: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name: "ratlocker_files_registered",
			Help: "Files currently in the inventory",
		}),
		KeysConfigured: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name: "ratlocker_keys_configured",
			Help: "Upload keys currently in the key table",
		}),
		RequestsInFlight: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name: "ratlocker_requests_in_flight",
			Help: "HTTP requests currently being served",
		}),
	}
}
