package app

import (
	client_prometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/morrigan-server/morrigan/internal"
)

var (
	HealthMetric = client_prometheus.NewGauge(client_prometheus.GaugeOpts{
		Name: "morrigan_health_status",
		Help: "Health status of the server (1 = healthy, 0 = unhealthy)",
	})

	ReadyMetric = client_prometheus.NewGauge(client_prometheus.GaugeOpts{
		Name: "morrigan_ready_status",
		Help: "Ready status of the server (1 = ready, 0 = not ready)",
	})

	VersionMetric = client_prometheus.NewGaugeVec(client_prometheus.GaugeOpts{
		Name: "morrigan_version_info",
		Help: "Version information of the server",
	}, []string{"version"})
)

// InitMetrics registers all Prometheus metrics and sets version info
func InitMetrics() {
	client_prometheus.MustRegister(HealthMetric)
	client_prometheus.MustRegister(ReadyMetric)
	client_prometheus.MustRegister(VersionMetric)
	VersionMetric.WithLabelValues(internal.ServerVersionRevision).Set(1)
}
