package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Expired token records linger this long before the janitor removes them, so
// an upgrade racing the purge still finds its record.
const tokenPurgeGrace = time.Minute

var (
	storedConnectionsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "connection_records_stored",
		Help: "The current number of stored connection records",
	})
	storedTokensMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "connection_token_records_stored",
		Help: "The current number of stored connection token records",
	})
	purgedTokensMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connection_token_records_purged_total",
		Help: "The total number of expired token records removed by the janitor",
	})
)
