package audit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var droppedEventsMetric = promauto.NewCounter(prometheus.CounterOpts{
	Name: "audit_events_dropped_total",
	Help: "The total number of audit events dropped because the buffer was full",
})

// Sender delivers audit events to a backend.
type Sender interface {
	SendBatch(context.Context, []Event) error
}

// Collector drains the ring buffer and forwards batches to a sender.
type Collector struct {
	collector     *RingCollector
	sender        Sender
	flushInterval time.Duration
}

func NewCollector(collector *RingCollector, sender Sender, flushInterval time.Duration) *Collector {
	return &Collector{
		collector:     collector,
		sender:        sender,
		flushInterval: flushInterval,
	}
}

// Run starts draining until the context is canceled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.collector.Notify():
		case <-ticker.C:
		}

		events := c.collector.PopAll()
		if len(events) == 0 {
			continue
		}
		if err := c.sender.SendBatch(ctx, events); err != nil {
			logrus.WithError(err).Warn("audit: failed to publish batch")
		}
	}
}
