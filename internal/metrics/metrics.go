// Package metrics exports transfer metrics for a repository.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/dc-tec/s3-wagon/internal/transport"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// transfersTotal counts finished transfers by request type and outcome.
	transfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "s3wagon",
			Subsystem: "transfer",
			Name:      "total",
			Help:      "Total number of finished transfers",
		},
		[]string{"bucket", "request", "outcome"},
	)

	// transferDurationSeconds observes how long finished transfers took.
	transferDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "s3wagon",
			Subsystem: "transfer",
			Name:      "duration_seconds",
			Help:      "Duration of finished transfers in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"bucket", "request", "outcome"},
	)

	// transferBytesTotal counts bytes moved by successful transfers.
	transferBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "s3wagon",
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Total number of bytes moved by successful transfers",
		},
		[]string{"bucket", "request"},
	)

	// transfersInFlight tracks transfers that were initiated and have not finished.
	transfersInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "s3wagon",
			Subsystem: "transfer",
			Name:      "in_flight",
			Help:      "Number of transfers currently in progress",
		},
		[]string{"bucket", "request"},
	)

	// publishLastSuccessTimestamp is the Unix time of the last successful publish run.
	publishLastSuccessTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "s3wagon",
			Subsystem: "publish",
			Name:      "last_success_timestamp",
			Help:      "Unix timestamp of the last successful publish run",
		},
		[]string{"bucket"},
	)

	// publishConsecutiveFailures is the current number of failed publish runs in a row.
	publishConsecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "s3wagon",
			Subsystem: "publish",
			Name:      "consecutive_failures",
			Help:      "Current number of consecutive publish failures",
		},
		[]string{"bucket"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		transfersTotal,
		transferDurationSeconds,
		transferBytesTotal,
		transfersInFlight,
		publishLastSuccessTimestamp,
		publishConsecutiveFailures,
	)
}

// Metrics records transfer events for one bucket. It implements
// transport.Listener.
type Metrics struct {
	bucket string
}

var _ transport.Listener = (*Metrics)(nil)

// NewMetrics creates a Metrics instance for the given bucket.
func NewMetrics(bucket string) *Metrics {
	return &Metrics{bucket: bucket}
}

// TransferEvent implements transport.Listener.
func (m *Metrics) TransferEvent(e transport.Event) {
	req := string(e.Request)
	switch e.Type {
	case transport.EventInitiated:
		transfersInFlight.WithLabelValues(m.bucket, req).Inc()
	case transport.EventCompleted:
		m.finish(req, OutcomeSuccess, e)
		transferBytesTotal.WithLabelValues(m.bucket, req).Add(float64(e.Bytes))
	case transport.EventError:
		m.finish(req, OutcomeFailure, e)
	}
}

func (m *Metrics) finish(req, outcome string, e transport.Event) {
	transfersInFlight.WithLabelValues(m.bucket, req).Dec()
	transfersTotal.WithLabelValues(m.bucket, req, outcome).Inc()
	transferDurationSeconds.WithLabelValues(m.bucket, req, outcome).Observe(e.Duration.Seconds())
}

// RecordPublishSuccess records a successful publish run at unixTimestamp.
func (m *Metrics) RecordPublishSuccess(unixTimestamp float64) {
	publishLastSuccessTimestamp.WithLabelValues(m.bucket).Set(unixTimestamp)
	publishConsecutiveFailures.WithLabelValues(m.bucket).Set(0)
}

// RecordPublishFailure records a failed publish run.
func (m *Metrics) RecordPublishFailure() {
	publishConsecutiveFailures.WithLabelValues(m.bucket).Inc()
}

// Clear removes all series for this bucket.
func (m *Metrics) Clear() {
	for _, req := range []transport.RequestType{
		transport.RequestGet, transport.RequestPut, transport.RequestList, transport.RequestExists,
	} {
		for _, outcome := range []string{OutcomeSuccess, OutcomeFailure} {
			transfersTotal.DeleteLabelValues(m.bucket, string(req), outcome)
			transferDurationSeconds.DeleteLabelValues(m.bucket, string(req), outcome)
		}
		transferBytesTotal.DeleteLabelValues(m.bucket, string(req))
		transfersInFlight.DeleteLabelValues(m.bucket, string(req))
	}
	publishLastSuccessTimestamp.DeleteLabelValues(m.bucket)
	publishConsecutiveFailures.DeleteLabelValues(m.bucket)
}
