package prometheus

import (
	"context"
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/utkarsh5026/fetchpool/pool"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
	// ConstLabels are attached to every series, e.g. {"client": "ages"}.
	ConstLabels prom.Labels
}

// MetricsExporter adapts pool.Metrics to Prometheus collectors.
type MetricsExporter struct {
	attemptDurationSeconds *prom.HistogramVec
	itemDurationSeconds    *prom.HistogramVec
	itemsTotal             *prom.CounterVec
	retriesTotal           prom.Counter
	rateWaitSeconds        prom.Histogram
	inFlight               prom.Gauge
	queueDepth             prom.Gauge
}

var _ pool.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for pool.Metrics.
// Registering twice against the same registerer reuses the existing collectors.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "fetchpool"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	attemptVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace:   namespace,
		Name:        "fetch_attempt_duration_seconds",
		Help:        "Duration of individual fetch attempts in seconds.",
		Buckets:     buckets,
		ConstLabels: opts.ConstLabels,
	}, []string{"result"})
	itemVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace:   namespace,
		Name:        "item_duration_seconds",
		Help:        "Time from dequeue to terminal outcome per item, retries included.",
		Buckets:     buckets,
		ConstLabels: opts.ConstLabels,
	}, []string{"outcome"})
	itemsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "items_total",
		Help:        "Total number of items by terminal outcome.",
		ConstLabels: opts.ConstLabels,
	}, []string{"outcome"})
	retries := prom.NewCounter(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "retries_total",
		Help:        "Total number of fetch retries.",
		ConstLabels: opts.ConstLabels,
	})
	rateWait := prom.NewHistogram(prom.HistogramOpts{
		Namespace:   namespace,
		Name:        "rate_wait_seconds",
		Help:        "Time spent waiting for a call permit in seconds.",
		Buckets:     buckets,
		ConstLabels: opts.ConstLabels,
	})
	inFlight := prom.NewGauge(prom.GaugeOpts{
		Namespace:   namespace,
		Name:        "fetch_in_flight",
		Help:        "Fetch attempts currently awaited by workers.",
		ConstLabels: opts.ConstLabels,
	})
	queueDepth := prom.NewGauge(prom.GaugeOpts{
		Namespace:   namespace,
		Name:        "queue_depth",
		Help:        "Current work queue depth.",
		ConstLabels: opts.ConstLabels,
	})

	var err error
	if attemptVec, err = registerCollector(reg, attemptVec); err != nil {
		return nil, err
	}
	if itemVec, err = registerCollector(reg, itemVec); err != nil {
		return nil, err
	}
	if itemsVec, err = registerCollector(reg, itemsVec); err != nil {
		return nil, err
	}
	if retries, err = registerCollector(reg, retries); err != nil {
		return nil, err
	}
	if rateWait, err = registerCollector(reg, rateWait); err != nil {
		return nil, err
	}
	if inFlight, err = registerCollector(reg, inFlight); err != nil {
		return nil, err
	}
	if queueDepth, err = registerCollector(reg, queueDepth); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		attemptDurationSeconds: attemptVec,
		itemDurationSeconds:    itemVec,
		itemsTotal:             itemsVec,
		retriesTotal:           retries,
		rateWaitSeconds:        rateWait,
		inFlight:               inFlight,
		queueDepth:             queueDepth,
	}, nil
}

// AttemptStarted records the start of a fetch attempt.
func (m *MetricsExporter) AttemptStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// AttemptFinished records a fetch attempt's duration labelled by its result.
func (m *MetricsExporter) AttemptFinished(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.attemptDurationSeconds.WithLabelValues(resultLabel(err)).Observe(d.Seconds())
}

// ItemFinished records an item's terminal outcome.
func (m *MetricsExporter) ItemFinished(o pool.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	label := o.String()
	m.itemsTotal.WithLabelValues(label).Inc()
	m.itemDurationSeconds.WithLabelValues(label).Observe(d.Seconds())
}

// Retried records a retry.
func (m *MetricsExporter) Retried() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// RateWaited records time spent acquiring a call permit.
func (m *MetricsExporter) RateWaited(d time.Duration) {
	if m == nil {
		return
	}
	m.rateWaitSeconds.Observe(d.Seconds())
}

// QueueDepth records queue depth.
func (m *MetricsExporter) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pool.ErrFetchBadResponse):
		return "bad_response"
	case errors.Is(err, pool.ErrFetchPanic):
		return "panic"
	case errors.Is(err, pool.ErrFetchTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "transport"
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
