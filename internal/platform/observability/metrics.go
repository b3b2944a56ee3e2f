package observability

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "orders"

// OrderMetrics exports order workflow counters to Prometheus. It satisfies services.OrderMetrics.
type OrderMetrics struct {
	operations      *prometheus.HistogramVec
	numberRetries   *prometheus.CounterVec
	stockRejections prometheus.Counter
}

// NewOrderMetrics registers the workflow collectors on reg. Collectors already registered on reg
// are reused so the constructor can run more than once per process.
func NewOrderMetrics(reg prometheus.Registerer) (*OrderMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &OrderMetrics{
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of order workflow operations by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"operation", "outcome"}),
		numberRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "order_number_retries_total",
			Help:      "Order number candidates skipped because they were already taken.",
		}, []string{"strategy"}),
		stockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stock_rejections_total",
			Help:      "Reservations rejected for insufficient stock.",
		}),
	}

	var err error
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}
	if m.numberRetries, err = register(reg, m.numberRetries); err != nil {
		return nil, err
	}
	if m.stockRejections, err = register(reg, m.stockRejections); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveOperation records the latency of one workflow operation.
func (m *OrderMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

// OrderNumberRetried counts a skipped order number candidate.
func (m *OrderMetrics) OrderNumberRetried(strategy string) {
	m.numberRetries.WithLabelValues(strategy).Inc()
}

// StockRejected counts a reservation rejected for insufficient stock.
func (m *OrderMetrics) StockRejected() {
	m.stockRejections.Inc()
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}

// PoolStatsCollector exposes pgxpool connection statistics.
type PoolStatsCollector struct {
	stat func() *pgxpool.Stat

	acquired     *prometheus.Desc
	idle         *prometheus.Desc
	total        *prometheus.Desc
	max          *prometheus.Desc
	acquireCount *prometheus.Desc
	acquireWait  *prometheus.Desc
	emptyAcquire *prometheus.Desc
}

// NewPoolStatsCollector returns a collector reading pool.Stat on every scrape.
func NewPoolStatsCollector(pool *pgxpool.Pool) *PoolStatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "pgxpool", name), help, nil, nil)
	}
	return &PoolStatsCollector{
		stat:         pool.Stat,
		acquired:     desc("acquired_conns", "Connections currently checked out."),
		idle:         desc("idle_conns", "Idle connections in the pool."),
		total:        desc("total_conns", "Connections currently open."),
		max:          desc("max_conns", "Configured maximum pool size."),
		acquireCount: desc("acquire_total", "Successful connection acquisitions."),
		acquireWait:  desc("acquire_duration_seconds_total", "Cumulative time spent acquiring connections."),
		emptyAcquire: desc("empty_acquire_total", "Acquisitions that had to wait for a connection."),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.acquired, c.idle, c.total, c.max, c.acquireCount, c.acquireWait, c.emptyAcquire} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(s.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireWait, prometheus.CounterValue, s.AcquireDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
}
