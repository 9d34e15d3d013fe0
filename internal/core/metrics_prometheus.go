package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"forestcensus/pkg/domain"
)

// PrometheusMetricsRecorder exports service metrics to a Prometheus registry.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	synced     *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder creates the collectors and registers them on
// registry.
func NewPrometheusMetricsRecorder(registry prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	r := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forestcensus",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Service operations by name and outcome.",
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forestcensus",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
		synced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forestcensus",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Reconciled records by entity kind and outcome.",
		}, []string{"entity", "outcome"}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.duration, r.synced} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveSync implements SyncMetricsRecorder.
func (r *PrometheusMetricsRecorder) ObserveSync(_ context.Context, entity EntityType, outcome string, count int) {
	if count <= 0 {
		return
	}
	r.synced.WithLabelValues(string(entity), outcome).Add(float64(count))
}

var (
	plotCensusesDesc = prometheus.NewDesc(
		"forestcensus_plot_censuses",
		"Plot censuses by forest census and workflow status.",
		[]string{"forest_census_id", "status"}, nil)
	forestCensusesDesc = prometheus.NewDesc(
		"forestcensus_forest_censuses",
		"Forest censuses by status.",
		[]string{"status"}, nil)
	treesDesc = prometheus.NewDesc(
		"forestcensus_trees",
		"Trees known to the store.",
		nil, nil)
)

// CensusCollector reports workflow progress read from the store at scrape time.
type CensusCollector struct {
	store   domain.PersistentStore
	timeout time.Duration
}

// NewCensusCollector returns a collector reading from the service's store.
func NewCensusCollector(svc *Service) *CensusCollector {
	return &CensusCollector{store: svc.Store(), timeout: 5 * time.Second}
}

// Describe implements prometheus.Collector.
func (c *CensusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- plotCensusesDesc
	ch <- forestCensusesDesc
	ch <- treesDesc
}

// Collect implements prometheus.Collector.
func (c *CensusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	err := c.store.View(ctx, func(v domain.TransactionView) error {
		byCensus := make(map[[2]string]int)
		for _, pc := range v.ListPlotCensuses(domain.PlotCensusFilter{}) {
			byCensus[[2]string{pc.ForestCensusID, string(pc.Status)}]++
		}
		for key, n := range byCensus {
			ch <- prometheus.MustNewConstMetric(plotCensusesDesc, prometheus.GaugeValue, float64(n), key[0], key[1])
		}
		byStatus := make(map[domain.ForestCensusStatus]int)
		for _, fc := range v.ListForestCensuses() {
			byStatus[fc.Status]++
		}
		for status, n := range byStatus {
			ch <- prometheus.MustNewConstMetric(forestCensusesDesc, prometheus.GaugeValue, float64(n), string(status))
		}
		ch <- prometheus.MustNewConstMetric(treesDesc, prometheus.GaugeValue, float64(len(v.ListTrees(domain.TreeFilter{}))))
		return nil
	})
	if err != nil {
		ch <- prometheus.NewInvalidMetric(treesDesc, err)
	}
}
