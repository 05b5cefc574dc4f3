package streamsync

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes scheduler and connection state to Prometheus.
// Values are read from Scheduler.Snapshot on every scrape.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(streamsync.NewCollector(s))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
type Collector struct {
	scheduler *Scheduler

	queueDepth     *prometheus.Desc
	queueBytes     *prometheus.Desc
	inFlight       *prometheus.Desc
	capacityCount  *prometheus.Desc
	capacityBytes  *prometheus.Desc
	enqueued       *prometheus.Desc
	rejected       *prometheus.Desc
	processorState *prometheus.Desc
	invocations    *prometheus.Desc
	faults         *prometheus.Desc
	backpressured  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Prometheus collector for s.
func NewCollector(s *Scheduler) *Collector {
	connLabels := []string{"connection", "source", "destination", "relationship"}
	procLabels := []string{"processor"}
	return &Collector{
		scheduler: s,
		queueDepth: prometheus.NewDesc("streamsync_connection_queued",
			"FlowFiles currently queued on a connection.", connLabels, nil),
		queueBytes: prometheus.NewDesc("streamsync_connection_queued_bytes",
			"Aggregate content size queued on a connection.", connLabels, nil),
		inFlight: prometheus.NewDesc("streamsync_connection_in_flight",
			"FlowFiles claimed from a connection by an active session.", connLabels, nil),
		capacityCount: prometheus.NewDesc("streamsync_connection_capacity",
			"Maximum FlowFile count of a connection (0 = unbounded).", connLabels, nil),
		capacityBytes: prometheus.NewDesc("streamsync_connection_capacity_bytes",
			"Maximum aggregate content size of a connection (0 = unbounded).", connLabels, nil),
		enqueued: prometheus.NewDesc("streamsync_connection_enqueued_total",
			"FlowFiles ever admitted to a connection.", connLabels, nil),
		rejected: prometheus.NewDesc("streamsync_connection_rejected_total",
			"Admissions refused by a connection.", connLabels, nil),
		processorState: prometheus.NewDesc("streamsync_processor_state",
			"1 for the processor's current scheduling state, 0 otherwise.",
			[]string{"processor", "state"}, nil),
		invocations: prometheus.NewDesc("streamsync_processor_invocations_total",
			"Invocations of a processor.", procLabels, nil),
		faults: prometheus.NewDesc("streamsync_processor_faults_total",
			"Invocations that quarantined a processor.", procLabels, nil),
		backpressured: prometheus.NewDesc("streamsync_processor_backpressure_total",
			"Invocations rolled back by backpressure.", procLabels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.queueBytes
	ch <- c.inFlight
	ch <- c.capacityCount
	ch <- c.capacityBytes
	ch <- c.enqueued
	ch <- c.rejected
	ch <- c.processorState
	ch <- c.invocations
	ch <- c.faults
	ch <- c.backpressured
}

var allStates = []State{StateIdle, StateRunnable, StateRunning, StateFailed}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	status := c.scheduler.Snapshot()

	for _, conn := range status.Connections {
		labels := []string{
			strconv.Itoa(int(conn.Handle)),
			conn.Source,
			conn.Destination,
			string(conn.Relationship),
		}
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(conn.Queued), labels...)
		ch <- prometheus.MustNewConstMetric(c.queueBytes, prometheus.GaugeValue, float64(conn.Bytes), labels...)
		ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(conn.InFlight), labels...)
		ch <- prometheus.MustNewConstMetric(c.capacityCount, prometheus.GaugeValue, float64(conn.Capacity.MaxCount), labels...)
		ch <- prometheus.MustNewConstMetric(c.capacityBytes, prometheus.GaugeValue, float64(conn.Capacity.MaxBytes), labels...)
		ch <- prometheus.MustNewConstMetric(c.enqueued, prometheus.CounterValue, float64(conn.Enqueued), labels...)
		ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(conn.Rejected), labels...)
	}

	for _, p := range status.Processors {
		for _, st := range allStates {
			v := 0.0
			if p.State == st {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.processorState, prometheus.GaugeValue, v, p.Name, string(st))
		}
		ch <- prometheus.MustNewConstMetric(c.invocations, prometheus.CounterValue, float64(p.Invocations), p.Name)
		ch <- prometheus.MustNewConstMetric(c.faults, prometheus.CounterValue, float64(p.Faults), p.Name)
		ch <- prometheus.MustNewConstMetric(c.backpressured, prometheus.CounterValue, float64(p.Backpressured), p.Name)
	}
}
