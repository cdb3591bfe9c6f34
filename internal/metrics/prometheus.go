package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "tagtimer/pkg/logx"
)

// PrometheusSink implements Sink with client_golang collectors.
// Registration errors are logged and never propagated.
type PrometheusSink struct {
	log logx.Logger

	ticketsEnqueued   *prometheus.CounterVec
	ticketsDispatched *prometheus.CounterVec
	dispatchWait      *prometheus.HistogramVec
	dispatchExec      *prometheus.HistogramVec
	queueDepth        *prometheus.GaugeVec
	awaitTimeouts     *prometheus.CounterVec

	samples       prometheus.Histogram
	windowAverage prometheus.Gauge
	windowSize    prometheus.Gauge
	feedEvents    *prometheus.CounterVec

	alerts         *prometheus.CounterVec
	worldNations   prometheus.Gauge
	worldRegions   prometheus.Gauge
	worldIngestAge prometheus.Gauge
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log.With(logx.String("comp", "metrics"))}
	s.initDispatch(reg)
	s.initEstimator(reg)
	s.initAlerts(reg)
	return s
}

func (s *PrometheusSink) initDispatch(reg prometheus.Registerer) {
	s.ticketsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagtimer_dispatch_tickets_enqueued_total",
		Help: "Tickets accepted by a dispatch scheduler.",
	}, []string{"scheduler"})
	s.ticketsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagtimer_dispatch_tickets_dispatched_total",
		Help: "Tickets executed by a dispatch scheduler.",
	}, []string{"scheduler", "category", "result"})
	s.dispatchWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tagtimer_dispatch_queue_wait_seconds",
		Help:    "Time between enqueue and execution start.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 30, 60, 180, 600},
	}, []string{"scheduler"})
	s.dispatchExec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tagtimer_dispatch_exec_seconds",
		Help:    "Execution latency of a dispatched call.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"scheduler"})
	s.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tagtimer_dispatch_queue_depth",
		Help: "Tickets waiting in a dispatch scheduler.",
	}, []string{"scheduler"})
	s.awaitTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagtimer_dispatch_await_timeouts_total",
		Help: "Awaits that gave up before the ticket completed.",
	}, []string{"scheduler"})

	s.register(reg, s.ticketsEnqueued, "tagtimer_dispatch_tickets_enqueued_total")
	s.register(reg, s.ticketsDispatched, "tagtimer_dispatch_tickets_dispatched_total")
	s.register(reg, s.dispatchWait, "tagtimer_dispatch_queue_wait_seconds")
	s.register(reg, s.dispatchExec, "tagtimer_dispatch_exec_seconds")
	s.register(reg, s.queueDepth, "tagtimer_dispatch_queue_depth")
	s.register(reg, s.awaitTimeouts, "tagtimer_dispatch_await_timeouts_total")
}

func (s *PrometheusSink) initEstimator(reg prometheus.Registerer) {
	s.samples = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tagtimer_estimator_sample_seconds",
		Help:    "Per-index variance samples.",
		Buckets: []float64{-0.01, -0.005, -0.001, 0, 0.001, 0.005, 0.01, 0.05},
	})
	s.windowAverage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tagtimer_estimator_window_average_seconds",
		Help: "Average per-index correction over the sample window.",
	})
	s.windowSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tagtimer_estimator_window_size",
		Help: "Samples currently in the window.",
	})
	s.feedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagtimer_estimator_feed_events_total",
		Help: "Happenings events seen by the estimator, by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.samples, "tagtimer_estimator_sample_seconds")
	s.register(reg, s.windowAverage, "tagtimer_estimator_window_average_seconds")
	s.register(reg, s.windowSize, "tagtimer_estimator_window_size")
	s.register(reg, s.feedEvents, "tagtimer_estimator_feed_events_total")
}

func (s *PrometheusSink) initAlerts(reg prometheus.Registerer) {
	s.alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tagtimer_watch_alerts_total",
		Help: "Region update alerts, by outcome.",
	}, []string{"outcome"})
	s.worldNations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tagtimer_world_nations",
		Help: "Nations in the last ingested dump.",
	})
	s.worldRegions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tagtimer_world_regions",
		Help: "Regions in the last ingested dump.",
	})
	s.worldIngestAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tagtimer_world_ingested_timestamp_seconds",
		Help: "Unix time of the last successful world ingest.",
	})

	s.register(reg, s.alerts, "tagtimer_watch_alerts_total")
	s.register(reg, s.worldNations, "tagtimer_world_nations")
	s.register(reg, s.worldRegions, "tagtimer_world_regions")
	s.register(reg, s.worldIngestAge, "tagtimer_world_ingested_timestamp_seconds")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if reg == nil {
		return
	}
	if err := reg.Register(c); err != nil {
		s.log.Warn("failed to register collector", logx.String("metric", name), logx.Err(err))
	}
}

func (s *PrometheusSink) TicketEnqueued(scheduler string) {
	s.ticketsEnqueued.WithLabelValues(scheduler).Inc()
}

func (s *PrometheusSink) TicketDispatched(scheduler, category string, wait, exec time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.ticketsDispatched.WithLabelValues(scheduler, category, result).Inc()
	s.dispatchWait.WithLabelValues(scheduler).Observe(wait.Seconds())
	s.dispatchExec.WithLabelValues(scheduler).Observe(exec.Seconds())
}

func (s *PrometheusSink) QueueDepth(scheduler string, depth int) {
	s.queueDepth.WithLabelValues(scheduler).Set(float64(depth))
}

func (s *PrometheusSink) AwaitTimeout(scheduler string) {
	s.awaitTimeouts.WithLabelValues(scheduler).Inc()
}

func (s *PrometheusSink) SampleRecorded(seconds float64) { s.samples.Observe(seconds) }

func (s *PrometheusSink) WindowAverage(seconds float64, size int) {
	s.windowAverage.Set(seconds)
	s.windowSize.Set(float64(size))
}

func (s *PrometheusSink) FeedEvent(outcome string) { s.feedEvents.WithLabelValues(outcome).Inc() }

func (s *PrometheusSink) AlertOutcome(outcome string) { s.alerts.WithLabelValues(outcome).Inc() }

func (s *PrometheusSink) WorldIngested(nations, regions int) {
	s.worldNations.Set(float64(nations))
	s.worldRegions.Set(float64(regions))
	s.worldIngestAge.Set(float64(time.Now().Unix()))
}

var _ Sink = (*PrometheusSink)(nil)
