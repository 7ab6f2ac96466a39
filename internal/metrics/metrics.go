package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sydlexius/lineup/internal/bus"
)

const namespace = "lineup"

// Collector owns the pipeline metrics and a private registry.
type Collector struct {
	registry *prometheus.Registry

	runs       *prometheus.CounterVec
	ingested   *prometheus.CounterVec
	links      *prometheus.CounterVec
	stubs      prometheus.Counter
	upstream   *prometheus.CounterVec
	batches    *prometheus.CounterVec
	runsActive prometheus.Gauge
}

// New creates a collector. activeSessions, when non-nil, is sampled on each
// scrape for the active batch session gauge.
func New(activeSessions func() int) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed pipeline runs by sync type and final status",
		}, []string{"sync_type", "status"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_decisions_total",
			Help:      "Listing records classified by entity and decision",
		}, []string{"entity", "decision"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_created_total",
			Help:      "Artist-event links created by source",
		}, []string{"source"}),
		stubs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stub_artists_created_total",
			Help:      "Placeholder artists created from lineup mentions",
		}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream requests by upstream and outcome",
		}, []string{"upstream", "outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Lineup batch sessions by final status",
		}, []string{"status"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Pipeline runs currently executing",
		}),
	}

	c.registry.MustRegister(
		c.runs, c.ingested, c.links, c.stubs, c.upstream, c.batches, c.runsActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if activeSessions != nil {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_sessions_active",
			Help:      "Lineup batch sessions still running",
		}, func() float64 { return float64(activeSessions()) }))
	}
	return c
}

// Subscribe feeds the collector from pipeline notifications.
func (c *Collector) Subscribe(b *bus.Bus) {
	b.Subscribe(c.handle,
		bus.RunStarted, bus.RunCompleted, bus.EntityIngested, bus.LinkCreated,
		bus.StubCreated, bus.UpstreamCalled, bus.BatchCompleted)
}

func (c *Collector) handle(m bus.Message) {
	switch m.Topic {
	case bus.RunStarted:
		c.runsActive.Inc()
	case bus.RunCompleted:
		c.runsActive.Dec()
		c.runs.WithLabelValues(m.String("sync_type"), m.String("status")).Inc()
	case bus.EntityIngested:
		c.ingested.WithLabelValues(m.String("entity"), m.String("decision")).Inc()
	case bus.LinkCreated:
		c.links.WithLabelValues(m.String("source")).Inc()
	case bus.StubCreated:
		c.stubs.Inc()
	case bus.UpstreamCalled:
		c.upstream.WithLabelValues(m.String("upstream"), m.String("outcome")).Inc()
	case bus.BatchCompleted:
		c.batches.WithLabelValues(m.String("status")).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
