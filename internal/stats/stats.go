package stats

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

// StatsProvider updates named metrics. Gauges move both ways; counters
// must only be incremented.
type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	RegisterCounter(name string)
	Run()
}

// metric is the part of prometheus.Gauge and prometheus.Counter the
// update loop needs.
type metric interface {
	prometheus.Collector
	Add(float64)
}

type StatsUpdater struct {
	registry   *prometheus.Registry
	mu         sync.RWMutex
	metrics    map[string]metric
	updateChan chan *metricsUpdateReq
	done       chan struct{}

	// stopMu guards stopped and the close of updateChan
	stopMu  sync.RWMutex
	stopped bool
}

type metricsUpdateReq struct {
	name  string
	value float64
}

// NewStatsUpdater creates a new stats updater instance and exposes its
// registry on GET /metrics.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		registry:   prometheus.NewRegistry(),
		metrics:    make(map[string]metric),
		updateChan: make(chan *metricsUpdateReq, 512),
		done:       make(chan struct{}),
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{}))
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the server started.",
	}, func() float64 {
		return time.Since(startTime).Seconds()
	}))
	su.registry.MustRegister(collectors.NewGoCollector())
}

// metricName converts "ConnectedClients" style names into snake case.
func metricName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (su *StatsUpdater) updateMetrics() {
	defer close(su.done)
	for req := range su.updateChan {
		su.mu.RLock()
		m, ok := su.metrics[req.name]
		su.mu.RUnlock()
		if !ok {
			panic("metric not found: " + req.name)
		}

		m.Add(req.value)
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.update(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.update(name, -1)
}

// update queues a change. Changes arriving after Stop are dropped.
func (su *StatsUpdater) update(name string, value float64) {
	su.stopMu.RLock()
	defer su.stopMu.RUnlock()

	if su.stopped {
		return
	}
	su.updateChan <- &metricsUpdateReq{name: name, value: value}
}

// RegisterMetric registers a gauge. Registering the same name twice is a no-op.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.register(name, func(opts prometheus.Opts) metric {
		return prometheus.NewGauge(prometheus.GaugeOpts(opts))
	})
}

// RegisterCounter registers a counter, exported with a _total suffix.
func (su *StatsUpdater) RegisterCounter(name string) {
	su.register(name, func(opts prometheus.Opts) metric {
		opts.Name += "_total"
		return prometheus.NewCounter(prometheus.CounterOpts(opts))
	})
}

func (su *StatsUpdater) register(name string, newMetric func(prometheus.Opts) metric) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.metrics[name]; ok {
		return
	}

	m := newMetric(prometheus.Opts{
		Namespace: namespace,
		Name:      metricName(name),
		Help:      name,
	})
	su.registry.MustRegister(m)
	su.metrics[name] = m
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop drains pending updates and stops the update loop. It is safe to
// call more than once.
func (su *StatsUpdater) Stop() {
	su.stopMu.Lock()
	if su.stopped {
		su.stopMu.Unlock()
		return
	}
	su.stopped = true
	close(su.updateChan)
	su.stopMu.Unlock()

	<-su.done
}
