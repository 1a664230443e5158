// Package telemetry implements the ambient observability stack the
// orchestration core runs on top of: a zerolog-based process logger for
// startup/shutdown/fatal messages that precede any run existing (there is
// no run id yet to route these through internal/eventbus), grounded in
// cuemby-warren and r3e-network-service_layer's use of zerolog for exactly
// that purpose, plus the Prometheus gauges/histogram C2/C3/C8 expose,
// built with promauto-registered collectors on a constructor-supplied
// registry rather than prometheus's global default, the same
// registry-injection idiom jordigilh-kubernaut's own service metrics use.
package telemetry

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/worldforge/orchestrator/internal/domain"
)

// Logger wraps zerolog.Logger to satisfy the narrow Logger interfaces
// internal/runstate and internal/checkpoint depend on, plus the
// process-lifecycle methods cmd/orchestratord calls directly at startup
// and shutdown, before any run exists to carry these messages on the event
// bus instead.
type Logger struct {
	zl zerolog.Logger
}

// New constructs a Logger writing structured JSON to w (os.Stderr when w
// is nil), tagged with the component name.
func New(w *os.File, component string) Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return Logger{zl: zl}
}

// Info logs an informational message with structured fields, implementing
// internal/runstate.Logger.
func (l Logger) Info(msg string, fields map[string]any) {
	evt := l.zl.Info()
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg(msg)
}

// Error logs an error with structured fields, implementing
// internal/runstate.Logger; internal/checkpoint.Logger is served by the
// AsCheckpointLogger adapter below.
func (l Logger) Error(msg string, err error, fields map[string]any) {
	evt := l.zl.Error().Err(err)
	for k, v := range fields {
		evt = evt.Interface(k, v)
	}
	evt.Msg(msg)
}

// checkpointLogger adapts Logger to internal/checkpoint.Logger's narrower
// two-argument Error signature without losing the richer Logger.Error above
// for runstate's three-argument call sites.
type checkpointLogger struct{ l Logger }

func (c checkpointLogger) Error(msg string, err error) {
	c.l.Error(msg, err, nil)
}

// AsCheckpointLogger adapts l to internal/checkpoint.Logger.
func (l Logger) AsCheckpointLogger() interface{ Error(string, error) } {
	return checkpointLogger{l: l}
}

// Fatal logs msg at fatal level and exits the process — used only during
// startup, before the queue drainer or any run exists.
func (l Logger) Fatal(msg string, err error) {
	l.zl.Fatal().Err(err).Msg(msg)
}

// Metrics holds the Prometheus collectors for C2 (queue depth), C3 (fleet
// utilization), and C8 (phase duration), registered against a
// caller-supplied registry rather than prometheus's global default so
// cmd/orchestratord controls exactly what /metrics exposes.
type Metrics struct {
	QueueReady      prometheus.Gauge
	QueueBlocked    prometheus.Gauge
	QueueInProgress prometheus.Gauge

	FleetTotalCapacity prometheus.Gauge
	FleetUsedCapacity  prometheus.Gauge
	FleetUtilization   *prometheus.GaugeVec

	PhaseDuration  *prometheus.HistogramVec
	RunsTotal      *prometheus.CounterVec
	EventsDropped  prometheus.Counter
}

// NewMetrics registers every collector on reg and returns the handle used
// to update them.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "queue", Name: "ready_tasks",
			Help: "Number of tasks currently in the Ready collection.",
		}),
		QueueBlocked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "queue", Name: "blocked_tasks",
			Help: "Number of tasks currently in the Blocked collection.",
		}),
		QueueInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "queue", Name: "in_progress_tasks",
			Help: "Number of tasks currently in the InProgress collection.",
		}),
		FleetTotalCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "fleet", Name: "total_capacity",
			Help: "Sum of slot capacity across every tracked machine.",
		}),
		FleetUsedCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "fleet", Name: "used_capacity",
			Help: "Sum of running slots across every tracked machine.",
		}),
		FleetUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator", Subsystem: "fleet", Name: "machine_utilization",
			Help: "Per-machine running/capacity ratio.",
		}, []string{"hostname"}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator", Subsystem: "run", Name: "phase_duration_ms",
			Help:    "Wall-clock duration of one phase attempt, in milliseconds.",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
		}, []string{"phase", "status"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator", Subsystem: "run", Name: "terminal_total",
			Help: "Count of runs reaching each terminal status.",
		}, []string{"status"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestrator", Subsystem: "eventbus", Name: "dropped_total",
			Help: "Count of events evicted from a subscriber's bounded buffer.",
		}),
	}
}

// ObservePhase records one phase attempt's duration and status.
func (m *Metrics) ObservePhase(phase domain.Phase, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase.String(), status).Observe(float64(d.Milliseconds()))
}

// ObserveRunTerminal increments the terminal-status counter for a finished run.
func (m *Metrics) ObserveRunTerminal(status domain.RunStatus) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status.String()).Inc()
}

// ObserveQueueStats mirrors a queue.Stats snapshot onto the gauges.
func (m *Metrics) ObserveQueueStats(ready, blocked, inProgress int) {
	if m == nil {
		return
	}
	m.QueueReady.Set(float64(ready))
	m.QueueBlocked.Set(float64(blocked))
	m.QueueInProgress.Set(float64(inProgress))
}

// ObserveFleetStats mirrors a fleet.Stats snapshot onto the gauges.
func (m *Metrics) ObserveFleetStats(totalCapacity, usedCapacity int, perMachine map[string]float64) {
	if m == nil {
		return
	}
	m.FleetTotalCapacity.Set(float64(totalCapacity))
	m.FleetUsedCapacity.Set(float64(usedCapacity))
	for hostname, util := range perMachine {
		m.FleetUtilization.WithLabelValues(hostname).Set(util)
	}
}
