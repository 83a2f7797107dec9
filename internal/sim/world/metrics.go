package world

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the world loop. All methods are nil-safe so the
// world can run uninstrumented in tests.
type Metrics struct {
	commands  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	loopTicks *prometheus.CounterVec
	flushes   prometheus.Counter
	flushed   *prometheus.CounterVec
	sessions  prometheus.Gauge
	slots     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockworld",
			Name:      "commands_total",
			Help:      "Commands received, by type and outcome.",
		}, []string{"type", "result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockworld",
			Name:      "command_errors_total",
			Help:      "Hard command failures, by error code.",
		}, []string{"code"}),
		loopTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockworld",
			Name:      "loop_ticks_total",
			Help:      "Looped action invocations, by kind and outcome.",
		}, []string{"kind", "result"}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockworld",
			Name:      "update_flushes_total",
			Help:      "Non-empty update batches flushed to sinks.",
		}),
		flushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockworld",
			Name:      "update_entities_total",
			Help:      "Entity entries carried by flushed batches.",
		}, []string{"entity"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blockworld",
			Name:      "sessions_connected",
			Help:      "Currently registered client sessions.",
		}),
		slots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blockworld",
			Name:      "loop_slots_running",
			Help:      "Currently running action loop slots.",
		}),
	}
	reg.MustRegister(m.commands, m.errors, m.loopTicks, m.flushes, m.flushed, m.sessions, m.slots)
	return m
}

func (m *Metrics) command(msgType, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) commandError(code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(code).Inc()
}

func (m *Metrics) loopTick(kind string, applied bool) {
	if m == nil {
		return
	}
	result := "refused"
	if applied {
		result = "applied"
	}
	m.loopTicks.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) flush(grippers, objs int) {
	if m == nil {
		return
	}
	m.flushes.Inc()
	m.flushed.WithLabelValues("gripper").Add(float64(grippers))
	m.flushed.WithLabelValues("obj").Add(float64(objs))
}

func (m *Metrics) sessionCount(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) slotCount(n int) {
	if m == nil {
		return
	}
	m.slots.Set(float64(n))
}
