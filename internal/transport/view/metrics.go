package view

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the notifier. Nil-safe like the world metrics, so
// tests can run without a registry.
type Metrics struct {
	posts *prometheus.CounterVec
	drops prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockworld",
			Name:      "view_posts_total",
			Help:      "Update batch POSTs to attached views, by result.",
		}, []string{"result"}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockworld",
			Name:      "view_batches_dropped_total",
			Help:      "Update batches dropped because the notifier queue was full.",
		}),
	}
	reg.MustRegister(m.posts, m.drops)
	return m
}

func (m *Metrics) post(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.posts.WithLabelValues(result).Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.drops.Inc()
}
