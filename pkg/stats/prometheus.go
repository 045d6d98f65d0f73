package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus exports operation counts as counters labelled by collection.
type Prometheus struct {
	reads   *prometheus.CounterVec
	writes  *prometheus.CounterVec
	deletes *prometheus.CounterVec
	ops     *prometheus.CounterVec
}

// NewPrometheus registers the repository counters with reg.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		reads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_document_reads_total",
				Help:      "Total number of documents read",
			},
			[]string{"collection"},
		),
		writes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_document_writes_total",
				Help:      "Total number of documents written",
			},
			[]string{"collection"},
		),
		deletes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_document_deletes_total",
				Help:      "Total number of documents deleted",
			},
			[]string{"collection"},
		),
		ops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_operations_total",
				Help:      "Total number of logical repository operations",
			},
			[]string{"collection"},
		),
	}
}

func (p *Prometheus) Log(e Event) {
	p.ops.WithLabelValues(e.Collection).Inc()
	if e.Reads > 0 {
		p.reads.WithLabelValues(e.Collection).Add(float64(e.Reads))
	}
	if e.Writes > 0 {
		p.writes.WithLabelValues(e.Collection).Add(float64(e.Writes))
	}
	if e.Deletes > 0 {
		p.deletes.WithLabelValues(e.Collection).Add(float64(e.Deletes))
	}
}
