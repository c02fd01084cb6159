// Package metrics exposes Prometheus counters for the import pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline counters. A nil *Metrics is a no-op so tests
// and the CLI can run without a registry.
type Metrics struct {
	RowsImported      prometheus.Counter
	RowsFailed        prometheus.Counter
	DuplicatesSkipped prometheus.Counter
	RulesApplied      prometheus.Counter
	SessionsPruned    prometheus.Counter
}

// New registers the import pipeline metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RowsImported: factory.NewCounter(prometheus.CounterOpts{
			Name: "fintrack_import_rows_imported_total",
			Help: "Transactions persisted by confirmed imports.",
		}),
		RowsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fintrack_import_rows_failed_total",
			Help: "Statement rows rejected by the parser.",
		}),
		DuplicatesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "fintrack_import_duplicates_skipped_total",
			Help: "Previews skipped as duplicates on confirm.",
		}),
		RulesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "fintrack_rules_applied_total",
			Help: "Transactions whose category or tags changed via rules.",
		}),
		SessionsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "fintrack_import_sessions_pruned_total",
			Help: "Stale import sessions removed by the scheduler.",
		}),
	}
}

// AddRowsImported increments the imported counter when metrics are enabled.
func (m *Metrics) AddRowsImported(n int) {
	if m != nil {
		m.RowsImported.Add(float64(n))
	}
}

func (m *Metrics) AddRowsFailed(n int) {
	if m != nil {
		m.RowsFailed.Add(float64(n))
	}
}

func (m *Metrics) AddDuplicatesSkipped(n int) {
	if m != nil {
		m.DuplicatesSkipped.Add(float64(n))
	}
}

func (m *Metrics) AddRulesApplied(n int) {
	if m != nil {
		m.RulesApplied.Add(float64(n))
	}
}

func (m *Metrics) AddSessionsPruned(n int) {
	if m != nil {
		m.SessionsPruned.Add(float64(n))
	}
}
