// package metrics holds the prometheus collectors of the release service
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup kinds
const (
	KindChangeRequest = "change_request"
	KindCommitList    = "commit_list"
	KindBatch         = "batch"
	KindSearch        = "search"
	KindUser          = "user"
	KindRelease       = "release"
)

var (
	// Lookups counts forge lookups made while reconciling commits
	Lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "release_lookups_total",
		Help: "Forge lookups made while reconciling commits.",
	}, []string{"kind", "outcome"})

	// Reports counts generated release reports
	Reports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "release_reports_total",
		Help: "Release reports generated.",
	}, []string{"outcome"})
)

// ObserveLookup records the outcome of one lookup
func ObserveLookup(kind string, err error) {
	Lookups.WithLabelValues(kind, outcome(err)).Inc()
}

// ObserveReport records the outcome of one report
func ObserveReport(err error) {
	Reports.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
