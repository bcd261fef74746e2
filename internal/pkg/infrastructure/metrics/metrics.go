package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace string = "fleetsync"

var (
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Job executions by job id and outcome (success, failure, missed, coalesced).",
	}, []string{"job", "outcome"})

	FetchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_retries_total",
		Help:      "Retried upstream calls by operation.",
	}, []string{"operation"})

	PlantErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plant_errors_total",
		Help:      "Plants that could not be synchronized in a cycle.",
	})

	UpsertedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upserted_records_total",
		Help:      "Upserted records by entity and outcome.",
	}, []string{"entity", "outcome"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification attempts by channel, type and outcome (sent, suppressed, failed).",
	}, []string{"channel", "type", "outcome"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
