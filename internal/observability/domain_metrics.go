package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transferRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_transfer_runs_total",
			Help: "Total number of transfer runs by status.",
		},
		[]string{"status"},
	)
	transferRowsFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_transfer_rows_fetched_total",
			Help: "Total number of result rows fetched from the query engine.",
		},
	)
	transferRowsInsertedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_transfer_rows_inserted_total",
			Help: "Total number of rows inserted into the warehouse.",
		},
	)
	queryPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_query_polls_total",
			Help: "Total number of query status polls.",
		},
	)
	queryWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_query_wait_seconds",
			Help:    "Time from query submission until the query left the pending states.",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)
	transferDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_transfer_duration_seconds",
			Help:    "End-to-end transfer duration in seconds.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)
)

func init() {
	prometheus.MustRegister(
		transferRunsTotal,
		transferRowsFetchedTotal,
		transferRowsInsertedTotal,
		queryPollsTotal,
		queryWaitSeconds,
		transferDurationSeconds,
	)
}

func IncrementQueryPolls() {
	queryPollsTotal.Inc()
}

func ObserveQueryWait(elapsed time.Duration) {
	queryWaitSeconds.Observe(elapsed.Seconds())
}

func ObserveTransfer(status string, fetched, inserted int, elapsed time.Duration) {
	transferRunsTotal.WithLabelValues(status).Inc()
	if fetched > 0 {
		transferRowsFetchedTotal.Add(float64(fetched))
	}
	if inserted > 0 {
		transferRowsInsertedTotal.Add(float64(inserted))
	}
	transferDurationSeconds.Observe(elapsed.Seconds())
}
