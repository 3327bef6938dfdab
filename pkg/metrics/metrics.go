package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletscore"

const (
	StageLoad     = "load"
	StageFeatures = "features"
	StageFit      = "fit"
	StagePredict  = "predict"
	StageWrite    = "write"

	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Recorder holds the pipeline metrics on a private registry.
// A nil Recorder discards every observation.
type Recorder struct {
	registry *prometheus.Registry

	// Transactions counts loaded transactions
	Transactions prometheus.Counter
	// Dropped counts records without a wallet
	Dropped prometheus.Counter
	// InvalidTimestamps counts transactions whose time could not be parsed
	InvalidTimestamps prometheus.Counter
	// Wallets is the wallet count of the last run
	Wallets prometheus.Gauge
	// Runs counts pipeline runs by status
	Runs *prometheus.CounterVec
	// StageDuration tracks time spent per stage
	StageDuration *prometheus.HistogramVec
	// Scores tracks the distribution of final scores
	Scores prometheus.Histogram
	// LastSuccess is the unix time of the last successful run
	LastSuccess prometheus.Gauge
}

// NewRecorder creates a Recorder with Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		Transactions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Total number of transactions loaded",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_dropped_total",
			Help:      "Total number of records dropped for missing wallet",
		}),
		InvalidTimestamps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timestamps_invalid_total",
			Help:      "Total number of transactions with unparseable timestamps",
		}),
		Wallets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallets",
			Help:      "Number of wallets scored in the last run",
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		}, []string{"status"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		Scores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credit_score",
			Help:      "Distribution of final credit scores",
			Buckets:   prometheus.LinearBuckets(100, 100, 10),
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
	}
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Register adds extra collectors, such as database stats, to the registry.
func (r *Recorder) Register(cs ...prometheus.Collector) error {
	if r == nil {
		return nil
	}
	for _, c := range cs {
		if err := r.registry.Register(c); err != nil {
			return fmt.Errorf("error registering collector: %w", err)
		}
	}
	return nil
}

// ObserveStage records the time elapsed since start for stage.
func (r *Recorder) ObserveStage(stage string, start time.Time) {
	if r == nil {
		return
	}
	r.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ObserveLoad records the loader counts.
func (r *Recorder) ObserveLoad(transactions, dropped int) {
	if r == nil {
		return
	}
	r.Transactions.Add(float64(transactions))
	r.Dropped.Add(float64(dropped))
}

// ObserveFeatures records the feature stage counts.
func (r *Recorder) ObserveFeatures(wallets, invalidTimestamps int) {
	if r == nil {
		return
	}
	r.Wallets.Set(float64(wallets))
	r.InvalidTimestamps.Add(float64(invalidTimestamps))
}

// ObserveScores adds final scores to the distribution.
func (r *Recorder) ObserveScores(scores []float64) {
	if r == nil {
		return
	}
	for _, s := range scores {
		r.Scores.Observe(s)
	}
}

// RunFinished counts a run by outcome.
func (r *Recorder) RunFinished(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.Runs.WithLabelValues(StatusFailure).Inc()
		return
	}
	r.Runs.WithLabelValues(StatusSuccess).Inc()
	r.LastSuccess.SetToCurrentTime()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path for the node exporter
// textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("error writing metrics file %s: %w", path, err)
	}
	return nil
}
