// Package metrics exposes the validator's Prometheus gauges and counters:
// chain height, commit latency, vote/quorum activity and pool depth.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds one shard validator's Prometheus collectors, registered
// against a private registry so multiple shard drivers in the same
// process never collide on metric names.
type Metrics struct {
	registry *prometheus.Registry

	blockHeight       prometheus.Gauge
	lockedHeight      prometheus.Gauge
	commitLatency     prometheus.Histogram
	votesReceived     prometheus.Counter
	quorumsFormed     prometheus.Counter
	proposalsSent     prometheus.Counter
	parkedBlocks      prometheus.Gauge
	poolDepth         *prometheus.GaugeVec
	substateLocks     prometheus.Gauge
	executionErrors   prometheus.Counter
}

// New builds a Metrics instance labeled with the shard this process
// serves, so a multi-shard deployment's /metrics output disambiguates
// by shard without needing separate processes.
func New(shardLabel string) *Metrics {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"shard_group": shardLabel}

	m := &Metrics{registry: reg}

	m.blockHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "dancore_block_height",
		Help:        "Highest committed block height for this shard.",
		ConstLabels: constLabels,
	})
	m.lockedHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "dancore_locked_height",
		Help:        "Height of this shard's currently locked block.",
		ConstLabels: constLabels,
	})
	m.commitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "dancore_commit_latency_seconds",
		Help:        "Time between a block's proposal and its three-chain commit.",
		ConstLabels: constLabels,
		Buckets:     prometheus.DefBuckets,
	})
	m.votesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "dancore_votes_received_total",
		Help:        "Votes received across all proposed blocks.",
		ConstLabels: constLabels,
	})
	m.quorumsFormed = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "dancore_quorums_formed_total",
		Help:        "Quorum certificates assembled from received votes.",
		ConstLabels: constLabels,
	})
	m.proposalsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "dancore_proposals_sent_total",
		Help:        "Blocks this node proposed as leader.",
		ConstLabels: constLabels,
	})
	m.parkedBlocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "dancore_parked_blocks",
		Help:        "Blocks awaiting transactions this node hasn't seen yet.",
		ConstLabels: constLabels,
	})
	m.poolDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "dancore_pool_depth",
		Help:        "Transaction pool records per pool stage.",
		ConstLabels: constLabels,
	}, []string{"stage"})
	m.substateLocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "dancore_substate_locks_held",
		Help:        "Substate locks currently held by in-flight transactions.",
		ConstLabels: constLabels,
	})
	m.executionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "dancore_execution_errors_total",
		Help:        "Executor.Execute calls that returned an error during proposal.",
		ConstLabels: constLabels,
	})

	reg.MustRegister(
		m.blockHeight, m.lockedHeight, m.commitLatency,
		m.votesReceived, m.quorumsFormed, m.proposalsSent,
		m.parkedBlocks, m.poolDepth, m.substateLocks, m.executionErrors,
	)
	return m
}

// ObserveCommit records a block's height and the latency between its
// proposal timestamp and the moment it was committed.
func (m *Metrics) ObserveCommit(height uint64, proposedAt time.Time) {
	m.blockHeight.Set(float64(height))
	m.commitLatency.Observe(time.Since(proposedAt).Seconds())
}

func (m *Metrics) SetLockedHeight(height uint64)  { m.lockedHeight.Set(float64(height)) }
func (m *Metrics) IncVotesReceived()              { m.votesReceived.Inc() }
func (m *Metrics) IncQuorumsFormed()              { m.quorumsFormed.Inc() }
func (m *Metrics) IncProposalsSent()               { m.proposalsSent.Inc() }
func (m *Metrics) SetParkedBlocks(n int)           { m.parkedBlocks.Set(float64(n)) }
func (m *Metrics) SetPoolDepth(stage string, n int) { m.poolDepth.WithLabelValues(stage).Set(float64(n)) }
func (m *Metrics) SetSubstateLocks(n int)          { m.substateLocks.Set(float64(n)) }
func (m *Metrics) IncExecutionErrors()             { m.executionErrors.Inc() }

// Handler returns the HTTP handler serving this registry's metrics in
// the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a minimal HTTP server exposing Handler at path until ctx is
// canceled.
func (m *Metrics) Serve(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
