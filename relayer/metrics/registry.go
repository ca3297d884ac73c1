// Package metrics tracks per-chain arrival and execution rates and derives
// the relayer's throughput stability signal: with k wallets settling at rate
// mu each, the queue stays bounded while the arrival rate lambda is below
// k*mu.
package metrics

import (
	"sync"
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/privacybox/relayer/relayer/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// rateWindow is the averaging window for lambda and mu.
const rateWindow = 60 * time.Second

var (
	intentsArrived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_intents_arrived_total",
		Help: "Intents accepted into a chain's batch queue.",
	}, []string{"chain"})
	intentsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_intents_settled_total",
		Help: "Intents that reached a terminal executor outcome.",
	}, []string{"chain", "outcome"})
	queueDepthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relayer_queue_depth",
		Help: "Intents waiting in a chain's batch queue.",
	}, []string{"chain"})
)

// Deps are the live data sources a snapshot reads from.
type Deps struct {
	QueueDepth     func(types.ChainID) int
	DLQSize        func(types.ChainID) int
	WalletCount    func(types.ChainID) int
	WalletBalances func(types.ChainID) map[string]string
}

// ChainSnapshot is the JSON metrics view for one chain.
type ChainSnapshot struct {
	ChainID        types.ChainID     `json:"chainId"`
	Chain          string            `json:"chain"`
	QueueDepth     int               `json:"queueDepth"`
	ArrivalRate    float64           `json:"arrivalRate"`
	ExecutionRate  float64           `json:"executionRate"`
	WalletCount    int               `json:"walletCount"`
	Throughput     float64           `json:"throughput"`
	Stable         bool              `json:"stable"`
	WalletBalances map[string]string `json:"walletBalances"`
	DLQSize        int               `json:"dlqSize"`
	Confirmed      uint64            `json:"confirmed"`
	Failed         uint64            `json:"failed"`
}

type chainCounters struct {
	arrival   *ratecounter.RateCounter
	execution *ratecounter.RateCounter
	confirmed uint64
	failed    uint64
}

// Registry tracks rates for every supported chain.
type Registry struct {
	mu     sync.Mutex
	chains map[types.ChainID]*chainCounters
}

// NewRegistry builds counters for every supported chain.
func NewRegistry() *Registry {
	r := &Registry{chains: make(map[types.ChainID]*chainCounters)}
	for _, chain := range types.SupportedChains() {
		r.chains[chain] = &chainCounters{
			arrival:   ratecounter.NewRateCounter(rateWindow),
			execution: ratecounter.NewRateCounter(rateWindow),
		}
	}
	return r
}

// IntentArrived records one intent entering a chain's batch queue.
func (r *Registry) IntentArrived(chain types.ChainID) {
	if c, ok := r.chains[chain]; ok {
		c.arrival.Incr(1)
	}
	intentsArrived.WithLabelValues(chain.String()).Inc()
}

// IntentSettled records one terminal executor outcome.
func (r *Registry) IntentSettled(chain types.ChainID, ok bool) {
	c, found := r.chains[chain]
	if !found {
		return
	}
	c.execution.Incr(1)
	r.mu.Lock()
	if ok {
		c.confirmed++
	} else {
		c.failed++
	}
	r.mu.Unlock()
	outcome := "confirmed"
	if !ok {
		outcome = "failed"
	}
	intentsSettled.WithLabelValues(chain.String(), outcome).Inc()
}

// Snapshot computes the per-chain metrics view. Throughput is
// min(lambda, k*mu); the stability flag is lambda < k*mu.
func (r *Registry) Snapshot(deps Deps) []ChainSnapshot {
	out := make([]ChainSnapshot, 0, len(r.chains))
	for _, chain := range types.SupportedChains() {
		c := r.chains[chain]
		depth := deps.QueueDepth(chain)
		queueDepthGauge.WithLabelValues(chain.String()).Set(float64(depth))

		lambda := float64(c.arrival.Rate()) / rateWindow.Seconds()
		mu := float64(c.execution.Rate()) / rateWindow.Seconds()
		k := deps.WalletCount(chain)
		capacity := float64(k) * mu
		throughput := lambda
		if capacity < throughput {
			throughput = capacity
		}
		r.mu.Lock()
		confirmed, failed := c.confirmed, c.failed
		r.mu.Unlock()
		out = append(out, ChainSnapshot{
			ChainID:        chain,
			Chain:          chain.String(),
			QueueDepth:     depth,
			ArrivalRate:    lambda,
			ExecutionRate:  mu,
			WalletCount:    k,
			Throughput:     throughput,
			Stable:         lambda < capacity || lambda == 0,
			WalletBalances: deps.WalletBalances(chain),
			DLQSize:        deps.DLQSize(chain),
			Confirmed:      confirmed,
			Failed:         failed,
		})
	}
	return out
}
