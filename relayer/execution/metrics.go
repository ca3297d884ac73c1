package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	txSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_tx_sent_total",
		Help: "Transactions broadcast to a target chain.",
	}, []string{"chain"})
	txConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_tx_confirmed_total",
		Help: "Transactions confirmed with a successful receipt.",
	}, []string{"chain"})
	txFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_tx_failed_total",
		Help: "Send attempts that ended in a classified failure.",
	}, []string{"chain"})
)
