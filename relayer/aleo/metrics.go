package aleo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	intentsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_aleo_intents_extracted_total",
		Help: "Transfer intents successfully extracted from Aleo transitions.",
	})
	duplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_aleo_duplicates_skipped_total",
		Help: "Intents skipped because their request id was already processed.",
	})
	pollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_aleo_poll_failures_total",
		Help: "Poll ticks that failed before advancing the scanned height.",
	})
	blocksScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_aleo_blocks_scanned_total",
		Help: "Aleo blocks fetched and scanned for transfer intents.",
	})
)
