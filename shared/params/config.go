// Package params defines the runtime configuration of the relayer process.
// The node builds one Config from CLI flags / environment variables and hands
// it (or sub-fields) to each component; nothing below the node ever sees the
// cli context.
package params

import "time"

// Config holds every tunable of the relayer core.
type Config struct {
	// Aleo listener.
	AleoRPC          string
	AleoFallbackRPCs []string
	AleoProgramID    string
	AleoIntentFunc   string
	PollInterval     time.Duration
	RateLimitRPS     int
	RateLimitRPM     int

	// Circuit breaker around the Aleo API.
	BreakerFailureThreshold int
	BreakerWindow           time.Duration
	BreakerResetTimeout     time.Duration

	// Target EVM chains.
	SepoliaRPC     string
	PolygonAmoyRPC string

	// Signing keys, shared across chains. At least 2 required.
	PrivateKeys []string

	// Batching.
	MaxBatchSize int
	MaxBatchWait time.Duration

	// Execution.
	GasPriceMultiplier float64
	GasUpdateInterval  time.Duration
	ReceiptTimeout     time.Duration
	ExecutorAttempts   int
	ExecutorBackoff    time.Duration

	// Dead letter queue.
	MaxRetries int
	RetryDelay time.Duration

	// Operational surface.
	HealthPort       int
	DBPath           string
	MinWalletBalance string
	QueueHighWater   int
	ShutdownGrace    time.Duration
}

// DefaultConfig returns the configuration used when no flag or environment
// variable overrides a value.
func DefaultConfig() *Config {
	return &Config{
		AleoRPC: "https://api.explorer.provable.com/v2/testnet",
		AleoFallbackRPCs: []string{
			"https://api.explorer.aleo.org/v1/testnet",
		},
		AleoProgramID:  "privacy_box_mvp.aleo",
		AleoIntentFunc: "initiate_transfer",
		PollInterval:   10 * time.Second,
		RateLimitRPS:   5,
		RateLimitRPM:   100,

		BreakerFailureThreshold: 5,
		BreakerWindow:           60 * time.Second,
		BreakerResetTimeout:     60 * time.Second,

		MaxBatchSize: 5,
		MaxBatchWait: 10 * time.Second,

		GasPriceMultiplier: 1.10,
		GasUpdateInterval:  60 * time.Second,
		ReceiptTimeout:     120 * time.Second,
		ExecutorAttempts:   3,
		ExecutorBackoff:    2 * time.Second,

		MaxRetries: 3,
		RetryDelay: 60 * time.Second,

		HealthPort:       3001,
		DBPath:           "./data/transactions.db",
		MinWalletBalance: "0.01",
		QueueHighWater:   100,
		ShutdownGrace:    10 * time.Second,
	}
}
