// Package flags defines every CLI flag of the relayer binary. Each flag is
// bound to the environment variable operators already use, so a bare binary
// run inside the existing deployment picks up its configuration unchanged.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// AleoRPCFlag is the primary Aleo explorer API base URL.
	AleoRPCFlag = &cli.StringFlag{
		Name:    "aleo-rpc",
		Usage:   "Primary Aleo explorer API base URL",
		Value:   "https://api.explorer.provable.com/v2/testnet",
		EnvVars: []string{"ALEO_RPC"},
	}
	// AleoFallbackRPCsFlag lists fallback explorer endpoints.
	AleoFallbackRPCsFlag = &cli.StringFlag{
		Name:    "aleo-fallback-rpcs",
		Usage:   "Comma-separated fallback Aleo explorer endpoints, tried in order",
		Value:   "https://api.explorer.aleo.org/v1/testnet",
		EnvVars: []string{"ALEO_FALLBACK_RPCS"},
	}
	// AleoProgramIDFlag is the watched Aleo program.
	AleoProgramIDFlag = &cli.StringFlag{
		Name:    "aleo-program-id",
		Usage:   "Aleo program whose transitions carry transfer intents",
		Value:   "privacy_box_mvp.aleo",
		EnvVars: []string{"ALEO_PROGRAM_ID"},
	}
	// AleoIntentFuncFlag is the watched transition function.
	AleoIntentFuncFlag = &cli.StringFlag{
		Name:    "aleo-intent-function",
		Usage:   "Transition function name that initiates a transfer",
		Value:   "initiate_transfer",
		EnvVars: []string{"ALEO_INTENT_FUNCTION"},
	}
	// AleoPollIntervalFlag is the poll period in milliseconds.
	AleoPollIntervalFlag = &cli.IntFlag{
		Name:    "aleo-poll-interval",
		Usage:   "Aleo block poll interval in milliseconds",
		Value:   10000,
		EnvVars: []string{"ALEO_POLL_INTERVAL"},
	}
	// AleoRateLimitRPSFlag caps explorer requests per second.
	AleoRateLimitRPSFlag = &cli.IntFlag{
		Name:    "aleo-rate-limit-rps",
		Usage:   "Maximum Aleo API requests per second",
		Value:   5,
		EnvVars: []string{"ALEO_RATE_LIMIT_RPS"},
	}
	// AleoRateLimitRPMFlag caps explorer requests per minute.
	AleoRateLimitRPMFlag = &cli.IntFlag{
		Name:    "aleo-rate-limit-rpm",
		Usage:   "Maximum Aleo API requests per minute",
		Value:   100,
		EnvVars: []string{"ALEO_RATE_LIMIT_RPM"},
	}
	// SepoliaRPCFlag is the Sepolia JSON-RPC endpoint. Required.
	SepoliaRPCFlag = &cli.StringFlag{
		Name:    "sepolia-rpc",
		Usage:   "Ethereum Sepolia JSON-RPC endpoint (required)",
		EnvVars: []string{"SEPOLIA_RPC"},
	}
	// PolygonAmoyRPCFlag is the Polygon Amoy JSON-RPC endpoint. Required.
	PolygonAmoyRPCFlag = &cli.StringFlag{
		Name:    "polygon-amoy-rpc",
		Usage:   "Polygon Amoy JSON-RPC endpoint (required)",
		EnvVars: []string{"POLYGON_AMOY_RPC"},
	}
	// RelayerPKsFlag carries all signing keys at once.
	RelayerPKsFlag = &cli.StringFlag{
		Name:    "relayer-pks",
		Usage:   "Comma-separated relayer signing keys (hex); at least 2 required",
		EnvVars: []string{"RELAYER_PKS"},
	}
	// RelayerPKFlag is the first signing key of the legacy two-variable form.
	RelayerPKFlag = &cli.StringFlag{
		Name:    "relayer-pk",
		Usage:   "First relayer signing key (hex); used with --relayer-pk-2 when --relayer-pks is unset",
		EnvVars: []string{"RELAYER_PK"},
	}
	// RelayerPK2Flag is the second signing key of the legacy two-variable form.
	RelayerPK2Flag = &cli.StringFlag{
		Name:    "relayer-pk-2",
		Usage:   "Second relayer signing key (hex)",
		EnvVars: []string{"RELAYER_PK_2"},
	}
	// MaxBatchSizeFlag caps intents per batch.
	MaxBatchSizeFlag = &cli.IntFlag{
		Name:    "max-batch-size",
		Usage:   "Maximum intents per batch; reaching it flushes immediately",
		Value:   5,
		EnvVars: []string{"MAX_BATCH_SIZE"},
	}
	// MaxBatchWaitFlag bounds how long a partial batch waits, in milliseconds.
	MaxBatchWaitFlag = &cli.IntFlag{
		Name:    "max-batch-wait",
		Usage:   "Maximum wait before flushing a partial batch, in milliseconds",
		Value:   10000,
		EnvVars: []string{"MAX_BATCH_WAIT_TIME"},
	}
	// GasPriceMultiplierFlag scales suggested gas prices.
	GasPriceMultiplierFlag = &cli.Float64Flag{
		Name:    "gas-price-multiplier",
		Usage:   "Multiplier applied to the chain's suggested gas price",
		Value:   1.10,
		EnvVars: []string{"GAS_PRICE_MULTIPLIER"},
	}
	// MaxRetriesFlag caps dead-letter retry rounds.
	MaxRetriesFlag = &cli.IntFlag{
		Name:    "max-retries",
		Usage:   "Retry rounds before an intent is marked permanently failed",
		Value:   3,
		EnvVars: []string{"MAX_RETRIES"},
	}
	// QueueHighWaterFlag is the per-chain queue depth above which the node
	// logs a degraded signal. Intents are never dropped.
	QueueHighWaterFlag = &cli.IntFlag{
		Name:    "queue-high-water",
		Usage:   "Per-chain queued-intent count that triggers a degraded-signal warning",
		Value:   100,
		EnvVars: []string{"QUEUE_HIGH_WATER"},
	}
	// RetryDelayFlag is the dead-letter backoff base in milliseconds.
	RetryDelayFlag = &cli.IntFlag{
		Name:    "retry-delay",
		Usage:   "Base dead-letter retry delay in milliseconds; doubles per retry",
		Value:   60000,
		EnvVars: []string{"RETRY_DELAY"},
	}
	// HealthPortFlag is the operational HTTP port.
	HealthPortFlag = &cli.IntFlag{
		Name:    "health-port",
		Usage:   "Port for the health/metrics/intent HTTP surface",
		Value:   3001,
		EnvVars: []string{"HEALTH_PORT"},
	}
	// DBPathFlag locates the persistent store file.
	DBPathFlag = &cli.StringFlag{
		Name:    "db-path",
		Usage:   "Filesystem path of the transaction record database",
		Value:   "./data/transactions.db",
		EnvVars: []string{"DB_PATH"},
	}
	// MinWalletBalanceFlag is the degraded-health balance floor.
	MinWalletBalanceFlag = &cli.StringFlag{
		Name:    "min-wallet-balance",
		Usage:   "Wallet balance floor in native token units; any wallet below it degrades health",
		Value:   "0.01",
		EnvVars: []string{"MIN_WALLET_BALANCE"},
	}
	// ClearDBFlag wipes the store before starting.
	ClearDBFlag = &cli.BoolFlag{
		Name:  "clear-db",
		Usage: "Delete all intent records before starting",
	}
	// VerbosityFlag sets the log level.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error, fatal, panic)",
		Value: "info",
	}
	// LogFormatFlag selects the log output format.
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log output format (text, json)",
		Value: "text",
	}
	// LogFileFlag mirrors all logs to a file.
	LogFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "File to which logs are appended, in addition to stdout",
	}
)

// Flags is the full flag set of the relayer command.
var Flags = []cli.Flag{
	AleoRPCFlag,
	AleoFallbackRPCsFlag,
	AleoProgramIDFlag,
	AleoIntentFuncFlag,
	AleoPollIntervalFlag,
	AleoRateLimitRPSFlag,
	AleoRateLimitRPMFlag,
	SepoliaRPCFlag,
	PolygonAmoyRPCFlag,
	RelayerPKsFlag,
	RelayerPKFlag,
	RelayerPK2Flag,
	MaxBatchSizeFlag,
	MaxBatchWaitFlag,
	QueueHighWaterFlag,
	GasPriceMultiplierFlag,
	MaxRetriesFlag,
	RetryDelayFlag,
	HealthPortFlag,
	DBPathFlag,
	MinWalletBalanceFlag,
	ClearDBFlag,
	VerbosityFlag,
	LogFormatFlag,
	LogFileFlag,
}
