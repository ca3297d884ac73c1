package node

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/privacybox/relayer/cmd/relayer/flags"
	"github.com/privacybox/relayer/shared/params"
)

// buildConfig materializes the runtime configuration from CLI flags and
// their bound environment variables, validating the fatal-misconfiguration
// cases up front.
func buildConfig(cliCtx *cli.Context) (*params.Config, error) {
	cfg := params.DefaultConfig()

	cfg.AleoRPC = cliCtx.String(flags.AleoRPCFlag.Name)
	if raw := cliCtx.String(flags.AleoFallbackRPCsFlag.Name); raw != "" {
		cfg.AleoFallbackRPCs = splitAndTrim(raw)
	}
	cfg.AleoProgramID = cliCtx.String(flags.AleoProgramIDFlag.Name)
	cfg.AleoIntentFunc = cliCtx.String(flags.AleoIntentFuncFlag.Name)
	cfg.PollInterval = time.Duration(cliCtx.Int(flags.AleoPollIntervalFlag.Name)) * time.Millisecond
	cfg.RateLimitRPS = cliCtx.Int(flags.AleoRateLimitRPSFlag.Name)
	cfg.RateLimitRPM = cliCtx.Int(flags.AleoRateLimitRPMFlag.Name)

	cfg.SepoliaRPC = cliCtx.String(flags.SepoliaRPCFlag.Name)
	cfg.PolygonAmoyRPC = cliCtx.String(flags.PolygonAmoyRPCFlag.Name)
	if cfg.SepoliaRPC == "" || cfg.PolygonAmoyRPC == "" {
		return nil, errors.New("both --sepolia-rpc and --polygon-amoy-rpc are required")
	}

	keys, err := resolveKeys(cliCtx)
	if err != nil {
		return nil, err
	}
	cfg.PrivateKeys = keys

	cfg.MaxBatchSize = cliCtx.Int(flags.MaxBatchSizeFlag.Name)
	cfg.MaxBatchWait = time.Duration(cliCtx.Int(flags.MaxBatchWaitFlag.Name)) * time.Millisecond
	cfg.QueueHighWater = cliCtx.Int(flags.QueueHighWaterFlag.Name)
	cfg.GasPriceMultiplier = cliCtx.Float64(flags.GasPriceMultiplierFlag.Name)
	cfg.MaxRetries = cliCtx.Int(flags.MaxRetriesFlag.Name)
	cfg.RetryDelay = time.Duration(cliCtx.Int(flags.RetryDelayFlag.Name)) * time.Millisecond
	cfg.HealthPort = cliCtx.Int(flags.HealthPortFlag.Name)
	cfg.DBPath = cliCtx.String(flags.DBPathFlag.Name)
	cfg.MinWalletBalance = cliCtx.String(flags.MinWalletBalanceFlag.Name)
	return cfg, nil
}

// resolveKeys reads signing keys from --relayer-pks, falling back to the
// --relayer-pk/--relayer-pk-2 pair.
func resolveKeys(cliCtx *cli.Context) ([]string, error) {
	if raw := cliCtx.String(flags.RelayerPKsFlag.Name); raw != "" {
		keys := splitAndTrim(raw)
		if len(keys) < 2 {
			return nil, errors.Errorf("--relayer-pks needs at least 2 comma-separated keys, got %d", len(keys))
		}
		return keys, nil
	}
	first := cliCtx.String(flags.RelayerPKFlag.Name)
	second := cliCtx.String(flags.RelayerPK2Flag.Name)
	if first == "" || second == "" {
		return nil, errors.New("signing keys required: set --relayer-pks or both --relayer-pk and --relayer-pk-2")
	}
	return []string{first, second}, nil
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
