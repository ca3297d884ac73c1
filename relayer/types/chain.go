// Package types defines the core data structures flowing through the relayer:
// transfer intents extracted from the source chain, their persisted records,
// and the batches handed to the per-chain executors.
package types

// ChainID identifies a supported target EVM chain.
type ChainID uint64

// Supported target chains.
const (
	Sepolia ChainID = 11155111
	Amoy    ChainID = 80002
)

// chainCodes maps the u8 chain code emitted by the Aleo program to an EVM
// chain id.
var chainCodes = map[uint8]ChainID{
	1: Sepolia,
	2: Amoy,
}

// SupportedChains returns every chain the relayer can settle on, in a stable
// order.
func SupportedChains() []ChainID {
	return []ChainID{Sepolia, Amoy}
}

// Valid reports whether c is a supported target chain.
func (c ChainID) Valid() bool {
	switch c {
	case Sepolia, Amoy:
		return true
	default:
		return false
	}
}

// String returns a short human-readable chain name for logs and batch ids.
func (c ChainID) String() string {
	switch c {
	case Sepolia:
		return "sepolia"
	case Amoy:
		return "amoy"
	default:
		return "unknown"
	}
}

// ChainFromCode maps an Aleo-side chain code to its EVM chain id.
func ChainFromCode(code uint8) (ChainID, bool) {
	id, ok := chainCodes[code]
	return id, ok
}
