package aleo

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"time"

	"github.com/privacybox/relayer/relayer/types"
)

var (
	u64Pattern     = regexp.MustCompile(`^(\d+)u64$`)
	u8Pattern      = regexp.MustCompile(`^(\d+)u8$`)
	addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)
)

// weiThreshold is the heuristic boundary above which a u64 amount literal is
// treated as wei-denominated rather than human-denominated. 10^15 native
// units would be an absurd human amount, so anything above it is wei.
var weiThreshold = new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)

// ExtractIntent scans a transition's inputs and outputs for the three typed
// literals of a transfer intent: a u64 amount, a u8 chain code and an EVM
// recipient address. It returns false when the transition does not carry a
// complete, well-formed intent; extraction is never fatal to the caller.
func ExtractIntent(txID string, transition Transition, height uint64, index int) (types.TransferIntent, bool) {
	var (
		amountRaw *big.Int
		chainCode = -1
		recipient string
	)
	values := append(append([]Value{}, transition.Inputs...), transition.Outputs...)
	for _, v := range values {
		if m := u64Pattern.FindStringSubmatch(v.Value); m != nil && amountRaw == nil {
			parsed, ok := new(big.Int).SetString(m[1], 10)
			if ok {
				amountRaw = parsed
			}
			continue
		}
		if m := u8Pattern.FindStringSubmatch(v.Value); m != nil && chainCode < 0 {
			if parsed, err := strconv.Atoi(m[1]); err == nil && parsed <= 255 {
				chainCode = parsed
			}
			continue
		}
		if m := addressPattern.FindString(v.Value); m != "" && recipient == "" {
			recipient = m
		}
	}
	if amountRaw == nil || chainCode < 0 || recipient == "" {
		return types.TransferIntent{}, false
	}
	chainID, ok := types.ChainFromCode(uint8(chainCode))
	if !ok {
		log.WithField("chainCode", chainCode).Warn("Dropping intent with unknown chain code")
		return types.TransferIntent{}, false
	}

	requestID := txID
	if requestID == "" {
		requestID = fmt.Sprintf("%d:%d", height, index)
	}
	intent := types.TransferIntent{
		RequestID:  requestID,
		SourceTxID: txID,
		ChainID:    chainID,
		Amount:     normalizeAmount(amountRaw),
		Recipient:  recipient,
		CreatedAt:  time.Now(),
	}
	if err := intent.Validate(); err != nil {
		log.WithError(err).WithField("requestId", requestID).Warn("Dropping malformed intent")
		return types.TransferIntent{}, false
	}
	return intent, true
}

// normalizeAmount renders a raw u64 literal as a human-denominated decimal
// string, dividing by 10^18 when the value is large enough to be wei.
func normalizeAmount(raw *big.Int) string {
	if raw.Cmp(weiThreshold) > 0 {
		return types.FormatWei(raw)
	}
	return raw.String()
}
