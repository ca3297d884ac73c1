package types

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// weiPerEther is 10^18, the scaling factor between the human-denominated
// amount strings carried by intents and the wei values sent on chain.
var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// maxTransferWei bounds a single settlement at 1000 native tokens. Anything
// larger is assumed to be a malformed or hostile intent.
var maxTransferWei = new(big.Int).Mul(big.NewInt(1000), weiPerEther)

// ParseAmount converts a human-denominated decimal amount string ("0.01")
// into wei. It rejects empty, non-numeric, zero, negative and implausibly
// large values.
func ParseAmount(amount string) (*big.Int, error) {
	if strings.TrimSpace(amount) == "" {
		return nil, errors.New("empty amount")
	}
	rat, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, errors.Errorf("non-numeric amount %q", amount)
	}
	if rat.Sign() <= 0 {
		return nil, errors.Errorf("amount %q must be positive", amount)
	}
	wei := new(big.Rat).Mul(rat, new(big.Rat).SetInt(weiPerEther))
	if !wei.IsInt() {
		return nil, errors.Errorf("amount %q has more than 18 decimal places", amount)
	}
	val := wei.Num()
	if val.Cmp(maxTransferWei) > 0 {
		return nil, errors.Errorf("amount %q exceeds the per-transfer bound", amount)
	}
	return val, nil
}

// FormatWei renders a wei value as a human-denominated decimal string with
// trailing zeros trimmed, e.g. 10000000000000000 -> "0.01".
func FormatWei(wei *big.Int) string {
	quo, rem := new(big.Int).QuoRem(wei, weiPerEther, new(big.Int))
	if rem.Sign() == 0 {
		return quo.String()
	}
	frac := strings.TrimRight(new(big.Int).Abs(rem).Text(10), "0")
	// Left-pad the fractional part to 18 digits before trimming so that
	// 10^16 wei reads "0.01" and not "0.1".
	pad := 18 - len(new(big.Int).Abs(rem).Text(10))
	return quo.String() + "." + strings.Repeat("0", pad) + frac
}
