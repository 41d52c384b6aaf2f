package arcrelay

import (
	"math/big"
	"strings"
)

var ten = big.NewInt(10)

// ParseAmount converts a decimal token amount string (e.g. "1.5") into
// base units for a token with the given number of decimals. The conversion
// is exact string arithmetic; amounts with more fractional digits than the
// token carries are rejected rather than rounded.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, NewError(KindValidation, "amount is empty")
	}
	if strings.HasPrefix(amount, "-") {
		return nil, NewError(KindValidation, "amount must be positive: %s", amount)
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
		if strings.IndexByte(frac, '.') >= 0 {
			return nil, NewError(KindValidation, "invalid amount: %s", amount)
		}
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, NewError(KindValidation, "amount %s has more than %d decimal places", amount, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	base, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, NewError(KindValidation, "invalid amount: %s", amount)
	}
	return base, nil
}

// FormatAmount renders a base-unit amount as a decimal token string,
// trimming trailing fractional zeros ("1500000", 6 -> "1.5").
func FormatAmount(base *big.Int, decimals int) string {
	scale := new(big.Int).Exp(ten, big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(base, scale, new(big.Int))

	if frac.Sign() == 0 {
		return whole.String()
	}
	digits := frac.String()
	digits = strings.Repeat("0", decimals-len(digits)) + digits
	digits = strings.TrimRight(digits, "0")
	return whole.String() + "." + digits
}
