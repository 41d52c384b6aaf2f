package gateway

import (
	"math/big"
	"sort"

	arcrelay "github.com/kij-exe/ArcRelay"
)

// SelectedToken is one funding draw against an aggregated balance. Draw
// never exceeds the balance; only the final selection may be partial.
type SelectedToken struct {
	TokenBalance
	Draw *big.Int
}

// Select picks balances to cover required exactly: balances are sorted
// descending by amount (stable, so equal balances keep their input order)
// and drawn whole until the remainder fits inside the next one, which is
// drawn partially. The draws always sum to exactly required.
//
// This is a bin-covering heuristic. It minimizes neither the number of
// source wallets nor the count of cross-chain draws.
func Select(balances []TokenBalance, required *big.Int) ([]SelectedToken, error) {
	if required == nil || required.Sign() <= 0 {
		return nil, arcrelay.NewError(arcrelay.KindValidation, "required amount must be positive")
	}

	available := new(big.Int)
	for _, balance := range balances {
		available.Add(available, balance.Amount)
	}
	if available.Cmp(required) < 0 {
		return nil, &arcrelay.InsufficientBalanceError{
			Required:  new(big.Int).Set(required),
			Available: available,
		}
	}

	sorted := make([]TokenBalance, len(balances))
	copy(sorted, balances)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount.Cmp(sorted[j].Amount) > 0
	})

	var selected []SelectedToken
	remaining := new(big.Int).Set(required)
	for _, balance := range sorted {
		if remaining.Sign() == 0 {
			break
		}
		draw := new(big.Int).Set(balance.Amount)
		if draw.Cmp(remaining) > 0 {
			draw.Set(remaining)
		}
		if draw.Sign() == 0 {
			continue
		}
		selected = append(selected, SelectedToken{TokenBalance: balance, Draw: draw})
		remaining.Sub(remaining, draw)
	}

	return selected, nil
}
