package exchange

import (
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
)

// Fees are the maker and taker rates applied to a trade's notional.
//
// Fee amounts are recorded on the resolved match records only. No balance is
// debited for them and no fee account is credited, so settlement conserves
// every currency exactly
type Fees struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// DefaultFees are 0.5% maker and 0.3% taker
var DefaultFees = Fees{
	Maker: decimal.RequireFromString("0.005"),
	Taker: decimal.RequireFromString("0.003"),
}

// FeeAmounts are the fees computed for one trade
type FeeAmounts struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// Compute returns the fees for a trade of amount BTC. A BUY taker's fees are
// in USD on amount x the taker's limit price; a SELL taker's are in BTC on
// amount
func (f Fees) Compute(takerSide models.Side, amount, takerPrice decimal.Decimal) FeeAmounts {
	notional := amount
	if takerSide == models.Buy {
		notional = amount.Mul(takerPrice)
	}
	return FeeAmounts{
		Maker: notional.Mul(f.Maker).Round(models.BTCScale),
		Taker: notional.Mul(f.Taker).Round(models.BTCScale),
	}
}
