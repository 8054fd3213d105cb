package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/spotex/internal/apperror"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		in      string
		want    Side
		wantErr bool
	}{
		{in: "BUY", want: Buy},
		{in: "buy", want: Buy},
		{in: " Sell ", want: Sell},
		{in: "hold", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSide(tt.in)
			if tt.wantErr {
				assert.True(t, apperror.Is(err, apperror.ValidationError))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCurrenciesFor(t *testing.T) {
	base, quote := CurrenciesFor(Buy)
	assert.Equal(t, USD, base)
	assert.Equal(t, BTC, quote)

	base, quote = CurrenciesFor(Sell)
	assert.Equal(t, BTC, base)
	assert.Equal(t, USD, quote)

	// a sell always mirrors a buy
	buy := NewOrder(1, Buy, dec("1"), dec("1"))
	sell := NewOrder(2, Sell, dec("1"), dec("1"))
	assert.Equal(t, buy.BaseCurrency, sell.QuoteCurrency)
	assert.Equal(t, buy.QuoteCurrency, sell.BaseCurrency)
}

func TestOrder_ApplyFill(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		filled     string
		status     OrderStatus
		fill       string
		wantStatus OrderStatus
		wantFilled string
		wantErr    bool
	}{
		{name: "PartialFromActive", amount: "2", filled: "0", status: Active, fill: "0.5", wantStatus: PartiallyFilled, wantFilled: "0.5"},
		{name: "PartialStaysPartial", amount: "2", filled: "0.5", status: PartiallyFilled, fill: "0.5", wantStatus: PartiallyFilled, wantFilled: "1"},
		{name: "Complete", amount: "2", filled: "0.5", status: PartiallyFilled, fill: "1.5", wantStatus: Completed, wantFilled: "2"},
		{name: "DustCompletes", amount: "1", filled: "0", status: Active, fill: "0.99999999", wantStatus: Completed, wantFilled: "0.99999999"},
		{name: "JustAboveDust", amount: "1", filled: "0", status: Active, fill: "0.99999998", wantStatus: PartiallyFilled, wantFilled: "0.99999998"},
		{name: "Overfill", amount: "1", filled: "0.5", status: PartiallyFilled, fill: "0.6", wantErr: true},
		{name: "Zero", amount: "1", filled: "0", status: Active, fill: "0", wantErr: true},
		{name: "Cancelled", amount: "1", filled: "0", status: Cancelled, fill: "0.1", wantErr: true},
		{name: "Completed", amount: "1", filled: "1", status: Completed, fill: "0.1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Side: Buy, Amount: dec(tt.amount), Filled: dec(tt.filled), Status: tt.status}
			err := o.ApplyFill(dec(tt.fill))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, dec(tt.filled), o.Filled)
				assert.Equal(t, tt.status, o.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, o.Status)
			assert.True(t, o.Filled.Equal(dec(tt.wantFilled)), o.Filled.String())
		})
	}
}

func TestOrder_Held(t *testing.T) {
	buy := &Order{Side: Buy, Amount: dec("0.3"), Price: dec("33.33"), Filled: dec("0.1")}
	currency, held := buy.Held()
	assert.Equal(t, USD, currency)
	// 10.00 reserved minus 3.33 consumed
	assert.Equal(t, "6.67", held.String())

	sell := &Order{Side: Sell, Amount: dec("2"), Price: dec("100"), Filled: dec("0.75")}
	currency, held = sell.Held()
	assert.Equal(t, BTC, currency)
	assert.Equal(t, "1.25", held.String())
}

func TestMatch_Resolved(t *testing.T) {
	counter, fee := 7, dec("0.1")
	m := Match{}
	assert.False(t, m.Resolved())
	assert.False(t, m.IsTakerLeg())

	m.CounterOrderID = &counter
	assert.True(t, m.Resolved())
	assert.False(t, m.IsTakerLeg())

	m.TakerFee = &fee
	assert.True(t, m.IsTakerLeg())
}

func TestParseAmountAndPrice(t *testing.T) {
	tests := []struct {
		name    string
		parse   func(string) (decimal.Decimal, error)
		in      string
		want    string
		wantErr bool
	}{
		{name: "Amount", parse: ParseAmount, in: "0.00000001", want: "0.00000001"},
		{name: "AmountTooPrecise", parse: ParseAmount, in: "0.000000001", wantErr: true},
		{name: "AmountZero", parse: ParseAmount, in: "0", wantErr: true},
		{name: "AmountNegative", parse: ParseAmount, in: "-1", wantErr: true},
		{name: "AmountExponent", parse: ParseAmount, in: "1e3", wantErr: true},
		{name: "AmountTooLarge", parse: ParseAmount, in: "1000000000000", wantErr: true},
		{name: "Price", parse: ParsePrice, in: "50000.25", want: "50000.25"},
		{name: "PriceTooPrecise", parse: ParsePrice, in: "1.001", wantErr: true},
		{name: "PriceEmpty", parse: ParsePrice, in: "", wantErr: true},
		{name: "PriceTrailingZeros", parse: ParsePrice, in: "10.500", want: "10.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.parse(tt.in)
			if tt.wantErr {
				assert.True(t, apperror.Is(err, apperror.ValidationError), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestQuoteValue(t *testing.T) {
	assert.Equal(t, "3.33", QuoteValue(dec("0.1"), dec("33.33")).String())
	assert.Equal(t, "0.01", QuoteValue(dec("0.00000001"), dec("1000000")).String())
	assert.Equal(t, "0", QuoteValue(dec("0.00000001"), dec("1")).String())
	assert.True(t, IsDust(Epsilon))
	assert.False(t, IsDust(dec("0.00000002")))
}
