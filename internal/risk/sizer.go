package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"bybit-trader/internal/core"
)

// Sizer converts a signal confidence score into a quote-currency budget for
// the next order. Budgets scale down with confidence and are hard-capped at
// half the free quote balance so one signal can never commit the account.
type Sizer struct {
	maxPositionFraction decimal.Decimal
}

var (
	defaultMaxFraction = decimal.RequireFromString("0.1")
	halfBalanceCap     = decimal.RequireFromString("0.5")
)

// Confidence tiers, highest first.
var sizeTiers = []struct {
	minScore decimal.Decimal
	factor   decimal.Decimal
}{
	{decimal.NewFromInt(90), decimal.RequireFromString("1.0")},
	{decimal.NewFromInt(80), decimal.RequireFromString("0.8")},
	{decimal.NewFromInt(70), decimal.RequireFromString("0.6")},
	{decimal.NewFromInt(60), decimal.RequireFromString("0.4")},
}

var floorFactor = decimal.RequireFromString("0.2")

func NewSizer(maxPositionFraction decimal.Decimal) *Sizer {
	if maxPositionFraction.Cmp(decimal.Zero) <= 0 {
		maxPositionFraction = defaultMaxFraction
	}
	return &Sizer{maxPositionFraction: maxPositionFraction}
}

// scoreFactor maps a confidence score onto a size multiplier. Scores below
// the lowest tier still trade, at the floor factor.
func scoreFactor(score decimal.Decimal) decimal.Decimal {
	for _, tier := range sizeTiers {
		if score.Cmp(tier.minScore) >= 0 {
			return tier.factor
		}
	}
	return floorFactor
}

// QuoteBudget returns how much quote currency to spend for a signal with the
// given confidence score, based on the ledger's free quote balance.
func (s *Sizer) QuoteBudget(ledger *core.Ledger, quoteAsset string, score decimal.Decimal) (decimal.Decimal, error) {
	free := ledger.Available(quoteAsset)
	if free.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, errors.New("no free quote balance")
	}
	budget := free.Mul(s.maxPositionFraction).Mul(scoreFactor(score))
	limit := free.Mul(halfBalanceCap)
	if budget.Cmp(limit) > 0 {
		budget = limit
	}
	return budget, nil
}

// OrderQuantity turns a quote budget into a base quantity at the given
// reference price, truncated to the symbol's step.
func (s *Sizer) OrderQuantity(ledger *core.Ledger, rule core.SymbolRule, price, score decimal.Decimal) (decimal.Decimal, error) {
	if price.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, errors.New("reference price must be positive")
	}
	budget, err := s.QuoteBudget(ledger, rule.QuoteAsset, score)
	if err != nil {
		return decimal.Zero, err
	}
	qty := core.RoundDown(budget.Div(price), rule.QtyStep)
	if rule.MinQty.Cmp(decimal.Zero) > 0 && qty.Cmp(rule.MinQty) < 0 {
		return decimal.Zero, errors.New("sized quantity below exchange minimum")
	}
	return qty, nil
}
