package core

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Normalizer converts raw quantities and prices into exchange-legal values
// using per-symbol step/tick rules. It is the sole writer of the rule cache.
//
// Quantities truncate toward zero and prices round up regardless of order
// side; conservative for sellers, kept as-is for buyers.
type Normalizer struct {
	mu    sync.RWMutex
	rules map[string]SymbolRule
}

func NewNormalizer() *Normalizer {
	return &Normalizer{rules: make(map[string]SymbolRule)}
}

// UpdateRule replaces the cached rule for a symbol, last write wins.
func (n *Normalizer) UpdateRule(rule SymbolRule) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rules[rule.Symbol] = rule
}

// Rule returns the cached rule for a symbol.
func (n *Normalizer) Rule(symbol string) (SymbolRule, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	rule, ok := n.rules[symbol]
	return rule, ok
}

// RoundQuantity truncates qty to an exact multiple of the symbol's step size.
func (n *Normalizer) RoundQuantity(symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	rule, ok := n.Rule(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return RoundDown(qty, rule.QtyStep), nil
}

// RoundPrice rounds price up to the symbol's tick so the order never
// silently under-prices.
func (n *Normalizer) RoundPrice(symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	rule, ok := n.Rule(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return RoundUp(price, rule.PriceTick), nil
}

// ValidateQuantity reports whether qty is within [MinQty, MaxQty] and an
// exact multiple of the step size. Used as a final gate after rounding to
// catch upstream rule changes.
func (n *Normalizer) ValidateQuantity(symbol string, qty decimal.Decimal) bool {
	rule, ok := n.Rule(symbol)
	if !ok {
		return false
	}
	if qty.Cmp(decimal.Zero) <= 0 {
		return false
	}
	if rule.MinQty.Cmp(decimal.Zero) > 0 && qty.Cmp(rule.MinQty) < 0 {
		return false
	}
	if rule.MaxQty.Cmp(decimal.Zero) > 0 && qty.Cmp(rule.MaxQty) > 0 {
		return false
	}
	if rule.QtyStep.Cmp(decimal.Zero) > 0 && !qty.Mod(rule.QtyStep).IsZero() {
		return false
	}
	return true
}

func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

func RoundUp(value, tick decimal.Decimal) decimal.Decimal {
	if tick.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(tick).Ceil().Mul(tick)
}
