package core

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger holds the last known free/locked balance per asset. It is advisory
// against the latest refresh snapshot: the exchange's own check stays
// authoritative, and order logic never locally decrements balances.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]Balance
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]Balance)}
}

// UpdateBalance replaces the snapshot for an asset.
func (l *Ledger) UpdateBalance(asset string, free, locked decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[asset] = Balance{Asset: asset, Free: free, Locked: locked}
}

// ReplaceAll swaps the whole snapshot in, used on a full balance refresh.
func (l *Ledger) ReplaceAll(balances map[string]Balance) {
	next := make(map[string]Balance, len(balances))
	for asset, bal := range balances {
		next[asset] = bal
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = next
}

// Available returns the free balance for an asset, zero when unknown.
func (l *Ledger) Available(asset string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bal, ok := l.balances[asset]
	if !ok {
		return decimal.Zero
	}
	return bal.Free
}

// ValidateOrder checks whether the order can be funded from the snapshot.
// Buys need qty x (limit price, or refPrice for market orders) of the quote
// asset; sells need qty of the base asset. Equality is accepted. The reason
// string names required and available amounts so callers can surface why an
// order was rejected.
func (l *Ledger) ValidateOrder(order Order, rule SymbolRule, refPrice decimal.Decimal) (bool, string) {
	if order.Side == Buy {
		price := order.Price
		if price.Cmp(decimal.Zero) <= 0 {
			price = refPrice
		}
		required := order.Qty.Mul(price)
		available := l.Available(rule.QuoteAsset)
		if required.Cmp(available) > 0 {
			return false, fmt.Sprintf("insufficient %s balance: required %s, available %s",
				rule.QuoteAsset, required.String(), available.String())
		}
		return true, ""
	}
	required := order.Qty
	available := l.Available(rule.BaseAsset)
	if required.Cmp(available) > 0 {
		return false, fmt.Sprintf("insufficient %s balance: required %s, available %s",
			rule.BaseAsset, required.String(), available.String())
	}
	return true, ""
}
