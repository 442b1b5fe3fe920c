// Package pricing computes tiered selling prices from a product's base price,
// its explicit per-tier overrides and the merchant's margin rules.
//
// All amounts are whole currency units. Percentage margins are truncated
// toward zero so totals are reproducible on every recomputation.
package pricing

import (
	"github.com/shopspring/decimal"
)

// Tier is a customer classification used to select pricing.
type Tier string

const (
	TierNonMember   Tier = "NON_MEMBER"
	TierMember      Tier = "MEMBER"
	TierMemberUsaha Tier = "MEMBER_USAHA"
	// TierUmum appears only in margin rule data. It is never a basket tier.
	TierUmum Tier = "UMUM"
)

// Valid reports whether t can be selected for a basket.
func (t Tier) Valid() bool {
	switch t {
	case TierNonMember, TierMember, TierMemberUsaha:
		return true
	default:
		return false
	}
}

// MarginType enumerates the supported markup strategies.
type MarginType string

const (
	// MarginFlat adds a fixed amount to the base price.
	MarginFlat MarginType = "FLAT"
	// MarginPercent adds a percentage of the base price.
	MarginPercent MarginType = "PERCENT"
)

// MarginRule is a merchant-configured markup for one tier.
type MarginRule struct {
	Tier  Tier
	Type  MarginType
	Value decimal.Decimal
}

// Product is a catalog item as seen by the pricing engine.
type Product struct {
	ID        string
	Name      string
	BasePrice int64
	Stock     int

	PriceNonMember   *int64
	PriceMember      *int64
	PriceMemberUsaha *int64
}

// Override returns the explicit price for tier, if the product carries one.
func (p Product) Override(tier Tier) (int64, bool) {
	var v *int64
	switch tier {
	case TierNonMember:
		v = p.PriceNonMember
	case TierMember:
		v = p.PriceMember
	case TierMemberUsaha:
		v = p.PriceMemberUsaha
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Quote is the unit selling price of a product for one tier.
type Quote struct {
	UnitPrice int64
	Margin    int64
}

var hundred = decimal.NewFromInt(100)

// SellingPrice returns the unit price and margin of p for tier.
//
// An explicit override wins over any margin rule. Otherwise the first rule
// for tier is applied. Without either the base price is returned unchanged.
func SellingPrice(p Product, tier Tier, rules []MarginRule) Quote {
	if price, ok := p.Override(tier); ok {
		return Quote{UnitPrice: price, Margin: price - p.BasePrice}
	}
	for i := range rules {
		if rules[i].Tier == tier {
			return applyRule(p.BasePrice, &rules[i])
		}
	}
	return Quote{UnitPrice: p.BasePrice}
}

func applyRule(base int64, rule *MarginRule) Quote {
	var margin int64
	switch rule.Type {
	case MarginFlat:
		margin = rule.Value.Truncate(0).IntPart()
	case MarginPercent:
		margin = decimal.NewFromInt(base).Mul(rule.Value).Div(hundred).Truncate(0).IntPart()
	}
	return Quote{UnitPrice: base + margin, Margin: margin}
}

// Engine prices products against a fixed rule set indexed by tier.
type Engine struct {
	rules map[Tier]MarginRule
}

// NewEngine builds an Engine. When several rules target the same tier the
// first one is authoritative.
func NewEngine(rules []MarginRule) *Engine {
	idx := make(map[Tier]MarginRule, len(rules))
	for _, r := range rules {
		if _, ok := idx[r.Tier]; !ok {
			idx[r.Tier] = r
		}
	}
	return &Engine{rules: idx}
}

// Quote prices p for tier. A nil Engine prices at the base price.
func (e *Engine) Quote(p Product, tier Tier) Quote {
	if price, ok := p.Override(tier); ok {
		return Quote{UnitPrice: price, Margin: price - p.BasePrice}
	}
	if e != nil {
		if rule, ok := e.rules[tier]; ok {
			return applyRule(p.BasePrice, &rule)
		}
	}
	return Quote{UnitPrice: p.BasePrice}
}
