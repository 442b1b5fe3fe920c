// Package basket holds the in-progress transaction of a checkout session.
//
// A Store has a single writer: the operator's input loop. It performs no
// locking of its own.
package basket

import (
	"github.com/xenking/kasir-checkout/internal/domain/pricing"
)

// Line is one product entry of the basket with its computed pricing.
type Line struct {
	ProductID  string
	Name       string
	Quantity   int
	UnitBase   int64
	UnitPrice  int64
	UnitMargin int64
}

// Subtotal returns the line total at base price.
func (l Line) Subtotal() int64 { return l.UnitBase * int64(l.Quantity) }

// Margin returns the line margin total.
func (l Line) Margin() int64 { return l.UnitMargin * int64(l.Quantity) }

// Total returns the line total at selling price.
func (l Line) Total() int64 { return l.UnitPrice * int64(l.Quantity) }

// Summary aggregates a basket.
type Summary struct {
	Subtotal    int64
	TotalMargin int64
	GrandTotal  int64
}

// Snapshot is an immutable copy of the basket used for submission.
type Snapshot struct {
	Tier    pricing.Tier
	Lines   []Line
	Summary Summary
}

// Empty reports whether the snapshot has no lines.
func (s Snapshot) Empty() bool { return len(s.Lines) == 0 }

// Store is the mutable basket of one session.
type Store struct {
	engine   *pricing.Engine
	products map[string]pricing.Product
	order    []string
	tier     pricing.Tier

	lines []Line
	index map[string]int
}

// New creates an empty basket over the given catalog. The tier starts as
// NON_MEMBER.
func New(products []pricing.Product, engine *pricing.Engine) *Store {
	s := &Store{
		engine:   engine,
		products: make(map[string]pricing.Product, len(products)),
		order:    make([]string, 0, len(products)),
		tier:     pricing.TierNonMember,
		index:    make(map[string]int),
	}
	for _, p := range products {
		if _, dup := s.products[p.ID]; !dup {
			s.order = append(s.order, p.ID)
		}
		s.products[p.ID] = p
	}
	return s
}

// Tier returns the tier lines are currently priced at.
func (s *Store) Tier() pricing.Tier { return s.tier }

// Len returns the number of lines.
func (s *Store) Len() int { return len(s.lines) }

// Quantity returns the quantity of productID in the basket.
func (s *Store) Quantity(productID string) int {
	if i, ok := s.index[productID]; ok {
		return s.lines[i].Quantity
	}
	return 0
}

// SetQuantity sets the quantity of productID. A quantity of zero or less
// removes the line. Quantities are clamped to the product's stock. It
// reports false when the product is not in the catalog.
func (s *Store) SetQuantity(productID string, qty int) bool {
	p, ok := s.products[productID]
	if !ok {
		return false
	}
	if qty > p.Stock {
		qty = p.Stock
	}
	if qty <= 0 {
		s.remove(productID)
		return true
	}

	line := s.price(p, qty)
	if i, ok := s.index[productID]; ok {
		s.lines[i] = line
		return true
	}
	s.index[productID] = len(s.lines)
	s.lines = append(s.lines, line)
	return true
}

// SetTier reprices every line for tier. Quantities are untouched. Tiers
// that are not valid for a basket are ignored.
func (s *Store) SetTier(tier pricing.Tier) {
	if !tier.Valid() {
		return
	}
	s.tier = tier
	for i, l := range s.lines {
		s.lines[i] = s.price(s.products[l.ProductID], l.Quantity)
	}
}

// Clear empties the basket and keeps the tier.
func (s *Store) Clear() {
	s.lines = nil
	s.index = make(map[string]int)
}

// Snapshot returns a copy of the basket and its aggregates.
func (s *Store) Snapshot() Snapshot {
	lines := make([]Line, len(s.lines))
	copy(lines, s.lines)

	var sum Summary
	for _, l := range lines {
		sum.Subtotal += l.Subtotal()
		sum.TotalMargin += l.Margin()
		sum.GrandTotal += l.Total()
	}
	return Snapshot{Tier: s.tier, Lines: lines, Summary: sum}
}

// Offer is a catalog product priced at the basket's current tier.
type Offer struct {
	Product pricing.Product
	Quote   pricing.Quote
}

// Offers lists the catalog in its original order, priced at the current tier.
func (s *Store) Offers() []Offer {
	out := make([]Offer, 0, len(s.order))
	for _, id := range s.order {
		p := s.products[id]
		out = append(out, Offer{Product: p, Quote: s.engine.Quote(p, s.tier)})
	}
	return out
}

func (s *Store) price(p pricing.Product, qty int) Line {
	q := s.engine.Quote(p, s.tier)
	return Line{
		ProductID:  p.ID,
		Name:       p.Name,
		Quantity:   qty,
		UnitBase:   p.BasePrice,
		UnitPrice:  q.UnitPrice,
		UnitMargin: q.Margin,
	}
}

func (s *Store) remove(productID string) {
	i, ok := s.index[productID]
	if !ok {
		return
	}
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
	delete(s.index, productID)
	for j := i; j < len(s.lines); j++ {
		s.index[s.lines[j].ProductID] = j
	}
}
