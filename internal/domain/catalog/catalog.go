// Package catalog defines the read-only collaborators a checkout session
// loads its products, margin rules and members from.
package catalog

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kasir-checkout/internal/domain/pricing"
)

// ErrMemberNotFound is returned when a member id does not exist.
var ErrMemberNotFound = errors.New("member not found")

// Member is a customer of the cooperative.
type Member struct {
	ID   string
	Name string
	Tier pricing.Tier
}

// NonMember is the walk-in customer. It is always a valid selection and is
// the default for every session.
var NonMember = Member{ID: "", Name: "Non-member", Tier: pricing.TierNonMember}

// IsNonMember reports whether m is the walk-in sentinel.
func (m Member) IsNonMember() bool {
	return m.ID == ""
}

// Products returns the sellable catalog.
type Products interface {
	List(ctx context.Context) ([]pricing.Product, error)
}

// MarginRules returns the margin rules of the active merchant.
type MarginRules interface {
	List(ctx context.Context) ([]pricing.MarginRule, error)
}

// Members looks up customers.
type Members interface {
	GetByID(ctx context.Context, id string) (*Member, error)
	Search(ctx context.Context, query string, limit int) ([]Member, error)
}
