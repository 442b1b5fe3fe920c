package main

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kasir-checkout/internal/domain/catalog"
	"github.com/xenking/kasir-checkout/internal/domain/pricing"
)

func decodeProduct(line []byte) (pricing.Product, error) {
	var p pricing.Product
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "base_price":
			p.BasePrice, err = d.Int64()
		case "stock":
			p.Stock, err = d.Int()
		case "price_non_member":
			p.PriceNonMember, err = optInt64(d)
		case "price_member":
			p.PriceMember, err = optInt64(d)
		case "price_member_usaha":
			p.PriceMemberUsaha, err = optInt64(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return p, errors.Wrap(err, "decode product")
	}
	switch {
	case p.ID == "":
		return p, errors.New("product without id")
	case p.BasePrice < 0:
		return p, errors.Errorf("product %q has a negative base price", p.ID)
	case p.Stock < 0:
		return p, errors.Errorf("product %q has negative stock", p.ID)
	}
	return p, nil
}

func decodeRule(line []byte) (pricing.MarginRule, error) {
	var (
		r          pricing.MarginRule
		tier, kind string
	)
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "tier":
			tier, err = d.Str()
		case "type":
			kind, err = d.Str()
		case "value":
			r.Value, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return r, errors.Wrap(err, "decode margin rule")
	}

	r.Tier = pricing.Tier(tier)
	r.Type = pricing.MarginType(kind)
	switch r.Tier {
	case pricing.TierNonMember, pricing.TierMember, pricing.TierMemberUsaha, pricing.TierUmum:
	default:
		return r, errors.Errorf("unknown tier %q", tier)
	}
	if r.Type != pricing.MarginFlat && r.Type != pricing.MarginPercent {
		return r, errors.Errorf("unknown margin type %q", kind)
	}
	return r, nil
}

func decodeMember(line []byte) (catalog.Member, error) {
	var (
		m    catalog.Member
		tier string
	)
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			m.ID, err = d.Str()
		case "name":
			m.Name, err = d.Str()
		case "tier":
			tier, err = d.Str()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return m, errors.Wrap(err, "decode member")
	}
	m.Tier = pricing.Tier(tier)
	if m.ID == "" {
		return m, errors.New("member without id")
	}
	if m.Tier != pricing.TierMember && m.Tier != pricing.TierMemberUsaha {
		return m, errors.Errorf("member %q has tier %q", m.ID, tier)
	}
	return m, nil
}

func optInt64(d *jx.Decoder) (*int64, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Int64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	}
}
