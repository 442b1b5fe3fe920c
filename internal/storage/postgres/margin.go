package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kasir-checkout/internal/domain/catalog"
	"github.com/xenking/kasir-checkout/internal/domain/pricing"
)

var _ catalog.MarginRules = (*MarginRuleRepository)(nil)

// MarginRuleRepository implements catalog.MarginRules backed by PostgreSQL.
type MarginRuleRepository struct {
	pool *pgxpool.Pool
}

// NewMarginRuleRepository returns a MarginRuleRepository that uses the
// given pool.
func NewMarginRuleRepository(pool *pgxpool.Pool) *MarginRuleRepository {
	return &MarginRuleRepository{pool: pool}
}

// List returns the rules by ascending priority, so the authoritative rule
// of each tier comes first.
func (r *MarginRuleRepository) List(ctx context.Context) ([]pricing.MarginRule, error) {
	rows, err := r.pool.Query(ctx, `SELECT tier, margin_type, value FROM margin_rules ORDER BY priority, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list margin rules")
	}
	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pricing.MarginRule, error) {
		var (
			m          pricing.MarginRule
			tier, kind string
		)
		if err := row.Scan(&tier, &kind, &m.Value); err != nil {
			return m, err
		}
		m.Tier = pricing.Tier(tier)
		m.Type = pricing.MarginType(kind)
		return m, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan margin rules")
	}
	return rules, nil
}

// Replace swaps the whole rule set in one transaction. Rule order becomes
// priority.
func (r *MarginRuleRepository) Replace(ctx context.Context, rules []pricing.MarginRule) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM margin_rules`); err != nil {
			return errors.Wrap(err, "clear margin rules")
		}
		for i, m := range rules {
			_, err := tx.Exec(ctx,
				`INSERT INTO margin_rules (tier, margin_type, value, priority) VALUES ($1, $2, $3, $4)`,
				string(m.Tier), string(m.Type), m.Value, i,
			)
			if err != nil {
				return errors.Wrapf(err, "insert margin rule %d", i)
			}
		}
		return nil
	})
}
