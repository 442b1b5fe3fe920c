package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kasir-checkout/internal/domain/catalog"
	"github.com/xenking/kasir-checkout/internal/domain/pricing"
)

var _ catalog.Members = (*MemberRepository)(nil)

// MemberRepository implements catalog.Members backed by PostgreSQL.
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository returns a MemberRepository that uses the given pool.
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

func scanMember(row pgx.CollectableRow) (catalog.Member, error) {
	var (
		m    catalog.Member
		tier string
	)
	if err := row.Scan(&m.ID, &m.Name, &tier); err != nil {
		return m, err
	}
	m.Tier = pricing.Tier(tier)
	return m, nil
}

// GetByID returns catalog.ErrMemberNotFound when no member has id.
func (r *MemberRepository) GetByID(ctx context.Context, id string) (*catalog.Member, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, tier FROM members WHERE id = $1`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get member %q", id)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMember)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrMemberNotFound
		}
		return nil, errors.Wrapf(err, "get member %q", id)
	}
	return &m, nil
}

// Search matches query against member ids and names, case-insensitively.
func (r *MemberRepository) Search(ctx context.Context, query string, limit int) ([]catalog.Member, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	rows, err := r.pool.Query(ctx, `
SELECT id, name, tier FROM members
WHERE lower(name) LIKE $1 OR lower(id) LIKE $1
ORDER BY name, id
LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, errors.Wrap(err, "search members")
	}
	members, err := pgx.CollectRows(rows, scanMember)
	if err != nil {
		return nil, errors.Wrap(err, "scan members")
	}
	return members, nil
}

// Upsert inserts or replaces members in one batch.
func (r *MemberRepository) Upsert(ctx context.Context, members []catalog.Member) error {
	batch := &pgx.Batch{}
	for _, m := range members {
		batch.Queue(`
INSERT INTO members (id, name, tier) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, tier = EXCLUDED.tier`,
			m.ID, m.Name, string(m.Tier))
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "upsert %d members", len(members))
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
