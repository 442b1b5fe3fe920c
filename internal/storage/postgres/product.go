package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kasir-checkout/internal/domain/catalog"
	"github.com/xenking/kasir-checkout/internal/domain/pricing"
)

var _ catalog.Products = (*ProductRepository)(nil)

// ProductRepository implements catalog.Products backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

const listProducts = `
SELECT id, name, base_price, stock, price_non_member, price_member, price_member_usaha
FROM products
WHERE active
ORDER BY name, id`

// List returns the active catalog ordered by name.
func (r *ProductRepository) List(ctx context.Context) ([]pricing.Product, error) {
	rows, err := r.pool.Query(ctx, listProducts)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pricing.Product, error) {
		var p pricing.Product
		err := row.Scan(&p.ID, &p.Name, &p.BasePrice, &p.Stock,
			&p.PriceNonMember, &p.PriceMember, &p.PriceMemberUsaha)
		return p, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan products")
	}
	return products, nil
}

const upsertProduct = `
INSERT INTO products (id, name, base_price, stock, price_non_member, price_member, price_member_usaha)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    base_price = EXCLUDED.base_price,
    stock = EXCLUDED.stock,
    price_non_member = EXCLUDED.price_non_member,
    price_member = EXCLUDED.price_member,
    price_member_usaha = EXCLUDED.price_member_usaha,
    active = TRUE,
    updated_at = now()`

// Upsert inserts or replaces products in one batch.
func (r *ProductRepository) Upsert(ctx context.Context, products []pricing.Product) error {
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(upsertProduct, p.ID, p.Name, p.BasePrice, p.Stock,
			p.PriceNonMember, p.PriceMember, p.PriceMemberUsaha)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "upsert %d products", len(products))
	}
	return nil
}
