//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kasir-checkout/internal/domain/catalog"
	"github.com/xenking/kasir-checkout/internal/domain/pricing"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "kasir",
				"POSTGRES_PASSWORD": "kasir",
				"POSTGRES_DB":       "kasir",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := NewPool(ctx, fmt.Sprintf("postgres://kasir:kasir@%s:%s/kasir?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	require.NoError(t, RunMigrations(ctx, pool), "schema is idempotent")
	return pool
}

func ptr(v int64) *int64 { return &v }

func TestRepositories(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	products := NewProductRepository(pool)
	rules := NewMarginRuleRepository(pool)
	members := NewMemberRepository(pool)

	t.Run("products", func(t *testing.T) {
		in := []pricing.Product{
			{ID: "p-2", Name: "Minyak 1L", BasePrice: 18000, Stock: 4, PriceMember: ptr(18500)},
			{ID: "p-1", Name: "Beras 5kg", BasePrice: 10000, Stock: 10},
		}
		require.NoError(t, products.Upsert(ctx, in))

		got, err := products.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "p-1", got[0].ID, "ordered by name")
		assert.Nil(t, got[0].PriceMember)
		require.NotNil(t, got[1].PriceMember)
		assert.EqualValues(t, 18500, *got[1].PriceMember)

		in[1].Stock = 7
		require.NoError(t, products.Upsert(ctx, in[1:]))
		got, err = products.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, got[0].Stock)
	})

	t.Run("margin rules keep priority and precision", func(t *testing.T) {
		in := []pricing.MarginRule{
			{Tier: pricing.TierMember, Type: pricing.MarginPercent, Value: decimal.RequireFromString("2.5")},
			{Tier: pricing.TierMember, Type: pricing.MarginFlat, Value: decimal.NewFromInt(500)},
			{Tier: pricing.TierUmum, Type: pricing.MarginFlat, Value: decimal.NewFromInt(100)},
		}
		require.NoError(t, rules.Replace(ctx, in))

		got, err := rules.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, pricing.MarginPercent, got[0].Type)
		assert.True(t, got[0].Value.Equal(decimal.RequireFromString("2.5")))

		engine := pricing.NewEngine(got)
		q := engine.Quote(pricing.Product{BasePrice: 10000}, pricing.TierMember)
		assert.EqualValues(t, 10250, q.UnitPrice)
	})

	t.Run("members", func(t *testing.T) {
		require.NoError(t, members.Upsert(ctx, []catalog.Member{
			{ID: "m-1", Name: "Siti Aminah", Tier: pricing.TierMember},
			{ID: "m-2", Name: "Toko Makmur", Tier: pricing.TierMemberUsaha},
		}))

		m, err := members.GetByID(ctx, "m-2")
		require.NoError(t, err)
		assert.Equal(t, pricing.TierMemberUsaha, m.Tier)

		_, err = members.GetByID(ctx, "missing")
		require.ErrorIs(t, err, catalog.ErrMemberNotFound)

		found, err := members.Search(ctx, "SITI", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "m-1", found[0].ID)

		found, err = members.Search(ctx, "%", 10)
		require.NoError(t, err)
		assert.Empty(t, found, "LIKE wildcards are escaped")
	})
}
