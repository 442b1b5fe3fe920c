//go:build integration

package push

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kasir-checkout/internal/domain/settlement"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisSource(t *testing.T) {
	client := startRedis(t)

	h := NewHub(nil)
	ch, unsub := h.Subscribe("o-1")
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, NewRedisSource(client, "")) }()

	msg := Envelope{
		EventID:   "e-1",
		EventType: TypeQRIssued,
		Payload:   EncodePayload(Payload{OrderID: "o-1", QRCode: "000201"}),
	}.Encode()

	// PSUBSCRIBE is asynchronous; publish until the hub sees a receiver.
	require.Eventually(t, func() bool {
		n, err := client.Publish(ctx, Channel("o-1"), msg).Result()
		return err == nil && n > 0
	}, 5*time.Second, 50*time.Millisecond)

	select {
	case ev := <-ch:
		assert.Equal(t, settlement.KindQRIssued, ev.Kind)
		assert.Equal(t, "000201", ev.QRPayload)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	require.NoError(t, <-done)
}
