package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marketcart/internal/broadcast"
	"github.com/roach88/marketcart/internal/cart"
	"github.com/roach88/marketcart/internal/store"
)

// process wires one marketcart process: a Redis-backed repository, its
// broadcaster, a runtime view and the relay to its peers.
type process struct {
	repo *Repository
	view *broadcast.View
}

func startProcess(t *testing.T, ctx context.Context, mr *miniredis.Miniredis) *process {
	t.Helper()
	kv := store.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { kv.Close() })
	relayClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { relayClient.Close() })

	bc := broadcast.New()
	repo := New(kv, bc, WithLogger(quietLogger()))
	view := broadcast.NewView(bc, repo.Load(ctx))
	relay := broadcast.NewRelay(relayClient, "", bc, repo, quietLogger())

	go relay.Run(ctx)
	select {
	case <-relay.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("relay not ready")
	}
	return &process{repo: repo, view: view}
}

func TestRelay_RuntimeInOtherProcessObservesMutation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr := miniredis.RunT(t)

	shop := startProcess(t, ctx, mr)
	sidebar := startProcess(t, ctx, mr)

	require.NoError(t, shop.repo.Add(ctx, item("1", "10", 2)))

	require.Eventually(t, func() bool {
		return sidebar.view.Cart().Equal(shop.repo.Snapshot())
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, sidebar.repo.SetQuantity(ctx, "1", 7))

	require.Eventually(t, func() bool {
		it, ok := shop.view.Cart().Find(cart.ItemID("1"))
		return ok && it.Quantity == 7
	}, 5*time.Second, 10*time.Millisecond)
}
