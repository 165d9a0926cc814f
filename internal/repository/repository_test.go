package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marketcart/internal/broadcast"
	"github.com/roach88/marketcart/internal/cart"
	"github.com/roach88/marketcart/internal/store"
	"github.com/roach88/marketcart/internal/testutil"
)

type fixture struct {
	repo  *Repository
	kv    *store.Memory
	bc    *broadcast.Broadcaster
	clock *testutil.FakeClock
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRepo(t *testing.T) *fixture {
	t.Helper()
	kv := store.NewMemory()
	bc := broadcast.New()
	clock := testutil.NewFakeClock(time.Time{})
	repo := New(kv, bc, WithClock(clock), WithLogger(quietLogger()))
	return &fixture{repo: repo, kv: kv, bc: bc, clock: clock}
}

func (f *fixture) events(t *testing.T) *[]broadcast.Event {
	t.Helper()
	var mu sync.Mutex
	got := &[]broadcast.Event{}
	f.bc.Subscribe(func(ev broadcast.Event) {
		mu.Lock()
		defer mu.Unlock()
		*got = append(*got, ev)
	})
	return got
}

func (f *fixture) persisted(t *testing.T) cart.Cart {
	t.Helper()
	raw, ok, err := f.kv.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	require.True(t, ok, "cart was never persisted")
	c, err := cart.Decode(raw)
	require.NoError(t, err)
	return c
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func item(id string, price string, qty int) cart.Item {
	return cart.Item{ID: cart.ItemID(id), Title: "Item " + id, Price: money(price), Quantity: qty}
}

func TestAdd_NewItem(t *testing.T) {
	f := setupRepo(t)
	events := f.events(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Add(ctx, item("1", "10.00", 2)))

	snapshot := f.repo.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, 2, snapshot[0].Quantity)
	assert.True(t, snapshot[0].AddedAt.Equal(testutil.Epoch))

	assert.True(t, snapshot.Equal(f.persisted(t)), "store must hold the committed cart")
	require.Len(t, *events, 1)
	assert.True(t, snapshot.Equal((*events)[0].Cart))
}

func TestAdd_SameIDIncrementsQuantityAndKeepsPrice(t *testing.T) {
	f := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, f.repo.Add(ctx, item("5", "50", 1)))
	f.clock.Advance(3 * time.Minute)
	require.NoError(t, f.repo.Add(ctx, item("5", "999", 1)))

	snapshot := f.repo.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, cart.ItemID("5"), snapshot[0].ID)
	assert.Equal(t, 2, snapshot[0].Quantity)
	assert.Equal(t, "50.00", cart.Money(snapshot[0].Price))
	assert.True(t, snapshot[0].AddedAt.Equal(testutil.Epoch), "addedAt must not move on re-add")
}

func TestAdd_NonPositiveQuantityCountsAsOne(t *testing.T) {
	f := setupRepo(t)
	require.NoError(t, f.repo.Add(context.Background(), item("1", "1", 0)))
	assert.Equal(t, 1, f.repo.Snapshot()[0].Quantity)
}

func TestAdd_InvalidItem(t *testing.T) {
	f := setupRepo(t)
	events := f.events(t)

	err := f.repo.Add(context.Background(), item("1", "-5", 1))
	assert.ErrorIs(t, err, cart.ErrInvalidItem)

	bad := item("2", "5", 1)
	bad.DiscountPercent = 100
	assert.ErrorIs(t, f.repo.Add(context.Background(), bad), cart.ErrInvalidItem)

	assert.Empty(t, f.repo.Snapshot())
	assert.Empty(t, *events)
}

func TestSetQuantity(t *testing.T) {
	f := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Add(ctx, item("5", "50", 1)))
	f.clock.Advance(time.Minute)

	require.NoError(t, f.repo.SetQuantity(ctx, "5", 4))

	it, ok := f.repo.Snapshot().Find("5")
	require.True(t, ok)
	assert.Equal(t, 4, it.Quantity)
	assert.True(t, it.AddedAt.Equal(testutil.Epoch))
}

func TestSetQuantity_ZeroRemoves(t *testing.T) {
	f := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Add(ctx, item("5", "50", 1)))

	require.NoError(t, f.repo.SetQuantity(ctx, "5", 0))

	_, ok := f.repo.Snapshot().Find("5")
	assert.False(t, ok)
	assert.Empty(t, f.persisted(t))
}

func TestUnknownIDsAreNoOps(t *testing.T) {
	f := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Add(ctx, item("1", "1", 1)))
	events := f.events(t)

	assert.NoError(t, f.repo.SetQuantity(ctx, "missing", 3))
	assert.NoError(t, f.repo.Remove(ctx, "missing"))
	assert.NoError(t, f.repo.StripDiscount(ctx, "missing"))
	assert.NoError(t, f.repo.GrantDiscount(ctx, "missing", 10))

	assert.Len(t, f.repo.Snapshot(), 1)
	assert.Empty(t, *events, "no-ops must not broadcast")
}

func TestRemove_KeepsOrder(t *testing.T) {
	f := setupRepo(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.repo.Add(ctx, item(id, "1", 1)))
	}

	require.NoError(t, f.repo.Remove(ctx, "b"))

	snapshot := f.repo.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, cart.ItemID("a"), snapshot[0].ID)
	assert.Equal(t, cart.ItemID("c"), snapshot[1].ID)
}

func TestStripDiscount_Idempotent(t *testing.T) {
	f := setupRepo(t)
	ctx := context.Background()
	discounted := item("1", "10.00", 2)
	discounted.DiscountPercent = 20
	require.NoError(t, f.repo.Add(ctx, discounted))
	events := f.events(t)

	require.NoError(t, f.repo.StripDiscount(ctx, "1"))
	once := f.repo.Snapshot()
	require.NoError(t, f.repo.StripDiscount(ctx, "1"))
	twice := f.repo.Snapshot()

	assert.True(t, once.Equal(twice))
	assert.False(t, twice[0].HasDiscount())
	assert.Equal(t, 2, twice[0].Quantity)
	assert.Equal(t, "10.00", cart.Money(twice[0].Price))
	assert.Len(t, *events, 1, "second strip is a no-op")
}

func TestGrantDiscount_ResetsWindow(t *testing.T) {
	f := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Add(ctx, item("1", "10", 1)))
	later := f.clock.Advance(30 * time.Minute)

	require.NoError(t, f.repo.GrantDiscount(ctx, "1", 15))

	it, _ := f.repo.Snapshot().Find("1")
	assert.Equal(t, 15, it.DiscountPercent)
	assert.True(t, it.AddedAt.Equal(later))

	assert.ErrorIs(t, f.repo.GrantDiscount(ctx, "1", 0), cart.ErrInvalidItem)
	assert.ErrorIs(t, f.repo.GrantDiscount(ctx, "1", 100), cart.ErrInvalidItem)
}

func TestClear(t *testing.T) {
	f := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Add(ctx, item("1", "1", 1)))
	events := f.events(t)

	require.NoError(t, f.repo.Clear(ctx))

	assert.Empty(t, f.repo.Snapshot())
	assert.Empty(t, f.persisted(t))
	require.Len(t, *events, 1)
	assert.Empty(t, (*events)[0].Cart)
}

func TestTotals_DiscountScenario(t *testing.T) {
	f := setupRepo(t)
	ctx := context.Background()
	discounted := item("1", "10.00", 2)
	discounted.DiscountPercent = 20
	require.NoError(t, f.repo.Add(ctx, discounted))

	totals := f.repo.Totals()
	assert.Equal(t, 2, totals.TotalQuantity)
	assert.Equal(t, "20.00", cart.Money(totals.OriginalTotal))
	assert.Equal(t, "16.00", cart.Money(totals.DiscountedTotal))
	assert.Equal(t, "4.00", cart.Money(totals.TotalSavings))
}

func TestLoad_MissingCorruptAndUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		f := setupRepo(t)
		assert.Empty(t, f.repo.Load(ctx))
	})

	t.Run("corrupt json", func(t *testing.T) {
		f := setupRepo(t)
		require.NoError(t, f.kv.Set(ctx, DefaultKey, "{oops"))
		c := f.repo.Load(ctx)
		assert.NotNil(t, c)
		assert.Empty(t, c)
	})

	t.Run("store unavailable", func(t *testing.T) {
		f := setupRepo(t)
		require.NoError(t, f.kv.Set(ctx, DefaultKey, `[{"id":"1","price":"1","quantity":1}]`))
		f.kv.FailReads(errors.New("disk gone"))
		assert.Empty(t, f.repo.Load(ctx))
	})
}

func TestLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)

	discounted := item("1", "10.00", 2)
	discounted.DiscountPercent = 20
	require.NoError(t, f.repo.Add(ctx, discounted))
	f.clock.Advance(time.Second)
	require.NoError(t, f.repo.Add(ctx, item("2", "3.33", 5)))

	reloaded := New(f.kv, broadcast.New(), WithLogger(quietLogger())).Load(ctx)

	assert.True(t, f.repo.Snapshot().Equal(reloaded))
}

func TestMutate_DiscardsConflictingCache(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	require.NoError(t, f.repo.Add(ctx, item("1", "1", 1)))

	// Another runtime sharing the store replaced the cart.
	require.NoError(t, f.kv.Set(ctx, DefaultKey, `[{"id":"9","price":"2","quantity":3,"addedAt":"2025-01-01T00:00:00Z"}]`))
	require.NoError(t, f.repo.SetQuantity(ctx, "9", 4))

	snapshot := f.repo.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, cart.ItemID("9"), snapshot[0].ID)
	assert.Equal(t, 4, snapshot[0].Quantity)
}

func TestMutate_MalformedStoreStartsFresh(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	require.NoError(t, f.kv.Set(ctx, DefaultKey, "not a cart"))

	require.NoError(t, f.repo.Add(ctx, item("1", "1", 1)))

	assert.Len(t, f.persisted(t), 1)
}

func TestWriteFailure_InMemoryStateStaysOperative(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	events := f.events(t)
	require.NoError(t, f.repo.Add(ctx, item("1", "1", 1)))

	f.kv.FailWrites(errors.New("quota exceeded"))
	err := f.repo.Add(ctx, item("2", "2", 1))

	require.Error(t, err)
	assert.True(t, IsPersistError(err))
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.True(t, f.repo.Dirty())
	assert.Len(t, f.repo.Snapshot(), 2, "mutation still applies in memory")
	assert.Len(t, *events, 2, "mutation is still broadcast")
	assert.Len(t, f.persisted(t), 1, "store keeps the last good cart")

	// Further mutations build on the in-memory cart, not the stale store.
	err = f.repo.SetQuantity(ctx, "2", 5)
	require.Error(t, err)
	it, ok := f.repo.Snapshot().Find("2")
	require.True(t, ok)
	assert.Equal(t, 5, it.Quantity)

	f.kv.FailWrites(nil)
	require.NoError(t, f.repo.Retry(ctx))
	assert.False(t, f.repo.Dirty())
	assert.True(t, f.repo.Snapshot().Equal(f.persisted(t)))
	assert.NoError(t, f.repo.Retry(ctx), "retry without pending write is a no-op")
}

func TestReadFailure_MutatesCachedCart(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	require.NoError(t, f.repo.Add(ctx, item("1", "1", 1)))

	f.kv.FailReads(errors.New("io error"))
	require.NoError(t, f.repo.Add(ctx, item("2", "1", 1)))

	assert.Len(t, f.repo.Snapshot(), 2)
	f.kv.FailReads(nil)
	assert.Len(t, f.persisted(t), 2)
}

func TestSync_PublishesRemoteEvent(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	events := f.events(t)
	require.NoError(t, f.kv.Set(ctx, DefaultKey, `[{"id":"1","price":"1","quantity":2,"addedAt":"2025-01-01T00:00:00Z"}]`))

	c := f.repo.Sync(ctx)

	assert.Len(t, c, 1)
	require.Len(t, *events, 1)
	assert.Equal(t, broadcast.SourceRemote, (*events)[0].Source)
	assert.True(t, c.Equal(f.repo.Snapshot()))
}

func TestNoOpMutation_PublishesNewerStoreCart(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	require.NoError(t, f.repo.Add(ctx, item("1", "1", 1)))
	view := broadcast.NewView(f.bc, f.repo.Snapshot())
	events := f.events(t)

	// Another process rewrote the store behind this repository.
	require.NoError(t, f.kv.Set(ctx, DefaultKey, `[{"id":"9","price":"2","quantity":3,"addedAt":"2025-01-01T00:00:00Z"}]`))
	require.NoError(t, f.repo.SetQuantity(ctx, "missing", 4))

	require.Len(t, *events, 1)
	assert.Equal(t, broadcast.SourceRemote, (*events)[0].Source)
	assert.True(t, view.Cart().Equal(f.repo.Snapshot()))
	_, ok := view.Cart().Find("9")
	assert.True(t, ok)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	require.NoError(t, f.repo.Add(ctx, item("1", "1", 1)))
	events := f.events(t)

	assert.False(t, f.repo.Refresh(ctx), "store matches the cache")
	assert.Empty(t, *events)

	other := New(f.kv, broadcast.New(), WithLogger(quietLogger()))
	require.NoError(t, other.Add(ctx, item("2", "5", 2)))

	assert.True(t, f.repo.Refresh(ctx))
	require.Len(t, *events, 1)
	assert.Equal(t, broadcast.SourceRemote, (*events)[0].Source)
	assert.Len(t, f.repo.Snapshot(), 2)

	f.kv.FailReads(errors.New("io error"))
	assert.False(t, f.repo.Refresh(ctx), "unreadable store keeps the cache")
	assert.Len(t, f.repo.Snapshot(), 2)
}

func TestRefresh_KeepsUnpersistedCart(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	f.kv.FailWrites(errors.New("quota exceeded"))
	require.Error(t, f.repo.Add(ctx, item("1", "1", 1)))

	assert.False(t, f.repo.Refresh(ctx))
	assert.Len(t, f.repo.Snapshot(), 1)
}

func TestCrossRuntimeViewsObserveSameSnapshot(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	dom := broadcast.NewView(f.bc, f.repo.Load(ctx))
	tree := broadcast.NewView(f.bc, f.repo.Load(ctx))

	// A mutation issued on behalf of the DOM layer...
	require.NoError(t, f.repo.Add(ctx, item("1", "10", 1)))
	// ...and one issued on behalf of the component tree.
	require.NoError(t, f.repo.SetQuantity(ctx, "1", 3))

	assert.True(t, dom.Cart().Equal(tree.Cart()))
	assert.True(t, tree.Cart().Equal(f.repo.Snapshot()))
	assert.Equal(t, dom.Seq(), tree.Seq())
}

func TestListenerCanReadRepositoryDuringDelivery(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	var seen []int
	f.bc.Subscribe(func(ev broadcast.Event) {
		seen = append(seen, f.repo.Totals().TotalQuantity)
	})

	require.NoError(t, f.repo.Add(ctx, item("1", "1", 2)))

	assert.Equal(t, []int{2}, seen)
}

func TestConcurrentMutationsBroadcastInCommitOrder(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	events := f.events(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.repo.Add(ctx, item("1", "1", 1)))
		}()
	}
	wg.Wait()

	require.Len(t, *events, n)
	for i, ev := range *events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, i+1, ev.Cart[0].Quantity, "event %d must carry the cart as of mutation %d", ev.Seq, ev.Seq)
	}
}

func TestRandomOperationSequencesKeepInvariants(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 20; run++ {
		f := setupRepo(t)
		for step := 0; step < 200; step++ {
			id := cart.ItemID(strconv.Itoa(rng.Intn(6)))
			switch rng.Intn(4) {
			case 0:
				it := item(string(id), strconv.Itoa(rng.Intn(100)), rng.Intn(4)-1)
				it.DiscountPercent = rng.Intn(3) * 10
				require.NoError(t, f.repo.Add(ctx, it))
			case 1:
				require.NoError(t, f.repo.SetQuantity(ctx, id, rng.Intn(5)-2))
			case 2:
				require.NoError(t, f.repo.Remove(ctx, id))
			case 3:
				require.NoError(t, f.repo.StripDiscount(ctx, id))
			}
			f.clock.Advance(time.Second)
		}

		snapshot := f.repo.Snapshot()
		ids := make(map[cart.ItemID]bool)
		for _, it := range snapshot {
			assert.False(t, ids[it.ID], "duplicate id %s", it.ID)
			ids[it.ID] = true
			assert.GreaterOrEqual(t, it.Quantity, 1)
		}

		reloaded := New(f.kv, broadcast.New(), WithLogger(quietLogger())).Load(ctx)
		assert.True(t, snapshot.Equal(reloaded))
		assert.Equal(t, snapshot.Totals(), f.repo.Totals())
	}
}

func TestSQLiteBackedRepositorySurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cart.db")

	kv1, err := store.OpenSQLite(path)
	require.NoError(t, err)
	repo1 := New(kv1, broadcast.New(), WithLogger(quietLogger()))
	discounted := item("1", "10.00", 2)
	discounted.DiscountPercent = 20
	require.NoError(t, repo1.Add(ctx, discounted))
	before := repo1.Snapshot()
	require.NoError(t, kv1.Close())

	kv2, err := store.OpenSQLite(path)
	require.NoError(t, err)
	defer kv2.Close()
	after := New(kv2, broadcast.New(), WithLogger(quietLogger())).Load(ctx)

	assert.True(t, before.Equal(after))
}

func TestPersistError_Message(t *testing.T) {
	err := &PersistError{Op: "add", Err: errors.New("quota exceeded")}
	assert.Equal(t, "cart add not persisted: quota exceeded", err.Error())
	assert.False(t, IsPersistError(errors.New("other")))
}

func TestExpireDiscount_OnlyStripsMatchingWindow(t *testing.T) {
	ctx := context.Background()
	f := setupRepo(t)
	discounted := item("1", "10", 1)
	discounted.DiscountPercent = 20
	require.NoError(t, f.repo.Add(ctx, discounted))
	anchor := f.repo.Snapshot()[0].AddedAt

	f.clock.Advance(time.Minute)
	require.NoError(t, f.repo.GrantDiscount(ctx, "1", 30))

	require.NoError(t, f.repo.ExpireDiscount(ctx, "1", anchor))
	it, _ := f.repo.Snapshot().Find("1")
	assert.Equal(t, 30, it.DiscountPercent, "re-granted window must survive a stale expiry")

	require.NoError(t, f.repo.ExpireDiscount(ctx, "1", it.AddedAt))
	it, _ = f.repo.Snapshot().Find("1")
	assert.False(t, it.HasDiscount())
}
