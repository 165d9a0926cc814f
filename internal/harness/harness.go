package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/marketcart/internal/broadcast"
	"github.com/roach88/marketcart/internal/cart"
	"github.com/roach88/marketcart/internal/repository"
	"github.com/roach88/marketcart/internal/scheduler"
	"github.com/roach88/marketcart/internal/store"
	"github.com/roach88/marketcart/internal/testutil"
)

// errStoreWrite is injected by the fail_writes step.
var errStoreWrite = errors.New("injected store write failure")

// Harness is the scenario execution environment.
// It runs scenarios against a fake clock and an in-memory store.
type Harness struct {
	kv     *store.Memory
	bc     *broadcast.Broadcaster
	clock  *testutil.FakeClock
	logger *slog.Logger
	window time.Duration

	repo  *repository.Repository
	sched *scheduler.Scheduler

	mu   sync.Mutex
	seqs []int64
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store for isolation.
// The returned error reports a harness failure; scenario failures are
// recorded in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with component logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	start := scenario.Start
	if start.IsZero() {
		start = testutil.Epoch
	}
	window := scheduler.DefaultWindow
	if scenario.Window != "" {
		d, err := time.ParseDuration(scenario.Window)
		if err != nil {
			return nil, fmt.Errorf("window: %w", err)
		}
		window = d
	}

	h := &Harness{
		kv:     store.NewMemory(),
		bc:     broadcast.New(broadcast.WithLogger(logger)),
		clock:  testutil.NewFakeClock(start),
		logger: logger,
		window: window,
	}
	h.bc.Subscribe(h.record)

	ctx := context.Background()
	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}
	h.boot(ctx)
	defer h.sched.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, i+1, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		result.Trace = append(result.Trace, ev)
		if step.Expect != nil {
			for _, msg := range h.checkExpect(i, step, ev) {
				result.AddError(msg)
			}
		} else if ev.Error != "" {
			result.AddError(fmt.Sprintf("steps[%d] (%s): unexpected error: %s", i, step.Op, ev.Error))
		}
	}

	result.Final = h.repo.Snapshot()
	result.Persisted = h.persisted(ctx)
	h.mu.Lock()
	result.EventCount = len(h.seqs)
	h.mu.Unlock()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) record(ev broadcast.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seqs = append(h.seqs, ev.Seq)
}

func (h *Harness) recorded() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seqs)
}

func (h *Harness) since(n int) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n >= len(h.seqs) {
		return nil
	}
	return slices.Clone(h.seqs[n:])
}

// seed writes the scenario's initial cart to the store.
func (h *Harness) seed(ctx context.Context, s *Scenario) error {
	if s.SeedRaw != "" {
		return h.kv.Set(ctx, repository.DefaultKey, s.SeedRaw)
	}
	if len(s.Seed) == 0 {
		return nil
	}
	now := h.clock.Now()
	items := make(cart.Cart, 0, len(s.Seed))
	for _, seedItem := range s.Seed {
		it, err := seedItem.toItem()
		if err != nil {
			return err
		}
		it.AddedAt = now
		if seedItem.AddedAgo != "" {
			ago, err := time.ParseDuration(seedItem.AddedAgo)
			if err != nil {
				return err
			}
			it.AddedAt = now.Add(-ago)
		}
		items = append(items, it)
	}
	raw, err := cart.Encode(items)
	if err != nil {
		return err
	}
	return h.kv.Set(ctx, repository.DefaultKey, raw)
}

// boot builds a repository and scheduler over the store, the way a page
// load does.
func (h *Harness) boot(ctx context.Context) {
	if h.sched != nil {
		h.sched.Close()
	}
	h.repo = repository.New(h.kv, h.bc,
		repository.WithClock(h.clock),
		repository.WithLogger(h.logger),
	)
	h.repo.Load(ctx)
	h.sched = scheduler.New(h.repo, h.bc,
		scheduler.WithClock(h.clock),
		scheduler.WithConfig(scheduler.Config{Window: h.window}),
		scheduler.WithLogger(h.logger),
	)
}

func (h *Harness) execute(ctx context.Context, n int, step Step) (TraceEvent, error) {
	before := h.recorded()
	ev := TraceEvent{Step: n, Op: step.Op}

	var opErr error
	switch step.Op {
	case OpAdd:
		it, err := step.Item.toItem()
		if err != nil {
			return ev, err
		}
		opErr = h.repo.Add(ctx, it)
	case OpSetQuantity:
		opErr = h.repo.SetQuantity(ctx, cart.ItemID(step.ID), step.Quantity)
	case OpRemove:
		opErr = h.repo.Remove(ctx, cart.ItemID(step.ID))
	case OpStrip:
		opErr = h.repo.StripDiscount(ctx, cart.ItemID(step.ID))
	case OpGrant:
		opErr = h.repo.GrantDiscount(ctx, cart.ItemID(step.ID), step.Percent)
	case OpClear:
		opErr = h.repo.Clear(ctx)
	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return ev, err
		}
		h.clock.Advance(d)
	case OpTick:
		for _, id := range h.sched.Evaluate(ctx) {
			ev.Fired = append(ev.Fired, string(id))
		}
	case OpReload:
		h.boot(ctx)
	case OpFailWrites:
		h.kv.FailWrites(errStoreWrite)
	case OpHeal:
		h.kv.FailWrites(nil)
	case OpRetry:
		opErr = h.repo.Retry(ctx)
	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}

	switch {
	case opErr == nil:
	case errors.Is(opErr, store.ErrUnavailable):
		ev.Notice = true
	default:
		ev.Error = opErr.Error()
	}

	snapshot := h.repo.Snapshot()
	ev.Events = h.since(before)
	ev.Cart = describeCart(snapshot)
	ev.Total = cart.Money(snapshot.Totals().DiscountedTotal)
	return ev, nil
}

func (h *Harness) persisted(ctx context.Context) cart.Cart {
	raw, ok, err := h.kv.Get(ctx, repository.DefaultKey)
	if err != nil || !ok {
		return cart.Cart{}
	}
	c, err := cart.Decode(raw)
	if err != nil {
		return cart.Cart{}
	}
	return c
}

func (h *Harness) checkExpect(i int, step Step, ev TraceEvent) []string {
	var errs []string
	exp := step.Expect
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf("steps[%d] (%s): ", i, step.Op)+fmt.Sprintf(format, args...))
	}

	snapshot := h.repo.Snapshot()
	if exp.Items != nil && len(snapshot) != *exp.Items {
		fail("expected %d items, got %d", *exp.Items, len(snapshot))
	}
	if exp.Events != nil && len(ev.Events) != *exp.Events {
		fail("expected %d events, got %d", *exp.Events, len(ev.Events))
	}
	if exp.Fired != nil && !slices.Equal(exp.Fired, ev.Fired) {
		fail("expected expiries %v, got %v", exp.Fired, ev.Fired)
	}
	if exp.Notice != nil && *exp.Notice != ev.Notice {
		fail("expected notice=%t, got %t", *exp.Notice, ev.Notice)
	}
	if exp.Error != "" && !containsFold(ev.Error, exp.Error) {
		fail("expected error containing %q, got %q", exp.Error, ev.Error)
	}
	if exp.Error == "" && ev.Error != "" {
		fail("unexpected error: %s", ev.Error)
	}
	if exp.Totals != nil {
		errs = append(errs, checkTotals(fmt.Sprintf("steps[%d] (%s)", i, step.Op), *exp.Totals, snapshot.Totals())...)
	}
	return errs
}

func checkTotals(where string, exp TotalsExpect, got cart.Totals) []string {
	var errs []string
	if exp.TotalQuantity != nil && *exp.TotalQuantity != got.TotalQuantity {
		errs = append(errs, fmt.Sprintf("%s: expected total_quantity %d, got %d", where, *exp.TotalQuantity, got.TotalQuantity))
	}
	for _, c := range []struct {
		name string
		want string
		got  decimal.Decimal
	}{
		{"original_total", exp.OriginalTotal, got.OriginalTotal},
		{"discounted_total", exp.DiscountedTotal, got.DiscountedTotal},
		{"total_savings", exp.TotalSavings, got.TotalSavings},
	} {
		if c.want == "" {
			continue
		}
		want, err := decimal.NewFromString(c.want)
		if err != nil || !want.Equal(c.got) {
			errs = append(errs, fmt.Sprintf("%s: expected %s %s, got %s", where, c.name, c.want, cart.Money(c.got)))
		}
	}
	return errs
}

func (s ItemSpec) toItem() (cart.Item, error) {
	price, err := decimal.NewFromString(s.Price)
	if err != nil {
		return cart.Item{}, fmt.Errorf("item %s: invalid price %q: %w", s.ID, s.Price, err)
	}
	return cart.Item{
		ID:              cart.ItemID(s.ID),
		Title:           s.Title,
		Price:           price,
		Quantity:        s.Quantity,
		DiscountPercent: s.DiscountPercent,
	}, nil
}
