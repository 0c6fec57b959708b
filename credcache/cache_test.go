package credcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/gatewayerr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type countingResolver struct {
	calls atomic.Int32
	err   error
	exp   time.Time
}

func (r *countingResolver) Resolve(ctx context.Context, name string, mode catalog.AccessMode) (catalog.TableHandle, error) {
	n := r.calls.Add(1)
	if r.err != nil {
		return catalog.TableHandle{}, r.err
	}
	return catalog.TableHandle{
		Name:       name,
		Location:   "s3://bucket/" + name,
		Mode:       mode,
		Credential: catalog.Credential{Token: fmt.Sprintf("tok-%d", n), ExpiresAt: r.exp},
	}, nil
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCache_HitWithinTTL(t *testing.T) {
	clock := newClock()
	res := &countingResolver{}
	c := New(res, WithClock(clock.Now))
	ctx := context.Background()

	first, err := c.GetOrResolve(ctx, "main.sales.orders", catalog.Read)
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(DefaultTTL - time.Second)
	second, err := c.GetOrResolve(ctx, "main.sales.orders", catalog.Read)
	if err != nil {
		t.Fatal(err)
	}

	if res.calls.Load() != 1 {
		t.Errorf("resolver called %d times, want 1", res.calls.Load())
	}
	if first.Location != second.Location || first.Credential.Token != second.Credential.Token {
		t.Errorf("second lookup returned a different handle: %+v vs %+v", first, second)
	}
}

func TestCache_MissAfterExpiry(t *testing.T) {
	clock := newClock()
	res := &countingResolver{}
	c := New(res, WithClock(clock.Now), WithTTL(time.Minute))
	ctx := context.Background()

	first, _ := c.GetOrResolve(ctx, "a.b.c", catalog.Read)
	clock.Advance(time.Minute)
	second, err := c.GetOrResolve(ctx, "a.b.c", catalog.Read)
	if err != nil {
		t.Fatal(err)
	}
	if res.calls.Load() != 2 {
		t.Errorf("resolver called %d times, want 2", res.calls.Load())
	}
	if first.Credential.Token == second.Credential.Token {
		t.Error("expected a fresh credential after expiry")
	}
}

func TestCache_CredentialExpiryCapsEntry(t *testing.T) {
	clock := newClock()
	res := &countingResolver{exp: clock.Now().Add(5 * time.Minute)}
	c := New(res, WithClock(clock.Now))
	ctx := context.Background()

	_, _ = c.GetOrResolve(ctx, "a.b.c", catalog.Read)
	clock.Advance(4 * time.Minute)
	_, _ = c.GetOrResolve(ctx, "a.b.c", catalog.Read)
	if res.calls.Load() != 1 {
		t.Fatalf("expected a hit before credential expiry, calls=%d", res.calls.Load())
	}
	clock.Advance(time.Minute)
	_, _ = c.GetOrResolve(ctx, "a.b.c", catalog.Read)
	if res.calls.Load() != 2 {
		t.Errorf("expected a miss once the credential expired, calls=%d", res.calls.Load())
	}
}

func TestCache_ErrorNotCached(t *testing.T) {
	notFound := &gatewayerr.NotFoundError{Table: "a.b.c"}
	res := &countingResolver{err: notFound}
	c := New(res)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.GetOrResolve(ctx, "a.b.c", catalog.Read)
		if err != notFound {
			t.Fatalf("error must be returned unwrapped, got %v", err)
		}
	}
	if res.calls.Load() != 2 {
		t.Errorf("resolver called %d times, want 2", res.calls.Load())
	}
	if c.Len() != 0 {
		t.Errorf("cache holds %d entries after failures", c.Len())
	}
}

func TestCache_CancelledResolutionNotCached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	res := ResolverFunc(func(ctx context.Context, name string, mode catalog.AccessMode) (catalog.TableHandle, error) {
		cancel()
		return catalog.TableHandle{Name: name}, nil
	})
	c := New(res)

	if _, err := c.GetOrResolve(ctx, "a.b.c", catalog.Read); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("cache holds %d entries after cancellation", c.Len())
	}
}

func TestCache_NameOnlyKeyIgnoresMode(t *testing.T) {
	res := &countingResolver{}
	c := New(res)
	ctx := context.Background()

	_, _ = c.GetOrResolve(ctx, "a.b.c", catalog.Read)
	h, err := c.GetOrResolve(ctx, "A.B.C", catalog.ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if res.calls.Load() != 1 {
		t.Errorf("resolver called %d times, want 1", res.calls.Load())
	}
	if h.Mode != catalog.Read {
		t.Errorf("mode = %v, want the cached READ handle", h.Mode)
	}
}

func TestCache_KeyByMode(t *testing.T) {
	res := &countingResolver{}
	c := New(res, WithKeyByMode(true))
	ctx := context.Background()

	_, _ = c.GetOrResolve(ctx, "a.b.c", catalog.Read)
	h, _ := c.GetOrResolve(ctx, "a.b.c", catalog.ReadWrite)
	_, _ = c.GetOrResolve(ctx, "a.b.c", catalog.ReadWrite)

	if res.calls.Load() != 2 {
		t.Errorf("resolver called %d times, want 2", res.calls.Load())
	}
	if h.Mode != catalog.ReadWrite {
		t.Errorf("mode = %v, want READ_WRITE", h.Mode)
	}
}

func TestCache_CapacityEviction(t *testing.T) {
	res := &countingResolver{}
	c := New(res, WithMaxEntries(2))
	ctx := context.Background()

	_, _ = c.GetOrResolve(ctx, "a.b.one", catalog.Read)
	_, _ = c.GetOrResolve(ctx, "a.b.two", catalog.Read)
	_, _ = c.GetOrResolve(ctx, "a.b.one", catalog.Read)
	_, _ = c.GetOrResolve(ctx, "a.b.three", catalog.Read)

	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	before := res.calls.Load()
	_, _ = c.GetOrResolve(ctx, "a.b.one", catalog.Read)
	if res.calls.Load() != before {
		t.Error("recently used entry was evicted")
	}
	_, _ = c.GetOrResolve(ctx, "a.b.two", catalog.Read)
	if res.calls.Load() != before+1 {
		t.Error("least recently used entry should have been evicted")
	}
}

func TestCache_ConcurrentMisses(t *testing.T) {
	res := &countingResolver{}
	c := New(res)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := c.GetOrResolve(ctx, "main.sales.orders", catalog.Read)
			if err != nil {
				errs <- err
				return
			}
			if h.Location != "s3://bucket/main.sales.orders" {
				errs <- fmt.Errorf("unexpected location %q", h.Location)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if c.Len() != 1 {
		t.Errorf("len = %d, want exactly one entry", c.Len())
	}
	if calls := res.calls.Load(); calls < 1 || calls > n {
		t.Errorf("resolver called %d times", calls)
	}
}
