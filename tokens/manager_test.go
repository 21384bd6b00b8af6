package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-proxy/auth"
	"token-proxy/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type scriptedFetcher struct {
	calls   atomic.Int32
	respond func(call int32) (auth.Grant, error)
}

func (f *scriptedFetcher) Fetch(context.Context) (auth.Grant, error) {
	call := f.calls.Add(1)
	return f.respond(call)
}

func grantFetcher(tokens ...string) *scriptedFetcher {
	return &scriptedFetcher{respond: func(call int32) (auth.Grant, error) {
		token := tokens[len(tokens)-1]
		if int(call) <= len(tokens) {
			token = tokens[call-1]
		}
		return auth.Grant{AccessToken: token, ExpiresIn: time.Hour}, nil
	}}
}

func newTestManager(clock *fakeClock, fetcher *scriptedFetcher, opts ...ManagerOption) (*Manager, *MemoryStore) {
	store := &MemoryStore{}
	opts = append([]ManagerOption{WithClock(clock.Now)}, opts...)
	return NewManager(store, fetcher.Fetch, opts...), store
}

func TestGetFetchesWhenCacheIsAbsent(t *testing.T) {
	clock := newFakeClock()
	fetcher := grantFetcher("first")
	manager, store := newTestManager(clock, fetcher)

	result, err := manager.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, Result{AccessToken: "first", ExpiresIn: 3600, Cached: false}, result)

	token, ok := store.LoadToken()
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(time.Hour), token.ExpiresAt)
}

func TestGetServesCachedTokenBeforeMargin(t *testing.T) {
	clock := newFakeClock()
	fetcher := grantFetcher("first", "second")
	manager, _ := newTestManager(clock, fetcher)

	_, err := manager.Get(context.Background())
	require.NoError(t, err)

	// 54m59s: ещё за пределами пятиминутного запаса
	clock.Advance(55*time.Minute - time.Second)

	result, err := manager.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.True(t, result.Cached)
	assert.Equal(t, "first", result.AccessToken)
	assert.Equal(t, int64(301), result.ExpiresIn)
}

func TestGetRefreshesInsideMargin(t *testing.T) {
	clock := newFakeClock()
	fetcher := grantFetcher("first", "second")
	manager, store := newTestManager(clock, fetcher)

	_, err := manager.Get(context.Background())
	require.NoError(t, err)

	clock.Advance(55 * time.Minute)

	result, err := manager.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), fetcher.calls.Load())
	assert.False(t, result.Cached)
	assert.Equal(t, "second", result.AccessToken)

	token, ok := store.LoadToken()
	require.True(t, ok)
	assert.Equal(t, "second", token.Access)
	assert.Equal(t, clock.Now().Add(time.Hour), token.ExpiresAt)
}

func TestGetScenario(t *testing.T) {
	clock := newFakeClock()
	fetcher := &scriptedFetcher{respond: func(call int32) (auth.Grant, error) {
		return auth.Grant{AccessToken: "abc123", ExpiresIn: 1200 * time.Second}, nil
	}}
	manager, _ := newTestManager(clock, fetcher)

	result, err := manager.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{AccessToken: "abc123", ExpiresIn: 1200, Cached: false}, result)

	clock.Advance(100 * time.Second)
	result, err = manager.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{AccessToken: "abc123", ExpiresIn: 1100, Cached: true}, result)
	assert.Equal(t, int32(1), fetcher.calls.Load())

	clock.Advance(1000 * time.Second)
	result, err = manager.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestGetRejectedLeavesCacheUnchanged(t *testing.T) {
	clock := newFakeClock()
	fetcher := &scriptedFetcher{respond: func(call int32) (auth.Grant, error) {
		if call == 1 {
			return auth.Grant{AccessToken: "first", ExpiresIn: time.Hour}, nil
		}
		return auth.Grant{}, &auth.RejectedError{StatusCode: 401, Body: `{"error":"invalid_client"}`}
	}}
	manager, store := newTestManager(clock, fetcher)

	_, err := manager.Get(context.Background())
	require.NoError(t, err)
	before, _ := store.LoadToken()

	clock.Advance(58 * time.Minute)

	_, err = manager.Get(context.Background())
	var rejected *auth.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, 401, rejected.StatusCode)
	assert.Equal(t, `{"error":"invalid_client"}`, rejected.Body)

	after, ok := store.LoadToken()
	require.True(t, ok)
	assert.Equal(t, before, after)

	// устаревший токен не выдаётся, следующий вызов снова идёт к провайдеру
	_, err = manager.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), fetcher.calls.Load())
}

func TestGetTransportFailureLeavesCacheAbsent(t *testing.T) {
	clock := newFakeClock()
	fetcher := &scriptedFetcher{respond: func(int32) (auth.Grant, error) {
		return auth.Grant{}, fmt.Errorf("token provider: request failed: %w", context.DeadlineExceeded)
	}}
	manager, store := newTestManager(clock, fetcher)

	_, err := manager.Get(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok := store.LoadToken()
	assert.False(t, ok)
	assert.False(t, manager.Health().TokenCached)
}

func TestGetCoalescesConcurrentRefreshes(t *testing.T) {
	clock := newFakeClock()
	release := make(chan struct{})
	fetcher := &scriptedFetcher{respond: func(int32) (auth.Grant, error) {
		<-release
		return auth.Grant{AccessToken: "shared", ExpiresIn: time.Hour}, nil
	}}
	manager, _ := newTestManager(clock, fetcher)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = manager.Get(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i].AccessToken)
	}
}

func TestGetSharedFetchSurvivesCallerCancellation(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fetchCtxErr error
	manager := NewManager(&MemoryStore{}, func(fetchCtx context.Context) (auth.Grant, error) {
		cancel()
		fetchCtxErr = fetchCtx.Err()
		return auth.Grant{AccessToken: "ok", ExpiresIn: time.Hour}, nil
	}, WithClock(clock.Now))

	result, err := manager.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.AccessToken)
	assert.NoError(t, fetchCtxErr)
}

func TestGetReturnsContextErrorBeforeWork(t *testing.T) {
	clock := newFakeClock()
	fetcher := grantFetcher("first")
	manager, _ := newTestManager(clock, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := manager.Get(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), fetcher.calls.Load())
}

func TestHealth(t *testing.T) {
	clock := newFakeClock()
	fetcher := grantFetcher("first")
	manager, _ := newTestManager(clock, fetcher)

	health := manager.Health()
	assert.False(t, health.TokenCached)
	assert.Nil(t, health.ExpiresAt)

	_, err := manager.Get(context.Background())
	require.NoError(t, err)

	health = manager.Health()
	assert.True(t, health.TokenCached)
	require.NotNil(t, health.ExpiresAt)
	assert.Equal(t, clock.Now().Add(3600*time.Second), *health.ExpiresAt)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestFetchHooks(t *testing.T) {
	clock := newFakeClock()
	fetcher := &scriptedFetcher{respond: func(call int32) (auth.Grant, error) {
		switch call {
		case 1:
			return auth.Grant{AccessToken: "first", ExpiresIn: 1200 * time.Second}, nil
		case 2:
			return auth.Grant{}, &auth.RejectedError{StatusCode: 400, Body: "bad"}
		default:
			return auth.Grant{}, errors.New("connection reset")
		}
	}}

	var events []model.FetchEvent
	manager, _ := newTestManager(clock, fetcher, WithFetchHook(func(ev model.FetchEvent) {
		events = append(events, ev)
	}))

	_, err := manager.Get(context.Background())
	require.NoError(t, err)
	_, err = manager.Get(context.Background())
	require.NoError(t, err, "cache hit")

	clock.Advance(time.Hour)
	_, err = manager.Get(context.Background())
	require.Error(t, err)
	_, err = manager.Get(context.Background())
	require.Error(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, model.OutcomeSuccess, events[0].Outcome)
	assert.Equal(t, 200, events[0].StatusCode)
	assert.Equal(t, events[0].RequestedAt.Add(1200*time.Second), events[0].ExpiresAt)
	assert.Equal(t, model.OutcomeRejected, events[1].Outcome)
	assert.Equal(t, 400, events[1].StatusCode)
	assert.Equal(t, model.OutcomeFailed, events[2].Outcome)
	assert.Zero(t, events[2].StatusCode)
	assert.True(t, events[2].ExpiresAt.IsZero())
}

func TestCeilSeconds(t *testing.T) {
	assert.Equal(t, int64(0), ceilSeconds(-time.Second))
	assert.Equal(t, int64(0), ceilSeconds(0))
	assert.Equal(t, int64(1), ceilSeconds(time.Millisecond))
	assert.Equal(t, int64(1100), ceilSeconds(1100*time.Second))
	assert.Equal(t, int64(1101), ceilSeconds(1100*time.Second+time.Nanosecond))
}
