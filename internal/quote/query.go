package quote

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Azurepeal/neighbor-swap/internal/model"
)

// Fetcher resolves a key against the routing API
type Fetcher func(ctx context.Context, key Key) (*model.QuoteResult, error)

// Result is the outcome of a query task. A nil Quote with a nil Err means
// the fetch was skipped.
type Result struct {
	Key       Key
	Quote     *model.QuoteResult
	Err       error
	FetchedAt time.Time
}

// OK reports whether the result carries a usable quote
func (r Result) OK() bool {
	return r.Err == nil && r.Quote != nil
}

// DefaultFetchTimeout bounds a shared fetch once it no longer follows any
// single caller's context
const DefaultFetchTimeout = 30 * time.Second

type cacheEntry struct {
	quote     *model.QuoteResult
	fetchedAt time.Time
}

// Query caches quotes by key and runs at most one current task. A task
// whose key has been superseded is cancelled and its result dropped.
type Query struct {
	fetch        Fetcher
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	group        singleflight.Group

	mu       sync.Mutex
	cache    map[Key]cacheEntry
	epoch    uint64
	current  Key
	watching bool
	running  bool
	gen      uint64
	cancel   context.CancelFunc
	latest   *Result
	observer func(Result)
	tasks    sync.WaitGroup

	log *logrus.Entry
}

// NewQuery creates a query over fetch. Entries older than ttl are refetched.
func NewQuery(fetch Fetcher, ttl time.Duration) *Query {
	return &Query{
		fetch:        fetch,
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		cache:        make(map[Key]cacheEntry),
		log:          logrus.WithField("component", "quote-query"),
	}
}

// WithObserver registers fn to receive every published result
func (q *Query) WithObserver(fn func(Result)) *Query {
	q.observer = fn
	return q
}

func (q *Query) cached(key Key) (cacheEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.cache[key]
	if !ok || q.now().Sub(e.fetchedAt) > q.ttl {
		return cacheEntry{}, false
	}
	return e, true
}

// Get returns the cached quote for key or fetches it. Concurrent calls
// for the same key share one fetch, which outlives any single caller:
// cancelling ctx only abandons this caller's wait. Errors are not cached,
// and a fetch started before Invalidate never fills the cache.
func (q *Query) Get(ctx context.Context, key Key) (*model.QuoteResult, error) {
	if e, ok := q.cached(key); ok {
		q.log.WithField("key", key.String()).Debug("Quote cache hit")
		return e.quote, nil
	}

	q.mu.Lock()
	epoch := q.epoch
	q.mu.Unlock()

	fetchCtx := context.WithoutCancel(ctx)
	ch := q.group.DoChan(strconv.FormatUint(epoch, 10)+"/"+key.String(), func() (any, error) {
		bounded, cancel := context.WithTimeout(fetchCtx, q.fetchTimeout)
		defer cancel()

		result, err := q.fetch(bounded, key)
		if err != nil {
			return nil, err
		}
		q.mu.Lock()
		if q.epoch == epoch {
			q.cache[key] = cacheEntry{quote: result, fetchedAt: q.now()}
		}
		q.mu.Unlock()
		return result, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result, _ := res.Val.(*model.QuoteResult)
		return result, nil
	}
}

// Watch makes key current. Any task for a previous key is cancelled and
// its result will not be published. Watching the current key again is a
// no-op while its task runs or its result is still fresh.
func (q *Query) Watch(ctx context.Context, key Key) {
	q.mu.Lock()
	if q.watching && q.current == key {
		fresh := q.latest != nil && q.latest.Err == nil && q.now().Sub(q.latest.FetchedAt) <= q.ttl
		if q.running || fresh {
			q.mu.Unlock()
			return
		}
	}
	if q.cancel != nil {
		q.cancel()
	}
	taskCtx, cancel := context.WithCancel(ctx)
	q.current = key
	q.watching = true
	q.running = true
	q.gen++
	gen := q.gen
	q.cancel = cancel
	q.tasks.Add(1)
	q.mu.Unlock()

	go q.run(taskCtx, cancel, key, gen)
}

func (q *Query) run(ctx context.Context, cancel context.CancelFunc, key Key, gen uint64) {
	defer q.tasks.Done()
	defer cancel()

	result, err := q.Get(ctx, key)
	res := Result{Key: key, Quote: result, Err: err, FetchedAt: q.now()}

	q.mu.Lock()
	if !q.watching || q.gen != gen {
		q.mu.Unlock()
		q.log.WithField("key", key.String()).Debug("Dropping result for superseded key")
		return
	}
	q.running = false
	q.latest = &res
	observer := q.observer
	q.mu.Unlock()

	if err != nil {
		q.log.WithError(err).WithField("key", key.String()).Warn("Quote fetch failed")
	}
	if observer != nil {
		observer(res)
	}
}

// Clear stops watching: the current task is cancelled and Latest reports nothing
func (q *Query) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.gen++
	q.watching = false
	q.running = false
	q.latest = nil
}

// Latest returns the result published for the current key
func (q *Query) Latest() (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.watching || q.latest == nil || q.latest.Key != q.current {
		return Result{}, false
	}
	return *q.latest, true
}

// Invalidate drops every cached quote and the published result, so the
// next Watch of any key refetches. A task still in flight is cancelled and
// its result dropped.
func (q *Query) Invalidate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.epoch++
	q.gen++
	q.running = false
	q.cache = make(map[Key]cacheEntry)
	q.latest = nil
	q.log.Debug("Quote cache invalidated")
}

// Wait blocks until every started task has finished
func (q *Query) Wait() {
	q.tasks.Wait()
}
