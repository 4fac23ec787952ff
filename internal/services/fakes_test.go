package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marketbrief/marketbrief/internal/config"
	"github.com/marketbrief/marketbrief/internal/logger"
	"github.com/marketbrief/marketbrief/internal/marketdata"
	"github.com/marketbrief/marketbrief/internal/models"
	"github.com/marketbrief/marketbrief/internal/registry"
	"github.com/marketbrief/marketbrief/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	// The busy timeout lets concurrent writers wait out sqlite's
	// single-writer lock instead of failing with SQLITE_BUSY.
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "svc.db")+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	st, err := store.New(db)
	require.NoError(t, err)
	return st
}

func testRegistry(symbols ...string) *registry.Registry {
	tickers := make([]config.TickerConfig, len(symbols))
	for i, s := range symbols {
		tickers[i] = config.TickerConfig{Symbol: s, Name: s + " Test Corp"}
	}
	return registry.FromConfig(tickers)
}

func nopLog() *logger.Logger { return logger.NewNop() }

// fakeSource serves canned bars and fails configured tickers.
type fakeSource struct {
	mu      sync.Mutex
	bars    map[string][]marketdata.Bar
	failing map[string]bool
	calls   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		bars:    make(map[string][]marketdata.Bar),
		failing: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func (f *fakeSource) FetchDaily(_ context.Context, ticker string) ([]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ticker]++
	if f.failing[ticker] {
		return nil, &marketdata.FetchError{Ticker: ticker, Transient: true, Err: fmt.Errorf("source down")}
	}
	if bars, ok := f.bars[ticker]; ok {
		return bars, nil
	}
	return []marketdata.Bar{
		{Day: "2026-08-31", Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000},
	}, nil
}

// fakeObjectStore records puts in memory.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failAll bool
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Put(_ context.Context, objectName, _ string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", fmt.Errorf("object store down")
	}
	// Existing keys are left alone, mirroring the conditional GCS write.
	if _, ok := f.objects[objectName]; !ok {
		f.objects[objectName] = data
	}
	return "gs://test-bucket/" + objectName, nil
}

func (f *fakeObjectStore) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}

// fakeBus captures published events.
type fakeBus struct {
	mu              sync.Mutex
	ingestCompleted []models.IngestCompletedEvent
	reportsReady    []models.ReportsReadyEvent
}

func (f *fakeBus) PublishIngestCompleted(_ context.Context, ev models.IngestCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingestCompleted = append(f.ingestCompleted, ev)
	return nil
}

func (f *fakeBus) PublishReportsReady(_ context.Context, ev models.ReportsReadyEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reportsReady = append(f.reportsReady, ev)
	return nil
}

// fakeGenerator writes deterministic report bodies.
type fakeGenerator struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   map[string]int
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{failing: make(map[string]bool), calls: make(map[string]int)}
}

func (f *fakeGenerator) Generate(_ context.Context, inst models.Instrument, bars []marketdata.Bar) (string, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[inst.Symbol]++
	if f.failing[inst.Symbol] {
		return "", nil, fmt.Errorf("model unavailable")
	}
	body := fmt.Sprintf("Brief for %s over %d bars.", inst.Symbol, len(bars))
	return body, []byte(`{"sentiment":"neutral","highlights":["flat session"]}`), nil
}

// fakeRenderer produces placeholder document bytes. A non-zero delay
// simulates a slow render that respects cancellation.
type fakeRenderer struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   map[string]int
	delay   time.Duration
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{failing: make(map[string]bool), calls: make(map[string]int)}
}

func (f *fakeRenderer) Render(ctx context.Context, rep models.Report) ([]byte, error) {
	f.mu.Lock()
	f.calls[rep.Ticker]++
	failing := f.failing[rep.Ticker]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failing {
		return nil, fmt.Errorf("layout failure")
	}
	return []byte("%PDF-fake " + rep.Ticker), nil
}

// fakeQueue implements visibility-timeout queue semantics in memory:
// a delivered message is invisible until nacked; nacking redelivers it
// with an incremented attempt counter; exceeding maxAttempts moves it
// to the dead-letter slice.
type fakeQueue struct {
	mu          sync.Mutex
	pending     []queuedJob
	deadLetter  []models.JobRequest
	maxAttempts int
}

type queuedJob struct {
	job     models.JobRequest
	attempt int
}

func newFakeQueue(maxAttempts int) *fakeQueue {
	return &fakeQueue{maxAttempts: maxAttempts}
}

func (q *fakeQueue) Enqueue(_ context.Context, job models.JobRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, queuedJob{job: job, attempt: 1})
	return nil
}

// Consume drains the queue synchronously; it returns once the queue is
// empty, which suits tests better than blocking forever.
func (q *fakeQueue) Consume(ctx context.Context, _ int, process func(context.Context, models.JobRequest) error) error {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if next.attempt > q.maxAttempts {
			q.mu.Lock()
			q.deadLetter = append(q.deadLetter, next.job)
			q.mu.Unlock()
			continue
		}

		if err := process(ctx, next.job); err != nil {
			// Visibility timeout elapses; the message comes back.
			q.mu.Lock()
			q.pending = append(q.pending, queuedJob{job: next.job, attempt: next.attempt + 1})
			q.mu.Unlock()
		}
	}
}

// fakeCache is an in-memory Cache.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	c.sets++
}
