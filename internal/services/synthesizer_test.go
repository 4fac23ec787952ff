package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbrief/marketbrief/internal/marketdata"
	"github.com/marketbrief/marketbrief/internal/models"
	"github.com/marketbrief/marketbrief/internal/store"
)

func seedBars(t *testing.T, st *store.Store, tickers ...string) {
	t.Helper()
	for _, ticker := range tickers {
		require.NoError(t, st.UpsertBars(context.Background(), []models.DailyBar{
			{Ticker: ticker, Day: "2026-08-28", Open: 9, High: 10, Low: 8, Close: 9.5, Volume: 900, FetchedAt: time.Now()},
			{Ticker: ticker, Day: "2026-08-31", Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000, FetchedAt: time.Now()},
		}))
	}
}

func today() string {
	return time.Now().UTC().Format(models.DateLayout)
}

func newTestSynthesizer(t *testing.T, st *store.Store, gen *fakeGenerator, bus *fakeBus, symbols ...string) *Synthesizer {
	t.Helper()
	return NewSynthesizer(testRegistry(symbols...), st, gen, bus,
		SynthesizerConfig{Location: time.UTC}, nopLog())
}

func TestRunBatchSynthesizesAllInstruments(t *testing.T) {
	st := newTestStore(t)
	seedBars(t, st, "AAPL", "MSFT")
	gen := newFakeGenerator()
	bus := &fakeBus{}

	synth := newTestSynthesizer(t, st, gen, bus, "AAPL", "MSFT")
	require.NoError(t, synth.RunBatch(context.Background()))

	for _, ticker := range []string{"AAPL", "MSFT"} {
		row, err := st.GetReport(context.Background(), ticker, today())
		require.NoError(t, err)
		require.NotNil(t, row, ticker)
		assert.Equal(t, models.StatusCompleted, row.Status)
		assert.Contains(t, row.Body, ticker)
		assert.Nil(t, row.DocumentPath)
	}
	require.Len(t, bus.reportsReady, 1)
}

func TestRunBatchIsIdempotentAcrossDuplicateTriggers(t *testing.T) {
	st := newTestStore(t)
	seedBars(t, st, "AAPL")
	gen := newFakeGenerator()
	bus := &fakeBus{}

	synth := newTestSynthesizer(t, st, gen, bus, "AAPL")
	require.NoError(t, synth.RunBatch(context.Background()))
	require.NoError(t, synth.RunBatch(context.Background()))

	// The second trigger finds a terminal row and skips synthesis.
	assert.Equal(t, 1, gen.calls["AAPL"])

	rows, err := st.ListRenderable(context.Background(), today())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// blockingGenerator parks every Generate call until released, forcing
// two callers to overlap inside the synthesis window.
type blockingGenerator struct {
	arrived chan struct{}
	release chan struct{}
	calls   int32
}

func (g *blockingGenerator) Generate(_ context.Context, inst models.Instrument, _ []marketdata.Bar) (string, []byte, error) {
	atomic.AddInt32(&g.calls, 1)
	g.arrived <- struct{}{}
	<-g.release
	return "Brief for " + inst.Symbol, []byte(`{"sentiment":"neutral"}`), nil
}

func TestConcurrentTriggersProduceOneReportRow(t *testing.T) {
	st := newTestStore(t)
	seedBars(t, st, "AAPL")
	gen := &blockingGenerator{arrived: make(chan struct{}, 2), release: make(chan struct{})}
	synth := NewSynthesizer(testRegistry("AAPL"), st, gen, &fakeBus{},
		SynthesizerConfig{Location: time.UTC}, nopLog())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = synth.SynthesizeOne(context.Background(), "AAPL")
		}(i)
	}

	// Both runs are now mid-generation on the same pending row; one
	// conditional completion wins and the other result is discarded.
	<-gen.arrived
	<-gen.arrived
	close(gen.release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&gen.calls))

	rows, err := st.ListRenderable(context.Background(), today())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusCompleted, rows[0].Status)
	assert.Equal(t, "Brief for AAPL", rows[0].Body)
}

func TestRunBatchFailureMarksRowAndContinues(t *testing.T) {
	st := newTestStore(t)
	seedBars(t, st, "AAPL", "MSFT")
	gen := newFakeGenerator()
	gen.failing["AAPL"] = true
	bus := &fakeBus{}

	synth := newTestSynthesizer(t, st, gen, bus, "AAPL", "MSFT")
	require.NoError(t, synth.RunBatch(context.Background()))

	failed, err := st.GetReport(context.Background(), "AAPL", today())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorDetails, "model unavailable")

	done, err := st.GetReport(context.Background(), "MSFT", today())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	// The wake event fires even with partial failure.
	require.Len(t, bus.reportsReady, 1)
}

func TestSynthesisWithNoBarsFailsThatRowOnly(t *testing.T) {
	st := newTestStore(t)
	seedBars(t, st, "MSFT") // AAPL deliberately has no history
	gen := newFakeGenerator()
	bus := &fakeBus{}

	synth := newTestSynthesizer(t, st, gen, bus, "AAPL", "MSFT")
	require.NoError(t, synth.RunBatch(context.Background()))

	row, err := st.GetReport(context.Background(), "AAPL", today())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, row.Status)
	assert.Equal(t, 0, gen.calls["AAPL"])
	assert.Equal(t, 1, gen.calls["MSFT"])
}

func TestSynthesizeOneUnknownTickerIsDropped(t *testing.T) {
	st := newTestStore(t)
	gen := newFakeGenerator()
	synth := newTestSynthesizer(t, st, gen, &fakeBus{}, "AAPL")

	require.NoError(t, synth.SynthesizeOne(context.Background(), "ZZZZ"))

	row, err := st.GetReport(context.Background(), "ZZZZ", today())
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestSynthesizeOneSkipsTerminalRow(t *testing.T) {
	st := newTestStore(t)
	seedBars(t, st, "AAPL")
	gen := newFakeGenerator()
	synth := newTestSynthesizer(t, st, gen, &fakeBus{}, "AAPL")

	require.NoError(t, synth.SynthesizeOne(context.Background(), "AAPL"))
	require.NoError(t, synth.SynthesizeOne(context.Background(), "aapl"))

	assert.Equal(t, 1, gen.calls["AAPL"])
}
