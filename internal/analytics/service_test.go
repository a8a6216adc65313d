package analytics

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshikora/crypto-analytics/internal/cache"
	"github.com/sshikora/crypto-analytics/internal/garch"
	"github.com/sshikora/crypto-analytics/internal/models"
)

const dayMs = int64(24 * time.Hour / time.Millisecond)

type mockPriceSource struct {
	points []models.PricePoint
	err    error
	calls  int32
	days   int
}

func (m *mockPriceSource) GetPriceHistory(ctx context.Context, assetID string, days int) ([]models.PricePoint, error) {
	atomic.AddInt32(&m.calls, 1)
	m.days = days
	return m.points, m.err
}

// randomWalk returns n daily points of a log-normal walk
func randomWalk(n int, seed int64) []models.PricePoint {
	r := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	price := 40000.0
	out := make([]models.PricePoint, n)
	for i := range out {
		out[i] = models.PricePoint{Timestamp: start + int64(i)*dayMs, Price: price}
		price *= math.Exp(r.NormFloat64() * 0.03)
	}
	return out
}

func TestFitGarch(t *testing.T) {
	ctx := context.Background()
	points := randomWalk(120, 7)
	prices, timestamps := models.Prices(points), models.Timestamps(points)

	t.Run("fits and caches", func(t *testing.T) {
		mem := cache.NewMemoryCache()
		svc := NewService(nil, mem, Config{})

		first, err := svc.FitGarch(ctx, prices, timestamps, "BTC")
		require.NoError(t, err)
		assert.Equal(t, "BTC", first.Symbol)
		assert.Equal(t, models.ModelTypeGARCH11, first.ModelType)
		assert.Less(t, first.Persistence, 1.0)
		assert.Len(t, first.ConditionalVolatility, len(prices)-2)
		assert.Equal(t, 1, mem.Len())

		second, err := svc.FitGarch(ctx, prices, timestamps, "BTC")
		require.NoError(t, err)
		assert.InDelta(t, first.Alpha, second.Alpha, 1e-12)
		assert.Equal(t, first.Forecast, second.Forecast)
	})

	t.Run("without cache", func(t *testing.T) {
		svc := NewService(nil, nil, Config{})
		m, err := svc.FitGarch(ctx, prices, timestamps, "BTC")
		require.NoError(t, err)
		assert.Len(t, m.Forecast, len(garch.DefaultForecastHorizons))
	})

	t.Run("configured horizons", func(t *testing.T) {
		svc := NewService(nil, nil, Config{Garch: garch.Config{ForecastHorizons: []int{3, 90}}})
		m, err := svc.FitGarch(ctx, prices, timestamps, "BTC")
		require.NoError(t, err)
		require.Len(t, m.Forecast, 2)
		assert.Equal(t, 3, m.Forecast[0].HorizonDays)
		assert.Equal(t, 90, m.Forecast[1].HorizonDays)
	})

	t.Run("insufficient data", func(t *testing.T) {
		svc := NewService(nil, cache.NewMemoryCache(), Config{})
		_, err := svc.FitGarch(ctx, prices[:10], timestamps[:10], "BTC")
		assert.True(t, errors.Is(err, garch.ErrInsufficientData))
	})

	t.Run("times out", func(t *testing.T) {
		long := randomWalk(3000, 11)
		svc := NewService(nil, nil, Config{FitTimeout: time.Nanosecond})
		_, err := svc.FitGarch(ctx, models.Prices(long), models.Timestamps(long), "BTC")
		assert.ErrorIs(t, err, ErrFitTimeout)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		long := randomWalk(3000, 11)
		svc := NewService(nil, nil, Config{})
		_, err := svc.FitGarch(cctx, models.Prices(long), models.Timestamps(long), "BTC")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFitGarchCacheIdentity(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	t.Run("shorter series with same endpoints is validated", func(t *testing.T) {
		mem := cache.NewMemoryCache()
		svc := NewService(nil, mem, Config{})

		full := randomWalk(40, 5)
		_, err := svc.FitGarch(ctx, models.Prices(full), models.Timestamps(full), "BTC")
		require.NoError(t, err)
		require.Equal(t, 1, mem.Len())

		// 14 points spanning the same first and last timestamp
		short := make([]models.PricePoint, 14)
		for i := range short {
			short[i] = models.PricePoint{Timestamp: start + int64(i)*3*dayMs, Price: 40000 + float64(i)}
		}
		require.Equal(t, full[0].Timestamp, short[0].Timestamp)
		require.Equal(t, full[len(full)-1].Timestamp, short[len(short)-1].Timestamp)

		_, err = svc.FitGarch(ctx, models.Prices(short), models.Timestamps(short), "BTC")
		assert.ErrorIs(t, err, garch.ErrInsufficientData)
	})

	t.Run("different walk over same timestamps", func(t *testing.T) {
		mem := cache.NewMemoryCache()
		svc := NewService(nil, mem, Config{})

		a, b := randomWalk(120, 7), randomWalk(120, 8)
		require.Equal(t, models.Timestamps(a), models.Timestamps(b))

		first, err := svc.FitGarch(ctx, models.Prices(a), models.Timestamps(a), "BTC")
		require.NoError(t, err)
		second, err := svc.FitGarch(ctx, models.Prices(b), models.Timestamps(b), "BTC")
		require.NoError(t, err)

		assert.Equal(t, 2, mem.Len())
		assert.NotEqual(t, first.ConditionalVolatility, second.ConditionalVolatility)
	})
}

func TestCacheKey(t *testing.T) {
	walk := randomWalk(30, 1)
	prices, timestamps := models.Prices(walk), models.Timestamps(walk)
	key := CacheKey("BTC", prices, timestamps)

	assert.Regexp(t, `^garch:BTC:30:[0-9a-f]{16}$`, key)
	assert.Equal(t, key, CacheKey("BTC", append([]float64(nil), prices...), timestamps))
	assert.NotEqual(t, key, CacheKey("ETH", prices, timestamps))

	bumped := append([]float64(nil), prices...)
	bumped[15] += 0.01
	assert.NotEqual(t, key, CacheKey("BTC", bumped, timestamps))
	assert.NotEqual(t, key, CacheKey("BTC", prices[:29], timestamps[:29]))
}

// blockingFit counts concurrent fits and holds each one until release is closed
type blockingFit struct {
	running int32
	peak    int32
	release chan struct{}
}

func (b *blockingFit) fit(prices []float64, timestamps []int64, symbol string) (*models.GarchModel, error) {
	n := atomic.AddInt32(&b.running, 1)
	for {
		p := atomic.LoadInt32(&b.peak)
		if n <= p || atomic.CompareAndSwapInt32(&b.peak, p, n) {
			break
		}
	}
	<-b.release
	atomic.AddInt32(&b.running, -1)
	return &models.GarchModel{Symbol: symbol}, nil
}

func TestFitGarchConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	walk := randomWalk(60, 9)
	prices, timestamps := models.Prices(walk), models.Timestamps(walk)

	t.Run("bounds running fits", func(t *testing.T) {
		bf := &blockingFit{release: make(chan struct{})}
		svc := NewService(nil, nil, Config{MaxConcurrentFits: 2, FitTimeout: 5 * time.Second})
		svc.fit = bf.fit

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.FitGarch(ctx, prices, timestamps, "BTC")
				assert.NoError(t, err)
			}()
		}

		require.Eventually(t, func() bool { return atomic.LoadInt32(&bf.running) == 2 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(2), atomic.LoadInt32(&bf.running))

		close(bf.release)
		wg.Wait()
		assert.Equal(t, int32(2), atomic.LoadInt32(&bf.peak))
	})

	t.Run("abandoned fit keeps its slot", func(t *testing.T) {
		bf := &blockingFit{release: make(chan struct{})}
		svc := NewService(nil, nil, Config{MaxConcurrentFits: 1, FitTimeout: 20 * time.Millisecond})
		svc.fit = bf.fit

		_, err := svc.FitGarch(ctx, prices, timestamps, "BTC")
		assert.ErrorIs(t, err, ErrFitTimeout)

		// the first fit is still running, so this one times out waiting for a slot
		_, err = svc.FitGarch(ctx, prices, timestamps, "BTC")
		assert.ErrorIs(t, err, ErrFitTimeout)
		assert.Equal(t, int32(1), atomic.LoadInt32(&bf.peak))

		close(bf.release)
		require.Eventually(t, func() bool { return atomic.LoadInt32(&bf.running) == 0 }, time.Second, 5*time.Millisecond)
	})
}

func TestVolatilityForAsset(t *testing.T) {
	ctx := context.Background()

	t.Run("uses price source", func(t *testing.T) {
		src := &mockPriceSource{points: randomWalk(90, 3)}
		svc := NewService(src, nil, Config{})

		m, err := svc.VolatilityForAsset(ctx, "bitcoin", "BTC", 90)
		require.NoError(t, err)
		assert.Equal(t, "BTC", m.Symbol)
		assert.Equal(t, 90, m.Observations)
		assert.Equal(t, 90, src.days)
	})

	t.Run("defaults", func(t *testing.T) {
		src := &mockPriceSource{points: randomWalk(90, 3)}
		svc := NewService(src, nil, Config{DefaultDays: 60})

		m, err := svc.VolatilityForAsset(ctx, "bitcoin", "", 0)
		require.NoError(t, err)
		assert.Equal(t, "bitcoin", m.Symbol)
		assert.Equal(t, 60, src.days)
	})

	t.Run("source error", func(t *testing.T) {
		src := &mockPriceSource{err: errors.New("upstream down")}
		svc := NewService(src, nil, Config{})
		_, err := svc.VolatilityForAsset(ctx, "bitcoin", "BTC", 30)
		assert.Error(t, err)
	})
}

func TestMovingAverages(t *testing.T) {
	ctx := context.Background()
	points := []models.PricePoint{
		{Timestamp: 0, Price: 10},
		{Timestamp: dayMs, Price: 20},
		{Timestamp: 2 * dayMs, Price: 30},
		{Timestamp: 3 * dayMs, Price: 40},
	}

	t.Run("overlays", func(t *testing.T) {
		svc := NewService(&mockPriceSource{points: points}, nil, Config{})
		out, err := svc.MovingAverages(ctx, "bitcoin", 30, []int{2, 3})
		require.NoError(t, err)

		assert.Equal(t, []float64{10, 20, 30, 40}, out.Prices)
		require.Len(t, out.Averages, 2)
		assert.Equal(t, 2, out.Averages[0].Period)

		ma2 := out.Averages[0].Values
		assert.Nil(t, ma2[0])
		require.NotNil(t, ma2[1])
		assert.Equal(t, 15.0, *ma2[1])
		assert.Equal(t, 35.0, *ma2[3])

		ma3 := out.Averages[1].Values
		assert.Nil(t, ma3[1])
		assert.Equal(t, 30.0, *ma3[3])
		assert.Equal(t, time.UnixMilli(dayMs).UTC(), out.Timestamps[1])
	})

	t.Run("period longer than history", func(t *testing.T) {
		svc := NewService(&mockPriceSource{points: points}, nil, Config{})
		out, err := svc.MovingAverages(ctx, "bitcoin", 30, []int{10})
		require.NoError(t, err)
		for _, v := range out.Averages[0].Values {
			assert.Nil(t, v)
		}
	})

	t.Run("invalid periods", func(t *testing.T) {
		svc := NewService(&mockPriceSource{points: points}, nil, Config{})
		_, err := svc.MovingAverages(ctx, "bitcoin", 30, nil)
		assert.Error(t, err)
		_, err = svc.MovingAverages(ctx, "bitcoin", 30, []int{0})
		assert.Error(t, err)
		_, err = svc.MovingAverages(ctx, "bitcoin", 30, []int{366})
		assert.ErrorIs(t, err, ErrInvalidPeriods)
	})
}
