// Package candlestick maintains the in-memory OHLC aggregation of trade
// prices at second, minute, and hour granularity. The cache is process-wide
// state owned by the engine: rebuilt by replay at initialization, then
// appended to exactly once per committed trade.
package candlestick

import (
	"sort"
	"sync"
	"time"

	"github.com/coincross/exchange/internal/model"
)

// Granularity selects one of the three bucket widths.
type Granularity time.Duration

const (
	BySecond = Granularity(time.Second)
	ByMinute = Granularity(time.Minute)
	ByHour   = Granularity(time.Hour)
)

// candle is one aggregation bucket. Open/close follow the minimum/maximum
// trade id seen in the bucket, not insertion order, so replaying trades in
// any order converges on the same data.
type candle struct {
	time         time.Time
	open, closePrice int64
	high, low    int64
	minID, maxID int64
}

type series struct {
	buckets map[int64]*candle
	keys    []int64 // ascending truncated unix times
}

func newSeries() *series {
	return &series{buckets: make(map[int64]*candle)}
}

func (s *series) record(key int64, at time.Time, t *model.Trade) {
	c, ok := s.buckets[key]
	if !ok {
		s.buckets[key] = &candle{
			time: at,
			open: t.Price, closePrice: t.Price,
			high: t.Price, low: t.Price,
			minID: t.ID, maxID: t.ID,
		}
		// Trades arrive in ascending time, so the new key lands at the
		// end; insert-sort covers the stray out-of-order record.
		if n := len(s.keys); n == 0 || s.keys[n-1] < key {
			s.keys = append(s.keys, key)
		} else {
			i := sort.Search(n, func(i int) bool { return s.keys[i] >= key })
			s.keys = append(s.keys, 0)
			copy(s.keys[i+1:], s.keys[i:])
			s.keys[i] = key
		}
		return
	}
	if t.ID < c.minID {
		c.minID = t.ID
		c.open = t.Price
	}
	if t.ID > c.maxID {
		c.maxID = t.ID
		c.closePrice = t.Price
	}
	if t.Price < c.low {
		c.low = t.Price
	}
	if t.Price > c.high {
		c.high = t.Price
	}
}

// query returns all candles with bucket time >= lowerBound, ascending.
func (s *series) query(lowerBound int64) []model.CandlestickData {
	pos := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= lowerBound })
	out := make([]model.CandlestickData, 0, len(s.keys)-pos)
	for ; pos < len(s.keys); pos++ {
		c := s.buckets[s.keys[pos]]
		out = append(out, model.CandlestickData{
			Time: c.time, Open: c.open, Close: c.closePrice, High: c.high, Low: c.low,
		})
	}
	return out
}

// Cache holds the three granularity series. Reads run concurrently; the
// single writer is the matching engine inside its serialized commit path.
type Cache struct {
	mu     sync.RWMutex
	second *series
	minute *series
	hour   *series
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{second: newSeries(), minute: newSeries(), hour: newSeries()}
}

// Record folds one trade into all three series.
func (c *Cache) Record(t *model.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range []struct {
		g  Granularity
		sr *series
	}{
		{BySecond, c.second},
		{ByMinute, c.minute},
		{ByHour, c.hour},
	} {
		at := t.CreatedAt.UTC().Truncate(time.Duration(s.g))
		s.sr.record(at.Unix(), at, t)
	}
}

// Query returns the candles of the given granularity whose bucket time is
// at or after lowerBound, in ascending time order. O(log n + k).
func (c *Cache) Query(lowerBound time.Time, g Granularity) []model.CandlestickData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := lowerBound.UTC().Truncate(time.Duration(g)).Unix()
	// A lower bound inside a bucket must not pull in that earlier bucket.
	if truncated := lowerBound.UTC().Truncate(time.Duration(g)); truncated.Before(lowerBound.UTC()) {
		key = truncated.Add(time.Duration(g)).Unix()
	}
	return c.series(g).query(key)
}

func (c *Cache) series(g Granularity) *series {
	switch g {
	case ByMinute:
		return c.minute
	case ByHour:
		return c.hour
	default:
		return c.second
	}
}

// Reset clears all three series.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.second = newSeries()
	c.minute = newSeries()
	c.hour = newSeries()
}

// Replay folds a trade history, expected in ascending id order, into the
// cache. Used after Reset at (re)initialization.
func (c *Cache) Replay(trades []model.Trade) {
	for i := range trades {
		c.Record(&trades[i])
	}
}
