package candlestick_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/coincross/exchange/internal/candlestick"
	"github.com/coincross/exchange/internal/model"
)

var base = time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

func trade(id int64, price int64, at time.Time) model.Trade {
	return model.Trade{ID: id, Amount: 1, Price: price, CreatedAt: at}
}

func TestRecordAggregatesOHLC(t *testing.T) {
	c := candlestick.NewCache()

	// Four trades inside one second bucket.
	c.Record(&model.Trade{ID: 1, Price: 100, CreatedAt: base.Add(100 * time.Millisecond)})
	c.Record(&model.Trade{ID: 2, Price: 130, CreatedAt: base.Add(200 * time.Millisecond)})
	c.Record(&model.Trade{ID: 3, Price: 90, CreatedAt: base.Add(300 * time.Millisecond)})
	c.Record(&model.Trade{ID: 4, Price: 110, CreatedAt: base.Add(400 * time.Millisecond)})

	got := c.Query(base, candlestick.BySecond)
	if len(got) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(got))
	}
	want := model.CandlestickData{Time: base, Open: 100, Close: 110, High: 130, Low: 90}
	if got[0] != want {
		t.Errorf("candle = %+v, want %+v", got[0], want)
	}
}

func TestOpenCloseFollowTradeID(t *testing.T) {
	c := candlestick.NewCache()

	// Records arrive out of id order; open/close must still track the
	// minimum and maximum trade id, not insertion order.
	c.Record(&model.Trade{ID: 5, Price: 120, CreatedAt: base})
	c.Record(&model.Trade{ID: 2, Price: 80, CreatedAt: base.Add(time.Millisecond)})
	c.Record(&model.Trade{ID: 9, Price: 150, CreatedAt: base.Add(2 * time.Millisecond)})

	got := c.Query(base, candlestick.BySecond)
	if len(got) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(got))
	}
	if got[0].Open != 80 {
		t.Errorf("open = %d, want 80 (trade id 2)", got[0].Open)
	}
	if got[0].Close != 150 {
		t.Errorf("close = %d, want 150 (trade id 9)", got[0].Close)
	}
}

func TestQueryBounds(t *testing.T) {
	c := candlestick.NewCache()
	for i := int64(0); i < 5; i++ {
		c.Record(&model.Trade{ID: i + 1, Price: 100 + i, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	t.Run("before first bucket returns all", func(t *testing.T) {
		got := c.Query(base.Add(-time.Hour), candlestick.ByMinute)
		if len(got) != 5 {
			t.Fatalf("expected 5 candles, got %d", len(got))
		}
	})

	t.Run("after last bucket returns empty", func(t *testing.T) {
		got := c.Query(base.Add(time.Hour), candlestick.ByMinute)
		if len(got) != 0 {
			t.Fatalf("expected 0 candles, got %d", len(got))
		}
	})

	t.Run("exact bucket boundary includes the bucket", func(t *testing.T) {
		got := c.Query(base.Add(2*time.Minute), candlestick.ByMinute)
		if len(got) != 3 {
			t.Fatalf("expected 3 candles, got %d", len(got))
		}
		if !got[0].Time.Equal(base.Add(2 * time.Minute)) {
			t.Errorf("first candle time = %v", got[0].Time)
		}
	})

	t.Run("mid bucket excludes the earlier bucket", func(t *testing.T) {
		got := c.Query(base.Add(2*time.Minute+30*time.Second), candlestick.ByMinute)
		if len(got) != 2 {
			t.Fatalf("expected 2 candles, got %d", len(got))
		}
		if !got[0].Time.Equal(base.Add(3 * time.Minute)) {
			t.Errorf("first candle time = %v", got[0].Time)
		}
	})

	t.Run("ascending order", func(t *testing.T) {
		got := c.Query(base.Add(-time.Hour), candlestick.ByMinute)
		for i := 1; i < len(got); i++ {
			if !got[i-1].Time.Before(got[i].Time) {
				t.Fatalf("candles out of order at %d: %v then %v", i, got[i-1].Time, got[i].Time)
			}
		}
	})
}

func TestGranularitiesIndependent(t *testing.T) {
	c := candlestick.NewCache()
	c.Record(&model.Trade{ID: 1, Price: 100, CreatedAt: base})
	c.Record(&model.Trade{ID: 2, Price: 200, CreatedAt: base.Add(30 * time.Second)})

	if got := c.Query(base.Add(-time.Hour), candlestick.BySecond); len(got) != 2 {
		t.Errorf("by-second candles = %d, want 2", len(got))
	}
	if got := c.Query(base.Add(-time.Hour), candlestick.ByMinute); len(got) != 1 {
		t.Errorf("by-minute candles = %d, want 1", len(got))
	}
	if got := c.Query(base.Add(-time.Hour), candlestick.ByHour); len(got) != 1 {
		t.Errorf("by-hour candles = %d, want 1", len(got))
	}
}

func TestReplayReproducesIncrementalState(t *testing.T) {
	trades := []model.Trade{
		trade(1, 100, base),
		trade(2, 105, base.Add(400*time.Millisecond)),
		trade(3, 95, base.Add(2*time.Second)),
		trade(4, 110, base.Add(70*time.Second)),
		trade(5, 120, base.Add(2*time.Hour)),
	}

	incremental := candlestick.NewCache()
	for i := range trades {
		incremental.Record(&trades[i])
	}

	replayed := candlestick.NewCache()
	replayed.Record(&trades[0]) // stale state that Reset must clear
	replayed.Reset()
	replayed.Replay(trades)

	from := base.Add(-time.Hour)
	for _, g := range []candlestick.Granularity{candlestick.BySecond, candlestick.ByMinute, candlestick.ByHour} {
		a := incremental.Query(from, g)
		b := replayed.Query(from, g)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("granularity %v: replayed %+v != incremental %+v", time.Duration(g), b, a)
		}
	}
}
