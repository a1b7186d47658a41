package wicks

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

func mkCandle(ws string, open, high, low, close string) model.Candle {
	start, _ := model.ParseTime(ws)
	return model.Candle{
		WindowStartUTC: ws,
		WindowEndUTC:   model.FormatSec(start.Add(time.Minute)),
		InstID:         "BTC-USDT-SWAP",
		Exchange:       "okx",
		Market:         "perps",
		Timeframe:      "1m",
		Open:           decimal.RequireFromString(open),
		High:           decimal.RequireFromString(high),
		Low:            decimal.RequireFromString(low),
		Close:          decimal.RequireFromString(close),
	}
}

func tick(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func Test_Detect(t *testing.T) {
	tests := []struct {
		name          string
		candle        model.Candle
		expectedTypes []string
	}{
		{
			name:          "both wicks",
			candle:        mkCandle("2024-03-01T10:00:00Z", "10", "15", "9", "12"),
			expectedTypes: []string{model.WickHigh, model.WickLow},
		},
		{
			name:          "upper wick only",
			candle:        mkCandle("2024-03-01T10:00:00Z", "10", "15", "10", "12"),
			expectedTypes: []string{model.WickHigh},
		},
		{
			name:          "lower wick only",
			candle:        mkCandle("2024-03-01T10:00:00Z", "10", "12", "9", "12"),
			expectedTypes: []string{model.WickLow},
		},
		{
			name:          "marubozu has no wicks",
			candle:        mkCandle("2024-03-01T10:00:00Z", "10", "12", "10", "12"),
			expectedTypes: nil,
		},
		{
			name:          "doji with both wicks",
			candle:        mkCandle("2024-03-01T10:00:00Z", "10", "11", "9", "10"),
			expectedTypes: []string{model.WickHigh, model.WickLow},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.candle, "0.1")
			var types []string
			for _, w := range got {
				types = append(types, w.WickType)
			}
			assert.Equal(t, tt.expectedTypes, types)
		})
	}
}

func Test_Detect_Fields(t *testing.T) {
	c := mkCandle("2024-03-01T10:00:00Z", "10", "15", "9", "12")
	got := Detect(c, "0.1")
	require.Len(t, got, 2)

	high := got[0]
	assert.Equal(t, "BTC-USDT-SWAP|1m|2024-03-01T10:01:00Z|high", high.EventID)
	assert.Equal(t, "15", high.WickPrice.String())
	assert.Equal(t, "3", high.WickSize.String(), "high minus body high")
	assert.Equal(t, "2", high.BodySize.String())
	assert.Equal(t, model.WickUntouched, high.Status)
	assert.Equal(t, "0.1", high.TickSz)
	assert.Equal(t, int64(1), high.TolTipTicks)

	low := got[1]
	assert.Equal(t, "BTC-USDT-SWAP|1m|2024-03-01T10:01:00Z|low", low.EventID)
	assert.Equal(t, "9", low.WickPrice.String())
	assert.Equal(t, "1", low.WickSize.String(), "body low minus low")
}

func Test_Tracker_TouchScenario(t *testing.T) {
	tr := NewTracker("1m", DefaultExpiry, tick("1"))

	// First candle creates a high wick at 15 and a low wick at 9.
	emitted, err := tr.Process(mkCandle("2024-03-01T10:00:00Z", "10", "15", "9", "12"))
	require.NoError(t, err)
	require.Len(t, emitted, 2)
	assert.Equal(t, model.WickUntouched, emitted[0].Status)
	assert.Equal(t, model.WickUntouched, emitted[1].Status)

	// Second candle dips to 8: the low wick at 9 is touched, the high wick
	// at 15 stays untouched (high only reaches 13).
	emitted, err = tr.Process(mkCandle("2024-03-01T10:01:00Z", "12", "13", "8", "11"))
	require.NoError(t, err)

	var touched *model.WickEvent
	for i := range emitted {
		if emitted[i].Status == model.WickTouched {
			touched = &emitted[i]
		}
	}
	require.NotNil(t, touched)
	assert.Equal(t, model.WickLow, touched.WickType)
	assert.Equal(t, "9", touched.WickPrice.String())
	require.NotNil(t, touched.TouchTimeUTC)
	assert.Equal(t, "2024-03-01T10:02:00Z", *touched.TouchTimeUTC)
	require.NotNil(t, touched.AgeAtTouchMinutes)
	assert.Equal(t, int64(1), *touched.AgeAtTouchMinutes)
	require.NotNil(t, touched.TouchByWick)
	assert.True(t, *touched.TouchByWick)

	// The high wick remains active.
	active := tr.Active()
	require.Len(t, active, 1)
	assert.Equal(t, model.WickHigh, active[0].WickType)
	assert.Equal(t, "15", active[0].WickPrice.String())
}

func Test_Tracker_TipMetrics(t *testing.T) {
	tests := []struct {
		name             string
		touchHigh        string
		expectedTicks    int64
		expectedStrength string
	}{
		{name: "exact tip", touchHigh: "15", expectedTicks: 0, expectedStrength: model.SignalExact},
		{name: "near tip", touchHigh: "15.1", expectedTicks: 1, expectedStrength: model.SignalNear},
		{name: "close tip", touchHigh: "15.3", expectedTicks: 3, expectedStrength: model.SignalClose},
		{name: "plain touch", touchHigh: "15.8", expectedTicks: 8, expectedStrength: model.SignalTouched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("1m", DefaultExpiry, tick("0.1"))
			_, err := tr.Process(mkCandle("2024-03-01T10:00:00Z", "10", "15", "10", "12"))
			require.NoError(t, err)

			emitted, err := tr.Process(mkCandle("2024-03-01T10:01:00Z", "12", tt.touchHigh, "12", "13"))
			require.NoError(t, err)

			var touched *model.WickEvent
			for i := range emitted {
				if emitted[i].Status == model.WickTouched && emitted[i].WickType == model.WickHigh {
					touched = &emitted[i]
				}
			}
			require.NotNil(t, touched)
			require.NotNil(t, touched.TipDistanceTicks)
			assert.Equal(t, tt.expectedTicks, *touched.TipDistanceTicks)
			require.NotNil(t, touched.SignalStrength)
			assert.Equal(t, tt.expectedStrength, *touched.SignalStrength)
			require.NotNil(t, touched.PenetrationTicks)
			assert.Equal(t, tt.expectedTicks, *touched.PenetrationTicks)
		})
	}
}

func Test_Tracker_NoTickSizeNullTipMetrics(t *testing.T) {
	tr := NewTracker("1m", DefaultExpiry, nil)
	_, err := tr.Process(mkCandle("2024-03-01T10:00:00Z", "10", "15", "10", "12"))
	require.NoError(t, err)

	emitted, err := tr.Process(mkCandle("2024-03-01T10:01:00Z", "12", "16", "12", "13"))
	require.NoError(t, err)

	var touched *model.WickEvent
	for i := range emitted {
		if emitted[i].Status == model.WickTouched {
			touched = &emitted[i]
		}
	}
	require.NotNil(t, touched)
	assert.Nil(t, touched.TipDistanceTicks)
	assert.Nil(t, touched.TipExact)
	assert.Nil(t, touched.SignalStrength)
	assert.Nil(t, touched.PenetrationTicks)
	require.NotNil(t, touched.TouchByWick)
	assert.True(t, *touched.TouchByWick, "touch itself still recorded")
}

func Test_Tracker_Expiry(t *testing.T) {
	tr := NewTracker("1m", DefaultExpiry, tick("1"))
	_, err := tr.Process(mkCandle("2024-03-01T10:00:00Z", "10", "15", "10", "12"))
	require.NoError(t, err)

	// A candle 168h later that would also touch: expiry wins.
	late := mkCandle("2024-03-08T10:00:00Z", "12", "20", "12", "13")
	emitted, err := tr.Process(late)
	require.NoError(t, err)

	var expired *model.WickEvent
	for i := range emitted {
		if emitted[i].Status == model.WickExpired {
			expired = &emitted[i]
		}
	}
	require.NotNil(t, expired)
	assert.Equal(t, model.WickHigh, expired.WickType)
	assert.Nil(t, expired.TouchTimeUTC)
	assert.Empty(t, tr.Active())
}

func Test_Tracker_TouchBeforeExpiry(t *testing.T) {
	tr := NewTracker("1m", DefaultExpiry, tick("1"))
	_, err := tr.Process(mkCandle("2024-03-01T10:00:00Z", "10", "15", "10", "12"))
	require.NoError(t, err)

	// One minute short of expiry and touching: touch wins.
	almost := mkCandle("2024-03-08T09:58:00Z", "12", "20", "12", "13")
	emitted, err := tr.Process(almost)
	require.NoError(t, err)

	found := false
	for _, w := range emitted {
		if w.Status == model.WickTouched {
			found = true
		}
		assert.NotEqual(t, model.WickExpired, w.Status)
	}
	assert.True(t, found)
}

func Test_Tracker_OwnCandleNeverTouches(t *testing.T) {
	tr := NewTracker("1m", DefaultExpiry, tick("1"))

	// The candle's own high equals the wick price; only later candles count.
	emitted, err := tr.Process(mkCandle("2024-03-01T10:00:00Z", "10", "15", "9", "12"))
	require.NoError(t, err)
	for _, w := range emitted {
		assert.Equal(t, model.WickUntouched, w.Status)
	}
	assert.Len(t, tr.Active(), 2)
}

func Test_Tracker_Restore(t *testing.T) {
	tr := NewTracker("1m", DefaultExpiry, tick("1"))
	_, err := tr.Process(mkCandle("2024-03-01T10:00:00Z", "10", "15", "10", "12"))
	require.NoError(t, err)
	persisted := tr.Active()
	require.Len(t, persisted, 1)

	// A fresh tracker restored from the persisted snapshot picks up where
	// the previous run stopped.
	tr2 := NewTracker("1m", DefaultExpiry, tick("1"))
	tr2.Restore(persisted)

	emitted, err := tr2.Process(mkCandle("2024-03-01T10:01:00Z", "12", "16", "12", "13"))
	require.NoError(t, err)

	found := false
	for _, w := range emitted {
		if w.Status == model.WickTouched && w.EventID == persisted[0].EventID {
			found = true
		}
	}
	assert.True(t, found)
}

func Test_Tracker_ReprocessingSameCandleIsIdempotent(t *testing.T) {
	tr := NewTracker("1m", DefaultExpiry, tick("1"))
	c := mkCandle("2024-03-01T10:00:00Z", "10", "15", "9", "12")

	first, err := tr.Process(c)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Same candle again: ids already active, nothing new emitted.
	second, err := tr.Process(c)
	require.NoError(t, err)
	assert.Empty(t, second)
}
