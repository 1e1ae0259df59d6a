package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hourMillis = int64(3_600_000)

func validBar(ts int64) Bar {
	return Bar{Timestamp: ts, Open: 100, High: 105, Low: 98, Close: 103, Volume: 1200}
}

func TestBarValidate(t *testing.T) {
	tests := []struct {
		name    string
		bar     Bar
		wantErr bool
	}{
		{"valid bar", validBar(hourMillis), false},
		{"doji with equal prices", Bar{Timestamp: 1, Open: 100, High: 100, Low: 100, Close: 100, Volume: 0}, false},
		{"zero timestamp", Bar{Timestamp: 0, Open: 1, High: 1, Low: 1, Close: 1}, true},
		{"negative volume", Bar{Timestamp: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: -2}, true},
		{"low above open", Bar{Timestamp: 1, Open: 100, High: 110, Low: 101, Close: 105}, true},
		{"high below close", Bar{Timestamp: 1, Open: 100, High: 102, Low: 99, Close: 103}, true},
		{"NaN close", Bar{Timestamp: 1, Open: 1, High: 1, Low: 1, Close: math.NaN()}, true},
		{"infinite high", Bar{Timestamp: 1, Open: 1, High: math.Inf(1), Low: 1, Close: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bar.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidBar)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBarIsClosed(t *testing.T) {
	bar := validBar(10 * hourMillis)

	// Closed exactly when open time plus duration reaches the reference.
	assert.True(t, bar.IsClosed(hourMillis, 11*hourMillis))
	assert.True(t, bar.IsClosed(hourMillis, 12*hourMillis))
	assert.False(t, bar.IsClosed(hourMillis, 11*hourMillis-1))
	assert.False(t, bar.IsClosed(hourMillis, 10*hourMillis))
}

func TestBarSeriesDedupe_LastWins(t *testing.T) {
	first := validBar(hourMillis)
	replacement := validBar(hourMillis)
	replacement.Close = 999

	series := BarSeries{validBar(2 * hourMillis), first, replacement}
	deduped := series.Dedupe()

	require.Len(t, deduped, 2)
	assert.Equal(t, hourMillis, deduped[0].Timestamp)
	assert.Equal(t, 999.0, deduped[0].Close, "later duplicate should replace earlier bar")
	assert.Equal(t, 2*hourMillis, deduped[1].Timestamp)
}

func TestBarSeriesNormalize(t *testing.T) {
	series := BarSeries{validBar(3 * hourMillis), validBar(hourMillis), validBar(2 * hourMillis)}
	normalized, err := series.Normalize()
	require.NoError(t, err)

	require.Len(t, normalized, 3)
	for i := 1; i < len(normalized); i++ {
		assert.Less(t, normalized[i-1].Timestamp, normalized[i].Timestamp, "normalized series must be strictly ascending")
	}
}

func TestBarSeriesNormalize_RejectsInvalid(t *testing.T) {
	bad := validBar(hourMillis)
	bad.Volume = -1

	_, err := BarSeries{validBar(2 * hourMillis), bad}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidBar)
}

func TestBarSeriesFilterClosed(t *testing.T) {
	series := BarSeries{validBar(1 * hourMillis), validBar(2 * hourMillis), validBar(3 * hourMillis)}

	// Reference at 3h: bars opening at 1h and 2h have completed, 3h is still forming.
	closed := series.FilterClosed(hourMillis, 3*hourMillis)
	require.Len(t, closed, 2)
	assert.Equal(t, 2*hourMillis, closed[1].Timestamp)
}

func TestBarSeriesLastN(t *testing.T) {
	series := BarSeries{validBar(1), validBar(2), validBar(3)}

	assert.Len(t, series.LastN(2), 2)
	assert.Equal(t, int64(2), series.LastN(2)[0].Timestamp)
	assert.Len(t, series.LastN(10), 3)
	assert.Empty(t, series.LastN(0))
}

func TestBarSeriesGaps(t *testing.T) {
	series := BarSeries{
		validBar(1 * hourMillis),
		validBar(2 * hourMillis),
		validBar(5 * hourMillis), // 3h and 4h missing
		validBar(6 * hourMillis),
	}

	gaps := series.Gaps(hourMillis)
	require.Len(t, gaps, 1)
	assert.Equal(t, 3*hourMillis, gaps[0].FromTimestamp)
	assert.Equal(t, 4*hourMillis, gaps[0].ToTimestamp)
	assert.Equal(t, 2, gaps[0].Missing)
}

func TestBarSeriesGaps_NoGaps(t *testing.T) {
	series := BarSeries{validBar(1 * hourMillis), validBar(2 * hourMillis), validBar(3 * hourMillis)}
	assert.Empty(t, series.Gaps(hourMillis))
}

func TestBarSeriesExtractors(t *testing.T) {
	series := BarSeries{
		{Timestamp: 1, Open: 10, High: 20, Low: 5, Close: 15, Volume: 100},
		{Timestamp: 2, Open: 15, High: 25, Low: 10, Close: 20, Volume: 200},
	}

	assert.Equal(t, []float64{10, 15}, series.Opens())
	assert.Equal(t, []float64{20, 25}, series.Highs())
	assert.Equal(t, []float64{5, 10}, series.Lows())
	assert.Equal(t, []float64{15, 20}, series.Closes())
	assert.Equal(t, []float64{100, 200}, series.Volumes())
	assert.Equal(t, []int64{1, 2}, series.Timestamps())

	last, ok := series.Last()
	require.True(t, ok)
	assert.Equal(t, int64(2), last.Timestamp)

	first, ok := series.First()
	require.True(t, ok)
	assert.Equal(t, int64(1), first.Timestamp)
}
