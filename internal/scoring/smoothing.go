package scoring

import (
	"time"

	"github.com/sdcoffey/big"
	"github.com/sdcoffey/techan"
)

// MovingAverage returns the simple moving average of values over window using a
// techan close-price series, one output per input starting at index window-1.
// A window larger than the input shrinks to the input length.
func MovingAverage(values []float64, window int) []float64 {
	if len(values) == 0 || window < 1 {
		return nil
	}
	if window > len(values) {
		window = len(values)
	}

	series := techan.NewTimeSeries()
	base := time.Unix(0, 0).UTC()
	for i, v := range values {
		candle := techan.NewCandle(techan.NewTimePeriod(base.AddDate(0, 0, i), 24*time.Hour))
		candle.OpenPrice = big.NewDecimal(v)
		candle.MaxPrice = big.NewDecimal(v)
		candle.MinPrice = big.NewDecimal(v)
		candle.ClosePrice = big.NewDecimal(v)
		series.AddCandle(candle)
	}

	sma := techan.NewSimpleMovingAverage(techan.NewClosePriceIndicator(series), window)

	out := make([]float64, 0, len(values)-window+1)
	for i := window - 1; i <= series.LastIndex(); i++ {
		out = append(out, round1(sma.Calculate(i).Float()))
	}
	return out
}
