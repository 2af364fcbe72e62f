// Package indicator provides pure technical-analysis functions over candle
// series. Every series-valued function returns a slice aligned to its input;
// positions where the indicator is not yet defined hold NaN and must never be
// treated as zero.
package indicator

import (
	"math"

	"tritex/internal/venue"
)

// NotAvailable is the sentinel for indicator values that are not yet defined.
var NotAvailable = math.NaN()

// IsAvailable reports whether an indicator value is defined.
func IsAvailable(v float64) bool {
	return !math.IsNaN(v)
}

// Closes extracts the close series from candles.
func Closes(candles []venue.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the volume series from candles.
func Volumes(candles []venue.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// SMA computes the simple moving average over the given period.
func SMA(values []float64, period int) []float64 {
	out := notAvailableSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average, seeded with the SMA of the
// first period values.
func EMA(values []float64, period int) []float64 {
	out := notAvailableSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}

// RSI computes the Relative Strength Index with Wilder smoothing. The seed
// average gain/loss is the simple average over the first period changes.
func RSI(values []float64, period int) []float64 {
	out := notAvailableSeries(len(values))
	if period <= 0 || len(values) < period+1 {
		return out
	}

	gains, losses := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds aligned MACD, signal, and histogram series.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes EMA(fast) - EMA(slow), a signal EMA over the MACD line, and
// the MACD-signal histogram.
func MACD(values []float64, fastPeriod, slowPeriod, signalPeriod int) *MACDResult {
	n := len(values)
	res := &MACDResult{
		MACD:      notAvailableSeries(n),
		Signal:    notAvailableSeries(n),
		Histogram: notAvailableSeries(n),
	}
	if n < slowPeriod {
		return res
	}

	fast := EMA(values, fastPeriod)
	slow := EMA(values, slowPeriod)
	for i := slowPeriod - 1; i < n; i++ {
		res.MACD[i] = fast[i] - slow[i]
	}

	// Signal line is an EMA over the defined portion of the MACD line.
	defined := res.MACD[slowPeriod-1:]
	signal := EMA(defined, signalPeriod)
	for i, v := range signal {
		if IsAvailable(v) {
			res.Signal[slowPeriod-1+i] = v
			res.Histogram[slowPeriod-1+i] = res.MACD[slowPeriod-1+i] - v
		}
	}
	return res
}

// BollingerResult holds the three Bollinger band series.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger computes SMA(period) +/- mult standard deviations.
func Bollinger(values []float64, period int, mult float64) *BollingerResult {
	n := len(values)
	res := &BollingerResult{
		Upper:  notAvailableSeries(n),
		Middle: SMA(values, period),
		Lower:  notAvailableSeries(n),
	}
	if period <= 0 || n < period {
		return res
	}
	for i := period - 1; i < n; i++ {
		mean := res.Middle[i]
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			diff := values[j] - mean
			variance += diff * diff
		}
		sd := math.Sqrt(variance / float64(period))
		res.Upper[i] = mean + mult*sd
		res.Lower[i] = mean - mult*sd
	}
	return res
}

// StochasticResult holds %K and %D series.
type StochasticResult struct {
	K []float64
	D []float64
}

// Stochastic computes %K over kPeriod and %D as the SMA of %K over dPeriod.
func Stochastic(candles []venue.Candle, kPeriod, dPeriod int) *StochasticResult {
	n := len(candles)
	res := &StochasticResult{K: notAvailableSeries(n)}
	if kPeriod <= 0 || n < kPeriod {
		res.D = notAvailableSeries(n)
		return res
	}
	for i := kPeriod - 1; i < n; i++ {
		hi, lo := candles[i].High, candles[i].Low
		for j := i - kPeriod + 1; j <= i; j++ {
			if candles[j].High > hi {
				hi = candles[j].High
			}
			if candles[j].Low < lo {
				lo = candles[j].Low
			}
		}
		if hi == lo {
			res.K[i] = 50
		} else {
			res.K[i] = (candles[i].Close - lo) / (hi - lo) * 100
		}
	}

	// %D smooths the defined portion of %K.
	defined := res.K[kPeriod-1:]
	res.D = notAvailableSeries(n)
	smoothed := SMA(defined, dPeriod)
	for i, v := range smoothed {
		if IsAvailable(v) {
			res.D[kPeriod-1+i] = v
		}
	}
	return res
}

// ATR computes the Average True Range with Wilder smoothing.
func ATR(candles []venue.Candle, period int) []float64 {
	out := notAvailableSeries(len(candles))
	if period <= 0 || len(candles) < period+1 {
		return out
	}
	trSum := 0.0
	for i := 1; i <= period; i++ {
		trSum += trueRange(candles[i], candles[i-1].Close)
	}
	atr := trSum / float64(period)
	out[period] = atr
	for i := period + 1; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1].Close)
		atr = (atr*float64(period-1) + tr) / float64(period)
		out[i] = atr
	}
	return out
}

func trueRange(c venue.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low,
		math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// VWAP computes the cumulative volume-weighted average price.
func VWAP(candles []venue.Candle) []float64 {
	out := notAvailableSeries(len(candles))
	cumPV, cumV := 0.0, 0.0
	for i, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		cumPV += typical * c.Volume
		cumV += c.Volume
		if cumV > 0 {
			out[i] = cumPV / cumV
		}
	}
	return out
}

// OBV computes On-Balance Volume.
func OBV(candles []venue.Candle) []float64 {
	out := notAvailableSeries(len(candles))
	if len(candles) == 0 {
		return out
	}
	obv := 0.0
	out[0] = 0
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			obv += candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			obv -= candles[i].Volume
		}
		out[i] = obv
	}
	return out
}

func notAvailableSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = NotAvailable
	}
	return out
}
