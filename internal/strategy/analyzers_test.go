package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tritex/internal/venue"
)

func trending(n int, start, step float64) []venue.Candle {
	out := make([]venue.Candle, n)
	p := start
	for i := range out {
		out[i] = venue.Candle{Open: p, High: p + 1, Low: p - 1, Close: p + step, Volume: 100}
		p += step
	}
	return out
}

func TestAll_SixWeightedStrategies(t *testing.T) {
	strategies := All()
	assert.Len(t, strategies, 6)

	weights := map[string]float64{}
	for _, s := range strategies {
		weights[s.Name()] = s.Weight()
	}
	assert.Equal(t, 1.5, weights["rsi"])
	assert.Equal(t, 1.3, weights["macd"])
	assert.Equal(t, 1.2, weights["bollinger"])
	assert.Equal(t, 0.8, weights["volume"])
	assert.Equal(t, 1.0, weights["trend"])
	assert.Equal(t, 0.7, weights["stochastic"])
}

func TestStrategies_InsufficientDataMeansZeroConfidence(t *testing.T) {
	short := trending(5, 100, 1)
	for _, s := range All() {
		res := s.Evaluate(short)
		assert.Zero(t, res.Confidence, "strategy %s should have no opinion on 5 bars", s.Name())
		assert.Equal(t, SignalHold, res.Signal)
	}
}

func TestRSIStrategy_OversoldSignalsBuy(t *testing.T) {
	// Steady decline drives RSI to 0.
	candles := trending(40, 200, -2)
	res := (&RSIStrategy{Period: 14, Oversold: 30, Overbought: 70}).Evaluate(candles)
	assert.Equal(t, SignalBuy, res.Signal)
	assert.Greater(t, res.Confidence, 0.5)
}

func TestRSIStrategy_OverboughtSignalsSell(t *testing.T) {
	candles := trending(40, 100, 2)
	res := (&RSIStrategy{Period: 14, Oversold: 30, Overbought: 70}).Evaluate(candles)
	assert.Equal(t, SignalSell, res.Signal)
}

func TestTrendStrategy_BullishStack(t *testing.T) {
	candles := trending(80, 100, 1)
	res := (&TrendStrategy{FastPeriod: 10, MidPeriod: 20, SlowPeriod: 50}).Evaluate(candles)
	assert.Equal(t, SignalBuy, res.Signal)
	assert.GreaterOrEqual(t, res.Confidence, 0.6)
}

func TestTrendStrategy_BearishStack(t *testing.T) {
	candles := trending(80, 300, -1)
	res := (&TrendStrategy{FastPeriod: 10, MidPeriod: 20, SlowPeriod: 50}).Evaluate(candles)
	assert.Equal(t, SignalSell, res.Signal)
}

func TestVolumeStrategy_BullishSpike(t *testing.T) {
	candles := trending(30, 100, 0.1)
	last := &candles[len(candles)-1]
	last.Volume = 500 // 5x the 100 baseline
	last.Open = 100
	last.Close = 105
	res := (&VolumeStrategy{Period: 20, SpikeRatio: 1.5}).Evaluate(candles)
	assert.Equal(t, SignalBuy, res.Signal)
	assert.Greater(t, res.Confidence, 0.5)
}

func TestVolumeStrategy_NoSpikeHolds(t *testing.T) {
	candles := trending(30, 100, 0.1)
	res := (&VolumeStrategy{Period: 20, SpikeRatio: 1.5}).Evaluate(candles)
	assert.Equal(t, SignalHold, res.Signal)
	assert.Greater(t, res.Confidence, 0.0)
}

func TestBollingerStrategy_LowerBandTouch(t *testing.T) {
	candles := trending(30, 100, 0)
	// Oscillate to open the bands, then slam the close below the lower band.
	for i := range candles {
		candles[i].Close = 100 + float64(i%5)
	}
	candles[len(candles)-1].Close = 90
	res := (&BollingerStrategy{Period: 20, Mult: 2, TouchProximity: 0.005}).Evaluate(candles)
	assert.Equal(t, SignalBuy, res.Signal)
}

func TestStochasticStrategy_OversoldBuy(t *testing.T) {
	candles := trending(30, 300, -3)
	res := (&StochasticStrategy{KPeriod: 14, DPeriod: 3, Oversold: 20, Overbought: 80}).Evaluate(candles)
	assert.Equal(t, SignalBuy, res.Signal)
}

func TestMACDStrategy_UptrendAboveSignal(t *testing.T) {
	// Long flat period followed by a sharp rise puts MACD above its signal line.
	candles := make([]venue.Candle, 80)
	for i := range candles {
		p := 100.0
		if i >= 60 {
			p = 100 + float64(i-60)*3
		}
		candles[i] = venue.Candle{Open: p, High: p, Low: p, Close: p, Volume: 1}
	}
	res := (&MACDStrategy{Fast: 12, Slow: 26, SignalPeriod: 9}).Evaluate(candles)
	assert.Equal(t, SignalBuy, res.Signal)
	assert.Greater(t, res.Confidence, 0.0)
}
