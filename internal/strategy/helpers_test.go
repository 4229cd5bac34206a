package strategy

import "github.com/kis-trader/engine/internal/broker"

func decliningCloses(n int) []float64 {
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		closes[i] = price
		price -= 2
	}
	return closes
}

func candlesFromCloses(closes []float64) []broker.Candle {
	candles := make([]broker.Candle, len(closes))
	for i, c := range closes {
		candles[i] = broker.Candle{Close: c}
	}
	return candles
}
