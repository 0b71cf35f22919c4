package model

// Kline is a normalized candle record. Upstream candles arrive either as
// string arrays (REST) or objects with string numerics (WS); both are parsed
// at the edge into this one shape before they reach the state store.
type Kline struct {
	Start    int64 // bucket start, epoch millis
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Turnover float64
	Confirm  bool
}
