package model

// Metric holds the per-timeframe state of one symbol's current candle.
// Optional fields are nil until the first matching kline arrives; absence of
// data is never represented by a missing map slot.
type Metric struct {
	Timeframe Timeframe `json:"timeframe"`
	OpenTime  int64     `json:"openTime"` // start of the current candle, epoch millis

	OpenPrice     *float64 `json:"openPrice"`
	PrevClose     *float64 `json:"prevClose"`     // close of the candle before OpenTime
	BaselinePrice *float64 `json:"baselinePrice"` // always equals OpenPrice

	ChangePercent       *float64 `json:"changePercent"`       // (close-open)/open*100
	CloseToClosePercent *float64 `json:"closeToClosePercent"` // (close-prevClose)/prevClose*100

	Volume   float64 `json:"volume"`
	Turnover float64 `json:"turnover"`

	UpdatedAt int64 `json:"updatedAt"`
}

// Entry is the live view of one symbol. Identity fields are immutable after
// cold start; Metrics always carries exactly one slot per timeframe.
type Entry struct {
	Symbol    string `json:"symbol"`
	BaseCoin  string `json:"baseCoin"`
	QuoteCoin string `json:"quoteCoin"`

	LastPrice          *float64 `json:"lastPrice"`
	LastPriceUpdatedAt int64    `json:"lastPriceUpdatedAt"`

	Metrics map[Timeframe]*Metric `json:"metrics"`
}

// Overview counts gainers and losers for one timeframe across the universe.
// Entries with an undefined change percent are excluded from both counts.
type Overview struct {
	Timeframe Timeframe `json:"timeframe"`
	Gainers   int       `json:"gainers"`
	Losers    int       `json:"losers"`
}
