package model

import "encoding/json"

// IndexCandle is one hourly bucket of the breadth index. StartTime is always
// a multiple of the slot duration; prices are rounded to 4 decimals.
type IndexCandle struct {
	StartTime int64   `json:"startTime"` // slot start, epoch millis
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`

	NetPercent  float64 `json:"netPercent"`
	PositiveSum float64 `json:"positiveSum"`
	NegativeSum float64 `json:"negativeSum"`
	Count       int     `json:"count"` // entries contributing to the D1 statistic
}

// JSON returns the JSON-encoded candle (persistence member format).
func (c IndexCandle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// IndexSummary is the point-in-time index header included in every snapshot.
type IndexSummary struct {
	Latest       float64 `json:"latest"`
	BaseValue    float64 `json:"baseValue"`
	LastSlot     int64   `json:"lastSlot"`
	NetPercent   float64 `json:"netPercent"`
	PositiveSum  float64 `json:"positiveSum"`
	NegativeSum  float64 `json:"negativeSum"`
	Count        int     `json:"count"`
	SlotDuration int64   `json:"slotDuration"`
}

// Snapshot is the full serialized state sent to every downstream client.
type Snapshot struct {
	Entries      []*Entry      `json:"entries"`
	Overview     []Overview    `json:"overview"` // exactly 6, in canonical order
	IndexSummary IndexSummary  `json:"indexSummary"`
	IndexHistory []IndexCandle `json:"indexHistory"` // closed candles + optional active
	UpdatedAt    int64         `json:"updatedAt"`
}
