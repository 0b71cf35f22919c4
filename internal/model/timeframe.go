package model

// Timeframe identifies one of the six supported candle periods.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

// TFOrder is the canonical timeframe ordering. Snapshots, overviews, and
// subscription topics always iterate in this order.
var TFOrder = []Timeframe{M1, M5, M15, H1, H4, D1}

// tfIntervals maps each timeframe to its Bybit v5 interval code.
var tfIntervals = map[Timeframe]string{
	M1:  "1",
	M5:  "5",
	M15: "15",
	H1:  "60",
	H4:  "240",
	D1:  "D",
}

var intervalTFs = map[string]Timeframe{}

func init() {
	for tf, code := range tfIntervals {
		intervalTFs[code] = tf
	}
}

// Interval returns the upstream interval code for this timeframe.
func (tf Timeframe) Interval() string {
	return tfIntervals[tf]
}

// TimeframeForInterval maps an upstream interval code back to a timeframe.
// Returns false for codes outside the supported set.
func TimeframeForInterval(code string) (Timeframe, bool) {
	tf, ok := intervalTFs[code]
	return tf, ok
}
