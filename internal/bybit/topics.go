package bybit

import "marketpulse/internal/model"

// Topics builds the full subscription universe for the given symbols:
// one ticker topic per symbol plus one kline topic per (symbol, timeframe).
func Topics(symbols []string) []string {
	topics := make([]string, 0, len(symbols)*(1+len(model.TFOrder)))
	for _, s := range symbols {
		topics = append(topics, "tickers."+s)
		for _, tf := range model.TFOrder {
			topics = append(topics, "kline."+tf.Interval()+"."+s)
		}
	}
	return topics
}

// Buckets partitions topics into slices of at most size each; one upstream
// connection is opened per bucket.
func Buckets(topics []string, size int) [][]string {
	if size <= 0 {
		return [][]string{topics}
	}
	var out [][]string
	for i := 0; i < len(topics); i += size {
		end := i + size
		if end > len(topics) {
			end = len(topics)
		}
		out = append(out, topics[i:end])
	}
	return out
}
