package bybit

import (
	"testing"
)

func TestTopics_PerSymbolFanout(t *testing.T) {
	topics := Topics([]string{"BTCUSDT", "ETHUSDT"})

	// 1 ticker + 6 kline topics per symbol
	if len(topics) != 14 {
		t.Fatalf("len = %d, want 14", len(topics))
	}
	want := map[string]bool{
		"tickers.BTCUSDT":  true,
		"kline.1.BTCUSDT":  true,
		"kline.D.BTCUSDT":  true,
		"kline.60.ETHUSDT": true,
	}
	got := map[string]bool{}
	for _, tp := range topics {
		got[tp] = true
	}
	for tp := range want {
		if !got[tp] {
			t.Errorf("missing topic %s", tp)
		}
	}
}

func TestBuckets_PartitionsDisjointAndComplete(t *testing.T) {
	topics := Topics(make([]string, 0))
	for _, s := range []string{"A", "B", "C", "D", "E"} {
		topics = append(topics, Topics([]string{s + "USDT"})...)
	}
	// 5 symbols × 7 topics = 35
	buckets := Buckets(topics, 10)

	if len(buckets) != 4 {
		t.Fatalf("buckets = %d, want 4", len(buckets))
	}
	total := 0
	seen := map[string]bool{}
	for i, b := range buckets {
		if len(b) > 10 {
			t.Errorf("bucket %d has %d topics, want <= 10", i, len(b))
		}
		for _, tp := range b {
			if seen[tp] {
				t.Errorf("topic %s in more than one bucket", tp)
			}
			seen[tp] = true
		}
		total += len(b)
	}
	if total != len(topics) {
		t.Errorf("partition covers %d of %d topics", total, len(topics))
	}
}

func TestBuckets_ZeroSizeSingleBucket(t *testing.T) {
	buckets := Buckets([]string{"a", "b"}, 0)
	if len(buckets) != 1 || len(buckets[0]) != 2 {
		t.Fatalf("got %v, want one bucket with everything", buckets)
	}
}
