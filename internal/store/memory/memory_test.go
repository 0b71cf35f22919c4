package memory

import (
	"context"
	"testing"

	"marketpulse/internal/model"
)

func TestPut_KeepsAscendingOrderAndReplacesSlot(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.Put(ctx, model.IndexCandle{StartTime: 3_600_000, Close: 2})
	s.Put(ctx, model.IndexCandle{StartTime: 0, Close: 1})
	s.Put(ctx, model.IndexCandle{StartTime: 3_600_000, Close: 5}) // replace

	got, _ := s.Load(ctx)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].StartTime != 0 || got[1].StartTime != 3_600_000 {
		t.Errorf("order = %d,%d, want ascending", got[0].StartTime, got[1].StartTime)
	}
	if got[1].Close != 5 {
		t.Errorf("replaced close = %v, want 5", got[1].Close)
	}
}

func TestTrim_DropsOldest(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Put(ctx, model.IndexCandle{StartTime: int64(i)})
	}

	s.Trim(ctx, 3)

	got, _ := s.Load(ctx)
	if len(got) != 3 || got[0].StartTime != 2 {
		t.Fatalf("got %v, want last 3", got)
	}
}

func TestDeleteByScore(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Put(ctx, model.IndexCandle{StartTime: 0})
	s.Put(ctx, model.IndexCandle{StartTime: 1})

	s.DeleteByScore(ctx, 0)
	s.DeleteByScore(ctx, 99) // absent, no-op

	got, _ := s.Load(ctx)
	if len(got) != 1 || got[0].StartTime != 1 {
		t.Fatalf("got %v, want only slot 1", got)
	}
}
