package stats

import (
	"context"
	"testing"
	"time"
)

type fakeReader struct {
	since   time.Time
	summary Summary
	err     error
}

func (f *fakeReader) Summarize(_ context.Context, since time.Time) (Summary, error) {
	f.since = since
	return f.summary, f.err
}

func TestOverview_WindowsFromNow(t *testing.T) {
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	reader := &fakeReader{summary: Summary{TotalEscrows: 42, HeldAmount: 123456}}
	svc := NewService(reader).WithClock(func() time.Time { return now })

	summary, err := svc.Overview(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("overview: unexpected error: %v", err)
	}

	wantSince := now.Add(-30 * 24 * time.Hour)
	if !reader.since.Equal(wantSince) {
		t.Errorf("expected window start %s, got %s", wantSince, reader.since)
	}
	if summary.TotalEscrows != 42 || summary.HeldAmount != 123456 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestOverview_RejectsNonPositivePeriod(t *testing.T) {
	svc := NewService(&fakeReader{})
	if _, err := svc.Overview(context.Background(), 0); err == nil {
		t.Error("expected error for zero period")
	}
	if _, err := svc.Overview(context.Background(), -time.Hour); err == nil {
		t.Error("expected error for negative period")
	}
}
