package progress

import (
	"testing"
	"time"
)

func TestMeterRate(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })

	now = now.Add(1 * time.Second)
	m.Add(1000)

	if m.Done() != 1000 {
		t.Fatalf("expected 1000 bytes done, got %d", m.Done())
	}
	rate := m.Rate()
	if rate < 900 || rate > 1100 {
		t.Fatalf("expected rate around 1000 B/s, got %.2f", rate)
	}
}

func TestMeterSmoothing(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewMeterWithNow(func() time.Time { return now })

	now = now.Add(1 * time.Second)
	m.Add(1000)

	now = now.Add(1 * time.Second)
	m.Add(3000)

	// 0.2 * 3000 + 0.8 * 1000 = 1400
	rate := m.Rate()
	if rate < 1300 || rate > 1500 {
		t.Fatalf("expected smoothed rate around 1400 B/s, got %.2f", rate)
	}
}

func TestMeterIgnoresNonPositive(t *testing.T) {
	m := NewMeter()
	m.Add(0)
	m.Add(-5)
	if m.Done() != 0 {
		t.Fatalf("expected 0 bytes done, got %d", m.Done())
	}
}
