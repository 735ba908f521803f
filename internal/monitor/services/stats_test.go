package services

import (
	"testing"
	"time"

	"vigil/internal/monitor/models"
)

func TestFillUptimeGapsPadsToFullWindow(t *testing.T) {
	now := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	pct := 100

	buckets := []models.UptimeBucket{
		{Time: time.Date(2026, 8, 25, 13, 0, 0, 0, time.UTC), UptimePct: &pct},
		{Time: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC), UptimePct: &pct},
	}

	filled := FillUptimeGaps(buckets, 24, time.Hour, now)
	if len(filled) != 24 {
		t.Fatalf("Expected 24 buckets, got %d", len(filled))
	}

	// Newest first, stepping back one hour at a time.
	for i := 1; i < len(filled); i++ {
		if !filled[i-1].Time.After(filled[i].Time) {
			t.Fatalf("Expected descending order at index %d", i)
		}
	}
	if !filled[0].Time.Equal(time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected newest bucket at 14:00, got %v", filled[0].Time)
	}

	known, synthesized := 0, 0
	for _, bucket := range filled {
		if bucket.UptimePct != nil {
			known++
		} else {
			synthesized++
		}
	}
	if known != 2 {
		t.Errorf("Expected 2 known buckets, got %d", known)
	}
	if synthesized != 22 {
		t.Errorf("Expected 22 synthesized buckets, got %d", synthesized)
	}
}

func TestFillUptimeGapsPreservesPercentages(t *testing.T) {
	now := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	half := 50

	buckets := []models.UptimeBucket{
		{Time: time.Date(2026, 8, 25, 13, 0, 0, 0, time.UTC), UptimePct: &half},
	}

	filled := FillUptimeGaps(buckets, 24, time.Hour, now)
	for _, bucket := range filled {
		if bucket.Time.Equal(buckets[0].Time) {
			if bucket.UptimePct == nil || *bucket.UptimePct != 50 {
				t.Errorf("Expected known bucket to keep its 50%%, got %v", bucket.UptimePct)
			}
			return
		}
	}
	t.Error("Expected the known bucket to survive filling")
}

func TestFillUptimeGapsDailyWindow(t *testing.T) {
	now := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	pct := 99

	buckets := []models.UptimeBucket{
		{Time: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), UptimePct: &pct},
	}

	filled := FillUptimeGaps(buckets, 30, 24*time.Hour, now)
	if len(filled) != 30 {
		t.Fatalf("Expected 30 buckets, got %d", len(filled))
	}
	if !filled[0].Time.Equal(time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected newest bucket at today's midnight, got %v", filled[0].Time)
	}
	if filled[1].UptimePct == nil || *filled[1].UptimePct != 99 {
		t.Errorf("Expected yesterday's bucket to keep its percentage, got %v", filled[1].UptimePct)
	}
}

func TestFillUptimeGapsEmptyInput(t *testing.T) {
	now := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	filled := FillUptimeGaps(nil, 24, time.Hour, now)
	if len(filled) != 24 {
		t.Fatalf("Expected 24 buckets, got %d", len(filled))
	}
	for _, bucket := range filled {
		if bucket.UptimePct != nil {
			t.Error("Expected every synthesized bucket to have a nil percentage")
		}
	}
}
