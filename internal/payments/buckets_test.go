package payments

import (
	"testing"
	"time"

	"github.com/AgentPay/server/internal/storage"
)

func TestBucketSeedHourly(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 42, 7, 0, time.UTC)
	points := bucketSeed(storage.BucketHourly, 24, now)

	if len(points) != 24 {
		t.Fatalf("len = %d, want 24", len(points))
	}
	if points[0].Bucket != "2026-03-14 11:00" {
		t.Errorf("first bucket = %q, want 2026-03-14 11:00", points[0].Bucket)
	}
	if points[23].Bucket != "2026-03-15 10:00" {
		t.Errorf("last bucket = %q, want 2026-03-15 10:00", points[23].Bucket)
	}
	if points[23].Label != "03-15 10h" {
		t.Errorf("last label = %q, want 03-15 10h", points[23].Label)
	}
	for i, p := range points {
		if p.Count != 0 || p.UsdtAmount != 0 || p.KrwAmount != 0 {
			t.Errorf("point %d not zero-valued: %+v", i, p)
		}
	}
}

func TestBucketSeedDaily(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 42, 7, 0, time.UTC)
	points := bucketSeed(storage.BucketDaily, 14, now)

	if len(points) != 14 {
		t.Fatalf("len = %d, want 14", len(points))
	}
	if points[0].Bucket != "2026-03-02" {
		t.Errorf("first bucket = %q, want 2026-03-02", points[0].Bucket)
	}
	if points[13].Bucket != "2026-03-15" {
		t.Errorf("last bucket = %q, want 2026-03-15", points[13].Bucket)
	}
	if points[13].Label != "03-15" {
		t.Errorf("last label = %q", points[13].Label)
	}
}

func TestBucketSeedMonthlyCrossesYear(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	points := bucketSeed(storage.BucketMonthly, 12, now)

	if len(points) != 12 {
		t.Fatalf("len = %d, want 12", len(points))
	}
	if points[0].Bucket != "2025-03" {
		t.Errorf("first bucket = %q, want 2025-03", points[0].Bucket)
	}
	if points[11].Bucket != "2026-02" {
		t.Errorf("last bucket = %q, want 2026-02", points[11].Bucket)
	}
	if points[11].Label != "26.02" {
		t.Errorf("last label = %q, want 26.02", points[11].Label)
	}
}

func TestWindowStartMonthlyAnchorsToFirst(t *testing.T) {
	now := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	start := windowStart(storage.BucketMonthly, 6, now)
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("windowStart = %v, want %v", start, want)
	}
}

func TestHydrateFillsOnlySeededBuckets(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	seed := bucketSeed(storage.BucketDaily, 7, now)

	grouped := map[string]storage.Totals{
		"2026-03-14": {Count: 3, UsdtAmount: 30, KrwAmount: 40000},
		"2026-01-01": {Count: 99, UsdtAmount: 999, KrwAmount: 999999}, // outside window
	}
	points := hydrate(seed, grouped)

	var filled int
	for _, p := range points {
		if p.Count > 0 {
			filled++
			if p.Bucket != "2026-03-14" {
				t.Errorf("unexpected filled bucket %q", p.Bucket)
			}
			if p.UsdtAmount != 30 || p.KrwAmount != 40000 {
				t.Errorf("bucket totals = %+v", p)
			}
		}
	}
	if filled != 1 {
		t.Errorf("filled buckets = %d, want 1", filled)
	}
}

func TestBucketStartNonUTCInput(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	// 2026-03-15 08:30 KST is 2026-03-14 23:30 UTC.
	now := time.Date(2026, 3, 15, 8, 30, 0, 0, kst)

	if got := bucketStart(storage.BucketDaily, now); !got.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("daily bucketStart = %v", got)
	}
	if got := bucketStart(storage.BucketHourly, now); !got.Equal(time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)) {
		t.Errorf("hourly bucketStart = %v", got)
	}
}
