package payments

import (
	"time"

	"github.com/AgentPay/server/internal/storage"
)

// bucketLabel renders the short display label for a bucket start time.
// Labels are for dashboard axes; the bucket key stays the canonical
// sort/join key.
func bucketLabel(unit storage.BucketUnit, t time.Time) string {
	switch unit {
	case storage.BucketHourly:
		return t.Format("01-02 15") + "h"
	case storage.BucketDaily:
		return t.Format("01-02")
	default:
		return t.Format("06.01")
	}
}

// bucketStart truncates a time to the start of its bucket in UTC.
func bucketStart(unit storage.BucketUnit, t time.Time) time.Time {
	t = t.UTC()
	switch unit {
	case storage.BucketHourly:
		return t.Truncate(time.Hour)
	case storage.BucketDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// bucketStep advances a bucket start time by one bucket width.
func bucketStep(unit storage.BucketUnit, t time.Time) time.Time {
	switch unit {
	case storage.BucketHourly:
		return t.Add(time.Hour)
	case storage.BucketDaily:
		return t.AddDate(0, 0, 1)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// windowStart returns the start of the oldest bucket in a window of n
// buckets ending at the bucket containing now.
func windowStart(unit storage.BucketUnit, n int, now time.Time) time.Time {
	end := bucketStart(unit, now)
	switch unit {
	case storage.BucketHourly:
		return end.Add(-time.Duration(n-1) * time.Hour)
	case storage.BucketDaily:
		return end.AddDate(0, 0, -(n - 1))
	default:
		return end.AddDate(0, -(n - 1), 0)
	}
}

// bucketSeed builds the complete zero-valued series for a window of n
// buckets ending at now, oldest first. Every bucket in the window is
// present so that gaps render as zeros rather than missing points.
func bucketSeed(unit storage.BucketUnit, n int, now time.Time) []SeriesPoint {
	layout := unit.BucketKeyFormat()
	points := make([]SeriesPoint, 0, n)
	for t := windowStart(unit, n, now); len(points) < n; t = bucketStep(unit, t) {
		points = append(points, SeriesPoint{
			Bucket: t.Format(layout),
			Label:  bucketLabel(unit, t),
		})
	}
	return points
}

// hydrate fills a seeded series from grouped totals keyed by bucket.
// Totals for buckets outside the seed are discarded.
func hydrate(seed []SeriesPoint, grouped map[string]storage.Totals) []SeriesPoint {
	for i := range seed {
		if totals, ok := grouped[seed[i].Bucket]; ok {
			seed[i].Count = totals.Count
			seed[i].UsdtAmount = totals.UsdtAmount
			seed[i].KrwAmount = totals.KrwAmount
		}
	}
	return seed
}
