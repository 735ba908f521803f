package services

import (
	"sort"
	"time"

	"vigil/internal/monitor/models"
)

// FillUptimeGaps pads aggregated uptime buckets out to exactly splits
// entries ending at now, one per step. Buckets with no checks get a nil
// percentage. The result is ordered newest first.
func FillUptimeGaps(buckets []models.UptimeBucket, splits int, step time.Duration, now time.Time) []models.UptimeBucket {
	seen := make(map[int64]struct{}, len(buckets))
	filled := make([]models.UptimeBucket, 0, splits)

	for _, bucket := range buckets {
		seen[bucket.Time.Unix()] = struct{}{}
		filled = append(filled, bucket)
	}

	current := now.UTC().Truncate(step)
	for i := 0; i < splits; i++ {
		t := current.Add(-step * time.Duration(i))
		if _, ok := seen[t.Unix()]; !ok {
			filled = append(filled, models.UptimeBucket{Time: t})
		}
	}

	sort.Slice(filled, func(i, j int) bool {
		return filled[i].Time.After(filled[j].Time)
	})

	if len(filled) > splits {
		filled = filled[:splits]
	}
	return filled
}
