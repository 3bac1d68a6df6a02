package validation

import (
	"sort"

	"github.com/rmachado/financedw/models"
)

// Deduplicate drops duplicate accepted records. The dedup key is (domain,
// business key, source timestamp); among records sharing a business key the
// most recent source timestamp wins. When two sources deliver the same key
// with the same timestamp, the configured source priority order decides, and
// only then does arrival order (sequence) break a remaining tie.
//
// The result keeps every surviving version of a business key (one per
// distinct timestamp), ordered by (effective date, sequence) for the loader.
func Deduplicate(records []models.ValidatedRecord, priority []string) []models.ValidatedRecord {
	if len(records) <= 1 {
		return records
	}

	rank := make(map[string]int, len(priority))
	for i, source := range priority {
		rank[source] = len(priority) - i // higher is better
	}

	type slot struct {
		domain string
		key    string
		ts     int64
	}

	kept := make(map[slot]models.ValidatedRecord, len(records))
	for _, r := range records {
		s := slot{domain: r.Raw.Domain, key: r.BusinessKey, ts: r.Raw.SourceTimestamp.UnixNano()}

		current, exists := kept[s]
		if !exists {
			kept[s] = r
			continue
		}

		// Same key and timestamp from two deliveries: priority, then the
		// later arrival.
		if rank[r.Raw.Source] > rank[current.Raw.Source] {
			kept[s] = r
		} else if rank[r.Raw.Source] == rank[current.Raw.Source] && r.Raw.Sequence > current.Raw.Sequence {
			kept[s] = r
		}
	}

	result := make([]models.ValidatedRecord, 0, len(kept))
	for _, r := range kept {
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].EffectiveDate.Equal(result[j].EffectiveDate) {
			return result[i].EffectiveDate.Before(result[j].EffectiveDate)
		}
		if result[i].BusinessKey != result[j].BusinessKey {
			return result[i].BusinessKey < result[j].BusinessKey
		}
		return result[i].Raw.Sequence < result[j].Raw.Sequence
	})

	return result
}
