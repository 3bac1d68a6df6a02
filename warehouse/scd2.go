package warehouse

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/rmachado/financedw/models"
)

// ActionKind discriminates merge plan actions.
type ActionKind string

const (
	// ActionInsert opens a new current row for a business key.
	ActionInsert ActionKind = "insert"
	// ActionSupersede closes the validity interval of the prior current row.
	ActionSupersede ActionKind = "supersede"
)

// Action is one step of a Type-2 merge plan.
type Action struct {
	Kind ActionKind
	Row  models.DimensionalRow

	// CloseAt is the end of the validity interval for a supersede action.
	CloseAt time.Time
}

// HashAttributes produces a deterministic digest of a row's attributes, used
// to detect unchanged replays.
func HashAttributes(attributes map[string]any) string {
	keys := make([]string, 0, len(attributes))
	for k := range attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		value := attributes[k]
		// Timestamps hash by instant so the location of a parsed value
		// cannot split identical attributes.
		if ts, ok := value.(time.Time); ok {
			value = ts.UTC().Format(time.RFC3339Nano)
		}
		fmt.Fprintf(h, "%s=%v;", k, value)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// PlanMerge computes the Type-2 merge of accepted records into the current
// rows of their business keys. The plan is idempotent: replaying a record set
// that is already reflected in the warehouse yields an empty plan.
//
// Records must be ordered by (effective date, sequence), which is how the
// validation stage emits them. For each record:
//   - no current row for the key            -> insert an open row
//   - current row with the same hash        -> no-op (replay)
//   - current row opened at or after the
//     record's effective date               -> no-op (stale replay)
//   - otherwise                             -> supersede + insert
func PlanMerge(current []models.DimensionalRow, records []models.ValidatedRecord) []Action {
	// Working view of the current row per business key, updated as the plan
	// grows so several versions of one key in a single batch chain
	// correctly.
	view := make(map[string]models.DimensionalRow, len(current))
	for _, row := range current {
		if row.IsCurrent {
			view[row.BusinessKey] = row
		}
	}

	var plan []Action
	for _, record := range records {
		if record.Status != models.ValidationPassed {
			continue
		}

		hash := HashAttributes(record.Values)

		existing, exists := view[record.BusinessKey]
		if exists {
			if existing.AttributeHash == hash {
				continue
			}
			if !record.EffectiveDate.After(existing.ValidFrom) {
				continue
			}

			closed := existing
			closed.ValidTo = record.EffectiveDate
			closed.IsCurrent = false
			plan = append(plan, Action{
				Kind:    ActionSupersede,
				Row:     closed,
				CloseAt: record.EffectiveDate,
			})
		}

		opened := models.DimensionalRow{
			Domain:        record.Raw.Domain,
			BusinessKey:   record.BusinessKey,
			Attributes:    record.Values,
			AttributeHash: hash,
			ValidFrom:     record.EffectiveDate,
			IsCurrent:     true,
			Sequence:      record.Raw.Sequence,
		}
		plan = append(plan, Action{Kind: ActionInsert, Row: opened})
		view[record.BusinessKey] = opened
	}

	return plan
}

// BusinessKeys returns the distinct business keys of a record set, used to
// scope the current-row fetch before planning.
func BusinessKeys(records []models.ValidatedRecord) []string {
	seen := make(map[string]bool, len(records))
	var keys []string
	for _, r := range records {
		if !seen[r.BusinessKey] {
			seen[r.BusinessKey] = true
			keys = append(keys, r.BusinessKey)
		}
	}
	sort.Strings(keys)
	return keys
}
