package validation

import (
	"fmt"
	"time"

	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/registry"
	"github.com/rmachado/financedw/utils"
)

// Validator enforces one schema contract version over a batch of raw
// records: type coercion, ordered rule evaluation with short-circuit on the
// first failure, referential enrichment, and deduplication.
type Validator struct {
	contract *registry.SchemaContract
	enricher *Enricher
	priority []string
	logger   *utils.PipelineLogger
}

// Result partitions a validated batch. Rejected records never block the
// batch: they are recorded for governance review while accepted records
// proceed to the loader.
type Result struct {
	Accepted []models.ValidatedRecord
	Rejected []models.ValidatedRecord
}

// NewValidator creates a Validator for one contract version.
func NewValidator(contract *registry.SchemaContract, enricher *Enricher, priority []string, logger *utils.PipelineLogger) *Validator {
	return &Validator{
		contract: contract,
		enricher: enricher,
		priority: priority,
		logger:   logger,
	}
}

// ValidateBatch validates every record of a batch and deduplicates the
// accepted ones.
func (v *Validator) ValidateBatch(records []models.RawRecord) Result {
	startTime := time.Now()
	v.logger.Debug("Validating %d records against contract %q v%d",
		len(records), v.contract.Domain, v.contract.Version)

	var result Result
	for _, raw := range records {
		validated := v.validateOne(raw)
		if validated.Status == models.ValidationPassed {
			result.Accepted = append(result.Accepted, validated)
		} else {
			result.Rejected = append(result.Rejected, validated)
		}
	}

	before := len(result.Accepted)
	result.Accepted = Deduplicate(result.Accepted, v.priority)

	v.logger.Info("Validation of %d records finished: %d accepted, %d rejected, %d duplicates dropped. Duration: %v",
		len(records), len(result.Accepted), len(result.Rejected), before-len(result.Accepted), time.Since(startTime))

	for _, r := range result.Rejected {
		v.logger.Info("Rejected record %s/%d from %s: %v",
			r.Raw.Domain, r.Raw.Sequence, r.Raw.Source, r.FailureReasons)
	}

	return result
}

// validateOne enforces the contract on a single record. The first failing
// check rejects the record with its reason; checks run in field declaration
// order.
func (v *Validator) validateOne(raw models.RawRecord) models.ValidatedRecord {
	validated := models.ValidatedRecord{
		Raw:             raw,
		ContractVersion: v.contract.Version,
		Status:          models.ValidationPassed,
		Values:          make(map[string]any, len(v.contract.Fields)),
	}

	reject := func(reason string) models.ValidatedRecord {
		validated.Status = models.ValidationFailed
		validated.FailureReasons = append(validated.FailureReasons, reason)
		return validated
	}

	// 1. Coercion and rules, in declaration order. Fields not defined by the
	// contract are dropped.
	for _, field := range v.contract.Fields {
		rawValue, present := raw.Values[field.Name]
		if !present || normalizeText(rawValue) == "" {
			if field.Nullable {
				continue
			}
			return reject(fmt.Sprintf("field %q is required", field.Name))
		}

		value, err := coerceValue(field, rawValue)
		if err != nil {
			return reject(err.Error())
		}

		if err := applyRule(field.Rule, field.Name, value); err != nil {
			return reject(err.Error())
		}

		validated.Values[field.Name] = value
	}

	// 2. Referential enrichment.
	if err := v.enricher.Enrich(validated.Values); err != nil {
		return reject(err.Error())
	}

	// 3. Business key and effective date.
	keyValue, ok := validated.Values[v.contract.BusinessKeyField]
	if !ok {
		return reject(fmt.Sprintf("business key field %q is missing", v.contract.BusinessKeyField))
	}
	validated.BusinessKey = fmt.Sprintf("%v", keyValue)

	validated.EffectiveDate = raw.SourceTimestamp
	if v.contract.EffectiveDateField != "" {
		if ts, ok := validated.Values[v.contract.EffectiveDateField].(time.Time); ok {
			validated.EffectiveDate = ts
		}
	}

	return validated
}
