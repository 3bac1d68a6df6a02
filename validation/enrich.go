package validation

import (
	"fmt"
	"os"

	"github.com/rmachado/financedw/utils"
	"gopkg.in/yaml.v3"
)

// AccountClass is one chart-of-accounts entry used to classify ledger
// entries into income statement lines.
type AccountClass struct {
	Item   string `yaml:"item"`   // income statement line
	Detail string `yaml:"detail"` // line detail
	Nature string `yaml:"nature"` // economic nature
}

// Regional is one city-to-regional mapping entry.
type Regional struct {
	RegionalID string `yaml:"regional_id"`
	RegCityID  string `yaml:"regcity_id"`
}

// Enricher derives classification attributes after coercion: account
// classification from the chart of accounts and regional assignment from the
// city map. A record referencing an unmapped account or city fails the
// referential check and is rejected.
type Enricher struct {
	accountPlan map[string]AccountClass
	regionals   map[string]Regional
	logger      *utils.PipelineLogger
}

// NewEnricher creates an Enricher; either table may be nil to disable that
// enrichment.
func NewEnricher(accountPlan map[string]AccountClass, regionals map[string]Regional, logger *utils.PipelineLogger) *Enricher {
	return &Enricher{
		accountPlan: accountPlan,
		regionals:   regionals,
		logger:      logger,
	}
}

// Enrich adds derived attributes to the coerced values in place. The returned
// error is a rejection reason, not a pipeline failure.
func (e *Enricher) Enrich(values map[string]any) error {
	if e == nil {
		return nil
	}

	if e.accountPlan != nil {
		account, ok := values["conta"].(string)
		if !ok || account == "" {
			return fmt.Errorf("referential: record has no account to classify")
		}

		class, found := e.accountPlan[normalizeText(account)]
		if !found {
			return fmt.Errorf("referential: account %q not in chart of accounts", account)
		}

		values["item"] = class.Item
		values["detalhe"] = class.Detail
		values["natureza"] = class.Nature
	}

	if e.regionals != nil {
		city, ok := values["id_cidade"].(string)
		if !ok {
			if n, isInt := values["id_cidade"].(int64); isInt {
				city = fmt.Sprintf("%d", n)
				ok = true
			}
		}
		if !ok || city == "" {
			return fmt.Errorf("referential: record has no city for regional assignment")
		}

		regional, found := e.regionals[city]
		if !found {
			return fmt.Errorf("referential: city %q not in regional map", city)
		}

		values["id_regional"] = regional.RegionalID
		values["id_regcid"] = regional.RegCityID
	}

	return nil
}

// LoadAccountPlan reads a chart-of-accounts YAML file keyed by account text.
func LoadAccountPlan(path string) (map[string]AccountClass, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading account plan %s: %w", path, err)
	}

	raw := make(map[string]AccountClass)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing account plan %s: %w", path, err)
	}

	// Keys are normalized the same way incoming account texts are.
	plan := make(map[string]AccountClass, len(raw))
	for account, class := range raw {
		plan[normalizeText(account)] = class
	}
	return plan, nil
}

// LoadRegionalMap reads a city-to-regional YAML file keyed by city id.
func LoadRegionalMap(path string) (map[string]Regional, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading regional map %s: %w", path, err)
	}

	regionals := make(map[string]Regional)
	if err := yaml.Unmarshal(data, &regionals); err != nil {
		return nil, fmt.Errorf("parsing regional map %s: %w", path, err)
	}
	return regionals, nil
}
