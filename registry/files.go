package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/utils"
	"gopkg.in/yaml.v3"
)

// ParseContractFile reads one YAML contract definition.
func ParseContractFile(path string) (*SchemaContract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading contract file %s: %w", path, err)
	}

	var contract SchemaContract
	if err := yaml.Unmarshal(data, &contract); err != nil {
		return nil, fmt.Errorf("parsing contract file %s: %w", path, err)
	}

	if err := contract.Validate(); err != nil {
		return nil, fmt.Errorf("contract file %s: %w", path, err)
	}

	return &contract, nil
}

// LoadContractDir registers every *.yaml contract found in dir. Files are
// visited in name order so registration is deterministic. A version that is
// already registered with identical content is skipped; a genuine conflict is
// surfaced.
func LoadContractDir(store Store, dir string, logger *utils.PipelineLogger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading contracts directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := strings.ToLower(filepath.Ext(e.Name())); ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	registered := 0
	for _, name := range names {
		path := filepath.Join(dir, name)

		contract, err := ParseContractFile(path)
		if err != nil {
			return registered, err
		}

		err = store.Register(contract)
		if errors.Is(err, models.ErrContractConflict) {
			// Already registered in a previous run. Re-registration of the
			// same version is only legal when the definition is unchanged.
			existing, getErr := store.Get(contract.Domain, contract.Version)
			if getErr != nil {
				return registered, getErr
			}
			if !contractsEqual(existing, contract) {
				return registered, fmt.Errorf("contract file %s redefines registered version: %w", path, err)
			}
			logger.Debug("Contract %q v%d already registered, skipping %s", contract.Domain, contract.Version, name)
			continue
		}
		if err != nil {
			return registered, err
		}

		logger.Info("Registered schema contract %q v%d from %s", contract.Domain, contract.Version, name)
		registered++
	}

	return registered, nil
}

func contractsEqual(a, b *SchemaContract) bool {
	ab, err := yaml.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := yaml.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
