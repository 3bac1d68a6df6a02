package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/utils"
)

// StagingArchive persists ingested raw batches as snappy-compressed JSON
// files. Archives make every ingested record accountable and let a failed run
// be replayed without re-fetching the source; they are pruned after the batch
// is successfully loaded.
type StagingArchive struct {
	dir    string
	logger *utils.PipelineLogger
}

// NewStagingArchive creates the archive, making the staging directory.
func NewStagingArchive(dir string, logger *utils.PipelineLogger) (*StagingArchive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory %s: %w", dir, err)
	}
	return &StagingArchive{dir: dir, logger: logger}, nil
}

// WriteBatch archives one ingested batch.
func (s *StagingArchive) WriteBatch(domain, batchID string, records []models.RawRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding batch %s: %w", batchID, err)
	}

	compressed := snappy.Encode(nil, data)
	path := s.batchPath(domain, batchID)

	if err := os.WriteFile(path, compressed, 0644); err != nil {
		return fmt.Errorf("writing staging archive %s: %w", path, err)
	}

	s.logger.Debug("[%s] Staged batch %s (%d records, %d bytes compressed)",
		domain, batchID, len(records), len(compressed))
	return nil
}

// ReadBatch restores one archived batch.
func (s *StagingArchive) ReadBatch(domain, batchID string) ([]models.RawRecord, error) {
	path := s.batchPath(domain, batchID)

	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading staging archive %s: %w", path, err)
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing staging archive %s: %w", path, err)
	}

	var records []models.RawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding staging archive %s: %w", path, err)
	}

	return records, nil
}

// RemoveBatch drops the archive of a successfully loaded batch.
func (s *StagingArchive) RemoveBatch(domain, batchID string) error {
	path := s.batchPath(domain, batchID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing staging archive %s: %w", path, err)
	}
	return nil
}

// PruneDomain removes every archive of a domain. Called after a full run
// commits, mirroring the staging cleanup of the warehouse load step.
func (s *StagingArchive) PruneDomain(domain string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading staging directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), domain+"_") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Error("Could not remove staged batch %s: %v", e.Name(), err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug("[%s] Pruned %d staged batches", domain, removed)
	}
	return nil
}

func (s *StagingArchive) batchPath(domain, batchID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.raw.sz", domain, batchID))
}
