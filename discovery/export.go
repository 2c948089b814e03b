package discovery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wtyler2505/roverhal/model"
)

const exportVersion = 1

// exportDocument is the on-disk form of the candidate cache.
type exportDocument struct {
	Version    int                       `json:"version"`
	ExportedAt time.Time                 `json:"exported_at"`
	Candidates []*model.DiscoveredDevice `json:"candidates"`
}

// ExportJSON serialises the current candidate cache.
func (e *Engine) ExportJSON() ([]byte, error) {
	doc := exportDocument{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Candidates: e.Candidates(),
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportJSON folds previously exported candidates into the cache using the
// normal merge rules. No transport is touched.
func (e *Engine) ImportJSON(data []byte) (int, error) {
	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("decode candidate export: %w", err)
	}
	if doc.Version != exportVersion {
		return 0, fmt.Errorf("unsupported candidate export version %d", doc.Version)
	}

	imported := 0
	for _, cand := range doc.Candidates {
		if cand == nil || cand.ID == "" {
			continue
		}
		e.observe(cand.Clone())
		imported++
	}
	return imported, nil
}
