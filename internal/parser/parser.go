// Package parser loads recommendation documents. Two structured formats
// are supported: YAML lists and Markdown sections. Natural-language
// extraction is out of scope; these loaders only read documents that
// already declare ids, dependencies and priorities explicitly.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harrison/deploypilot/internal/models"
)

// LoadFile loads recommendations from a single document, dispatching on
// extension (.yaml/.yml or .md/.markdown).
func LoadFile(path string) ([]models.Recommendation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var recs []models.Recommendation
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		recs, err = ParseYAML(data)
	case ".md", ".markdown":
		recs, err = ParseMarkdown(data)
	default:
		return nil, fmt.Errorf("%s: unsupported recommendation format %q", path, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := checkDuplicates(recs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// LoadDir loads every recommendation document in a directory (sorted by
// name for determinism) and merges them, rejecting duplicate ids across
// files.
func LoadDir(dir string) ([]models.Recommendation, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".md", ".markdown":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, fmt.Errorf("no recommendation documents found in %s", dir)
	}

	var all []models.Recommendation
	for _, name := range names {
		recs, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}

	if err := checkDuplicates(all); err != nil {
		return nil, fmt.Errorf("merging documents in %s: %w", dir, err)
	}
	return all, nil
}

func checkDuplicates(recs []models.Recommendation) error {
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		if seen[r.ID] {
			return fmt.Errorf("duplicate recommendation id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}
