package rulepack

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DocumentFromYAML converts a YAML pack document to the JSON form the
// schema and parser expect. Packs are authored in YAML by rule maintainers
// but stored and served as JSON.
func DocumentFromYAML(src []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(src, &v); err != nil {
		return nil, fmt.Errorf("rulepack: yaml decode failed: %w", err)
	}
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rulepack: yaml-to-json failed: %w", err)
	}
	return doc, nil
}

// SeedDir activates every pack document found in dir (.json, .yaml, .yml),
// in lexical order so seeding is reproducible. Missing dir is not an error;
// a malformed pack is, since a partially-seeded store would be ambiguous.
func SeedDir(ctx context.Context, s *Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rulepack: seed dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("rulepack: seed %s: %w", name, err)
		}
		doc := src
		if ext != ".json" {
			if doc, err = DocumentFromYAML(src); err != nil {
				return fmt.Errorf("rulepack: seed %s: %w", name, err)
			}
		}
		if _, err := s.Activate(ctx, doc); err != nil {
			return fmt.Errorf("rulepack: seed %s: %w", name, err)
		}
	}
	return nil
}
