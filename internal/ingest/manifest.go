package ingest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/distrobot/herd/internal/models"
)

type manifest struct {
	Items []models.SeedItem `yaml:"items"`
}

// LoadManifest reads a YAML catalog manifest, for pipelines that precompute
// their item list instead of scanning test files.
func LoadManifest(path string) ([]models.SeedItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest YAML: %w", err)
	}

	for i, item := range m.Items {
		if item.Name == "" {
			return nil, fmt.Errorf("manifest item %d has no name", i)
		}
	}

	return m.Items, nil
}
