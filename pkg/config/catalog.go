package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the administrative seed file: the sources to crawl and the
// categories with their rule descriptions.
type Catalog struct {
	Sources    []CatalogSource   `yaml:"sources"`
	Categories []CatalogCategory `yaml:"categories"`
}

type CatalogSource struct {
	Name     string   `yaml:"name"`
	URL      string   `yaml:"url"`
	Sitemaps []string `yaml:"sitemaps"`
}

type CatalogCategory struct {
	Name  string   `yaml:"name"`
	Rules []string `yaml:"rules"`
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading catalog file: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("error parsing catalog file: %w", err)
	}

	for i, src := range catalog.Sources {
		if src.URL == "" {
			return nil, fmt.Errorf("source %d (%s) has no url", i, src.Name)
		}
	}
	for i, cat := range catalog.Categories {
		if cat.Name == "" {
			return nil, fmt.Errorf("category %d has no name", i)
		}
	}

	return &catalog, nil
}
