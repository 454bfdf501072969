package scraper

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SourceConfig is the YAML description of the news source.
//
//	kind: html
//	listing_url: https://www.example.com/sport/football
//	base_url: https://www.example.com/
//	selectors:
//	  link: "div.grid-cell:nth-child(4) > div:nth-child(2) > a:nth-child(1)"
type SourceConfig struct {
	Kind       string    `yaml:"kind"` // html or rss
	ListingURL string    `yaml:"listing_url"`
	BaseURL    string    `yaml:"base_url"`
	FeedURL    string    `yaml:"feed_url"`
	Selectors  Selectors `yaml:"selectors"`
}

// LoadSourceConfig reads the source description from a YAML file.
func LoadSourceConfig(path string) (*SourceConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg SourceConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Kind == "" {
		cfg.Kind = "html"
	}
	switch cfg.Kind {
	case "html":
		if cfg.ListingURL == "" {
			return nil, fmt.Errorf("%s: listing_url is required for html sources", path)
		}
	case "rss":
		if cfg.FeedURL == "" {
			return nil, fmt.Errorf("%s: feed_url is required for rss sources", path)
		}
	default:
		return nil, fmt.Errorf("%s: unknown source kind %q", path, cfg.Kind)
	}
	return &cfg, nil
}
