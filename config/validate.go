package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

type modelDimensions struct {
	native int
	// shortenable models accept any length up to native
	shortenable bool
}

var knownModels = map[string]modelDimensions{
	"text-embedding-3-small": {native: 1536, shortenable: true},
	"text-embedding-3-large": {native: 3072, shortenable: true},
	"text-embedding-ada-002": {native: 1536},
	"text-embedding-004":     {native: 768},
	"embedding-001":          {native: 768},
}

// Validate fills in derived values and rejects configurations the engine
// cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite", "postgres", "qdrant", "neo4j":
		if len(c.Store.Location) == 0 {
			return fmt.Errorf("store %s requires a location", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if err := c.validateEmbedding(); err != nil {
		return err
	}

	switch c.Generation.Provider {
	case "none", "":
		c.Generation.Provider = "none"
	case "openai", "anthropic", "google":
		if len(c.Generation.ApiKey) == 0 && len(c.Generation.BaseURL) == 0 {
			return fmt.Errorf("%w: generation provider %s", ErrMissingCredential, c.Generation.Provider)
		}
	default:
		return fmt.Errorf("unknown generation provider %q", c.Generation.Provider)
	}

	if err := c.Memory.validate(); err != nil {
		return err
	}

	for _, spec := range []string{c.Maintenance.PruneSchedule, c.Maintenance.ConsolidateSchedule} {
		if len(spec) == 0 {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", spec, err)
		}
	}

	return nil
}

func (c *Config) validateEmbedding() error {
	switch c.Embedding.Provider {
	case "openai", "google":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}

	if len(c.Embedding.ApiKey) == 0 && len(c.Embedding.BaseURL) == 0 {
		return fmt.Errorf("%w: embedding provider %s", ErrMissingCredential, c.Embedding.Provider)
	}

	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("%w: %d", ErrUnsupportedDimensions, c.Embedding.Dimensions)
	}

	known, ok := knownModels[c.Embedding.Model]
	if !ok {
		if c.Embedding.Dimensions == 0 {
			return fmt.Errorf("%w: model %q needs explicit dimensions", ErrUnsupportedDimensions, c.Embedding.Model)
		}
		return nil
	}

	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = known.native
		return nil
	}

	if c.Embedding.Dimensions == known.native {
		return nil
	}

	if known.shortenable && c.Embedding.Dimensions < known.native {
		return nil
	}

	return fmt.Errorf("%w: model %s produces %d, got %d", ErrUnsupportedDimensions, c.Embedding.Model, known.native, c.Embedding.Dimensions)
}

func (m Memory) validate() error {
	if m.Window <= 0 || m.RecentWindow <= 0 || m.HalfLife <= 0 {
		return fmt.Errorf("window, recent_window and half_life must be positive")
	}
	if m.RecentWindow > m.Window {
		return fmt.Errorf("recent_window %s exceeds window %s", m.RecentWindow, m.Window)
	}
	for name, v := range map[string]float64{
		"jaccard_threshold":       m.JaccardThreshold,
		"min_similarity":          m.MinSimilarity,
		"consolidation_threshold": m.ConsolidationThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if m.MaxEntries < 1 || m.ClassifierRefs < 1 || m.RecentFetch < 1 || m.SearchFetch < 1 {
		return fmt.Errorf("max_entries, classifier_refs, recent_fetch and search_fetch must be at least 1")
	}
	return nil
}
