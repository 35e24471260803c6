package config

import (
	memorymanager "github.com/w-h-a/workmem/memory_manager"
)

// MemoryOptions translates the memory section into engine options.
func (c Config) MemoryOptions() []memorymanager.Option {
	m := c.Memory

	return []memorymanager.Option{
		memorymanager.WithWindow(m.Window),
		memorymanager.WithRecentWindow(m.RecentWindow),
		memorymanager.WithLimits(memorymanager.Limits{
			MaxEntries:       m.MaxEntries,
			ClassifierRefs:   m.ClassifierRefs,
			MaxSummaryLength: m.MaxSummaryLength,
			RecentFetch:      m.RecentFetch,
			SearchFetch:      m.SearchFetch,
			EmbedRetries:     m.EmbedRetries,
		}),
		memorymanager.WithThresholds(memorymanager.Thresholds{
			HalfLife:        m.HalfLife,
			DedupWindow:     m.DedupWindow,
			Jaccard:         m.JaccardThreshold,
			MinSimilarity:   m.MinSimilarity,
			Consolidation:   m.ConsolidationThreshold,
			MinUpdateLength: m.MinUpdateLength,
			MinMergeLength:  m.MinMergeLength,
		}),
	}
}
