package memorymanager

import (
	"context"
	"io"
	"time"

	"github.com/w-h-a/workmem/generator"
	"github.com/w-h-a/workmem/memory_manager/providers/embedder"
	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

type Option func(*Options)

type Options struct {
	Storer     storer.Storer
	Embedder   embedder.Embedder
	Generator  generator.Generator
	Window     time.Duration
	Recent     time.Duration
	Limits     Limits
	Thresholds Thresholds
	// RetryInterval is the first wait between embedding retries.
	RetryInterval time.Duration
	Context       context.Context
}

type Limits struct {
	MaxEntries       int
	ClassifierRefs   int
	MaxSummaryLength int
	RecentFetch      int
	SearchFetch      int
	EmbedRetries     int
}

type Thresholds struct {
	HalfLife        time.Duration
	DedupWindow     time.Duration
	Jaccard         float64
	MinSimilarity   float64
	Consolidation   float64
	MinUpdateLength int
	MinMergeLength  int
}

func WithStorer(storer storer.Storer) Option {
	return func(o *Options) {
		o.Storer = storer
	}
}

func WithEmbedder(embedder embedder.Embedder) Option {
	return func(o *Options) {
		o.Embedder = embedder
	}
}

func WithGenerator(generator generator.Generator) Option {
	return func(o *Options) {
		o.Generator = generator
	}
}

// WithWindow sets the trailing span recall looks back over and prune keeps.
func WithWindow(window time.Duration) Option {
	return func(o *Options) {
		o.Window = window
	}
}

// WithRecentWindow sets the span presented as a timeline.
func WithRecentWindow(recent time.Duration) Option {
	return func(o *Options) {
		o.Recent = recent
	}
}

func WithLimits(limits Limits) Option {
	return func(o *Options) {
		o.Limits = limits
	}
}

func WithThresholds(thresholds Thresholds) Option {
	return func(o *Options) {
		o.Thresholds = thresholds
	}
}

func WithRetryInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.RetryInterval = interval
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		RetryInterval: 500 * time.Millisecond,
		Window:        72 * time.Hour,
		Recent:        12 * time.Hour,
		Limits: Limits{
			MaxEntries:       10,
			ClassifierRefs:   3,
			MaxSummaryLength: 400,
			RecentFetch:      50,
			SearchFetch:      20,
			EmbedRetries:     3,
		},
		Thresholds: Thresholds{
			HalfLife:        24 * time.Hour,
			DedupWindow:     60 * time.Minute,
			Jaccard:         0.55,
			MinSimilarity:   0.25,
			Consolidation:   0.85,
			MinUpdateLength: 10,
			MinMergeLength:  20,
		},
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

type ConsolidateOption func(*ConsolidateOptions)

type ConsolidateOptions struct {
	DryRun    bool
	Backup    io.Writer
	Threshold float64
	Context   context.Context
}

// WithDryRun clusters and reports without calling the generator, the
// embedder or mutating the store.
func WithDryRun(dryRun bool) ConsolidateOption {
	return func(o *ConsolidateOptions) {
		o.DryRun = dryRun
	}
}

// WithBackup receives a full copy of the store before anything is deleted.
func WithBackup(w io.Writer) ConsolidateOption {
	return func(o *ConsolidateOptions) {
		o.Backup = w
	}
}

func WithThreshold(threshold float64) ConsolidateOption {
	return func(o *ConsolidateOptions) {
		o.Threshold = threshold
	}
}

func NewConsolidateOptions(opts ...ConsolidateOption) ConsolidateOptions {
	options := ConsolidateOptions{
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
