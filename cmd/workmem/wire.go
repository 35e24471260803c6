package main

import (
	"fmt"

	"github.com/w-h-a/workmem/config"
	"github.com/w-h-a/workmem/generator"
	anthropicgenerator "github.com/w-h-a/workmem/generator/anthropic"
	googlegenerator "github.com/w-h-a/workmem/generator/google"
	openaigenerator "github.com/w-h-a/workmem/generator/openai"
	memorymanager "github.com/w-h-a/workmem/memory_manager"
	"github.com/w-h-a/workmem/memory_manager/munin"
	"github.com/w-h-a/workmem/memory_manager/providers/embedder"
	"github.com/w-h-a/workmem/memory_manager/providers/embedder/cached"
	googleembedder "github.com/w-h-a/workmem/memory_manager/providers/embedder/google"
	openaiembedder "github.com/w-h-a/workmem/memory_manager/providers/embedder/openai"
	"github.com/w-h-a/workmem/memory_manager/providers/storer"
	"github.com/w-h-a/workmem/memory_manager/providers/storer/memory"
	"github.com/w-h-a/workmem/memory_manager/providers/storer/neo4j"
	"github.com/w-h-a/workmem/memory_manager/providers/storer/postgres"
	"github.com/w-h-a/workmem/memory_manager/providers/storer/qdrant"
	"github.com/w-h-a/workmem/memory_manager/providers/storer/sqlite"
)

type engine struct {
	mm     memorymanager.MemoryManager
	storer storer.Storer
}

func (e *engine) Close() error {
	return e.storer.Close()
}

// build turns the constructors' panics into errors for the command line.
func build(cfg config.Config) (e *engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to initialize: %v", r)
		}
	}()

	s := newStorer(cfg)

	opts := append(cfg.MemoryOptions(),
		memorymanager.WithStorer(s),
		memorymanager.WithEmbedder(newEmbedder(cfg)),
	)

	if g := newGenerator(cfg); g != nil {
		opts = append(opts, memorymanager.WithGenerator(g))
	}

	return &engine{
		mm:     munin.NewMemoryManager(opts...),
		storer: s,
	}, nil
}

func newStorer(cfg config.Config) storer.Storer {
	opts := []storer.Option{
		storer.WithLocation(cfg.Store.Location),
		storer.WithCollection(cfg.Store.Collection),
		storer.WithDimensions(cfg.Embedding.Dimensions),
		storer.WithApiKey(cfg.Store.ApiKey),
	}

	switch cfg.Store.Backend {
	case "postgres":
		return postgres.NewStorer(opts...)
	case "qdrant":
		return qdrant.NewStorer(opts...)
	case "neo4j":
		return neo4j.NewStorer(opts...)
	case "memory":
		return memory.NewStorer(opts...)
	default:
		return sqlite.NewStorer(opts...)
	}
}

func newEmbedder(cfg config.Config) embedder.Embedder {
	opts := []embedder.Option{
		embedder.WithApiKey(cfg.Embedding.ApiKey),
		embedder.WithBaseURL(cfg.Embedding.BaseURL),
		embedder.WithModel(cfg.Embedding.Model),
		embedder.WithDimensions(cfg.Embedding.Dimensions),
	}

	var e embedder.Embedder
	switch cfg.Embedding.Provider {
	case "google":
		e = googleembedder.NewEmbedder(opts...)
	default:
		e = openaiembedder.NewEmbedder(opts...)
	}

	if cfg.Embedding.CacheTTL <= 0 {
		return e
	}

	return cached.NewEmbedder(
		embedder.WithEmbedder(e),
		embedder.WithModel(cfg.Embedding.Model),
		embedder.WithDimensions(cfg.Embedding.Dimensions),
		embedder.WithTTL(cfg.Embedding.CacheTTL),
		embedder.WithCacheLocation(cfg.Embedding.CacheLocation),
	)
}

func newGenerator(cfg config.Config) generator.Generator {
	opts := []generator.Option{
		generator.WithApiKey(cfg.Generation.ApiKey),
		generator.WithBaseURL(cfg.Generation.BaseURL),
		generator.WithModel(cfg.Generation.Model),
		generator.WithMaxTokens(cfg.Generation.MaxTokens),
		generator.WithTemperature(cfg.Generation.Temperature),
		generator.WithSystem("You keep a concise working memory of an assistant's conversations. Follow the requested reply format exactly."),
	}

	switch cfg.Generation.Provider {
	case "openai":
		return openaigenerator.NewGenerator(opts...)
	case "anthropic":
		return anthropicgenerator.NewGenerator(opts...)
	case "google":
		return googlegenerator.NewGenerator(opts...)
	default:
		return nil
	}
}
