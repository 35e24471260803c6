package embedder

import (
	"context"
	"time"
)

type Option func(*Options)

type Options struct {
	ApiKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Embedder   Embedder
	TTL        time.Duration

	// redis url shared by processes, e.g. redis://localhost:6379/0
	CacheLocation string
	Context       context.Context
}

func WithApiKey(apiKey string) Option {
	return func(o *Options) {
		o.ApiKey = apiKey
	}
}

func WithBaseURL(url string) Option {
	return func(o *Options) {
		o.BaseURL = url
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithDimensions asks the backend for vectors of this length when it supports it.
func WithDimensions(dims int) Option {
	return func(o *Options) {
		o.Dimensions = dims
	}
}

// WithEmbedder sets the backend a wrapping embedder delegates to.
func WithEmbedder(e Embedder) Option {
	return func(o *Options) {
		o.Embedder = e
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = ttl
	}
}

func WithCacheLocation(loc string) Option {
	return func(o *Options) {
		o.CacheLocation = loc
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		TTL:     30 * time.Minute,
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
