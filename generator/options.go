package generator

import "context"

type Option func(*Options)

type Options struct {
	ApiKey      string
	BaseURL     string
	Model       string
	System      string
	MaxTokens   int
	Temperature float32
	Context     context.Context
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

// WithSystem sets instructions sent ahead of every prompt.
func WithSystem(system string) Option {
	return func(o *Options) {
		o.System = system
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithTemperature(t float32) Option {
	return func(o *Options) {
		o.Temperature = t
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		MaxTokens:   512,
		Temperature: 0.2,
		Context:     context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
