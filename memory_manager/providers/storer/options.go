package storer

import "context"

type Option func(*Options)

type Options struct {
	Location   string
	Collection string
	Dimensions int
	ApiKey     string
	Context    context.Context
}

func WithLocation(loc string) Option {
	return func(o *Options) {
		o.Location = loc
	}
}

func WithCollection(collection string) Option {
	return func(o *Options) {
		o.Collection = collection
	}
}

// WithDimensions fixes the vector length the store accepts.
func WithDimensions(dims int) Option {
	return func(o *Options) {
		o.Dimensions = dims
	}
}

func WithApiKey(apiKey string) Option {
	return func(o *Options) {
		o.ApiKey = apiKey
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		Collection: "memories",
		Context:    context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
