package server

import (
	"context"

	memorymanager "github.com/w-h-a/workmem/memory_manager"
)

// Server exposes the capture and recall hooks to the agent host.
type Server interface {
	Start() error
	Stop(ctx context.Context) error
	Address() string
}

type Option func(*Options)

type Options struct {
	Address       string
	MemoryManager memorymanager.MemoryManager
	Context       context.Context
}

func WithAddress(addr string) Option {
	return func(o *Options) {
		o.Address = addr
	}
}

func WithMemoryManager(mm memorymanager.MemoryManager) Option {
	return func(o *Options) {
		o.MemoryManager = mm
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		Address: ":8089",
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
