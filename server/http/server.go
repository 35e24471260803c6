package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/w-h-a/workmem/server"
)

type httpServer struct {
	options  server.Options
	srv      *http.Server
	listener net.Listener
	mtx      sync.RWMutex
}

func (s *httpServer) Start() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	listener, err := net.Listen("tcp", s.options.Address)
	if err != nil {
		return err
	}

	s.listener = listener

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "error", err)
		}
	}()

	slog.Info("http server listening", "address", listener.Addr().String())

	return nil
}

func (s *httpServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *httpServer) Address() string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.listener == nil {
		return s.options.Address
	}

	return s.listener.Addr().String()
}

func NewServer(opts ...server.Option) server.Server {
	options := server.NewOptions(opts...)

	if options.MemoryManager == nil {
		slog.ErrorContext(options.Context, "http server requires a memory manager")
		panic("http server requires a memory manager")
	}

	ms, _ := MiddlewareFrom(options.Context)

	if d, ok := HookTimeoutFrom(options.Context); ok {
		ms = append(ms, withTimeout(d))
	}

	s := &httpServer{
		options: options,
		srv: &http.Server{
			Handler:           NewHandler(options.MemoryManager, ms...),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	return s
}
