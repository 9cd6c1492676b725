package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type HTTPServer struct {
	addr    string
	handler http.Handler

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	stopped  bool
}

var _ Server = (*HTTPServer)(nil)

func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	if addr == "" {
		addr = ":8080"
	}
	srv := &HTTPServer{
		addr:    addr,
		handler: handler,
	}
	return srv
}

// Addr reports the bound address once Start has opened the listener.
func (h *HTTPServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

func (h *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	// Write timeouts would cut long lived websocket and event streams.
	srv := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return ln.Close()
	}
	h.srv = srv
	h.listener = ln
	h.mu.Unlock()

	var eg errgroup.Group
	eg.Go(func() error {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}

func (h *HTTPServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	srv := h.srv
	h.stopped = true
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
