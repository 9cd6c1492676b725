package server

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go-hub-tunnel/internal/infrastructure/hub"
	"go-hub-tunnel/internal/infrastructure/hubproto"
	"go-hub-tunnel/internal/infrastructure/logger"
)

// PipeOptions configure the local pipe endpoint.
type PipeOptions struct {
	// Path is the unix socket the hub listens on.
	Path              string
	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
}

// PipeServer serves the hub protocol over a local unix socket, the
// transport named pipe clients dial.
type PipeServer struct {
	hub    *hub.Hub
	logger logger.Logger
	opts   PipeOptions

	mu       sync.Mutex
	listener net.Listener
	closing  bool
}

var _ Server = (*PipeServer)(nil)

func NewPipeServer(hubInstance *hub.Hub, log logger.Logger, opts PipeOptions) *PipeServer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = 15 * time.Second
	}
	return &PipeServer{
		hub:    hubInstance,
		logger: log.WithField("server", "pipe"),
		opts:   opts,
	}
}

func (p *PipeServer) Start(ctx context.Context) error {
	if p.opts.Path == "" {
		return errors.New("pipe path is empty")
	}
	// A socket file left behind by a crashed process blocks the bind.
	if err := os.Remove(p.opts.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	ln, err := net.Listen("unix", p.opts.Path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.listener = ln
	p.mu.Unlock()

	p.logger.Infof("listening on %s", p.opts.Path)

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if p.isClosing() || ectx.Err() != nil {
					return nil
				}
				return err
			}
			eg.Go(func() error {
				p.serve(conn)
				return nil
			})
		}
	})

	return eg.Wait()
}

func (p *PipeServer) serve(nc net.Conn) {
	conn := hubproto.NewStreamConn(nc)
	if err := hub.Handshake(conn, p.opts.HandshakeTimeout); err != nil {
		p.logger.Warnf("Handshake failed: %v", err)
		conn.Close()
		return
	}

	pc := hub.NewProtocolConnection(uuid.NewString(), "pipe", conn, p.hub, p.logger, p.opts.KeepAliveInterval)
	if err := p.hub.RegisterConnection(pc); err != nil {
		p.logger.Errorf("Failed to register pipe connection: %v", err)
		pc.Close()
		return
	}

	<-pc.Context().Done()
	p.logger.Debugf("pipe connection %s disconnected", pc.ID())
}

func (p *PipeServer) isClosing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closing
}

// Stop closes the listener. Established connections are closed by the hub
// when it stops.
func (p *PipeServer) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	ln := p.listener
	p.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
