// Package server accepts MQTT connections and drives each through a protocol adapter.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/bridge"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/config"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/connection"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/database"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
)

// Metrics observes connection lifetimes.
type Metrics interface {
	ConnectionOpened(protocol string)
	ConnectionClosed(protocol string)
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened(string) {}
func (nopMetrics) ConnectionClosed(string) {}

type Option func(*Server)

func WithRegistry(store database.Store) Option {
	return func(s *Server) {
		if store != nil {
			s.registry = store
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithConnectionManager(cm *connection.ConnectionManager) Option {
	return func(s *Server) {
		if cm != nil {
			s.manager = cm
		}
	}
}

// WithSessionOptions is applied to every bridge session the server creates.
func WithSessionOptions(opts ...bridge.Option) Option {
	return func(s *Server) {
		s.sessionOpts = append(s.sessionOpts, opts...)
	}
}

type Server struct {
	cfg         *config.Config
	net         network.Session
	manager     *connection.ConnectionManager
	registry    database.Store
	metrics     Metrics
	sessionOpts []bridge.Option
	sem         chan struct{}
	wg          sync.WaitGroup
}

func New(cfg *config.Config, net network.Session, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		net:      net,
		manager:  connection.NewConnectionManager(),
		registry: database.NewMemoryStore(),
		metrics:  nopMetrics{},
		sem:      make(chan struct{}, cfg.MaxConnections),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Manager() *connection.ConnectionManager {
	return s.manager
}

// ListenAndServe listens on the configured port and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return fmt.Errorf("MQTT server start error: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then force closes every
// live connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger.InfoF("MQTT Server Listen On %s", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		if err := ln.Close(); err != nil && !connection.IsNetClosedError(err) {
			logger.ErrorF("Server close error: %v", err)
		}
	})
	defer stop()

	var serveErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				serveErr = err
				break
			}
			logger.ErrorF("Accept connection error: %v", err)
			continue
		}

		logger.DebugF("Accepted new connection from %s", conn.RemoteAddr().String())

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func(c net.Conn) {
			defer func() {
				<-s.sem
				s.wg.Done()
			}()
			s.handleConnection(ctx, c)
		}(conn)
	}

	logger.InfoF("MQTT Server stopping, closing %d connections", s.manager.Len())
	s.manager.CloseAll()
	s.wg.Wait()
	return serveErr
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	c := connection.NewConnection(conn, conn.RemoteAddr().String())
	s.manager.AddConnection(c)
	defer s.manager.RemoveConnection(c.ConnID)
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	h := &ConnectionHandler{server: s, conn: c, connId: c.ConnID}
	h.handleConnection(ctx)
}
