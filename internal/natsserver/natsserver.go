// Package natsserver provides the NATS connection ansd uses for sync events
// and the JetStream key-value store: either an embedded server or a client
// connection to an existing cluster.
package natsserver

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	connName      = "ansd"
	readyTimeout  = 10 * time.Second
	reconnectWait = 2 * time.Second
)

// Config holds settings for the embedded NATS server.
type Config struct {
	StoreDir string
	// Host and Port expose the server to other registry instances. An empty
	// Host keeps it in-process only.
	Host  string
	Port  int
	Token string // If non-empty, requires token auth for NATS connections.
}

// Server wraps a NATS connection and, when embedded, the server behind it.
type Server struct {
	ns     *server.Server // nil for external connections
	nc     *nats.Conn
	js     jetstream.JetStream
	logger zerolog.Logger
}

// New starts an embedded NATS server with JetStream and connects to it.
func New(cfg Config, logger zerolog.Logger) (*Server, error) {
	logger = logger.With().Str("component", "nats").Logger()

	opts := &server.Options{
		ServerName: connName,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		DontListen: cfg.Host == "",
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("nats server create: %w", err)
	}
	ns.SetLoggerV2(newZerologAdapter(logger), false, false, false)

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server failed to become ready")
	}

	connectOpts := clientOptions(cfg.Token, logger)
	if opts.DontListen {
		connectOpts = append(connectOpts, nats.InProcessServer(ns))
	}
	s, err := connect(ns.ClientURL(), connectOpts, logger)
	if err != nil {
		ns.Shutdown()
		return nil, err
	}
	s.ns = ns

	logger.Info().Str("client_url", ns.ClientURL()).Msg("embedded NATS started")
	return s, nil
}

// Connect dials an existing NATS deployment, which must have JetStream
// enabled if the KV store backend is used.
func Connect(url, token string, logger zerolog.Logger) (*Server, error) {
	logger = logger.With().Str("component", "nats").Logger()
	s, err := connect(url, clientOptions(token, logger), logger)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("url", url).Msg("connected to NATS")
	return s, nil
}

func connect(url string, opts []nats.Option, logger zerolog.Logger) (*Server, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	return &Server{nc: nc, js: js, logger: logger}, nil
}

func clientOptions(token string, logger zerolog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(connName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	return opts
}

// Conn returns the NATS client connection.
func (s *Server) Conn() *nats.Conn { return s.nc }

// JetStream returns the JetStream handle.
func (s *Server) JetStream() jetstream.JetStream { return s.js }

// Embedded reports whether the server runs in this process.
func (s *Server) Embedded() bool { return s.ns != nil }

// ClientURL returns the URL clients use to reach this NATS server.
func (s *Server) ClientURL() string {
	if s.ns != nil {
		return s.ns.ClientURL()
	}
	return s.nc.ConnectedUrl()
}

// ConnectOptions returns options for additional connections to the embedded
// server, such as in-process test subscribers.
func (s *Server) ConnectOptions() []nats.Option {
	if s.ns == nil {
		return nil
	}
	return []nats.Option{nats.InProcessServer(s.ns)}
}

// Shutdown drains the connection and stops the embedded server, if any.
func (s *Server) Shutdown() {
	s.logger.Info().Bool("embedded", s.ns != nil).Msg("closing NATS")
	s.nc.Drain()
	if s.ns != nil {
		s.ns.Shutdown()
		s.ns.WaitForShutdown()
	}
}
