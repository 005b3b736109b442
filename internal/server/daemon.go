package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ans-project/ans/internal/api"
	"github.com/ans-project/ans/internal/metrics"
	"github.com/ans-project/ans/internal/natsserver"
	"github.com/ans-project/ans/internal/registry"
	"github.com/ans-project/ans/internal/syncbus"
)

const shutdownTimeout = 5 * time.Second

// Daemon is the ansd process.
type Daemon struct {
	cfg       Config
	logger    zerolog.Logger
	nats      *natsserver.Server
	registry  *registry.Service
	apiServer *api.Server
	startedAt time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	ready     chan struct{}
}

// NewDaemon creates a Daemon from config.
func NewDaemon(cfg Config, logger zerolog.Logger) *Daemon {
	return &Daemon{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

// Run starts all subsystems and blocks until a signal is received or Stop is called.
func (d *Daemon) Run() error {
	d.startedAt = time.Now()

	// 1. NATS, when sync events or the KV store need it.
	if d.cfg.needsNATS() {
		var err error
		if d.cfg.NATS.Embedded {
			d.nats, err = natsserver.New(natsserver.Config{
				StoreDir: d.cfg.NATS.DataDir,
				Host:     d.cfg.NATS.Host,
				Port:     d.cfg.NATS.Port,
				Token:    d.cfg.NATS.Token,
			}, d.logger)
		} else {
			d.nats, err = natsserver.Connect(d.cfg.NATS.URL, d.cfg.NATS.Token, d.logger)
		}
		if err != nil {
			return fmt.Errorf("start nats: %w", err)
		}
	}

	// 2. Record store and registry service.
	store, err := d.openStore()
	if err != nil {
		d.shutdown()
		return fmt.Errorf("open store: %w", err)
	}
	var publisher syncbus.Publisher
	if d.cfg.NATS.Sync {
		publisher = syncbus.NewNATSPublisher(d.nats.Conn(), d.logger)
	}
	d.registry, err = registry.New(store, publisher, registry.Config{
		KeyCacheSize:     d.cfg.Registry.KeyCacheSize,
		DeregisterWindow: d.cfg.Registry.DeregisterWindow,
		MaxLookupLimit:   d.cfg.Registry.MaxLookupLimit,
	}, d.logger)
	if err != nil {
		store.Close()
		d.shutdown()
		return fmt.Errorf("start registry: %w", err)
	}

	// 3. HTTP API.
	var m *metrics.Metrics
	if d.cfg.Server.Metrics {
		m = metrics.New(d.agentCount)
	}
	d.apiServer = api.New(api.Options{
		Listen:         d.cfg.Server.Listen,
		CORSOrigins:    d.cfg.Server.CORSOrigins,
		TrustedProxies: d.cfg.Server.TrustedProxies,
		APIKeys:        d.cfg.Server.APIKeys,
		RateLimit:      d.cfg.Server.RateLimit,
		RateBurst:      d.cfg.Server.RateBurst,
		StoreBackend:   d.cfg.Store.Backend,
		SyncEnabled:    d.cfg.NATS.Sync,
	}, d.registry, m, d.startedAt, d.logger)

	apiErrCh := make(chan error, 1)
	go func() {
		apiErrCh <- d.apiServer.Start()
	}()

	select {
	case <-d.apiServer.Ready():
	case err := <-apiErrCh:
		d.shutdown()
		return fmt.Errorf("start api: %w", err)
	}
	close(d.ready)

	d.logger.Info().
		Str("listen", d.apiServer.Addr()).
		Str("store", d.cfg.Store.Backend).
		Bool("sync", d.cfg.NATS.Sync).
		Msg("ansd started")

	// 4. Wait for signal, stop call, or API error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-d.stopCh:
		d.logger.Info().Msg("stop requested, shutting down")
	case err := <-apiErrCh:
		if err != nil {
			d.logger.Error().Err(err).Msg("API server error")
		}
	}

	return d.shutdown()
}

func (d *Daemon) openStore() (registry.Store, error) {
	switch d.cfg.Store.Backend {
	case registry.BackendMemory:
		return registry.NewMemoryStore(), nil
	case registry.BackendLevelDB:
		return registry.OpenLevelDBStore(d.cfg.Store.Path)
	case registry.BackendJetStream:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return registry.OpenKVStore(ctx, d.nats.JetStream(), d.cfg.Store.Bucket)
	default:
		return nil, fmt.Errorf("unknown store backend %q", d.cfg.Store.Backend)
	}
}

func (d *Daemon) agentCount() float64 {
	n, err := d.registry.Count(context.Background())
	if err != nil {
		return 0
	}
	return float64(n)
}

// Ready is closed once the API server accepts connections.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Addr returns the API server's bound address.
func (d *Daemon) Addr() string {
	if d.apiServer == nil {
		return ""
	}
	return d.apiServer.Addr()
}

// Stop signals the daemon to shut down. Safe to call from another goroutine
// and more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// NATSClientURL returns the NATS client URL, or "" when NATS is not in use.
func (d *Daemon) NATSClientURL() string {
	if d.nats == nil {
		return ""
	}
	return d.nats.ClientURL()
}

// NATSConnectOpts returns NATS connection options for in-process connections.
func (d *Daemon) NATSConnectOpts() []nats.Option {
	if d.nats == nil {
		return nil
	}
	return d.nats.ConnectOptions()
}

func (d *Daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if d.apiServer != nil {
		d.apiServer.Shutdown(ctx)
	}
	if d.registry != nil {
		if err := d.registry.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("close store")
		}
	}
	if d.nats != nil {
		d.nats.Shutdown()
	}
	return nil
}
