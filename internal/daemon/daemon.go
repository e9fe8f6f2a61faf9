package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"montage/internal/config"
	"montage/internal/dispatch"
	"montage/internal/logging"
	"montage/internal/media/ffmpeg"
	"montage/internal/media/ffprobe"
	"montage/internal/pipeline"
	"montage/internal/remote"
	"montage/internal/store"
	"montage/internal/synthesis"
)

// Daemon owns the background services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store        *store.Store
	engine       *dispatch.Engine
	controller   *pipeline.Controller
	orchestrator *pipeline.Orchestrator

	lockPath string
	lock     *flock.Flock
	server   *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

// New opens the store, builds the remote client, and wires every pipeline
// service. The returned daemon holds resources; call Close when done.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client, err := remote.NewClient(cfg.Remote)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("remote client: %w", err)
	}

	d, err := NewWithDeps(cfg, st, client, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return d, nil
}

// NewWithDeps wires the daemon around an already-open store and remote API.
// Used directly by tests; New is the production entry point.
func NewWithDeps(cfg *config.Config, st *store.Store, client remote.API, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || client == nil {
		return nil, errors.New("daemon requires config, store, and remote API")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	registry := dispatch.NewRegistry()
	engine := dispatch.New(st, client, registry, cfg.Dispatch, logger)
	synth := synthesis.New(ffmpeg.New(cfg.FFmpeg), ffprobe.New(cfg.FFmpeg.FFprobeBinary), cfg.Paths.WorkspaceDir, logger)
	controller := pipeline.New(st, client, engine, synth, cfg, logger)
	controller.Register(registry)

	d := &Daemon{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		store:        st,
		engine:       engine,
		controller:   controller,
		orchestrator: pipeline.NewOrchestrator(controller, logger),
		lockPath:     cfg.LockPath(),
		lock:         flock.New(cfg.LockPath()),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the dispatch engine and API
// server. It returns once both are running.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another montage daemon holds %s", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		if err := d.engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("dispatch engine stopped", logging.Error(err))
		}
	}()

	if d.server != nil {
		if err := d.server.start(runCtx); err != nil {
			cancel()
			<-d.done
			_ = d.lock.Unlock()
			d.cancel = nil
			d.done = nil
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("montage daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.server != nil {
		d.server.stop()
	}
	if d.done != nil {
		<-d.done
		d.done = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("montage daemon stopped")
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the bound API address, or empty when the server is disabled.
func (d *Daemon) Addr() string {
	if d.server == nil {
		return ""
	}
	return d.server.addr()
}
