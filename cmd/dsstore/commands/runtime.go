package commands

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/systmms/dsstore/internal/cache"
	"github.com/systmms/dsstore/internal/config"
	"github.com/systmms/dsstore/internal/logging"
	"github.com/systmms/dsstore/internal/metrics"
	"github.com/systmms/dsstore/internal/providers"
	"github.com/systmms/dsstore/pkg/parameters"
	"github.com/systmms/dsstore/pkg/pool"
	"github.com/systmms/dsstore/pkg/provider"
	"github.com/systmms/dsstore/pkg/secrets"
)

// Runtime builds the pools and services of one CLI invocation on first use
// and releases them in Close.
type Runtime struct {
	Config   *config.Config
	Registry *providers.Registry

	// Sink overrides the sink built from the logging section.
	Sink *logging.Sink

	// MetricsAddr, when set, serves /metrics for the life of the command.
	MetricsAddr string

	mu      sync.Mutex
	loaded  bool
	sink    *logging.Sink
	metrics *metrics.Recorder
	server  *http.Server
	pools   map[string]*pool.Pool
	secrets *secrets.Service
	params  *parameters.Service
}

// NewRuntime returns a runtime over cfg with the built-in backends.
func NewRuntime(cfg *config.Config) *Runtime {
	return &Runtime{
		Config:   cfg,
		Registry: providers.NewRegistry(),
		pools:    make(map[string]*pool.Pool),
	}
}

// Definition loads the configuration once.
func (r *Runtime) Definition() (*config.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.definition()
}

func (r *Runtime) definition() (*config.Definition, error) {
	if !r.loaded {
		if err := r.Config.Load(); err != nil {
			return nil, err
		}
		r.loaded = true
	}
	return r.Config.Definition, nil
}

func (r *Runtime) setup(def *config.Definition) error {
	if r.sink != nil {
		return nil
	}

	if r.MetricsAddr != "" {
		metrics.InitMetrics()
		r.metrics = metrics.NewRecorder()
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		r.server = &http.Server{Addr: r.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.Config.Logger.Warn("metrics listener stopped: %v", err)
			}
		}()
		r.Config.Logger.Debug("Serving metrics on %s/metrics", r.MetricsAddr)
	}

	sink := r.Sink
	if sink == nil {
		s, err := logging.NewSink(def.SinkConfig())
		if err != nil {
			return err
		}
		sink = s
	}
	r.sink = sink.WithMetrics(r.metrics)
	return nil
}

// Dialer returns the configured dialer of store.
func (r *Runtime) Dialer(store string) (provider.Dialer, error) {
	def, err := r.Definition()
	if err != nil {
		return nil, err
	}
	return r.Registry.Dialer(def, store)
}

// Pool returns the connection pool of store.
func (r *Runtime) Pool(store string) (*pool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool(store)
}

func (r *Runtime) pool(store string) (*pool.Pool, error) {
	if p, ok := r.pools[store]; ok {
		return p, nil
	}
	def, err := r.definition()
	if err != nil {
		return nil, err
	}
	if err := r.setup(def); err != nil {
		return nil, err
	}
	dial, err := r.Registry.Dialer(def, store)
	if err != nil {
		return nil, err
	}
	p, err := pool.New(def.PoolFor(store), dial, pool.WithMetrics(r.metrics))
	if err != nil {
		return nil, err
	}
	r.pools[store] = p
	return p, nil
}

// Secrets returns the Secret Service.
func (r *Runtime) Secrets() (*secrets.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.secretsService()
}

func (r *Runtime) secretsService() (*secrets.Service, error) {
	if r.secrets != nil {
		return r.secrets, nil
	}
	p, err := r.pool(config.StoreSecrets)
	if err != nil {
		return nil, err
	}
	def := r.Config.Definition
	svc, err := secrets.New(p, secrets.Config{
		Project:          def.Project,
		Location:         def.Location,
		BatchConcurrency: def.Batch.Concurrency,
	},
		secrets.WithSink(r.sink),
		secrets.WithMetrics(r.metrics),
		secrets.WithCache(cache.New(def.CacheConfig(), cache.WithMetrics(secrets.Store, r.metrics))),
	)
	if err != nil {
		return nil, err
	}
	r.secrets = svc
	return svc, nil
}

// Parameters returns the Parameter Service. Render resolves references
// through the Secret Service.
func (r *Runtime) Parameters() (*parameters.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.params != nil {
		return r.params, nil
	}
	sec, err := r.secretsService()
	if err != nil {
		return nil, err
	}
	p, err := r.pool(config.StoreParameters)
	if err != nil {
		return nil, err
	}
	def := r.Config.Definition
	svc, err := parameters.New(p, parameters.Config{
		Project:          def.Project,
		Location:         def.Location,
		BatchConcurrency: def.Batch.Concurrency,
		Schemas:          def.Parameters.Schemas,
	},
		parameters.WithSink(r.sink),
		parameters.WithMetrics(r.metrics),
		parameters.WithCache(cache.New(def.CacheConfig(), cache.WithMetrics(parameters.Store, r.metrics))),
		parameters.WithSecrets(sec),
	)
	if err != nil {
		return nil, err
	}
	r.params = svc
	return svc, nil
}

// Close closes every pool and the metrics listener and flushes the sink.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.pools {
		errs = append(errs, p.Close())
	}
	r.pools = make(map[string]*pool.Pool)
	r.secrets, r.params = nil, nil

	if r.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, r.server.Shutdown(ctx))
		cancel()
		r.server = nil
	}
	if r.sink != nil {
		// Sync on stderr fails with EINVAL on some platforms.
		_ = r.sink.Sync()
	}
	return errors.Join(errs...)
}
