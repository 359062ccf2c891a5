// Package ledreading wires configuration, the acquisition board, the dodge
// gate, and the output sinks into a runnable periodic LED-reading job.
package ledreading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/har1eyk/led-reading-plugin/internal/adapters/board"
	"github.com/har1eyk/led-reading-plugin/internal/adapters/mqtt"
	"github.com/har1eyk/led-reading-plugin/internal/adapters/observability"
	"github.com/har1eyk/led-reading-plugin/internal/adapters/store"
	"github.com/har1eyk/led-reading-plugin/internal/app/burst"
	"github.com/har1eyk/led-reading-plugin/internal/app/config"
	"github.com/har1eyk/led-reading-plugin/internal/domain"
	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

// odStateWait bounds the startup wait for the retained OD state message.
const odStateWait = 2 * time.Second

// Config is re-exported so embedders can construct or modify it
// programmatically.
type Config = config.Config

// LoadConfig loads and validates YAML from disk.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Default returns a configuration prefilled with the stock burst timing.
func Default() *Config {
	return config.Default()
}

// Option customizes the dependencies used by Runtime.
type Option func(*overrides)

type overrides struct {
	acquirer  ports.Acquirer
	led       ports.LED
	gate      ports.Gate
	store     ports.Store
	publisher ports.Publisher
	obs       ports.Observability
}

// WithAcquirer injects a custom ADC backend.
func WithAcquirer(a ports.Acquirer) Option {
	return func(o *overrides) { o.acquirer = a }
}

// WithLED injects a custom LED controller.
func WithLED(l ports.LED) Option {
	return func(o *overrides) { o.led = l }
}

// WithGate injects a custom dodge gate (e.g. a shared in-process flag).
func WithGate(g ports.Gate) Option {
	return func(o *overrides) { o.gate = g }
}

// WithStore injects a custom persistence backend.
func WithStore(s ports.Store) Option {
	return func(o *overrides) { o.store = s }
}

// WithPublisher injects a custom publish transport.
func WithPublisher(p ports.Publisher) Option {
	return func(o *overrides) { o.publisher = p }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs ports.Observability) Option {
	return func(o *overrides) { o.obs = obs }
}

// Runtime owns the scheduler and every adapter it runs against, plus the
// metrics HTTP server.
type Runtime struct {
	cfg        *Config
	sched      *burst.Scheduler
	obs        ports.Observability
	store      ports.Store
	db         *sql.DB
	mqttClient paho.Client
	closeBoard func() error
	metricsSrv *http.Server
}

// NewRuntime bootstraps the default adapters (configured acquisition board,
// Postgres store, MQTT publisher and dodge gate, Prometheus observability)
// and lets Option values override any of them.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var ov overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&ov)
		}
	}

	obs := ov.obs
	if obs == nil {
		obs = observability.NewPromObs()
	}

	rt := &Runtime{cfg: cfg, obs: obs}

	acquirer, led := ov.acquirer, ov.led
	if acquirer == nil || led == nil {
		a, l, closeBoard, err := openBoard(cfg)
		if err != nil {
			return nil, err
		}
		if acquirer == nil {
			acquirer = a
		}
		if led == nil {
			led = l
		}
		rt.closeBoard = closeBoard
	}

	st := ov.store
	if st == nil {
		db, err := sql.Open("postgres", cfg.Postgres.ConnString)
		if err != nil {
			_ = rt.closeResources(context.Background())
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		rt.db = db
		st = store.NewPostgres(db, cfg.Postgres.Table)
	}
	rt.store = st

	publisher := ov.publisher
	gate := ov.gate
	if (publisher == nil || (gate == nil && cfg.DodgeEnabled())) && cfg.MQTT.Broker != "" {
		var g *mqtt.Gate
		var onConnect paho.OnConnectHandler
		if gate == nil && cfg.DodgeEnabled() {
			// Subscribing from the connect handler keeps the gate's
			// subscription alive across broker reconnects.
			g = mqtt.NewGate(cfg.Dodge.BusyStates)
			onConnect = g.ConnectHandler(cfg.Dodge.Topic, cfg.MQTT.QoS)
		}
		client, err := mqtt.Dial(cfg.MQTT, onConnect)
		if err != nil {
			_ = rt.closeResources(context.Background())
			return nil, err
		}
		rt.mqttClient = client
		if publisher == nil {
			publisher = mqtt.NewPublisher(client, cfg.MQTT)
		}
		if g != nil {
			// The retained OD state arrives after the subscription is
			// acknowledged; wait for it so the first burst cannot race a
			// busy OD job. No state within the window means the OD job is
			// not running and the gate stays clear.
			waitCtx, cancel := context.WithTimeout(context.Background(), odStateWait)
			g.AwaitState(waitCtx)
			cancel()
			gate = g
		}
	}

	rt.sched = &burst.Scheduler{
		Burst: domain.BurstConfig{
			Interval:      cfg.Job.Interval,
			Settle:        cfg.Job.Settle,
			Window:        cfg.Job.Window,
			TargetSamples: cfg.Job.TargetSamples,
		},
		Channels:   cfg.Channels,
		Unit:       cfg.Job.Unit,
		Experiment: cfg.Job.Experiment,
		LEDChannel: cfg.LED.Channel,
		Intensity:  cfg.LED.Intensity,
		Acquirer:   acquirer,
		LED:        led,
		Gate:       gate,
		Store:      st,
		Publisher:  publisher,
		Obs:        obs,
	}
	return rt, nil
}

func openBoard(cfg *Config) (ports.Acquirer, ports.LED, func() error, error) {
	switch cfg.Board.Backend {
	case "serial":
		b, err := board.OpenSerial(cfg.Board.Serial)
		if err != nil {
			return nil, nil, nil, err
		}
		return b, b, b.Close, nil
	case "opcua":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b, err := board.DialOPCUA(ctx, cfg.Board.OPCUA)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() error {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			return b.Close(closeCtx)
		}
		return b, b, closeFn, nil
	case "sim":
		b := board.NewSim(cfg.Board.Sim)
		return b, b, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown board backend %q", cfg.Board.Backend)
	}
}

// Run ensures the store schema, starts the metrics server, and blocks
// driving burst cycles until ctx is cancelled. It then shuts everything
// down.
func (rt *Runtime) Run(ctx context.Context) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := rt.store.EnsureSchema(schemaCtx)
	cancel()
	if err != nil {
		_ = rt.closeResources(context.Background())
		return fmt.Errorf("ensure schema: %w", err)
	}

	rt.startMetrics()
	runErr := rt.sched.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(runErr, rt.Shutdown(shutdownCtx))
}

// Shutdown releases the metrics server, broker connection, database, and
// board.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	if rt.metricsSrv != nil {
		if err := rt.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		rt.metricsSrv = nil
	}
	errs = append(errs, rt.closeResources(ctx))
	return errors.Join(errs...)
}

func (rt *Runtime) closeResources(ctx context.Context) error {
	var errs []error
	if rt.mqttClient != nil {
		rt.mqttClient.Disconnect(250)
		rt.mqttClient = nil
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, err)
		}
		rt.db = nil
	}
	if rt.closeBoard != nil {
		if err := rt.closeBoard(); err != nil {
			errs = append(errs, err)
		}
		rt.closeBoard = nil
	}
	return errors.Join(errs...)
}

func (rt *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	rt.metricsSrv = &http.Server{
		Addr:    rt.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := rt.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()
}
