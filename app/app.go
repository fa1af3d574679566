// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app wires the bridge together and owns the process lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soothill/zwave-redis-bridge/config"
	"github.com/soothill/zwave-redis-bridge/discovery"
	"github.com/soothill/zwave-redis-bridge/dispatcher"
	"github.com/soothill/zwave-redis-bridge/listener"
	"github.com/soothill/zwave-redis-bridge/mirror"
	"github.com/soothill/zwave-redis-bridge/pkg/barrier"
	"github.com/soothill/zwave-redis-bridge/pkg/errors"
	"github.com/soothill/zwave-redis-bridge/pkg/interfaces"
	"github.com/soothill/zwave-redis-bridge/pkg/keys"
	"github.com/soothill/zwave-redis-bridge/pkg/logger"
	"github.com/soothill/zwave-redis-bridge/pkg/metrics"
	"github.com/soothill/zwave-redis-bridge/pkg/notifications"
	"github.com/soothill/zwave-redis-bridge/storage"
	"github.com/soothill/zwave-redis-bridge/zwave"
	"github.com/soothill/zwave-redis-bridge/zwave/sim"
	"golang.org/x/time/rate"
)

const (
	signalChannelSize     = 1
	readinessCheckTimeout = 2 * time.Second
	shutdownTimeout       = 5 * time.Second
	flushTimeout          = 10 * time.Second
	startupTimeout        = 10 * time.Second
	alertContextTimeout   = 5 * time.Second
	dumpQueryTimeout      = 5 * time.Second
)

// App represents the running bridge
type App struct {
	cfg           *config.Config
	configPath    string
	metricsPort   string
	transport     zwave.Transport
	server        *http.Server
	redisOpts     storage.RedisOptions
	store         *storage.BreakerStore
	sinks         []interfaces.EventSink
	history       *storage.InfluxDBHistory
	notifier      *notifications.SlackNotifier
	runtime       zwave.Runtime
	barrier       *barrier.Barrier
	dispatcher    *dispatcher.Dispatcher
	configWatcher *config.Watcher
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	shutdownOnce  sync.Once
}

// New connects to the store and builds every component. A store that cannot
// be reached is an error; everything else optional degrades to a warning.
// An empty metricsPort disables the HTTP server.
func New(cfg *config.Config, metricsPort, configPath string) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:         cfg,
		configPath:  configPath,
		metricsPort: metricsPort,
		transport:   zwave.ParseTransport(cfg.ZWave.Transport),
		barrier:     barrier.New(),
		ctx:         ctx,
		cancel:      cancel,
	}

	a.notifier = notifications.NewSlackNotifier(cfg.Notifications.SlackWebhookURL)
	if a.notifier.IsEnabled() {
		logger.Info().Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack notifications disabled (no webhook URL configured)")
	}

	if err := a.initializeStore(ctx); err != nil {
		cancel()
		return nil, err
	}
	a.sinks = a.initializeSinks(ctx)

	a.runtime = sim.New(a.runtimeOptions(), cfg.Network())
	a.dispatcher = dispatcher.New(ctx, a.runtime, a.store,
		dispatcher.WithSinks(a.sinks...),
		dispatcher.WithDriverAlerter(a.notifier, a.transport.Identifier),
		dispatcher.WithBarrier(a.barrier),
	)

	if metricsPort != "" {
		a.server = a.newServer()
	}
	a.configWatcher = config.NewWatcher(configPath, a.UpdateConfig)

	return a, nil
}

// runtimeOptions builds the runtime option block from configuration.
func (a *App) runtimeOptions() zwave.Options {
	opts := zwave.DefaultOptions(a.cfg.ZWave.ConfigPath)
	opts.UserPath = a.cfg.ZWave.UserPath
	opts.PollInterval = a.cfg.ZWave.PollInterval
	return opts
}

// initializeStore resolves the store address, connects, and wraps the
// connection in a circuit breaker.
func (a *App) initializeStore(ctx context.Context) error {
	sc := a.cfg.Store
	addr, db := sc.Address, sc.DB

	if sc.Discover {
		scanner := discovery.NewScanner(sc.ServiceType, sc.Domain)
		svc, err := scanner.LocateStore(ctx, sc.DiscoveryTimeout)
		switch {
		case err == nil:
			addr, db = svc.Addr(), svc.DB()
			logger.Info().Str("service", svc.Name).Str("addr", addr).Int("db", db).
				Msg("Store located via mDNS")
		case addr != "":
			logger.Warn().Err(err).Str("addr", addr).Msg("Store discovery failed, using configured address")
		default:
			return fmt.Errorf("failed to locate store: %w", err)
		}
	}

	a.redisOpts = storage.RedisOptions{
		Addr:         addr,
		Password:     sc.Password,
		DB:           db,
		DialTimeout:  sc.DialTimeout,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
	}

	connectCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	rs, err := storage.NewRedisStore(connectCtx, a.redisOpts)
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	logger.Info().Str("addr", addr).Int("db", db).Msg("Connected to store")

	a.store = storage.NewBreakerStore(rs, addr, storage.BreakerSettings{
		MaxFailures: sc.Breaker.MaxFailures,
		OpenTimeout: sc.Breaker.OpenTimeout,
		HalfOpenMax: sc.Breaker.HalfOpenMax,
	}, a.notifier)
	return nil
}

// initializeSinks builds the optional event consumers. A sink that cannot
// start is logged and left out.
func (a *App) initializeSinks(ctx context.Context) []interfaces.EventSink {
	var sinks []interfaces.EventSink

	if ic := a.cfg.InfluxDB; ic.Enabled {
		history, err := storage.NewInfluxDBHistory(ctx, ic.URL, ic.Token, ic.Organization, ic.Bucket)
		if err != nil {
			logger.Warn().Err(err).Str("url", ic.URL).Msg("Value history disabled")
		} else {
			logger.Info().Str("url", ic.URL).Str("bucket", ic.Bucket).Msg("Value history enabled")
			a.history = history
			sinks = append(sinks, history)
		}
	}

	if mc := a.cfg.MQTT; mc.Enabled {
		m, err := mirror.Connect(mirror.Config{
			Broker:      mc.Broker,
			ClientID:    mc.ClientID,
			TopicPrefix: mc.TopicPrefix,
			QoS:         mc.QoS,
			Retain:      mc.Retain,
			Username:    mc.Username,
			Password:    mc.Password,
		})
		if err != nil {
			logger.Warn().Err(err).Str("broker", mc.Broker).Msg("MQTT mirror disabled")
		} else {
			logger.Info().Str("broker", mc.Broker).Str("prefix", mc.TopicPrefix).Msg("MQTT mirror enabled")
			sinks = append(sinks, m)
		}
	}

	return sinks
}

// newServer builds the localhost metrics and health server.
func (a *App) newServer() *http.Server {
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("/ready", rateLimitMiddleware(readyLimiter, func(w http.ResponseWriter, r *http.Request) {
		readinessCheckHandler(w, r, a.barrier, a.dependencies()...)
	}))

	return &http.Server{
		Addr:              "localhost:" + a.metricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// dependencies lists the backends /ready checks once the network is up.
func (a *App) dependencies() []dependency {
	deps := []dependency{{name: "store", check: a.store}}
	if a.history != nil {
		deps = append(deps, dependency{name: "history", check: a.history})
	}
	return deps
}

// Run installs signal handlers and runs the bridge until it exits.
func (a *App) Run() error {
	a.setupSignalHandler()
	return a.RunContext(a.ctx)
}

// RunContext runs the startup sequence, the command listener, and teardown.
// It returns nil on every clean exit, including a failed driver.
func (a *App) RunContext(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	a.startMetricsServer()
	a.configWatcher.Start(ctx)
	defer a.configWatcher.Stop()

	a.writePort(ctx)

	a.runtime.AddWatcher(a.dispatcher.Handle)
	defer a.teardown()

	if err := a.runtime.AddDriver(a.transport); err != nil {
		logger.Error().Err(errors.NewDriverError("add_driver", a.transport.Identifier, err)).
			Msg("Failed to add driver")
		a.barrier.Resolve(barrier.Failed)
	}

	switch state := a.waitForInit(ctx); state {
	case barrier.Ready:
		a.serve(ctx)
	case barrier.Failed:
		logger.Error().Err(errors.ErrDriverFailed).Str("transport", a.transport.Identifier).
			Msg("Network initialization failed, shutting down")
	default:
		logger.Info().Msg("Shutdown requested before network initialization completed")
	}
	return nil
}

// writePort records the transport identifier under the top-level port key
// and logs the stored value back.
func (a *App) writePort(ctx context.Context) {
	if err := a.store.Set(ctx, keys.PortKey, a.transport.Identifier); err != nil {
		logger.Error().Err(err).Str("key", keys.PortKey).Msg("Failed to write port key")
		return
	}
	stored, err := a.store.Get(ctx, keys.PortKey)
	if err != nil {
		logger.Error().Err(err).Str("key", keys.PortKey).Msg("Failed to read port key")
		return
	}
	logger.Info().Str("key", keys.PortKey).Str("value", stored).Msg("Port key written")
}

// waitForInit blocks until the barrier resolves, the init timeout expires,
// or ctx ends. An expired timeout fails the barrier.
func (a *App) waitForInit(ctx context.Context) barrier.State {
	logger.Info().Str("transport", a.transport.Identifier).Msg("Waiting for network initialization")

	waitCtx := ctx
	if timeout := a.cfg.ZWave.InitTimeout; timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	state, err := a.barrier.Wait(waitCtx)
	if err == nil {
		return state
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		logger.Error().Err(errors.ErrInitTimeout).Dur("timeout", a.cfg.ZWave.InitTimeout).
			Msg("Network initialization timed out")
		a.barrier.Resolve(barrier.Failed)
		sendAlert(a.notifier, "danger", "Z-Wave Initialization Timed Out",
			fmt.Sprintf("No network on %s after %s.", a.transport.Identifier, a.cfg.ZWave.InitTimeout))
		return a.barrier.State()
	}
	return barrier.Waiting
}

// sendAlert delivers an operator alert when the notifier is enabled.
func sendAlert(n interfaces.Notifier, severity, title, message string) {
	if n == nil || !n.IsEnabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), alertContextTimeout)
	defer cancel()
	if err := n.SendAlert(ctx, severity, title, message); err != nil {
		logger.Error().Err(err).Str("title", title).Msg("Failed to send alert")
	}
}

// serve runs the ready path: persist runtime config, enable polling, then
// block in the command listener.
func (a *App) serve(ctx context.Context) {
	home := a.dispatcher.HomeID()
	logger.Info().Str("home_id", keys.Hex32(uint32(home))).Msg("Network ready")

	if err := a.runtime.WriteConfig(home); err != nil {
		logger.Warn().Err(err).Str("home_id", keys.Hex32(uint32(home))).Msg("Failed to write runtime configuration")
	}

	enabled := a.dispatcher.EnablePolling(ctx, a.runtime, a.cfg.ZWave.PollIntensity)
	logger.Info().Int("values", enabled).Uint8("intensity", a.cfg.ZWave.PollIntensity).Msg("Polling enabled")

	sub := storage.NewRedisSubscriber(a.redisOpts)
	l := listener.New(sub, a.runtime, a.dispatcher)
	err := l.Run(ctx)
	switch {
	case err == nil:
		logger.Info().Msg("Command listener finished")
	case errors.Is(err, context.Canceled):
		logger.Info().Msg("Command listener stopped")
	default:
		logger.Error().Err(err).Msg("Command listener failed")
	}
	if closeErr := sub.Close(); closeErr != nil {
		logger.Debug().Err(closeErr).Msg("Subscriber close")
	}

	a.logDriverStatistics(home)
}

// logDriverStatistics logs the controller link counters and exports them.
func (a *App) logDriverStatistics(home zwave.HomeID) {
	stats, err := a.runtime.DriverStatistics(home)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read driver statistics")
		return
	}

	counters := map[string]uint32{
		"sof":          stats.SOFCount,
		"ack_waiting":  stats.ACKWaiting,
		"read_aborts":  stats.ReadAborts,
		"bad_checksum": stats.BadChecksum,
		"reads":        stats.ReadCount,
		"writes":       stats.WriteCount,
		"can":          stats.CANCount,
		"nak":          stats.NAKCount,
		"ack":          stats.ACKCount,
		"oof":          stats.OOFCount,
		"dropped":      stats.Dropped,
		"retries":      stats.Retries,
	}
	ev := logger.Info().Str("home_id", keys.Hex32(uint32(home)))
	for name, v := range counters {
		metrics.DriverStatistics.WithLabelValues(name).Set(float64(v))
		ev = ev.Uint32(name, v)
	}
	ev.Msg("Driver statistics")
}

// teardown removes the driver and watcher, destroys the runtime, and closes
// sinks and store.
func (a *App) teardown() {
	if err := a.runtime.RemoveDriver(a.transport); err != nil {
		logger.Debug().Err(err).Str("transport", a.transport.Identifier).Msg("Driver removal")
	}
	a.runtime.RemoveWatcher()
	a.runtime.Destroy()

	a.performGracefulShutdown()
	a.performCleanup()
}

// startMetricsServer starts the HTTP server for metrics and health checks
func (a *App) startMetricsServer() {
	if a.server == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting metrics and health check server (localhost only)")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// setupSignalHandler cancels the app on interrupt signals
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			a.cancel()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown asks a running app to stop.
func (a *App) Shutdown() {
	a.cancel()
}

// UpdateConfig applies the reloadable parts of a new configuration.
func (a *App) UpdateConfig(newCfg *config.Config) {
	if newCfg.Logging.Level != a.cfg.Logging.Level {
		logger.SetLevel(newCfg.Logging.Level)
		logger.Info().Str("level", newCfg.Logging.Level).Msg("Log level updated")
	}
	if newCfg.Notifications.SlackWebhookURL != a.cfg.Notifications.SlackWebhookURL {
		a.notifier.SetWebhookURL(newCfg.Notifications.SlackWebhookURL)
		logger.Info().Bool("enabled", a.notifier.IsEnabled()).Msg("Slack webhook updated")
	}
	a.cfg.Logging = newCfg.Logging
	a.cfg.Notifications = newCfg.Notifications
}

// DumpApplicationState dumps current application state to logs
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	home := a.dispatcher.HomeID()
	logger.Info().
		Str("transport", a.transport.Identifier).
		Str("home_id", keys.Hex32(uint32(home))).
		Str("barrier", a.barrier.State().String()).
		Str("breaker", a.store.State()).
		Int("sinks", len(a.sinks)).
		Str("log_level", logger.Level().String()).
		Msg("Bridge state")

	ctx, cancel := context.WithTimeout(context.Background(), dumpQueryTimeout)
	defer cancel()
	if a.history != nil {
		a.history.Flush()
	}

	polled := a.dispatcher.Registry().Snapshot()
	logger.Info().Int("polled_values", len(polled)).Msg("Poll registry")
	for _, v := range polled {
		key := keys.ValueKey(v.HomeID, v.NodeID, v)
		event := logger.Info().
			Str("key", key).
			Str("label", a.runtime.ValueLabel(v))
		if a.history != nil {
			if sample, err := a.history.QueryLatestValue(ctx, key); err == nil {
				event = event.Str("last_recorded", sample.Value).Time("recorded_at", sample.Timestamp)
			} else {
				event = event.AnErr("history_err", err)
			}
		}
		event.Msg("Polled value")
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024)
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}

// performGracefulShutdown stops the HTTP server
func (a *App) performGracefulShutdown() {
	logger.Info().Msg("Initiating graceful shutdown...")

	if a.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
		} else {
			logger.Info().Msg("HTTP server stopped")
		}
	}
	a.cancel()
}

// performCleanup closes sinks and the store, then waits for goroutines
func (a *App) performCleanup() {
	a.shutdownOnce.Do(func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
		defer flushCancel()

		flushDone := make(chan struct{})
		go func() {
			for _, s := range a.sinks {
				s.Close()
			}
			close(flushDone)
		}()

		select {
		case <-flushDone:
			logger.Info().Msg("Event sinks closed")
		case <-flushCtx.Done():
			logger.Warn().Msg("Event sink close timeout - some history may be lost")
		}

		if err := a.store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Store close")
		}

		logger.Info().Msg("Waiting for goroutines to finish...")
		a.wg.Wait()
		logger.Info().Msg("All goroutines finished, exiting")
	})
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded for health endpoint")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// healthCheckHandler handles health check requests
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

type healthChecker interface {
	Health(ctx context.Context) error
}

type dependency struct {
	name  string
	check healthChecker
}

// readinessCheckHandler reports ready once the network is initialized and
// every dependency answers.
func readinessCheckHandler(w http.ResponseWriter, _ *http.Request, b *barrier.Barrier, deps ...dependency) {
	if state := b.State(); state != barrier.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := w.Write([]byte("NOT READY: network " + state.String())); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), readinessCheckTimeout)
	defer cancel()

	for _, d := range deps {
		if err := d.check.Health(ctx); err != nil {
			logger.Warn().Err(err).Str("dependency", d.name).Msg("Readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, writeErr := w.Write([]byte("NOT READY: " + d.name + " unhealthy")); writeErr != nil {
				logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
			}
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}
