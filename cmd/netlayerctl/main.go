// Command netlayerctl is a small demo harness that wires the network
// layer's components together the way a real caller would: config,
// logging, registry/tracker/bus/lifecycle behind a Coordinator, a
// connection pool, and a circuit breaker registry — then dials one
// target and prints a status table of what happened.
//
// It follows the usual styled-logger setup and signal-driven graceful
// shutdown shape, without an HTTP server on top, since the network
// layer here is a library.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/thushan/netlayer/internal/config"
	"github.com/thushan/netlayer/internal/logger"
	"github.com/thushan/netlayer/internal/netbus"
	"github.com/thushan/netlayer/pkg/breaker"
	"github.com/thushan/netlayer/pkg/container"
	"github.com/thushan/netlayer/pkg/coordinator"
	"github.com/thushan/netlayer/pkg/lifecycle"
	"github.com/thushan/netlayer/pkg/pool"
	"github.com/thushan/netlayer/pkg/registry"
	"github.com/thushan/netlayer/pkg/tracker"
)

const version = "0.1.0"

func main() {
	host := flag.String("host", "example.com", "target host to dial")
	port := flag.Int("port", 80, "target port to dial")
	timeout := flag.Duration("timeout", 5*time.Second, "dial timeout")
	flag.Parse()

	cfg := config.DefaultConfig()

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(&logger.Config{
		Level:      cfg.Logging.Level,
		LogDir:     cfg.Logging.LogDir,
		Theme:      cfg.Logging.Theme,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		FileOutput: cfg.Logging.FileOutput,
		PrettyLogs: cfg.Logging.PrettyLogs,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("netlayerctl starting", "version", version, "pid", os.Getpid())
	if container.IsContainerised() {
		styledLogger.Info("running inside a container; cgroup limits may be tighter than the configured defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	reg := registry.New()
	trk := tracker.New(map[tracker.ResourceType]int64{
		tracker.ResourceConnections:     cfg.Tracker.MaxConnections,
		tracker.ResourceMemory:          cfg.Tracker.MaxMemoryBytes,
		tracker.ResourceBandwidth:       cfg.Tracker.MaxBandwidthBps,
		tracker.ResourceFileDescriptors: cfg.Tracker.MaxFileDescriptors,
		tracker.ResourceBuffers:         cfg.Tracker.MaxBuffers,
	})
	bus := netbus.New()
	lc := lifecycle.New(styledLogger)
	coord := coordinator.New(reg, trk, bus, lc)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		Timeout:          cfg.CircuitBreaker.Timeout,
		WindowSize:       cfg.CircuitBreaker.WindowSize,
	})

	poolMgr := pool.NewManager(pool.Config{
		MinConnections:      cfg.Pool.MinConnections,
		MaxConnections:      cfg.Pool.MaxConnections,
		IdleTimeout:         cfg.Pool.IdleTimeout,
		MaxLifetime:         cfg.Pool.MaxLifetime,
		ConnectionTimeout:   cfg.Pool.ConnectionTimeout,
		HealthCheckInterval: cfg.Pool.HealthCheckInterval,
	}, pool.DefaultDialer, reg, trk, bus)

	events, unsubscribe := bus.SubscribeAll(ctx)
	defer unsubscribe()
	go func() {
		for ev := range events {
			styledLogger.Info("event", "type", string(ev.Type), "connection_id", ev.ConnectionID)
		}
	}()

	cb := breakers.Get(fmt.Sprintf("%s:%d", *host, *port))
	result, dialErr := demoDial(ctx, coord, poolMgr, cb, *host, *port, *timeout)
	printStatusTable(result, dialErr)

	if conn := result.connection; conn != nil {
		coord.CloseConnection(ctx, conn.ID)
	}

	styledLogger.Info("netlayerctl done")
}

type demoResult struct {
	host       string
	port       int
	healthy    bool
	breakerSt  string
	connection *registry.RegisteredConnection
}

func demoDial(ctx context.Context, coord *coordinator.Coordinator, poolMgr *pool.ConnectionPoolManager, cb *breaker.CircuitBreaker, host string, port int, timeout time.Duration) (demoResult, error) {
	result := demoResult{host: host, port: port, healthy: coord.IsHealthy()}

	var conn *registry.RegisteredConnection
	var pooledErr error
	callErr := cb.Call(func() error {
		pc, ok := poolMgr.Acquire(ctx, host, port, timeout)
		if !ok {
			pooledErr = fmt.Errorf("failed to acquire a connection to %s:%d", host, port)
			return pooledErr
		}
		conn = coord.OpenConnection(ctx, pc.Conn, host, port, registry.ProtocolTCP)
		return nil
	})
	result.breakerSt = string(cb.State())
	result.connection = conn

	if callErr != nil {
		return result, callErr
	}
	return result, pooledErr
}

func printStatusTable(result demoResult, dialErr error) {
	status := "ok"
	if dialErr != nil {
		status = dialErr.Error()
	}
	connID := "-"
	if result.connection != nil {
		connID = result.connection.ID
	}

	tableData := [][]string{
		{"FIELD", "VALUE"},
		{"target", fmt.Sprintf("%s:%d", result.host, result.port)},
		{"connection_id", connID},
		{"breaker_state", result.breakerSt},
		{"coordinator_healthy", fmt.Sprintf("%t", result.healthy)},
		{"status", status},
	}
	tableString, _ := pterm.DefaultTable.WithHasHeader().WithData(tableData).Srender()
	fmt.Print(tableString)
}
