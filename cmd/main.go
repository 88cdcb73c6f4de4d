package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/angeloszaimis/failover-lb/config"
	"github.com/angeloszaimis/failover-lb/internal/backend"
	"github.com/angeloszaimis/failover-lb/internal/circuitbreaker"
	"github.com/angeloszaimis/failover-lb/internal/handler"
	"github.com/angeloszaimis/failover-lb/internal/httpserver"
	"github.com/angeloszaimis/failover-lb/internal/loadbalancer"
	"github.com/angeloszaimis/failover-lb/internal/transport"
	"github.com/angeloszaimis/failover-lb/pkg/logger"
)

// writeTimeoutMargin covers the time spent writing the response after the
// last backend attempt.
const writeTimeoutMargin = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default: ./config/config.yaml or ./config.yaml)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	if *printConfig {
		if err := cfg.WriteYAML(os.Stdout); err != nil {
			slog.Error("failed to print config", slog.Any("err", err))
			os.Exit(1)
		}
		return
	}

	level := new(slog.LevelVar)
	level.Set(logger.ParseLevel(cfg.Logging.Level))
	log := logger.New(level, true, cfg.Server.Environment, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lb, err := buildBalancer(cfg, log)
	if err != nil {
		log.Error("Failed to initialize backends", slog.Any("err", err))
		os.Exit(1)
	}

	loadBalancerHandler := handler.NewLoadBalancerHandler(log.With(slog.String("component", "handler")), lb, nil)

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(loadBalancerHandler, lb),
		httpserver.WithLogger(log),
		httpserver.WithWriteTimeout(writeTimeout(cfg)),
		httpserver.WithShutdownTimeout(cfg.ShutdownTimeout()))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	if cfg.Source != "" {
		go func() {
			if err := config.Watch(ctx, cfg.Source, reloader(cfg, level, log)); err != nil {
				log.Warn("Config hot reload disabled", slog.String("file", cfg.Source), slog.Any("err", err))
			}
		}()
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Load balancer started",
		slog.String("address", srv.Addr()),
		slog.Int("backends", len(lb.Backends())),
		slog.Bool("circuit_breaker", cfg.CircuitBreaker.Enabled))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting load balancer", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

// buildBalancer creates the backend pool described by cfg.
func buildBalancer(cfg *config.Config, log *slog.Logger) (*loadbalancer.LoadBalancer, error) {
	factory := transport.NewFactory(transport.Options{Timeout: cfg.TransportTimeout()})

	if cfg.CircuitBreaker.Enabled {
		registry := circuitbreaker.NewRegistry(cfg.CircuitBreaker.Threshold, cfg.BreakerResetTimeout())
		factory = registry.Decorate(factory)
	}

	targets := make([]backend.Target, 0, len(cfg.Backends))
	for _, url := range cfg.BackendURLs() {
		targets = append(targets, backend.Host(url))
	}

	lb, err := loadbalancer.New(targets, factory,
		backend.Options{HealthURL: cfg.Balancer.HealthURL},
		loadbalancer.WithLogger(log.With(slog.String("component", "loadbalancer"))))
	if err != nil {
		return nil, fmt.Errorf("build load balancer: %w", err)
	}

	return lb, nil
}

// writeTimeout lets a request try every backend once before the server
// gives up on writing the response.
func writeTimeout(cfg *config.Config) time.Duration {
	return time.Duration(len(cfg.Backends))*cfg.TransportTimeout() + writeTimeoutMargin
}

// reloader applies the parts of a reloaded configuration that can change at
// runtime. Everything else needs a restart.
func reloader(current *config.Config, level *slog.LevelVar, log *slog.Logger) func(*config.Config) {
	return func(next *config.Config) {
		newLevel := logger.ParseLevel(next.Logging.Level)
		if newLevel != level.Level() {
			level.Set(newLevel)
			log.Info("Log level updated", slog.String("level", newLevel.String()))
		}

		if !slices.Equal(current.BackendURLs(), next.BackendURLs()) ||
			current.Server.Address != next.Server.Address ||
			current.Transport != next.Transport ||
			current.CircuitBreaker != next.CircuitBreaker ||
			current.Balancer != next.Balancer {
			log.Warn("Config changes other than logging.level take effect after a restart")
		}
	}
}
