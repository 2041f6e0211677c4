// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/absmach/mudproxy"
	"github.com/absmach/mudproxy/examples/simple"
	"github.com/absmach/mudproxy/pkg/breaker"
	mperrors "github.com/absmach/mudproxy/pkg/errors"
	"github.com/absmach/mudproxy/pkg/events"
	"github.com/absmach/mudproxy/pkg/handler"
	"github.com/absmach/mudproxy/pkg/health"
	"github.com/absmach/mudproxy/pkg/metrics"
	"github.com/absmach/mudproxy/pkg/proxy"
	"github.com/absmach/mudproxy/pkg/ratelimit"
	"github.com/absmach/mudproxy/pkg/server/websocket"
	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

// Version is set by the build system.
var Version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "mudproxy"
	app.Usage = "share one MUD session between several Telnet clients"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "hostname, H",
			Usage: "Host name of the MUD server",
		},
		cli.IntFlag{
			Name:  "host-port, p",
			Usage: "Port to connect to the MUD server on",
		},
		cli.IntFlag{
			Name:  "proxy-port, l",
			Usage: "Port the proxy listens for clients on",
		},
		cli.BoolFlag{
			Name:  "mccp, c",
			Usage: "Enable MUD Client Compression V2 (MCCP2) if the server supports it",
		},
		cli.BoolFlag{
			Name:  "mxp, m",
			Usage: "Accept MUD eXtension Protocol (MXP) if the server offers it",
		},
		cli.StringFlag{
			Name:  "terminal-type, t",
			Usage: "Terminal type reported to the MUD server",
		},
		cli.BoolFlag{
			Name:  "auto-connect, a",
			Usage: "Connect to the MUD server at startup instead of waiting for Enter",
		},
	}
	app.Action = run
	app.Commands = []cli.Command{
		{
			Name:   "healthcheck",
			Usage:  "Query the readiness endpoint of a running proxy",
			Action: func(c *cli.Context) error { return healthcheck(c.String("addr"), c.Duration("timeout")) },
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "addr, a",
					Value: "localhost:8080",
					Usage: "Health server address",
				},
				cli.DurationFlag{
					Name:  "timeout",
					Value: 5 * time.Second,
					Usage: "Request timeout",
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := mudproxy.NewConfig(env.Options{})
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	applyFlags(c, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	m := metrics.New("mudproxy", nil)
	checker := health.NewChecker(time.Second)

	handlers := handler.Multi{simple.New(logger)}
	if cfg.RedisAddr != "" {
		rdb, err := events.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cb := breaker.New(breaker.Config{})
		cb.OnStateChange(func(from, to breaker.State) {
			logger.Warn("event publisher circuit changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		})
		ev := events.New(rdb, events.Config{Channel: cfg.RedisChannel, Breaker: cb, Logger: logger})
		defer ev.Close()
		handlers = append(handlers, ev)
		checker.Register("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		logger.Info("publishing events",
			slog.String("redis", cfg.RedisAddr),
			slog.String("channel", cfg.RedisChannel))
	}

	var limiter *ratelimit.Limiter
	if cfg.AcceptRateCapacity > 0 {
		limiter = ratelimit.NewLimiter(cfg.AcceptRateCapacity, cfg.AcceptRateRefill, 0)
		defer limiter.Close()
	}

	p := proxy.New(proxy.Config{
		Negotiation:       cfg.Negotiation(),
		BufferSize:        cfg.ReadBufferSize,
		QueueSize:         cfg.ClientQueueSize,
		MaxSubnegotiation: cfg.MaxSubnegotiation,
		DialTimeout:       cfg.DialTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		TLSConfig:         tlsCfg,
		RateLimiter:       limiter,
		Metrics:           m,
		Logger:            logger,
	}, handlers)

	checker.Register("host", func(context.Context) error {
		if !p.HostConnected() {
			return mperrors.ErrHostNotConnected
		}
		return nil
	})

	g.Go(func() error {
		return p.StartListening(ctx, cfg.ProxyPort)
	})
	logger.Info("listening for clients", slog.Int("port", cfg.ProxyPort))

	if cfg.WSPort > 0 {
		ws := websocket.New(websocket.Config{
			Address:         fmt.Sprintf(":%d", cfg.WSPort),
			TLSConfig:       tlsCfg,
			ShutdownTimeout: cfg.ShutdownTimeout,
			RateLimiter:     limiter,
			Metrics:         m,
			Logger:          logger,
		}, p)
		g.Go(func() error {
			return ws.Listen(ctx)
		})
	}

	if cfg.MetricsPort > 0 {
		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Handle("/metrics", promhttp.Handler())
		if cfg.HealthPort == cfg.MetricsPort {
			checker.Routes(r)
		}
		g.Go(func() error {
			return serveHTTP(ctx, "metrics", cfg.MetricsPort, r, logger)
		})
	}

	if cfg.HealthPort > 0 && cfg.HealthPort != cfg.MetricsPort {
		g.Go(func() error {
			return serveHTTP(ctx, "health", cfg.HealthPort, checker.Router(), logger)
		})
	}

	g.Go(func() error {
		return connect(ctx, p, cfg, os.Stdin, logger)
	})

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("mudproxy terminated with error: %s", err))
		return err
	}
	logger.Info("mudproxy stopped")
	return nil
}

// applyFlags overrides environment settings with flags given on the command
// line.
func applyFlags(c *cli.Context, cfg *mudproxy.Config) {
	if c.IsSet("hostname") {
		cfg.HostName = c.String("hostname")
	}
	if c.IsSet("host-port") {
		cfg.HostPort = c.Int("host-port")
	}
	if c.IsSet("proxy-port") {
		cfg.ProxyPort = c.Int("proxy-port")
	}
	if c.IsSet("mccp") {
		cfg.EnableMCCP = c.Bool("mccp")
	}
	if c.IsSet("mxp") {
		cfg.EnableMXP = c.Bool("mxp")
	}
	if c.IsSet("terminal-type") {
		cfg.TerminalType = c.String("terminal-type")
	}
	if c.IsSet("auto-connect") {
		cfg.AutoConnect = c.Bool("auto-connect")
	}
}

// connect dials the MUD host, first waiting for Enter on in unless
// auto-connect is set. A failed dial is logged and leaves the client
// listener running.
func connect(ctx context.Context, p *proxy.Proxy, cfg mudproxy.Config, in io.Reader, logger *slog.Logger) error {
	if !cfg.AutoConnect {
		fmt.Println("Press Enter to connect to the MUD server.")
		line := make(chan struct{})
		go func() {
			bufio.NewReader(in).ReadString('\n')
			close(line)
		}()
		select {
		case <-line:
		case <-ctx.Done():
			return nil
		}
	}

	if err := p.ConnectToHost(ctx, cfg.HostName, cfg.HostPort); err != nil {
		// Clients stay connected; only binding the listener is fatal.
		logger.Error("failed to connect to host",
			slog.String("host", cfg.HostName),
			slog.Int("port", cfg.HostPort),
			slog.String("error", err.Error()))
		return nil
	}
	logger.Info("proxy running, press CTRL+C to exit",
		slog.String("host", cfg.HostName),
		slog.Int("port", cfg.HostPort),
		slog.Bool("mccp", cfg.EnableMCCP))
	return nil
}

// serveHTTP runs an HTTP server until ctx is cancelled.
func serveHTTP(ctx context.Context, name string, port int, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info(fmt.Sprintf("starting %s server", name), slog.String("address", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// healthcheck exits non-zero unless the proxy reports ready.
func healthcheck(addr string, timeout time.Duration) error {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	client := http.Client{Timeout: timeout}
	resp, err := client.Get(strings.TrimSuffix(addr, "/") + "/ready")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy not ready: %s", resp.Status)
	}
	return nil
}

// setupLogger configures the logger based on level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
