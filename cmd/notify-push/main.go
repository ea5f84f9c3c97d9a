// Command notify-push runs the push notification gateway: it authenticates
// WebSocket clients against a Nextcloud instance, fans out events ingested
// from Redis pub/sub to the clients subscribed to them, and exposes a small
// metrics and debug HTTP surface alongside the WebSocket listener.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nextcloud/notify-push/internal/dispatch"
	"github.com/nextcloud/notify-push/internal/gateway"
	"github.com/nextcloud/notify-push/internal/identity"
	"github.com/nextcloud/notify-push/internal/ingest"
	"github.com/nextcloud/notify-push/internal/ncclient"
	"github.com/nextcloud/notify-push/internal/npconfig"
	"github.com/nextcloud/notify-push/internal/preauth"
	"github.com/nextcloud/notify-push/internal/registry"
	"github.com/nextcloud/notify-push/internal/reset"
	"github.com/nextcloud/notify-push/internal/storagemap"
	"github.com/nextcloud/notify-push/internal/wsconn"
)

// version is the value published over the /test/version route and printed
// by -version; set at release time via -ldflags, "dev" otherwise.
var version = "dev"

func main() {
	cfg, err := npconfig.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Println(version)
		return
	}

	if cfg.DumpConfig {
		out, err := cfg.Dump()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Print(out)
		return
	}

	levelVar := configureLogging(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("notify-push: invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, levelVar); err != nil {
		slog.Error("notify-push: fatal error", "error", err)
		os.Exit(1)
	}
}

// configureLogging installs the process-wide slog handler behind a
// *slog.LevelVar so the dispatcher's log-level stack (§4.8 ConfigLogSpec /
// ConfigLogRestore) can adjust verbosity at runtime.
func configureLogging(cfg npconfig.Config) *slog.LevelVar {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelWarn
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(level)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})
	slog.SetDefault(slog.New(handler))
	return levelVar
}

func run(cfg npconfig.Config, levelVar *slog.LevelVar) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	identity.Init()

	db, dialect, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	mapping := storagemap.New(db, cfg.DatabasePrefix, dialect)

	nc, err := ncclient.New(cfg.NextcloudURL, cfg.AllowSelfSigned)
	if err != nil {
		return fmt.Errorf("configuring nextcloud client: %w", err)
	}

	rdb, err := openRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	if err := gateway.SelfTest(ctx, mapping, dispatch.RedisKV{Client: rdb}); err != nil {
		slog.Warn("notify-push: self test failed", "error", err)
	}

	reg := registry.New()
	pre := preauth.New()
	resetBroadcaster := reset.New()

	logStack := dispatch.NewLogLevelStack(levelVar.Level(), func(l slog.Level) { levelVar.Set(l) })

	disp := dispatch.New(reg, mapping, pre, dispatch.RedisKV{Client: rdb}, logStack, resetBroadcaster.Fire)

	go ingest.Loop(ctx, rdb, disp.Handle)

	wsServer := &wsconn.Server{
		NC:                nc,
		PreAuth:           pre,
		Registry:          reg,
		Reset:             resetBroadcaster,
		MaxDebounce:       cfg.MaxDebounceTime,
		DebounceEnabled:   true,
		MaxConnectionTime: cfg.MaxConnectionTime,
	}

	gw := &gateway.Server{
		WS:         wsServer,
		Mapping:    mapping,
		NC:         nc,
		KV:         dispatch.RedisKV{Client: rdb},
		TestCookie: disp.TestCookie,
		Version:    version,
	}

	bind := gateway.Bind{Network: "tcp", Address: fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)}
	if cfg.Socket != "" {
		bind = gateway.Bind{Network: "unix", Address: cfg.Socket, SocketPermissions: cfg.SocketPermissions}
	}
	listener, err := gateway.Listen(bind)
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}

	srv := &http.Server{Handler: gw.Routes()}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("notify-push: listening", "network", bind.Network, "address", bind.Address)
		serveErr <- srv.Serve(listener)
	}()

	var metricsServer *http.Server
	if cfg.MetricsBind != "" && cfg.MetricsPort != 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.MetricsBind, cfg.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			slog.Info("notify-push: metrics listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("notify-push: metrics server error", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("notify-push: shutting down")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serving: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}

func openDatabase(dsn string) (*sql.DB, storagemap.Dialect, error) {
	driver := "postgres"
	dialect := storagemap.DialectPositional
	if strings.HasPrefix(dsn, "mysql://") {
		driver = "mysql"
		dialect = storagemap.DialectQuestion
		dsn = strings.TrimPrefix(dsn, "mysql://")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, dialect, err
	}
	return db, dialect, nil
}

func openRedis(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
