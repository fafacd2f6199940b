package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/npezzotti/rtc-signal/internal/api"
	"github.com/npezzotti/rtc-signal/internal/config"
	"github.com/npezzotti/rtc-signal/internal/database"
	"github.com/npezzotti/rtc-signal/internal/logging"
	"github.com/npezzotti/rtc-signal/internal/notify"
	"github.com/npezzotti/rtc-signal/internal/server"
	"github.com/npezzotti/rtc-signal/internal/stats"
	"github.com/npezzotti/rtc-signal/internal/types"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configPath     string
	flagParams     config.Params
	allowedOrigins stringSliceFlag
	tokenFor       int64
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&flagParams.ServerAddr, "addr", "", "server address")
	flag.StringVar(&flagParams.DatabaseDSN, "dsn", "", "database connection string")
	flag.StringVar(&flagParams.SigningKey, "signing-key", "", "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&flagParams.LogEnv, "log-env", "", "log format: dev or prod")
	flag.StringVar(&flagParams.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	flag.StringVar(&flagParams.RedisAddr, "redis-addr", "", "redis address for cross-instance notices")
	flag.BoolVar(&flagParams.Migrate, "migrate", false, "apply database migrations on startup")
	flag.StringVar(&flagParams.WriteTimeout, "write-timeout", "", "timeout for a single room write")
	flag.Int64Var(&tokenFor, "token-for", 0, "print a session token for the given user id and exit")
	flag.Parse()
	flagParams.AllowedOrigins = allowedOrigins

	params := config.DefaultParams()
	params.SigningKey = defaultSigningKey
	if configPath != "" {
		fileParams, err := config.LoadParams(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
		params = params.Override(fileParams)
	}
	params = params.Override(flagParams)

	cfg, err := config.NewConfig(params)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if tokenFor > 0 {
		token, err := api.NewSessionToken(cfg.SigningKey, tokenFor, 24*time.Hour)
		if err != nil {
			fmt.Fprintln(os.Stderr, "token:", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	logger := logging.New(logging.Config{
		Env:   cfg.LogEnv,
		Level: logging.ParseLevel(cfg.LogLevel),
	})

	if err := run(logger, cfg); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg *config.Config) error {
	dbConn, err := database.NewPgRoomRepository(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("db close", "error", err)
		}
	}()

	if cfg.Migrate {
		if err := dbConn.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database migrations applied")
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	signalServer := server.NewSignalServer(logger, dbConn, statsUpdater, cfg.WriteTimeout)
	broker := notify.NewBroker(logger, dbConn, statsUpdater)

	busCtx, cancelBus := context.WithCancel(context.Background())
	defer cancelBus()

	if cfg.RedisAddr != "" {
		connectCtx, cancel := context.WithTimeout(busCtx, 5*time.Second)
		bus, err := notify.NewRedisBus(connectCtx, cfg.RedisAddr, logger)
		cancel()
		if err != nil {
			return fmt.Errorf("redis bus: %w", err)
		}
		defer bus.Close()

		broker.UsePublisher(bus)
		go bus.Subscribe(busCtx, func(userId int64, n types.Notice) {
			broker.Deliver(userId, n)
		})
		logger.Info("follower notices routed through redis", "addr", cfg.RedisAddr)
	}

	app := api.NewSignalApp(mux, logger, signalServer, dbConn, broker, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server", "error", err)
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// event streams only end when their channel closes
	broker.Close()

	if err := app.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	if err := signalServer.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("signal server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
