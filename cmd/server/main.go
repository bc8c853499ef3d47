// Package main is the entry point of the OpenVPN fleet portal. It loads
// configuration, opens the database, seeds the first admin account and serves
// the REST API and the telemetry ingestion endpoint until it receives SIGINT
// or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ovpn-portal/internal/auth"
	"ovpn-portal/internal/config"
	"ovpn-portal/internal/database"
	"ovpn-portal/internal/monitoring"
	"ovpn-portal/internal/telemetry"
	"ovpn-portal/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "portal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := monitoring.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := monitoring.NewLogManagerWithConfig(monitoring.LogConfig{
		LogLevel:    level,
		Pretty:      cfg.LogPretty,
		LogToStdout: true,
		LogFile:     cfg.LogFile,
		BufferSize:  1000,
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	bootstrap, err := db.Bootstrap(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword, cfg.BcryptCost)
	if err != nil {
		return err
	}
	if bootstrap.Created {
		fields := map[string]interface{}{"username": bootstrap.Username}
		if bootstrap.GeneratedPassword != "" {
			fields["password"] = bootstrap.GeneratedPassword
		}
		logger.LogWithMetadata(monitoring.LogLevelWarn, "Seeded initial admin account; change its password after first login", fields)
	}

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		if jwtSecret, err = auth.GenerateSecureSecret(); err != nil {
			return err
		}
		logger.LogWarn("JWT_SECRET is not set; sessions will not survive a restart")
	}
	authManager := auth.NewAuthManagerWithConfig(jwtSecret, cfg.SessionDuration())

	authenticator := telemetry.NewAuthenticator(db, cfg.AgentSharedSecret, cfg.ServerKeyCacheDuration())
	defer authenticator.Close()
	if cfg.AgentSharedSecret == "" {
		logger.LogInfo("AGENT_SHARED_SECRET is not set; agents must use per-server API keys")
	}

	var publisher telemetry.Publisher = telemetry.NopPublisher{}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kafkaPublisher, err := telemetry.NewKafkaPublisher(brokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		publisher = kafkaPublisher
		logger.LogWithMetadata(monitoring.LogLevelInfo, "Mirroring telemetry to Kafka", map[string]interface{}{
			"brokers": brokers,
			"topic":   cfg.KafkaTopic,
		})
	}
	defer publisher.Close()

	monitor := monitoring.NewMonitorWithConfig(db, logger, &monitoring.MonitorConfig{
		UpdateInterval:  cfg.MonitorDuration(),
		StaleAfter:      cfg.StaleAfterDuration(),
		EnableDebugLogs: level <= monitoring.LogLevelDebug,
	})

	server := web.NewServer(web.Dependencies{
		DB:            db,
		AuthManager:   authManager,
		Reconciler:    telemetry.NewReconciler(db, logger),
		Authenticator: authenticator,
		Publisher:     publisher,
		Monitor:       monitor,
		Logger:        logger,
	}, &web.ServerConfig{
		Addr:          cfg.HTTPAddr,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  30 * time.Second,
		AllowedOrigin: cfg.AllowedOrigin,
		CookieSecure:  cfg.CookieSecure,
		BcryptCost:    cfg.BcryptCost,
		Debug:         !cfg.IsProduction() && level <= monitoring.LogLevelDebug,
	})
	if err := server.Listen(); err != nil {
		return err
	}

	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = monitor.Stop() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Serve)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.LogWithMetadata(monitoring.LogLevelInfo, "Portal started", map[string]interface{}{
		"env":       cfg.Env,
		"addr":      server.Addr(),
		"db_driver": cfg.DBDriver,
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.LogInfo("Portal stopped")
	return nil
}
