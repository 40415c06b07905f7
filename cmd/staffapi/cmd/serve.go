package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/cmd/cmdutil"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/auth"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/config"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/bunx"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/migrations"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/server"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/service"
	"github.com/terraconstructs/staffgrid/internal/telemetry"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the StaffGrid API server",
	Long:  `Starts the HTTP server with the authentication endpoints and /health.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		ctx := cmd.Context()

		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			OTLPEndpoint:   cfg.OTLPEndpoint,
			OTLPInsecure:   true,
			ServiceName:    "staffapi",
			ServiceVersion: "dev",
			Environment:    "development",
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()

		db, err := cmdutil.OpenDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer bunx.Close(db)
		logger.Info("connected to database", "type", bunx.DetectDatabaseType(cfg.DatabaseURL))

		if migrateOnStart {
			group, err := migrations.Apply(ctx, db)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "group", group.ID)
		}

		var delivery auth.OTPDelivery = auth.LogDelivery{Logger: logger}
		if cfg.OTPDelivery == config.OTPDeliveryStdout {
			delivery = auth.WriterDelivery{W: os.Stdout}
		}
		tokens := auth.NewTokenIssuer([]byte(cfg.JWTSigningKey), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
		deps, err := service.NewBunDependencies(db, tokens, auth.NewOTPIssuer(delivery))
		if err != nil {
			return err
		}
		svc := service.NewAuthService(deps, service.Options{
			OTPTTL:         cfg.OTPTTL,
			OTPMaxAttempts: cfg.OTPMaxAttempts,
			Logger:         logger,
		})

		corsOpts := server.DefaultCORSOptions(cfg.AllowedOrigins)
		handler := server.NewH2CHandler(server.RouterOptions{
			Service:     svc,
			Tokens:      tokens,
			Logger:      logger,
			APIPrefix:   cfg.APIPrefix,
			CORSOptions: &corsOpts,
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server", "addr", cfg.ServerAddr, "prefix", cfg.APIPrefix)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP reloads the grant policies after out-of-band edits.
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-reload:
				if err := deps.Enforcer.Reload(); err != nil {
					logger.Error("grant reload failed", "signal", sig.String(), "error", err)
				} else {
					logger.Info("grants reloaded", "signal", sig.String())
				}

			case sig := <-shutdown:
				logger.Info("shutting down gracefully", "signal", sig.String())

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				logger.Info("server stopped")
				return nil
			}
		}
	},
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "Apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}
