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

	"github.com/matchatime/sessiond/cmd/cmdutil"
	"github.com/matchatime/sessiond/internal/auth"
	"github.com/matchatime/sessiond/internal/mailer"
	"github.com/matchatime/sessiond/internal/migrations"
	"github.com/matchatime/sessiond/internal/server"
	"github.com/matchatime/sessiond/internal/services/iam"
	"github.com/matchatime/sessiond/internal/telemetry"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sessiond HTTP server",
	Long:  `Starts the HTTP server with the /auth endpoints and the background cleanup job.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability, string(cfg.Environment))
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(flushCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()

		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("failed to create server metrics: %w", err)
		}
		authMetrics, err := telemetry.NewAuthMetrics()
		if err != nil {
			return fmt.Errorf("failed to create auth metrics: %w", err)
		}

		var exchanger iam.IdentityExchanger
		if cfg.OIDC.Enabled() {
			rp, err := auth.NewRelyingParty(ctx, cfg.OIDC, nil)
			if err != nil {
				return fmt.Errorf("failed to create relying party: %w", err)
			}
			exchanger = rp
			logger.Info("federated login enabled", "issuer", cfg.OIDC.Issuer)
		}

		bundle, err := cmdutil.NewIAMServiceBundle(ctx, cfg, cmdutil.IAMServiceOptions{
			Logger:    logger,
			Exchanger: exchanger,
			Mailer:    mailer.NewAsync(mailer.LogMailer{Logger: logger}, logger),
			Metrics:   authMetrics,
		})
		if err != nil {
			return err
		}
		defer bundle.Close()
		logger.Info("connected to database")

		if autoMigrate {
			group, err := migrations.Apply(ctx, bundle.DB)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "group_id", group.ID)
		}

		hashKey, blockKey := cfg.Cookie.Keys()
		flowCookie, err := auth.NewFlowStateCookie(hashKey, blockKey, cfg.Cookie.FlowTTL, cfg.IsDevelopment(), cfg.Cookie.Domain)
		if err != nil {
			return fmt.Errorf("failed to create flow cookie codec: %w", err)
		}

		handler := server.NewH2CHandler(server.RouterOptions{
			IAMService:    bundle.Service,
			Cfg:           cfg,
			FlowCookie:    flowCookie,
			DB:            bundle.DB,
			Logger:        logger,
			ServerMetrics: serverMetrics,
		})

		srv := &http.Server{
			Addr:              cfg.ServerAddr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		job := server.NewCleanupJob(bundle.Service, cfg.Jobs.CleanupInitialDelay, cfg.Jobs.CleanupInterval, logger)
		jobDone := make(chan struct{})
		go func() {
			defer close(jobDone)
			job.Run(ctx)
		}()

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server",
				"addr", cfg.ServerAddr,
				"environment", cfg.Environment,
				"federated_login", bundle.Service.FederatedLoginEnabled(),
			)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			stop()
			<-jobDone
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
		}

		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		<-jobDone

		logger.Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}
