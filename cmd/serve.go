package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"groupdrive/internal/database"
	"groupdrive/internal/handler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ops HTTP server, the gRPC health service and the trash cleanup loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withApp(cmd, func(_ context.Context, a *app) error {
			return serve(ctx, a)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and report the schema state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := database.CheckMigrationStatus(a.db); err != nil {
				return err
			}
			fmt.Printf("Schema is up to date (%s)\n", a.db.DriverName())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func serve(ctx context.Context, a *app) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := a.logger

	var gatherer prometheus.Gatherer
	if a.registry != nil {
		gatherer = a.registry
	}
	ops := handler.NewOpsHandler(a.db, gatherer, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", a.cfg.Server.Port),
		Handler:           ops.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", a.cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Starting gRPC server", "port", a.cfg.Server.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		logger.Info("Starting HTTP server", "port", a.cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		runCleanup(ctx, a)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down servers...")
	case runErr = <-errCh:
		logger.Error("Server failed", "error", runErr)
	}

	cancel()
	healthServer.Shutdown()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	<-cleanupDone

	logger.Info("Server exited properly")
	return runErr
}

// runCleanup периодически удаляет из корзины просроченные файлы, пока не отменён ctx
func runCleanup(ctx context.Context, a *app) {
	ticker := time.NewTicker(a.cfg.Trash.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := a.trash.AutoCleanup(ctx)
			if err != nil {
				a.logger.Error("Error during trash auto cleanup", "purged", purged, "error", err)
				continue
			}
			if purged > 0 {
				a.logger.Info("Trash auto cleanup finished", "purged", purged)
			}
		}
	}
}
