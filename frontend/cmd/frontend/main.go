package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/neuroaccess/neuroaccess/frontend/internal/router"
	"github.com/neuroaccess/neuroaccess/frontend/internal/setup"
	"github.com/neuroaccess/neuroaccess/shared/config"
	"github.com/neuroaccess/neuroaccess/shared/logger"
	"github.com/spf13/cobra"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "neuroaccess",
		Short:        "NeuroAccess web frontend",
		Long:         "Serves the MRI upload, chat and history screens in front of the analysis backend.",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var configFolder string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configFolder)
		},
	}
	cmd.Flags().StringVarP(&configFolder, "config", "c", "config", "folder holding public.yaml and private.yaml")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "neuroaccess %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func serve(parent context.Context, configFolder string) error {
	cfg := config.MustLoad(configFolder)
	logger.Initialize(cfg.Public.Log.Level, cfg.Public.Log.JSON)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setup.SetupDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Public.Server.Port),
		Handler:           router.SetupRouter(deps),
		ReadTimeout:       cfg.Public.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		// analysis calls are slow; the write deadline covers the whole handler
		WriteTimeout: cfg.Public.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("starting frontend", "addr", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Log.Info("shutting down frontend")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
