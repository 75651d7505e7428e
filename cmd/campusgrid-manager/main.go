// Package main provides the campus grid manager daemon entry point.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/campusgrid/campusgrid/internal/api"
	"github.com/campusgrid/campusgrid/internal/config"
	"github.com/campusgrid/campusgrid/internal/manager"
	"github.com/campusgrid/campusgrid/internal/obslog"
	"github.com/campusgrid/campusgrid/internal/store"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "campusgrid-manager",
		Short: "Campus grid job dispatch manager",
		Long:  `Accepts worker connections, dispatches queued jobs, and serves the submitter-facing REST API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := obslog.Component("manager-main")

	st, err := store.Open(cfg.Store.Path, cfg.Store.BusyTimeout)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	mgr := manager.New(st, manager.Config{
		HeartbeatTimeout:    cfg.Manager.HeartbeatTimeout,
		HealthCheckInterval: cfg.Manager.HealthCheckInterval,
		ReadTimeout:         cfg.Manager.ReadTimeout,
		StartingCredits:     cfg.Credits.StartingCredits,
		MinJobCost:          cfg.Credits.MinJobCost,
		OutputDir:           cfg.Manager.OutputDir,
	})

	listenAddr := fmt.Sprintf("%s:%d", cfg.Manager.Host, cfg.Manager.Port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	managerErrCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listenAddr).Msg("manager listening for worker connections")
		managerErrCh <- mgr.Serve(ctx, listener)
	}()

	apiServer := api.NewServer(st, api.Config{
		WriteTimeout:    cfg.Manager.ReadTimeout,
		StartingCredits: cfg.Credits.StartingCredits,
		MinJobCost:      cfg.Credits.MinJobCost,
	})
	apiAddr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpServer := &http.Server{Addr: apiAddr, Handler: apiServer.Router()}

	apiErrCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", apiAddr).Msg("REST API listening")
		err := httpServer.ListenAndServe()
		if err != http.ErrServerClosed {
			apiErrCh <- err
		} else {
			apiErrCh <- nil
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-managerErrCh:
		if err != nil {
			log.Error().Err(err).Msg("manager accept loop exited")
		}
	case err := <-apiErrCh:
		if err != nil {
			log.Error().Err(err).Msg("REST API server exited")
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Manager.ReadTimeout)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	log.Info().Msg("manager stopped")
	return nil
}
