// Package main provides the campus grid worker client entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/campusgrid/campusgrid/internal/config"
	"github.com/campusgrid/campusgrid/internal/obslog"
	"github.com/campusgrid/campusgrid/internal/probe"
	"github.com/campusgrid/campusgrid/internal/sandbox"
	"github.com/campusgrid/campusgrid/internal/worker"
)

func main() {
	var configPath, managerAddr, ownerToken, name string

	rootCmd := &cobra.Command{
		Use:   "campusgrid-worker",
		Short: "Campus grid compute contributor",
		Long:  `Probes local hardware, registers with a manager, and executes dispatched jobs in a sandbox.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, managerAddr, ownerToken, name)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&managerAddr, "manager", "", "manager host:port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&ownerToken, "owner-token", "", "owner token naming the worker owner's account that earns job rewards (overrides config)")
	rootCmd.PersistentFlags().StringVar(&name, "name", "", "worker display name (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, managerAddrFlag, ownerTokenFlag, nameFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := obslog.Component("worker-main")

	managerAddr := cfg.Worker.ManagerAddr
	if managerAddrFlag != "" {
		managerAddr = managerAddrFlag
	}
	ownerToken := cfg.Worker.OwnerToken
	if ownerTokenFlag != "" {
		ownerToken = ownerTokenFlag
	}
	name := cfg.Worker.Name
	if nameFlag != "" {
		name = nameFlag
	}
	if name == "" {
		if hostname, err := os.Hostname(); err == nil {
			name = hostname
		} else {
			name = "worker"
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	specs := probe.Probe(ctx)
	log.Info().
		Int("cpu_cores", specs.CPUCores).
		Float64("ram_gb", specs.RAMGB).
		Bool("has_docker", specs.HasDocker).
		Str("gpu", specs.GPUName).
		Msg("probed local hardware")

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.UseContainer = cfg.Sandbox.UseContainer
	sandboxCfg.ContainerRuntime = cfg.Sandbox.ContainerRT
	sandboxCfg.ContainerImage = cfg.Sandbox.ContainerImg
	sandboxCfg.MemoryLimitMB = cfg.Sandbox.MemoryLimitMB
	sandboxCfg.MaxProcesses = cfg.Sandbox.MaxProcesses
	sandboxCfg.WorkDir = cfg.Sandbox.OutputDir

	executor := sandbox.NewExecutor(sandboxCfg, specs.HasDocker)

	client := worker.New(worker.Config{
		ManagerAddr:       managerAddr,
		Name:              name,
		OwnerToken:        ownerToken,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		PollInterval:      cfg.Worker.PollInterval,
		MaxJobTimeout:     cfg.Worker.MaxJobTimeout,
	}, specs, executor)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("worker exited with error")
		return err
	}

	log.Info().Msg("worker stopped")
	return nil
}
