// Package config provides configuration management for the campus grid.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration shared by the manager and worker binaries.
type Config struct {
	Manager  ManagerConfig  `mapstructure:"manager"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Store    StoreConfig    `mapstructure:"store"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Credits  CreditsConfig  `mapstructure:"credits"`
	API      APIConfig      `mapstructure:"api"`
}

// ManagerConfig holds manager listener and liveness settings.
type ManagerConfig struct {
	Host                string        `mapstructure:"host"`
	Port                int           `mapstructure:"port"`
	HeartbeatTimeout    time.Duration `mapstructure:"heartbeat_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	OutputDir           string        `mapstructure:"output_dir"`
}

// WorkerConfig holds worker-side cadence and connection settings.
type WorkerConfig struct {
	ManagerAddr       string        `mapstructure:"manager_addr"`
	OwnerToken        string        `mapstructure:"owner_token"`
	Name              string        `mapstructure:"name"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxJobTimeout     time.Duration `mapstructure:"max_job_timeout"`
}

// StoreConfig holds persistent-store settings.
type StoreConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// SandboxConfig holds sandbox-executor settings.
type SandboxConfig struct {
	UseContainer  bool   `mapstructure:"use_container"`
	ContainerRT   string `mapstructure:"container_runtime"` // "docker", "podman"
	ContainerImg  string `mapstructure:"container_image"`
	MemoryLimitMB int    `mapstructure:"memory_limit_mb"`
	MaxProcesses  int    `mapstructure:"max_processes"`
	OutputDir     string `mapstructure:"output_dir"`
}

// CreditsConfig holds credit-economy defaults.
type CreditsConfig struct {
	StartingCredits int `mapstructure:"starting_credits"`
	MinJobCost      int `mapstructure:"min_job_cost"`
}

// APIConfig holds the submitter-facing REST API listener settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("manager.host", "0.0.0.0")
	v.SetDefault("manager.port", 9999)
	v.SetDefault("manager.heartbeat_timeout", 60*time.Second)
	v.SetDefault("manager.health_check_interval", 30*time.Second)
	v.SetDefault("manager.read_timeout", 120*time.Second)
	v.SetDefault("manager.output_dir", "job_outputs")

	v.SetDefault("worker.manager_addr", "127.0.0.1:9999")
	v.SetDefault("worker.owner_token", "")
	v.SetDefault("worker.name", "")
	v.SetDefault("worker.heartbeat_interval", 30*time.Second)
	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.max_job_timeout", 600*time.Second)

	v.SetDefault("store.path", "grid.db")
	v.SetDefault("store.busy_timeout", 30*time.Second)

	v.SetDefault("sandbox.use_container", true)
	v.SetDefault("sandbox.container_runtime", "docker")
	v.SetDefault("sandbox.container_image", "python:3.11-slim")
	v.SetDefault("sandbox.memory_limit_mb", 1024)
	v.SetDefault("sandbox.max_processes", 200)
	v.SetDefault("sandbox.output_dir", "sandbox_runs")

	v.SetDefault("credits.starting_credits", 100)
	v.SetDefault("credits.min_job_cost", 1)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/campusgrid")
	}

	v.SetEnvPrefix("GRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
