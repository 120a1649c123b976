// ============================================================================
// Runtime configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: YAML-driven configuration for the demo CLI. The library packages
//          themselves (pool, taskset, parfor, future, graph, pipeline,
//          timedtask) never read a config file directly — they take plain
//          Go option structs. This is a demo-binary concern only.
// ============================================================================

package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// PoolConfig configures the demo's thread pool.
type PoolConfig struct {
	WorkerCount    int   `yaml:"worker_count"`
	QueueCapacity  int   `yaml:"queue_capacity"`
	LoadMultiplier int64 `yaml:"load_multiplier"`
}

// ParForConfig configures the demo's default parallel-for behavior.
type ParForConfig struct {
	MaxThreads int `yaml:"max_threads"`
}

// PipelineConfig configures the demo pipeline's default stage concurrency.
type PipelineConfig struct {
	StageConcurrency int `yaml:"stage_concurrency"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Config is the root configuration document for cmd/taskrunner.
type Config struct {
	Pool     PoolConfig     `yaml:"pool"`
	ParFor   ParForConfig   `yaml:"parfor"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	LogLevel string         `yaml:"log_level"`
}

// Default returns sane defaults, used when no config file is supplied.
func Default() Config {
	return Config{
		Pool: PoolConfig{
			WorkerCount:    4,
			QueueCapacity:  4096,
			LoadMultiplier: 32,
		},
		ParFor:   ParForConfig{MaxThreads: -1},
		Pipeline: PipelineConfig{StageConcurrency: 0},
		Metrics:  MetricsConfig{Enabled: true, Port: 9090},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
