// ============================================================================
// Taskrunner CLI - Cobra Command Tree
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Build the `taskrunner` command tree: run a sample dependency
//          graph, benchmark a parallel-for, run a demo pipeline, or serve
//          Prometheus metrics.
//
// Commands:
//   taskrunner run        - build a small diamond-shaped graph and execute it
//   taskrunner parfor      - benchmark a parallel-for over a configurable range
//   taskrunner pipeline    - run a 3-stage generator/transform/sink demo
//   taskrunner serve       - start the Prometheus metrics HTTP endpoint
//   taskrunner status      - print a summary of the configured pool
//
// ============================================================================

package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/taskrunner/graph"
	"github.com/ChuLiYu/taskrunner/internal/config"
	"github.com/ChuLiYu/taskrunner/internal/metrics"
	"github.com/ChuLiYu/taskrunner/parfor"
	"github.com/ChuLiYu/taskrunner/pipeline"
	"github.com/ChuLiYu/taskrunner/pool"
)

var log = slog.Default()

var configPath string

// BuildCLI constructs the root "taskrunner" Cobra command.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskrunner",
		Short: "Demo CLI for the parallel-task runtime",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(runCmd())
	root.AddCommand(parforCmd())
	root.AddCommand(pipelineCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())

	return root
}

func loadConfig() config.Config {
	if configPath == "" {
		return config.Default()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Warn("failed to load config, falling back to defaults", "path", configPath, "error", err)
		return config.Default()
	}
	return cfg
}

func newPool(cfg config.Config) *pool.Pool {
	return pool.NewWithOptions(cfg.Pool.WorkerCount, cfg.Pool.QueueCapacity, cfg.Pool.LoadMultiplier)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Build and execute a small diamond-shaped dependency graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			p := newPool(cfg)
			defer p.Close()

			var r [4]int
			g := graph.NewGraph()
			a := g.AddNode(func() { r[0] = 1 })
			b := g.AddNode(func() { r[1] = r[0] * 2 })
			c := g.AddNode(func() { r[2] = r[0] + 5 })
			d := g.AddNode(func() { r[3] = r[1] + r[2] })
			b.DependsOn(a)
			c.DependsOn(a)
			d.DependsOn(b, c)

			graph.SetAllNodesIncomplete(g)
			graph.ParallelForExecutor(g, p)
			fmt.Printf("diamond graph result: %d\n", r[3])
			return nil
		},
	}
}

func parforCmd() *cobra.Command {
	var n int64
	cmd := &cobra.Command{
		Use:   "parfor",
		Short: "Benchmark a parallel-for summing N sevens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			p := newPool(cfg)
			defer p.Close()

			start := time.Now()
			image := make([]int64, n)
			for i := range image {
				image[i] = 7
			}

			states := parfor.ParallelForState(p, parfor.NewRange(0, n), parfor.DefaultOptions(),
				func() int64 { return 0 },
				func(i int64, sum *int64) { *sum += image[i] },
			)
			var total int64
			for _, s := range states {
				total += *s
			}
			fmt.Printf("sum of %d sevens: %d (took %v)\n", n, total, time.Since(start))
			return nil
		},
	}
	cmd.Flags().Int64Var(&n, "n", 1_000_000, "range size")
	return cmd
}

func pipelineCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run a 3-stage generator -> double -> collect demo pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			p := newPool(cfg)
			defer p.Close()

			var next int
			var collected []int
			var collectedMu chanMutex
			collectedMu.init()

			gen := func() (int, bool) {
				if next >= count {
					return 0, false
				}
				v := next
				next++
				return v, true
			}
			sink := func(v int) {
				collectedMu.lock()
				collected = append(collected, v)
				collectedMu.unlock()
			}

			pipeline.Run2(p, gen, 1, func(v int) (int, bool) { return v * 2, true }, cfg.Pipeline.StageConcurrency, sink, 0)
			fmt.Printf("pipeline processed %d items\n", len(collected))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 100, "number of generated items")
	return cmd
}

type chanMutex struct{ ch chan struct{} }

func (m *chanMutex) init()   { m.ch = make(chan struct{}, 1); m.ch <- struct{}{} }
func (m *chanMutex) lock()   { <-m.ch }
func (m *chanMutex) unlock() { m.ch <- struct{}{} }

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Prometheus metrics HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if !cfg.Metrics.Enabled {
				return fmt.Errorf("metrics disabled in config")
			}
			metrics.NewCollector()
			log.Info("starting metrics server", "port", cfg.Metrics.Port)
			return metrics.StartServer(cfg.Metrics.Port)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a summary of the configured pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			fmt.Println("┌─────────────────────────────────────┐")
			fmt.Println("│          taskrunner status           │")
			fmt.Println("├─────────────────────────────────────┤")
			fmt.Printf("│ worker_count     : %-17d │\n", cfg.Pool.WorkerCount)
			fmt.Printf("│ queue_capacity   : %-17d │\n", cfg.Pool.QueueCapacity)
			fmt.Printf("│ load_multiplier  : %-17d │\n", cfg.Pool.LoadMultiplier)
			fmt.Printf("│ metrics_enabled  : %-17v │\n", cfg.Metrics.Enabled)
			fmt.Println("└─────────────────────────────────────┘")
			return nil
		},
	}
}
