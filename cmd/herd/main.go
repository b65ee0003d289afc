package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/distrobot/herd/internal/config"
	"github.com/distrobot/herd/internal/coordinator"
	"github.com/distrobot/herd/internal/fleet"
	"github.com/distrobot/herd/internal/ingest"
	herdlog "github.com/distrobot/herd/internal/log"
	"github.com/distrobot/herd/internal/models"
	"github.com/distrobot/herd/internal/monitor"
	"github.com/distrobot/herd/internal/storage"
	"github.com/distrobot/herd/internal/worker"
)

func main() {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "herd",
		Short: "Distributed test-case execution",
		Long:  "Herd distributes a catalog of test cases across a fleet of workers and merges the results.",
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newServeCommand(&verbose))
	rootCmd.AddCommand(newWorkerCommand(&verbose))
	rootCmd.AddCommand(newWatchCommand(&verbose))
	rootCmd.AddCommand(newSeedCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newScaleCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator API and the lease reclaim loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return err
			}

			store, err := storage.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			logger := herdlog.New(*verbose)
			srv := coordinator.New(store, logger, cfg.LeaseDuration, cfg.ReclaimInterval, cfg.MaxItemTries)

			ctx, cancel := signalContext()
			defer cancel()
			return srv.Run(ctx, cfg.ListenAddr)
		},
	}
}

func newWorkerCommand(verbose *bool) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run worker loops until no work remains",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return err
			}

			logger := herdlog.New(*verbose)
			client := worker.NewClient(cfg.APIBaseURL)

			hostname, err := os.Hostname()
			if err != nil {
				hostname = "unknown-node"
			}

			ctx, cancel := signalContext()
			defer cancel()

			g, ctx := errgroup.WithContext(ctx)
			for i := 0; i < count; i++ {
				workerID := hostname
				if count > 1 {
					workerID = hostname + "-" + strconv.Itoa(i)
				}
				loop := &worker.Loop{
					WorkerID: workerID,
					Client:   client,
					Runner: &worker.RobotRunner{
						TestsDir:   cfg.TestsDir,
						ResultsDir: filepath.Join(cfg.DataDir, "results"),
					},
					OutputsDir: cfg.OutputsDir,
					Logger:     logger,
					RetryBase:  cfg.RetryBase,
					RetryCap:   cfg.RetryCap,
					RetryMax:   cfg.RetryMax,
				}
				g.Go(func() error {
					return loop.Run(ctx)
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().IntVarP(&count, "count", "c", 1, "worker loops to run in this process")
	return cmd
}

func newWatchCommand(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Wait for all items to finish, then merge the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return err
			}

			logger := herdlog.New(*verbose)
			m := &monitor.Monitor{
				Source:     worker.NewClient(cfg.APIBaseURL),
				Merger:     &monitor.RebotMerger{MergedDir: cfg.MergedDir},
				OutputsDir: cfg.OutputsDir,
				Interval:   cfg.MonitorInterval,
				RetryDelay: cfg.MonitorInterval,
				Logger:     logger,
			}

			ctx, cancel := signalContext()
			defer cancel()
			return m.Run(ctx)
		},
	}
}

func newSeedCommand() *cobra.Command {
	var manifestPath string
	var viaAPI bool

	cmd := &cobra.Command{
		Use:   "seed [tests-dir]",
		Short: "Populate the catalog from robot files or a YAML manifest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}

			items, err := loadItems(cfg, args, manifestPath)
			if err != nil {
				return err
			}

			var n int
			if viaAPI {
				ctx, cancel := signalContext()
				defer cancel()
				n, err = worker.NewClient(cfg.APIBaseURL).Seed(ctx, items)
			} else {
				if err := cfg.EnsureDataDir(); err != nil {
					return err
				}
				var store *storage.Store
				store, err = storage.New(cfg.DBPath)
				if err != nil {
					return err
				}
				defer store.Close()
				n, err = store.Seed(items)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Seeded %d work items\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "YAML manifest instead of scanning robot files")
	cmd.Flags().BoolVar(&viaAPI, "api", false, "seed through the coordinator API instead of the database")
	return cmd
}

func loadItems(cfg *config.Config, args []string, manifestPath string) ([]models.SeedItem, error) {
	if manifestPath != "" {
		return ingest.LoadManifest(manifestPath)
	}
	dir := cfg.TestsDir
	if len(args) == 1 {
		dir = args[0]
	}
	return ingest.ScanDir(dir)
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show catalog progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			counts, err := worker.NewClient(cfg.APIBaseURL).Status(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Total:     %d\n", counts.Total)
			fmt.Printf("Pending:   %d\n", counts.Pending)
			fmt.Printf("Claimed:   %d\n", counts.Claimed)
			fmt.Printf("Completed: %d\n", counts.Completed)
			fmt.Printf("Failed:    %d\n", counts.Failed)
			return nil
		},
	}
}

func newResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Return every item to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			n, err := worker.NewClient(cfg.APIBaseURL).Reset(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Reset %d items to pending\n", n)
			return nil
		},
	}
}

func newScaleCommand() *cobra.Command {
	var namespace, deployment string

	cmd := &cobra.Command{
		Use:   "scale [replicas]",
		Short: "Scale the worker fleet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}

			replicas := cfg.WorkerCount
			if len(args) == 1 {
				if replicas, err = strconv.Atoi(args[0]); err != nil {
					return fmt.Errorf("replicas must be a number: %w", err)
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			var controller fleet.Controller = &fleet.KubectlController{
				Namespace:  namespace,
				Deployment: deployment,
			}
			if err := controller.SetDesiredWorkerCount(ctx, replicas); err != nil {
				return err
			}

			running, err := controller.RunningWorkerCount(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Desired %d workers, %d currently running\n", replicas, running)
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "robot-tests", "kubernetes namespace")
	cmd.Flags().StringVar(&deployment, "deployment", "robot-test-runner", "worker deployment name")
	return cmd
}
