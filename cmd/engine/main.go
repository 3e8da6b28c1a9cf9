package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/munistream/engine/engine"
)

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "A durable workflow execution engine: DAGs of operators, suspend/resume, hook-driven fan-out.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if os.Getenv("INVOCATION_ID") == "" {
			_ = godotenv.Load()
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine worker pool and the Prometheus /metrics endpoint.",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engine version.",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("munistream-engine dev")
	},
}

func init() {
	serveCmd.Flags().String("store-driver", "memory", "persistence adapter driver (memory, sqlite)")
	serveCmd.Flags().String("store-dsn", "", "sqlite DSN, ignored for the memory driver")
	serveCmd.Flags().Int("max-concurrent-instances", 32, "bounded worker pool size")
	serveCmd.Flags().Int("ready-queue-soft-cap", 1000, "ready queue capacity before CreateInstance returns ErrBusy")
	serveCmd.Flags().Int("hook-max-depth", 8, "hook expansion depth bound")
	serveCmd.Flags().String("metrics-addr", ":9090", "address the Prometheus /metrics endpoint listens on")

	for _, name := range []string{"store-driver", "store-dsn", "max-concurrent-instances", "ready-queue-soft-cap", "hook-max-depth", "metrics-addr"} {
		if err := viper.BindPFlag(name, serveCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("engine")
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, versionCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := engine.DefaultConfig()
	cfg.Store.Driver = viper.GetString("store-driver")
	cfg.Store.DSN = viper.GetString("store-dsn")
	if v := viper.GetInt("max-concurrent-instances"); v > 0 {
		cfg.Executor.MaxConcurrentInstances = v
	}
	if v := viper.GetInt("ready-queue-soft-cap"); v > 0 {
		cfg.Executor.ReadyQueueSoftCap = v
	}
	if v := viper.GetInt("hook-max-depth"); v > 0 {
		cfg.Hooks.MaxDepth = v
	}

	e, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	e.Start(ctx)

	metricsAddr := viper.GetString("metrics-addr")
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Metrics().Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		slog.Info("engine: metrics endpoint listening", "addr", metricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("engine: metrics server failed", "error", err)
		}
	}()

	slog.Info("engine: started", "store_driver", cfg.Store.Driver, "max_concurrent_instances", cfg.Executor.MaxConcurrentInstances)
	printGreeting(cfg)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	slog.Info("engine: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	cancel()
	return e.Stop()
}

func printGreeting(cfg engine.Config) {
	fmt.Println("munistream engine started")
	fmt.Printf("Store driver: %s\n", cfg.Store.Driver)
	fmt.Printf("Max concurrent instances: %d\n", cfg.Executor.MaxConcurrentInstances)
	fmt.Printf("Hook expansion depth: %d\n", cfg.Hooks.MaxDepth)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("engine: fatal", "error", err)
		os.Exit(1)
	}
}
