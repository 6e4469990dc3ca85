// Package main is the entry point for the modelrelay server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/modelrelay/modelrelay/internal/adapters"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/gateway"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/monitoring"
	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/internal/transform"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "modelrelay",
	Short:   "Multi-provider LLM relay with tool-result compression",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [db-path]",
	Short: "Print aggregate usage from the request store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "modelrelay.db"
		if len(args) == 1 {
			path = args[0]
		}
		return printStats(path)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config (optional)")
	rootCmd.AddCommand(serveCmd, statsCmd)
}

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	if homeDir, err := os.UserHomeDir(); err == nil {
		configEnv := filepath.Join(homeDir, ".config", "modelrelay", ".env")
		if _, err := os.Stat(configEnv); err == nil {
			_ = godotenv.Load(configEnv)
		}
	}
	// Local .env can override.
	_ = godotenv.Load()
}

func serve() error {
	loadEnvFiles()

	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return err
	}

	monitoring.Global(cfg.Logging)

	table := models.Default()
	if cfg.Compression.ModelsFile != "" {
		loaded, err := models.Load(cfg.Compression.ModelsFile)
		if err != nil {
			return fmt.Errorf("failed to load models file: %w", err)
		}
		table = loaded
	}

	compressor := transform.NewCompressor(table, transform.NewTiktokenCounter())
	registry := adapters.NewRegistry(table, compressor)

	var recorder *store.Store
	if cfg.Store.Enabled {
		var err error
		recorder, err = store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer recorder.Close()
	}

	srv, err := gateway.NewServer(cfg, registry, recorder)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func printStats(path string) error {
	recorder, err := store.Open(path)
	if err != nil {
		return err
	}
	defer recorder.Close()

	totals, err := recorder.Totals(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("requests:       %d\n", totals.Requests)
	fmt.Printf("input tokens:   %d\n", totals.InputTokens)
	fmt.Printf("output tokens:  %d\n", totals.OutputTokens)
	fmt.Printf("cost savings:   $%.4f\n", totals.CostSavings)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
