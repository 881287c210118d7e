package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tfreview/internal/backoff"
	"github.com/joescharf/tfreview/internal/fallback"
	"github.com/joescharf/tfreview/internal/llm"
	"github.com/joescharf/tfreview/internal/output"
	"github.com/joescharf/tfreview/internal/review"
	"github.com/joescharf/tfreview/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui           *output.UI
	logger       *slog.Logger
	dataStore    store.Store
	orchestrator *review.Orchestrator

	verbose bool
	jsonOut bool
)

// newAnalyzer builds the model chain; tests replace it with a fake.
var newAnalyzer = buildFallbackController

var rootCmd = &cobra.Command{
	Use:   "tfreview",
	Short: "Terraform review pipeline - AI security, cost and reliability review",
	Long: `tfreview sends Terraform source to a chain of language models, validates
their structured answers, scores the result into a single risk number and
keeps every state of every review as an immutable, versioned record.

Per-stack history, recurring-issue tracking and risk trends are built from
those records.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tfreview/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TFREVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default, rooted at dir.
func setDefaults(dir string) {
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "tfreview.db"))
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("server.addr", "127.0.0.1:8087")
	viper.SetDefault("review.max_concurrent", 4)
	viper.SetDefault("review.process_timeout", "15m")
	viper.SetDefault("review.stuck_after", "15m")
	viper.SetDefault("fallback.max_attempts", 3)
	viper.SetDefault("fallback.base_delay", "1s")
	viper.SetDefault("fallback.max_delay", "30s")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.JSON = jsonOut

	logger = newLogger(os.Stderr)
	slog.SetDefault(logger)

	// Store and model chain are built lazily so config/version run without them.
}

// newLogger builds the process logger from log.level and log.format.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(viper.GetString("log.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(viper.GetString("log.format")) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getOrchestrator returns the shared orchestrator, building the store and
// model chain on first call.
func getOrchestrator() (*review.Orchestrator, error) {
	if orchestrator != nil {
		return orchestrator, nil
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	a, err := newAnalyzer()
	if err != nil {
		return nil, err
	}
	orchestrator = review.NewOrchestrator(s, a, review.DefaultConfig(), review.WithLogger(logger))
	return orchestrator, nil
}

// loadModels returns the configured fallback chain, or the built-in one.
func loadModels() ([]llm.ModelSpec, error) {
	var specs []llm.ModelSpec
	if viper.IsSet("models") {
		if err := viper.UnmarshalKey("models", &specs); err != nil {
			return nil, fmt.Errorf("parse models config: %w", err)
		}
	}
	if len(specs) == 0 {
		specs = llm.DefaultModels()
	}
	for i, s := range specs {
		specs[i] = s.WithDefaults()
	}
	return specs, nil
}

// fallbackPolicy reads the per-model retry policy.
func fallbackPolicy() backoff.Policy {
	p := backoff.DefaultPolicy()
	if n := viper.GetInt("fallback.max_attempts"); n > 0 {
		p.MaxAttempts = n
	}
	if d := viper.GetDuration("fallback.base_delay"); d > 0 {
		p.Base = d
	}
	if d := viper.GetDuration("fallback.max_delay"); d > 0 {
		p.Max = d
	}
	return p
}

func buildFallbackController() (review.Analyzer, error) {
	specs, err := loadModels()
	if err != nil {
		return nil, err
	}

	chain := make([]fallback.Model, 0, len(specs))
	for _, spec := range specs {
		client, err := llm.NewClient(spec)
		if err != nil {
			return nil, err
		}
		chain = append(chain, fallback.Model{Spec: spec, Client: client})
	}

	return fallback.NewController(chain,
		fallback.WithPolicy(fallbackPolicy()),
		fallback.WithLogger(logger),
	), nil
}
