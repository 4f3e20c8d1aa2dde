package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/croc/internal/config"
	"github.com/zjrosen/croc/internal/engine"
	"github.com/zjrosen/croc/internal/engine/event"
	"github.com/zjrosen/croc/internal/engine/projector"
	"github.com/zjrosen/croc/internal/log"
	"github.com/zjrosen/croc/internal/tracing"
)

var (
	version     = "dev"
	cfgFile     string
	debugFlag   bool
	actorRole   string
	actorID     string
	expectedVer int64
	cfg         config.Config
)

var rootCmd = &cobra.Command{
	Use:     "croc",
	Short:   "Event-sourced orchestration engine for agent teams",
	Long: `Croc coordinates planner, foreman, worker, and reviewer agents around a
per-project append-only event log. Every command appends events or reads
the state folded from them; the log is the only source of truth.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .croc/config.yaml, then ~/.config/croc/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug logging to croc.log")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "",
		"root directory for project event logs")
	rootCmd.PersistentFlags().StringVar(&actorRole, "as", "human",
		"actor role recorded on events (planner, foreman, worker, reviewer, human)")
	rootCmd.PersistentFlags().StringVar(&actorID, "id", "cli",
		"actor identity recorded on events")
	rootCmd.PersistentFlags().Int64Var(&expectedVer, "expect", -1,
		"expected project version for compare-and-append (-1 skips the check)")

	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("retry.max_attempts", defaults.Retry.MaxAttempts)
	viper.SetDefault("review.stale_after", defaults.Review.StaleAfter)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .croc/config.yaml (current directory)
		// 2. ~/.config/croc/config.yaml (user config)
		if _, err := os.Stat(".croc/config.yaml"); err == nil {
			viper.SetConfigFile(".croc/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "croc"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at .croc/config.yaml
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := ".croc/config.yaml"
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)

	if cfg.DataDir == "" {
		cfg.DataDir = config.DefaultDataDir()
	}
	if cfg.SnapshotDB == "" {
		cfg.SnapshotDB = config.DefaultSnapshotDB()
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Exporter == "file" && cfg.Tracing.FilePath == "" {
		cfg.Tracing.FilePath = config.DefaultTracesFilePath()
	}
}

// openEngine validates config, initializes logging and tracing, and opens
// the engine. The returned cleanup flushes all three.
func openEngine() (*engine.Engine, func(), error) {
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cleanups := []func(){}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if debugFlag {
		logPath := os.Getenv("CROC_LOG")
		if logPath == "" {
			logPath = cfg.LogFile
		}
		if logPath == "" {
			logPath = "croc.log"
		}
		logCleanup, err := log.Init(logPath)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing logging: %w", err)
		}
		cleanups = append(cleanups, logCleanup)
		log.Info(log.CatConfig, "croc starting", "dataDir", cfg.DataDir, "logPath", logPath)
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("initializing tracing: %w", err)
	}
	cleanups = append(cleanups, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	})

	opts := cfg.EngineOptions()
	opts.Tracer = provider.Tracer()
	eng, err := engine.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("opening engine: %w", err)
	}
	cleanups = append(cleanups, func() { _ = eng.Close() })

	return eng, cleanup, nil
}

// actor builds the event actor from the --as/--id flags.
func actor() (event.Actor, error) {
	role := event.Role(actorRole)
	if !role.Valid() {
		return event.Actor{}, fmt.Errorf("unknown actor role %q", actorRole)
	}
	return event.Actor{Role: role, ID: actorID}, nil
}

// expected maps the --expect flag onto a version token.
func expected() uint64 {
	if expectedVer < 0 {
		return engine.VersionAny
	}
	return uint64(expectedVer)
}

// stateSummary is the JSON shape printed after every mutating command.
type stateSummary struct {
	ProjectID   string `json:"project_id"`
	Phase       string `json:"phase"`
	Revision    int    `json:"revision"`
	Version     uint64 `json:"version"`
	Assignments int    `json:"assignments"`
	Context     int    `json:"context_items"`
	Reviews     int    `json:"reviews"`
}

func printState(cmd *cobra.Command, s *projector.State) error {
	return printJSON(cmd, stateSummary{
		ProjectID:   s.ProjectID,
		Phase:       string(s.Phase),
		Revision:    s.Revision,
		Version:     s.Version,
		Assignments: len(s.Assignments),
		Context:     len(s.ContextItems),
		Reviews:     len(s.Reviews),
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// transitionArgs carries the shared inputs of every mutating command.
type transitionArgs struct {
	eng      *engine.Engine
	actor    event.Actor
	expected uint64
}

// runTransition opens the engine, resolves the actor and version token,
// runs the operation, and prints the resulting state.
func runTransition(cmd *cobra.Command, fn func(transitionArgs) (*projector.State, error)) error {
	eng, cleanup, err := openEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := actor()
	if err != nil {
		return err
	}
	s, err := fn(transitionArgs{eng: eng, actor: a, expected: expected()})
	if err != nil {
		return err
	}
	return printState(cmd, s)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
