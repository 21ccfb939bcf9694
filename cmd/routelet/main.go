package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jingkaihe/routelet/pkg/engine"
	"github.com/jingkaihe/routelet/pkg/logger"
	"github.com/jingkaihe/routelet/pkg/presenter"
	"github.com/jingkaihe/routelet/pkg/registry"
)

func init() {
	// Environment variables
	viper.SetEnvPrefix("ROUTELET")
	viper.AutomaticEnv()

	// Config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.routelet")
	viper.AddConfigPath(".")

	defaults := engine.DefaultOptions()
	viper.SetDefault("activation_threshold", defaults.AgentThreshold)
	viper.SetDefault("skill_activation_threshold", defaults.SkillThreshold)
	viper.SetDefault("tie_epsilon", defaults.Epsilon)
	viper.SetDefault("suggest_margin", defaults.SuggestMargin)
	viper.SetDefault("complexity_threshold", defaults.ComplexityThreshold)
	viper.SetDefault("max_chain_depth", defaults.MaxChainDepth)
	viper.SetDefault("max_request_bytes", defaults.MaxRequestBytes)
	viper.SetDefault("score_workers", defaults.ScoreWorkers)
	viper.SetDefault("max_concurrent_skills", defaults.MaxConcurrentSkills)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")

	// Load config file if it exists (ignore errors if it doesn't)
	_ = viper.ReadInConfig()
}

var rootCmd = &cobra.Command{
	Use:   "routelet",
	Short: "Deterministic capability dispatch for agent and skill handlers",
	Long: `Routelet routes requests to registered handlers. Handlers are markdown
manifests (HANDLER.md) declaring weighted trigger rules; routelet scores them
against the request, picks at most one winning agent plus any number of
passive skills, and executes the plan under a bounded worker pool.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
			presenter.Warning("Unknown log level, falling back to info")
		}
		logger.SetLogFormat(viper.GetString("log_format"))

		if quiet, err := cmd.Flags().GetBool("quiet"); err == nil {
			presenter.SetQuiet(quiet)
		}
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func main() {
	rootCmd.PersistentFlags().StringSlice("handler-dir", nil, "Handler manifest directories (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (fmt, json)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress non-essential output")
	bindFlags(rootCmd.PersistentFlags())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func bindFlags(flags *pflag.FlagSet) {
	viper.BindPFlag("handler_dirs", flags.Lookup("handler-dir"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
}

// handlerDirs returns the manifest directories, repo-local before user-global
func handlerDirs() []string {
	if dirs := viper.GetStringSlice("handler_dirs"); len(dirs) > 0 {
		return dirs
	}

	dirs := []string{"./.routelet/handlers"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(homeDir, ".routelet", "handlers"))
	}
	return dirs
}

func engineOptions() engine.Options {
	return engine.Options{
		AgentThreshold:      viper.GetFloat64("activation_threshold"),
		SkillThreshold:      viper.GetFloat64("skill_activation_threshold"),
		Epsilon:             viper.GetFloat64("tie_epsilon"),
		SuggestMargin:       viper.GetFloat64("suggest_margin"),
		ComplexityThreshold: viper.GetInt("complexity_threshold"),
		MaxChainDepth:       viper.GetInt("max_chain_depth"),
		MaxRequestBytes:     viper.GetInt("max_request_bytes"),
		ScoreWorkers:        viper.GetInt("score_workers"),
		MaxConcurrentSkills: viper.GetInt("max_concurrent_skills"),
	}
}

// loadSnapshot loads the registry and surfaces rejected manifests as warnings
func loadSnapshot(ctx context.Context) *registry.Snapshot {
	snap, loadErrs := registry.Load(ctx, handlerDirs()...)
	for i := range loadErrs {
		presenter.Warning("Rejected manifest: " + loadErrs[i].Error())
	}
	return snap
}
