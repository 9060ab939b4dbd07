// Package commands implements the cloudgpt CLI.
package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "cloudgpt",
		Short: "CloudGPT AI gateway",
		Long: `CloudGPT fronts several AI inference providers behind one
OpenAI-compatible API with plan-based quotas and automatic fallback.

Examples:
  cloudgpt serve --config ./cloudgpt.yaml
  cloudgpt models --modality image
  cloudgpt session --user alice --plan pro`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return loadEnv(envFile)
		},
	}

	root.AddCommand(
		newServeCmd(),
		newModelsCmd(),
		newSessionCmd(),
	)

	root.PersistentFlags().StringP("config", "c", "", "path to the YAML config file")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return root
}

// loadEnv loads a dotenv file. A missing file is not an error; existing
// environment variables win.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (cloudgpt.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = os.Getenv("CLOUDGPT_CONFIG")
	}
	if path == "" {
		return cloudgpt.DefaultConfig(), nil
	}
	return cloudgpt.LoadConfig(path)
}

func newLogger(cmd *cobra.Command, cfg cloudgpt.LoggingConfig) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
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
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
