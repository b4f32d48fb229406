package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/compozy/tplwriter/pkg/config"
	"github.com/compozy/tplwriter/pkg/writer"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const defaultEnvFile = ".env"

func addFlags(cmd *cobra.Command) {
	defaults := config.Default()
	flags := cmd.Flags()
	flags.String("config", config.DefaultFile, "Path to the configuration file")
	flags.String("env-file", defaultEnvFile, "Path to an environment file loaded before configuration")

	// Input
	flags.String("input", defaults.Input.Dir, "Directory containing the input documents (env: TPLWRITER_INPUT)")
	flags.String("pattern", defaults.Input.Pattern, "Glob selecting input documents (env: TPLWRITER_PATTERN)")
	flags.Int("concurrency", defaults.Input.Concurrency, "Documents rendered in parallel (env: TPLWRITER_CONCURRENCY)")
	flags.Bool("watch", false, "Render again when inputs, views or configuration change")
	flags.Duration("debounce", defaults.Input.Debounce, "Quiet period before rendering again in watch mode")

	// Writer
	flags.String("view", writer.DefaultView, "Template name, or an inline function returning one")
	flags.StringSlice("views-dir", []string{writer.DefaultViewsDir}, "Directories searched for templates, in order")
	flags.String("out-dir", writer.DefaultOutDir, "Output directory")
	flags.String("out-file", "", "Inline function deriving the output path from a document")
	flags.String("globals", "", "YAML or JSON file holding global template values")
	flags.String("functions", "", "Module providing template functions")
	flags.String("filters", "", "Module providing template filters")
	flags.String("advanced", "", "Module providing a hook that configures the template environment")
	flags.Bool("markdown", true, "Register the markdown filter")

	// Logging
	flags.String("log-level", defaults.Runtime.LogLevel, "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.Bool("log-source", false, "Include source file and line in logs")
	flags.Bool("debug", false, "Enable debug logging (sets log level to debug)")
}

// extractCLIFlags returns the explicitly set flags keyed by name.
func extractCLIFlags(cmd *cobra.Command) (map[string]any, error) {
	out := make(map[string]any)
	var firstErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if firstErr != nil {
			return
		}
		value, err := flagValue(cmd.Flags(), f)
		if err != nil {
			firstErr = fmt.Errorf("failed to get %s flag: %w", f.Name, err)
			return
		}
		out[f.Name] = value
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func flagValue(flags *pflag.FlagSet, f *pflag.Flag) (any, error) {
	switch f.Value.Type() {
	case "bool":
		return flags.GetBool(f.Name)
	case "int":
		return flags.GetInt(f.Name)
	case "duration":
		return flags.GetDuration(f.Name)
	case "stringSlice":
		return flags.GetStringSlice(f.Name)
	default:
		return f.Value.String(), nil
	}
}

// loadEnvFile loads variables from --env-file without overriding the environment.
// The default file is optional; an explicitly named one must exist.
func loadEnvFile(cmd *cobra.Command) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if envFile == "" {
		return nil
	}
	info, err := os.Stat(envFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
			return nil
		}
		return fmt.Errorf("failed to stat env file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("env file path '%s' is not a regular file", envFile)
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return nil
}
