package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/compozy/tplwriter/pkg/config"
	"github.com/compozy/tplwriter/pkg/extension"
	"github.com/compozy/tplwriter/pkg/logger"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var registerOnce sync.Once

// RootCmd returns the tplwriter command.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tplwriter",
		Short: "Render documents through templates into files",
		Long: `tplwriter reads Markdown, YAML and JSON documents, renders each one through
a view template and writes the result below the output directory.

Configuration is read from tplwriter.yaml, TPLWRITER_* environment variables
and flags, in increasing order of precedence.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         handleRootCmd,
	}
	addFlags(root)
	root.PreRunE = func(cmd *cobra.Command, _ []string) error {
		debug, err := cmd.Flags().GetBool("debug")
		if err != nil {
			return fmt.Errorf("failed to get debug flag: %w", err)
		}
		if debug {
			return cmd.Flags().Set("log-level", "debug")
		}
		return nil
	}
	root.AddCommand(VersionCmd())
	return root
}

func handleRootCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := loadEnvFile(cmd); err != nil {
		return err
	}
	sources, err := configSources(cmd)
	if err != nil {
		return err
	}
	manager := config.NewManager(nil)
	cfg, err := manager.Load(ctx, sources...)
	if err != nil {
		return err
	}
	log := logger.SetupLogger(cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, cfg.Runtime.LogSource)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithManager(ctx, manager)
	defer manager.Close(ctx)
	registerBuiltins(ctx)

	fs := afero.NewOsFs()
	if cfg.Input.Watch {
		manager.SetDebounce(cfg.Input.Debounce)
		return watch(ctx, manager, fs)
	}
	_, err = Build(ctx, cfg, fs)
	return err
}

// registerBuiltins adds the std modules to the default extension registry.
func registerBuiltins(ctx context.Context) {
	registerOnce.Do(func() {
		if err := extension.RegisterBuiltins(extension.DefaultRegistry()); err != nil {
			logger.FromContext(ctx).Warn("failed to register builtin modules", "error", err)
		}
	})
}

// configSources returns the YAML file source followed by the flag source.
func configSources(cmd *cobra.Command) ([]config.Source, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	var sources []config.Source
	switch {
	case configFile == "":
	case cmd.Flags().Changed("config"):
		sources = append(sources, config.NewRequiredYAMLProvider(configFile))
	default:
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	flags, err := extractCLIFlags(cmd)
	if err != nil {
		return nil, err
	}
	if len(flags) > 0 {
		sources = append(sources, config.NewCLIProvider(flags))
	}
	return sources, nil
}
