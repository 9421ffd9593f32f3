package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/owners-notify/pkg/config"
	"github.com/telekom/owners-notify/pkg/system"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// Logger replaces the process logger, mainly for tests.
	Logger *zap.SugaredLogger
}

type runtimeState struct {
	configPath   string
	outputFormat string
	debug        bool
	cfg          config.Config
	log          *zap.SugaredLogger
	writer       io.Writer
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   os.Getenv(config.ConfigPathEnv),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter, log: cfg.Logger}

	root := &cobra.Command{
		Use:           "owners-notify",
		Short:         "Compose and send ownership package notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if !rt.debug {
				rt.debug = strings.EqualFold(os.Getenv("OWNERS_NOTIFY_DEBUG"), "true")
			}
			if rt.log == nil {
				log, err := system.NewLogger(rt.debug)
				if err != nil {
					return err
				}
				rt.log = log
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return rt.loadConfig()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug level logging")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: text, json, yaml")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewServeCommand(),
		NewSendCommand(),
		NewPreviewCommand(),
		NewMailsCommand(),
		NewImportCommand(),
		NewVersionCommand(),
	)

	return root
}

// Execute runs the root command with process defaults.
func Execute() error {
	return NewRootCommand(DefaultConfig()).Execute()
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) loadConfig() error {
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	cfg.Defaults()
	if err := cfg.ResolveSecrets(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) OutputFormat() Format {
	if rt.outputFormat != "" {
		return Format(strings.ToLower(rt.outputFormat))
	}
	return FormatText
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}
