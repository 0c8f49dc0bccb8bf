package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docker/agentgateway/pkg/config"
	"github.com/docker/agentgateway/pkg/logging"
)

type rootFlags struct {
	configPath string
	enableOtel bool
	debugMode  bool
	logFile    string
	logFormat  string

	settings  *config.Settings
	logCloser io.Closer
}

func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "agentgateway",
		Short: "agentgateway - serve agent applications over HTTP",
		Long:  "agentgateway runs agent applications from a directory and exposes them over HTTP, SSE and WebSocket",
		Example: `  agentgateway api ./agents
  agentgateway api ./agents --port 9000 --reload-agents
  agentgateway eval ./agents weather smoke`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return flags.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if flags.logCloser != nil {
				if err := flags.logCloser.Close(); err != nil {
					slog.Error("Failed to close log file", "error", err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML settings file")
	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.enableOtel, "otel", "o", false, "Export traces over OTLP/HTTP")
	cmd.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "Write logs to a rotating file instead of stderr")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format: text or json (default: text on a terminal, json otherwise)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newAPICmd(&flags))
	cmd.AddCommand(newEvalCmd(&flags))

	return cmd
}

// setup loads the settings and installs the logger. Flags given on the
// command line win over the settings file and the environment.
func (f *rootFlags) setup(cmd *cobra.Command) error {
	settings, err := config.Load(f.configPath, os.Getenv)
	if err != nil {
		return err
	}

	pflags := cmd.Flags()
	if pflags.Changed("debug") {
		settings.Debug = f.debugMode
	}
	if pflags.Changed("log-file") {
		settings.LogFile = f.logFile
	}
	if pflags.Changed("log-format") {
		settings.LogFormat = f.logFormat
	}
	f.settings = settings

	maxSize, err := settings.LogMaxBytes()
	if err != nil {
		return err
	}
	closer, err := logging.Setup(cmd.ErrOrStderr(), logging.Options{
		Debug:   settings.Debug,
		Format:  settings.LogFormat,
		File:    settings.LogFile,
		MaxSize: maxSize,
	})
	if err != nil {
		slog.SetDefault(slog.New(logging.NewHandler(cmd.ErrOrStderr(), settings.LogFormat, slog.LevelInfo)))
		slog.Warn("Falling back to stderr logging", "error", err)
		return nil
	}
	f.logCloser = closer
	return nil
}

func Execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return processErr(ctx, err, stderr, rootCmd)
	}
	return nil
}

func processErr(ctx context.Context, err error, stderr io.Writer, rootCmd *cobra.Command) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := errors.AsType[RuntimeError](err); ok {
		// Already reported by the command.
		return err
	}

	fmt.Fprintln(stderr, err)
	if msg := err.Error(); strings.HasPrefix(msg, "unknown command ") || strings.HasPrefix(msg, "accepts ") || strings.HasPrefix(msg, "requires ") {
		fmt.Fprintln(stderr)
		_ = rootCmd.Usage()
	}
	return err
}

// RuntimeError wraps runtime errors to distinguish them from usage errors
type RuntimeError struct {
	Err error
}

func (e RuntimeError) Error() string {
	return e.Err.Error()
}

func (e RuntimeError) Unwrap() error {
	return e.Err
}
