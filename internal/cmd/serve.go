package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/runger/focus/internal/daemon"
	"github.com/runger/focus/internal/logging"
)

type serveOptions struct {
	listen string
	dbPath string
}

func (s *serveOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.listen, "listen", "", "address to listen on (default: server.listen_addr)")
	cmd.Flags().StringVar(&s.dbPath, "db", "", "database file (default: storage.db_path)")
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the focus daemon in the foreground",
		Long: `Run focusd in the foreground.

SIGTERM or SIGINT drains in-flight requests and exits; SIGHUP re-reads the
config file and applies log.level.`,
		GroupID: groupSetup,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts, so, cmd.ErrOrStderr())
		},
	}
	so.bind(cmd)
	return cmd
}

func serve(ctx context.Context, opts *globalOptions, so *serveOptions, stderr io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if so.listen != "" {
		cfg.Server.ListenAddr = so.listen
	}
	if so.dbPath != "" {
		cfg.Storage.DBPath = so.dbPath
	}

	lvl, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	level := new(slog.LevelVar)
	level.Set(lvl)

	out := stderr
	if cfg.Log.File != "" {
		f, err := logging.OpenFile(cfg.Log.File)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	logger := logging.New(&logging.Config{
		Output: out,
		Level:  level,
		Format: cfg.Log.Format,
		Debug:  opts.verbose,
	})
	slog.SetDefault(logger)

	daemon.Version = Version
	daemon.GitCommit = GitCommit
	return daemon.Run(ctx, daemon.Options{
		Config:     cfg,
		ConfigPath: opts.configFile(),
		Logger:     logger,
		LogLevel:   level,
	})
}

// NewDaemonCmd builds the focusd command: serve as the root command.
func NewDaemonCmd() *cobra.Command {
	opts := &globalOptions{}
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:           "focusd",
		Short:         "focus daemon",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts, so, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file (default: XDG config dir)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	so.bind(cmd)
	return cmd
}

// ExecuteDaemon runs focusd and returns the process exit code.
func ExecuteDaemon() int {
	cmd := NewDaemonCmd()
	cmd.SetArgs(os.Args[1:])
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "focusd: %v\n", err)
		return 1
	}
	return 0
}
