package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/focus/internal/client"
	"github.com/runger/focus/internal/config"
	"github.com/runger/focus/internal/logging"
)

// Command groups.
const (
	groupFocus = "focus"
	groupItems = "items"
	groupSetup = "setup"
)

// errReported means the failure was already printed.
var errReported = errors.New("reported")

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	user       string
	server     string
	timeout    time.Duration
	json       bool
	verbose    bool
}

// loadConfig reads .env and the config file, honouring --config.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	path := o.configPath
	if path == "" {
		path = config.DefaultPaths().ConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// configFile returns the config path in effect.
func (o *globalOptions) configFile() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.DefaultPaths().ConfigFile()
}

// session resolves the user and builds a daemon client.
func (o *globalOptions) session(cmd *cobra.Command) (*client.Client, string, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, "", err
	}

	user := strings.TrimSpace(o.user)
	if user == "" {
		user = cfg.Client.User
	}
	if user == "" {
		return nil, "", errors.New("no user: pass --user or set client.user")
	}

	server := o.server
	if server == "" {
		server = cfg.Client.ServerURL
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = time.Duration(cfg.Client.TimeoutMs) * time.Millisecond
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(&logging.Config{
		Output: cmd.ErrOrStderr(),
		Level:  level,
		Format: logging.FormatText,
	})
	return client.New(server, timeout, logger), user, nil
}

// NewRootCmd builds the focus command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "focus",
		Short: "what should I work on right now?",
		Long: `focus - one clear next step, or an honest "nothing stands out"
  - focus now          show the current focus
  - focus defer        leave me alone for a while
  - focus item add     track an action, decision, blocker or session`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupColors(cmd.OutOrStdout())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default: XDG config dir)")
	pf.StringVarP(&opts.user, "user", "u", "", "user id (default: client.user)")
	pf.StringVar(&opts.server, "server", "", "daemon URL (default: client.server_url)")
	pf.DurationVar(&opts.timeout, "timeout", 0, "request timeout (default: client.timeout_ms)")
	pf.BoolVar(&opts.json, "json", false, "print JSON instead of text")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log requests to stderr")

	root.AddGroup(
		&cobra.Group{ID: groupFocus, Title: "Focus:"},
		&cobra.Group{ID: groupItems, Title: "Work items:"},
		&cobra.Group{ID: groupSetup, Title: "Setup:"},
	)

	root.AddCommand(
		newNowCmd(opts),
		newComputeCmd(opts),
		newDeferCmd(opts),
		newWakeCmd(opts),
		newDismissCmd(opts),
		newExecuteCmd(opts),
		newEventCmd(opts),
		newItemCmd(opts),
		newConfigCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Args[1:], os.Stderr)
}

func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(stderr, "focus: %v\n", err)
		}
		return 1
	}
	return 0
}
