package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/focus/internal/config"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config [key] [value]",
		Short: "Get or set configuration values",
		Long: `Get or set focus configuration values.

Without arguments, lists all configuration keys.
With one argument, shows the value of that key.
With two arguments, sets the key to the value.

Configuration is stored in ~/.config/focus/config.yaml (XDG compliant).

Keys are in the format: section.key
Settable sections: server (listen_addr), log, engine, client

Examples:
  focus config                          # List all keys
  focus config engine.cooldown_hours    # Get a value
  focus config engine.cooldown_hours 4  # Defer for four hours
  focus config client.user alice`,
		GroupID: groupSetup,
		Args:    cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			switch len(args) {
			case 0:
				return listConfig(cmd, cfg, opts.configFile())
			case 1:
				return getConfig(cmd, cfg, args[0])
			}
			return setConfig(cmd, cfg, opts.configFile(), args[0], args[1])
		},
	}
}

func listConfig(cmd *cobra.Command, cfg *config.Config, path string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headingStyle.Render("Configuration Keys"))
	fmt.Fprintln(out, strings.Repeat("-", 40))

	var failedKeys []string
	for _, key := range config.ListKeys() {
		value, err := cfg.Get(key)
		if err != nil {
			failedKeys = append(failedKeys, key)
			continue
		}
		if value == "" {
			value = dimStyle.Render("(not set)")
		}
		fmt.Fprintf(out, "  %s = %s\n", keyStyle.Render(key), value)
	}

	if len(failedKeys) > 0 {
		fmt.Fprintf(out, "\n%s Failed to retrieve keys: %s\n", warnStyle.Render("Warning:"), strings.Join(failedKeys, ", "))
	}

	fmt.Fprintf(out, "\nConfig file: %s\n", path)
	return nil
}

func getConfig(cmd *cobra.Command, cfg *config.Config, key string) error {
	value, err := cfg.Get(key)
	if err != nil {
		return err
	}
	if value == "" {
		fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("(not set)"))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func setConfig(cmd *cobra.Command, cfg *config.Config, path, key, value string) error {
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.SaveToFile(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", keyStyle.Render(key), value)
	fmt.Fprintf(cmd.OutOrStdout(), "Saved to: %s\n", path)
	return nil
}
