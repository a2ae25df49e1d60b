package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/focus/internal/command"
	"github.com/runger/focus/internal/now"
)

func newNowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "now",
		Aliases: []string{"current"},
		Short:   "Show what to focus on right now",
		GroupID: groupFocus,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, user, err := opts.session(cmd)
			if err != nil {
				return err
			}
			return showView(cmd.OutOrStdout(), c.Current(cmd.Context(), user), opts.json)
		},
	}
}

func newComputeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compute [bundle.json]",
		Short: "Resolve a context bundle read from a file or stdin",
		Long: `Resolve a context bundle without touching stored state.

The bundle is read from the given file, or from stdin when the argument is
omitted or "-".`,
		GroupID: groupFocus,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open bundle: %w", err)
				}
				defer f.Close()
				r = f
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("failed to read bundle: %w", err)
			}
			if !json.Valid(data) {
				return errors.New("bundle is not valid JSON")
			}

			c, _, err := opts.session(cmd)
			if err != nil {
				return err
			}
			return showView(cmd.OutOrStdout(), c.Compute(cmd.Context(), data), opts.json)
		},
	}
}

func newDeferCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "defer [reason...]",
		Short:   "Stop suggesting a focus for the cooldown period",
		GroupID: groupFocus,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, user, err := opts.session(cmd)
			if err != nil {
				return err
			}
			reason := strings.Join(args, " ")
			return showView(cmd.OutOrStdout(), c.Defer(cmd.Context(), user, reason), opts.json)
		},
	}
}

func newWakeCmd(opts *globalOptions) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:     "wake",
		Short:   "End a defer early, optionally naming the focus",
		GroupID: groupFocus,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key != "" {
				if _, _, ok := now.SplitCandidateKey(key); !ok {
					return fmt.Errorf("invalid key %q: want kind:id", key)
				}
			}
			c, user, err := opts.session(cmd)
			if err != nil {
				return err
			}
			return showView(cmd.OutOrStdout(), c.Wake(cmd.Context(), user, key), opts.json)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "candidate key to focus on (kind:id)")
	return cmd
}

func newDismissCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <kind:id>",
		Short: "Tell focus you are not doing this one",
		Long: `Dismiss a candidate. Each dismissal lowers its score; after three it is
suppressed until you act on it.`,
		GroupID: groupFocus,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if _, _, ok := now.SplitCandidateKey(key); !ok {
				return fmt.Errorf("invalid key %q: want kind:id", key)
			}
			c, user, err := opts.session(cmd)
			if err != nil {
				return err
			}
			resp, err := c.Dismiss(cmd.Context(), user, key)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dismissed %s (%d times, %s)\n", keyStyle.Render(resp.Key), resp.Count, resp.State)
			return nil
		},
	}
}

func newExecuteCmd(opts *globalOptions) *cobra.Command {
	var (
		op   string
		ref  string
		kind string
	)
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Apply a recommended action",
		Long: `Apply a recommended action, as printed by "focus now".

Ops: complete_action, resolve_blocker, resume_session, open_decision, open.`,
		GroupID: groupFocus,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ec := command.Command{Op: op, RefID: ref}
			if kind != "" {
				k, ok := now.ParseKind(kind)
				if !ok {
					return fmt.Errorf("unknown kind %q", kind)
				}
				ec.Kind = k
			}
			c, user, err := opts.session(cmd)
			if err != nil {
				return err
			}
			out, err := c.Execute(cmd.Context(), user, ec)
			if err != nil {
				return err
			}
			if opts.json {
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				renderOutcome(cmd.OutOrStdout(), ec, out)
			}
			if !out.OK {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&op, "op", "", "executor op code")
	cmd.Flags().StringVar(&ref, "ref", "", "item id the op applies to")
	cmd.Flags().StringVar(&kind, "kind", "", "item kind (action, decision, blocker, session)")
	_ = cmd.MarkFlagRequired("op")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newEventCmd(opts *globalOptions) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "event <type>",
		Short: "Record a user event",
		Long: `Record a user event in the history the engine reads.

Types: DEFER_NOW, OVERRIDE_NOW, EXECUTED_ACTION.`,
		GroupID: groupFocus,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := now.EventType(strings.ToUpper(args[0]))
			if !typ.IsValid() {
				return fmt.Errorf("unknown event type %q", args[0])
			}
			var raw json.RawMessage
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return errors.New("--payload is not valid JSON")
				}
				raw = json.RawMessage(payload)
			}
			c, user, err := opts.session(cmd)
			if err != nil {
				return err
			}
			ev, err := c.LogEvent(cmd.Context(), user, typ, raw)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), ev)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s %s\n", ev.Type, dimStyle.Render(ev.ID))
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "event payload as JSON")
	return cmd
}
