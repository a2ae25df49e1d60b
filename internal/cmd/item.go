package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/focus/internal/now"
)

func newItemCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "item",
		Short:   "Manage work items",
		GroupID: groupItems,
	}
	cmd.AddCommand(newItemAddCmd(opts), newItemListCmd(opts), newItemRmCmd(opts))
	return cmd
}

func parseKindArg(s string) (now.Kind, error) {
	k, ok := now.ParseKind(s)
	if !ok {
		return "", fmt.Errorf("unknown kind %q (want action, decision, blocker or session)", s)
	}
	return k, nil
}

// defaultStatus is the status a new item of kind starts in, one the engine
// treats as open.
func defaultStatus(kind now.Kind) string {
	switch kind {
	case now.KindDecision:
		return now.StatusUnresolved
	case now.KindBlocker, now.KindSession:
		return now.StatusActive
	}
	return now.StatusOpen
}

// parseDue accepts RFC 3339 or a bare date, read in local time.
func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --due %q: want 2006-01-02 or RFC 3339", s)
}

func newItemAddCmd(opts *globalOptions) *cobra.Command {
	var (
		status   string
		priority string
		project  string
		due      string
	)
	cmd := &cobra.Command{
		Use:   "add <kind> <id> <title...>",
		Short: "Add or replace a work item",
		Example: `  focus item add blocker b1 "CI is red on main" --priority critical
  focus item add action 42 Write release notes --due 2026-03-12`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKindArg(args[0])
			if err != nil {
				return err
			}
			it := now.Item{
				ID:       now.ItemID(args[1]),
				Title:    strings.Join(args[2:], " "),
				Status:   status,
				Priority: now.Priority(strings.ToLower(priority)),
				Project:  project,
			}
			if it.Status == "" {
				it.Status = defaultStatus(kind)
			}
			if due != "" {
				t, err := parseDue(due)
				if err != nil {
					return err
				}
				it.DueAt = &t
			}

			c, user, err := opts.session(cmd)
			if err != nil {
				return err
			}
			if err := c.PutItem(cmd.Context(), user, kind, it); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", keyStyle.Render(now.CandidateKey(kind, it.ID)))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "item status (default: open for the kind)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (critical, high or a number)")
	cmd.Flags().StringVar(&project, "project", "", "project name")
	cmd.Flags().StringVar(&due, "due", "", "due date (2006-01-02 or RFC 3339)")
	return cmd
}

func newItemListCmd(opts *globalOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List work items",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var k now.Kind
			if kind != "" {
				var err error
				if k, err = parseKindArg(kind); err != nil {
					return err
				}
			}
			c, user, err := opts.session(cmd)
			if err != nil {
				return err
			}
			recs, err := c.ListItems(cmd.Context(), user, k)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			renderItems(cmd.OutOrStdout(), recs, termWidth(cmd.OutOrStdout()))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list this kind")
	return cmd
}

func newItemRmCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <kind> <id>",
		Aliases: []string{"remove"},
		Short:   "Delete a work item",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKindArg(args[0])
			if err != nil {
				return err
			}
			c, user, err := opts.session(cmd)
			if err != nil {
				return err
			}
			id := now.ItemID(args[1])
			if err := c.DeleteItem(cmd.Context(), user, kind, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", keyStyle.Render(now.CandidateKey(kind, id)))
			return nil
		},
	}
}
