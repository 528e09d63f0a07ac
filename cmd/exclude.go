package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"listing-watcher/models"
)

func newExcludeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exclude",
		Short: "Manage exclusion rules",
	}

	var reason string
	addFlags := func(c *cobra.Command) *cobra.Command {
		c.Flags().StringVar(&reason, "reason", "", "why the rule was added")
		return c
	}

	cmd.AddCommand(
		addFlags(&cobra.Command{
			Use:   "add-id <listing-id>",
			Short: "Exclude a single listing",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				rule, err := a.ruleStore().AddID(args[0], reason)
				return printAdded(cmd.OutOrStdout(), rule, err)
			},
		}),
		addFlags(&cobra.Command{
			Use:   "add-address <street> [number]",
			Short: "Exclude one building",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				number := ""
				if len(args) == 2 {
					number = args[1]
				}
				rule, err := a.ruleStore().AddAddress(args[0], number, reason)
				return printAdded(cmd.OutOrStdout(), rule, err)
			},
		}),
		addFlags(&cobra.Command{
			Use:   "add-street <street>",
			Short: "Exclude every listing on a street",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				rule, err := a.ruleStore().AddStreet(args[0], reason)
				return printAdded(cmd.OutOrStdout(), rule, err)
			},
		}),
		&cobra.Command{
			Use:   "remove <key>",
			Short: "Remove the rules with the given id, street or address",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				rule, err := a.ruleStore().Remove(strings.Join(args, " "))
				if err != nil {
					return err
				}
				kind, _ := rule.Kind()
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s rule %q\n", kind, rule.Key())
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List exclusion rules",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				renderRules(cmd.OutOrStdout(), a.ruleStore().Rules())
				return nil
			},
		},
	)
	return cmd
}

func printAdded(w io.Writer, rule models.ExclusionRule, err error) error {
	if err != nil {
		return err
	}
	kind, _ := rule.Kind()
	fmt.Fprintf(w, "Added %s rule %q\n", kind, rule.Key())
	return nil
}

func renderRules(w io.Writer, rules []models.ExclusionRule) {
	if len(rules) == 0 {
		fmt.Fprintln(w, "No exclusion rules.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Kind", "Key", "Reason", "Excluded At"})
	for _, r := range rules {
		kind, _ := r.Kind()
		excludedAt := ""
		if !r.ExcludedAt.IsZero() {
			excludedAt = r.ExcludedAt.Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{kind, r.Key(), r.Reason, excludedAt})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("Total: %d", len(rules)), "", ""})
	t.Render()
}
