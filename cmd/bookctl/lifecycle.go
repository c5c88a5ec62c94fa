package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/littlehero/api/internal/model"
)

type reconcileView struct {
	Applied  []model.AssetCategory         `json:"applied"`
	Removed  []model.AssetCategory         `json:"removed"`
	Rejected map[model.AssetCategory]string `json:"rejected,omitempty"`
	Failed   map[model.AssetCategory]string `json:"failed,omitempty"`
}

func errStrings(m map[model.AssetCategory]error) map[model.AssetCategory]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[model.AssetCategory]string, len(m))
	for k, v := range m {
		out[k] = v.Error()
	}
	return out
}

func (c *cli) setupLifecycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup-lifecycle",
		Short: "Apply the retention rules to the bucket",
		Long: `Applies one expiration rule per asset category and removes rules for
categories kept indefinitely. Safe to run repeatedly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.engine().Reconcile(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			view := reconcileView{
				Applied:  report.Applied,
				Removed:  report.Removed,
				Rejected: errStrings(report.Rejected),
				Failed:   errStrings(report.Failed),
			}
			if c.format == "json" {
				if err := writeJSON(out, view); err != nil {
					return err
				}
			} else {
				for _, cat := range view.Applied {
					fmt.Fprintf(out, "applied  %s\n", cat)
				}
				for _, cat := range view.Removed {
					fmt.Fprintf(out, "removed  %s\n", cat)
				}
				for cat, msg := range view.Rejected {
					fmt.Fprintf(out, "rejected %s: %s\n", cat, msg)
				}
				for cat, msg := range view.Failed {
					fmt.Fprintf(out, "failed   %s: %s\n", cat, msg)
				}
			}

			if !report.OK() {
				return errors.New("some lifecycle rules were not applied")
			}
			return nil
		},
	}
}

type findingView struct {
	Key       string `json:"key"`
	Category  string `json:"category"`
	Age       string `json:"age"`
	Retention string `json:"retention"`
	Overdue   string `json:"overdue"`
}

func (c *cli) auditCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report objects kept past their retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			findings, err := c.engine().Audit(cmd.Context())
			if err != nil {
				return err
			}

			views := make([]findingView, 0, len(findings))
			for _, f := range findings {
				views = append(views, findingView{
					Key:       f.Object.Key,
					Category:  string(f.Object.Category),
					Age:       f.Age.Round(time.Minute).String(),
					Retention: f.Retention.String(),
					Overdue:   f.Overdue().Round(time.Minute).String(),
				})
			}

			out := cmd.OutOrStdout()
			if c.format == "json" {
				if err := writeJSON(out, views); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tCATEGORY\tAGE\tRETENTION\tOVERDUE")
				for _, v := range views {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Key, v.Category, v.Age, v.Retention, v.Overdue)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "%d overdue objects\n", len(views))
			}

			if strict && len(findings) > 0 {
				return fmt.Errorf("%d objects past retention", len(findings))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any object is overdue")
	return cmd
}
