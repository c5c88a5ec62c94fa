package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type objectView struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	Category     string    `json:"category"`
}

func (c *cli) listCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var objects []objectView
			for obj, err := range c.gateway.List(cmd.Context(), prefix) {
				if err != nil {
					return err
				}
				objects = append(objects, objectView{
					Key:          obj.Key,
					Size:         obj.Size,
					LastModified: obj.LastModified,
					Category:     string(obj.Category),
				})
			}

			out := cmd.OutOrStdout()
			if c.format == "json" {
				if objects == nil {
					objects = []objectView{}
				}
				return writeJSON(out, objects)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tLAST MODIFIED\tCATEGORY")
			for _, o := range objects {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", o.Key, o.Size, o.LastModified.Format(time.RFC3339), o.Category)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d objects\n", len(objects))
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "only list keys starting with prefix")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete one object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.gateway.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) deletePrefixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-prefix PREFIX",
		Short: "Delete every object under a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := args[0]
			if prefix == "" || prefix == "/" {
				return errors.New("refusing to delete the whole bucket")
			}
			n, err := c.gateway.DeletePrefix(cmd.Context(), prefix)
			if err != nil {
				if n > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %d objects before failing\n", n)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d objects under %s\n", n, prefix)
			return nil
		},
	}
}
