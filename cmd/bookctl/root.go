package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/littlehero/api/internal/config"
	"github.com/littlehero/api/internal/lifecycle"
	"github.com/littlehero/api/internal/storage"
)

// opener connects to the bucket described by the loaded configuration.
type opener func(ctx context.Context) (*storage.Gateway, *config.Config, error)

func openFromConfig(ctx context.Context) (*storage.Gateway, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gateway, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return gateway, cfg, nil
}

// cli is the state shared by every subcommand once the bucket is open.
type cli struct {
	open   opener
	format string

	gateway *storage.Gateway
	cfg     *config.Config
	log     zerolog.Logger
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:   "bookctl",
		Short: "Manage the book asset bucket",
		Long: `bookctl inspects and maintains the object store holding book assets.

Configuration is read the same way as the API server: config.yaml, .env and
STORAGE_* / RETENTION_* environment variables.

Examples:
  bookctl list --prefix books/        # List stored objects
  bookctl delete-prefix books/<id>/   # Remove every asset of one book
  bookctl setup-lifecycle             # Apply the retention rules
  bookctl audit                       # Report objects past their retention`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.format != "table" && c.format != "json" {
				return fmt.Errorf("unknown output format %q", c.format)
			}
			c.log = zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel).With().Timestamp().Logger()
			gateway, cfg, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			c.gateway, c.cfg = gateway, cfg
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&c.format, "output", "o", "table", "output format: table or json")

	root.AddCommand(
		c.listCmd(),
		c.deleteCmd(),
		c.deletePrefixCmd(),
		c.setupLifecycleCmd(),
		c.auditCmd(),
	)
	return root
}

func (c *cli) engine() *lifecycle.Engine {
	return lifecycle.NewEngine(c.gateway, lifecycle.DefaultPolicies(c.cfg.Retention), c.log)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
