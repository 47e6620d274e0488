package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimed/internal/control"
)

func newStopCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			if err := c.Stop(cmd.Context()); err != nil {
				if errors.Is(err, control.ErrNotRunning) {
					return fmt.Errorf("uptime-checker is not running")
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "uptime-checker stopped")
			return nil
		},
	}
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon runs and with which configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(cmd.Context(), cmd, g.client())
		},
	}
}

func printStatus(ctx context.Context, cmd *cobra.Command, c *control.Client) error {
	st, err := c.Status(ctx)
	if errors.Is(err, control.ErrNotRunning) {
		fmt.Fprintln(cmd.OutOrStdout(), "uptime-checker is not running")
		return nil
	}
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "uptime-checker is running")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
