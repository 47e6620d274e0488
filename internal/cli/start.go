package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimed/internal/config"
	"github.com/hamed0406/uptimed/internal/control"
)

// startWait bounds how long start waits for the spawned daemon's socket.
const startWait = 10 * time.Second

func newStartCmd(g *globals) *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			if foreground {
				return runDaemon(cmd.Context(), g)
			}
			c := g.client()
			c.Retry = pingRetry
			c.Timeout = pingTimeout
			switch err := c.Ping(cmd.Context()); {
			case err == nil:
				fmt.Fprintln(cmd.OutOrStdout(), "uptime-checker is already running")
				return nil
			case errors.Is(err, control.ErrUnresponsive):
				return fmt.Errorf("%s is held by a process that does not answer; stop it or remove the socket", c.Path)
			}
			c.Timeout = control.DefaultTimeout

			// Fail here, not in the detached process, on a bad config.
			if _, path, err := config.Resolve(g.configPath, config.DefaultSearchDirs(), g.console()); err != nil {
				return err
			} else if g.verbose {
				fmt.Fprintln(cmd.OutOrStdout(), "using", path)
			}

			if err := spawn(g); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), startWait)
			defer cancel()
			c.Retry = startWait
			if err := c.Ping(ctx); err != nil {
				if errors.Is(err, control.ErrNotRunning) {
					return fmt.Errorf("daemon did not come up; see the logs in %s", g.env().LogDir)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "uptime-checker started")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run the daemon in this process")
	return cmd
}

// spawn re-executes this binary as a detached daemon.
func spawn(g *globals) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := []string{"daemon"}
	if g.configPath != "" {
		args = append(args, "--config", g.configPath)
	}
	if g.home != "" {
		args = append(args, "--home", g.home)
	}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()

	cmd := exec.Command(exe, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = devnull, devnull, devnull
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	return cmd.Process.Release()
}
