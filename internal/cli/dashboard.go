package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimed/internal/config"
	"github.com/hamed0406/uptimed/internal/daemon"
	"github.com/hamed0406/uptimed/internal/dashboard"
	"github.com/hamed0406/uptimed/internal/domain"
)

const clearScreen = "\033[H\033[2J"

func newDashboardCmd(g *globals) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the last 10 minutes of measurements per website",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, _, err := config.Resolve(g.configPath, config.DefaultSearchDirs(), g.console())
			if err != nil {
				return err
			}
			env := g.env()
			cfg.ApplyDefaults(env.Home)
			cfg.ApplyEnv(env)
			if cfg.Database.Driver == "memory" {
				return fmt.Errorf("the memory driver is private to the daemon; use the status API instead")
			}
			sink, err := daemon.OpenSink(ctx, cfg.Database, g.console())
			if err != nil {
				return err
			}
			defer sink.Close()

			sites, err := cfg.Websites()
			if err != nil {
				return err
			}
			hosts := make([]string, 0, len(sites))
			for _, s := range sites {
				hosts = append(hosts, s.Host)
			}
			svc := dashboard.NewService(sink)
			feed := dashboard.NewFeed(svc)
			if !watch {
				return drawDashboard(ctx, cmd.OutOrStdout(), svc, feed, hosts, nil)
			}

			t := time.NewTicker(interval)
			defer t.Stop()
			var alerts []domain.Record
			for {
				fmt.Fprint(cmd.OutOrStdout(), clearScreen)
				if alerts, err = keepAlerts(ctx, feed, hosts, alerts); err != nil {
					return err
				}
				if err := drawDashboard(ctx, cmd.OutOrStdout(), svc, nil, hosts, alerts); err != nil {
					return err
				}
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "refresh until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval with --watch")
	return cmd
}

// maxAlerts caps the alert list shown by --watch.
const maxAlerts = 20

func keepAlerts(ctx context.Context, feed *dashboard.Feed, hosts []string, shown []domain.Record) ([]domain.Record, error) {
	fresh, err := feed.Next(ctx, hosts)
	if err != nil {
		return shown, err
	}
	shown = append(shown, fresh...)
	if len(shown) > maxAlerts {
		shown = shown[len(shown)-maxAlerts:]
	}
	return shown, nil
}

// drawDashboard renders one frame. With a feed it shows every alert the
// feed has not returned yet.
func drawDashboard(ctx context.Context, w io.Writer, svc *dashboard.Service, feed *dashboard.Feed, hosts []string, alerts []domain.Record) error {
	sums, err := svc.Summaries(ctx, hosts)
	if err != nil {
		return err
	}
	if feed != nil {
		if alerts, err = feed.Next(ctx, hosts); err != nil {
			return err
		}
	}
	return dashboard.Render(w, sums, alerts)
}
