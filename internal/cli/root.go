// Package cli is the uptime-checker command line: it starts and stops the
// daemon, queries it and validates configuration files.
package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/config"
	"github.com/hamed0406/uptimed/internal/control"
	"github.com/hamed0406/uptimed/internal/logging"
)

// Set by -ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	home       string
	verbose    bool
}

func (g *globals) env() config.Env {
	env := config.FromEnv()
	if g.home != "" {
		env.Home = g.home
	}
	return env
}

func (g *globals) client() *control.Client {
	return control.NewClient(control.SocketPath(g.env().Home))
}

func (g *globals) console() *zap.Logger {
	level := zap.WarnLevel
	if g.verbose {
		level = zap.DebugLevel
	}
	return logging.NewConsole(level)
}

func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:          "uptime-checker",
		Short:        "Website uptime checker",
		Long:         `uptime-checker polls websites over HTTP(S) and DNS, records the measurements and alerts when availability drops below 80%.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "configuration file (default: search cwd, home and /etc/uptime-checker)")
	root.PersistentFlags().StringVar(&g.home, "home", "", "daemon home holding the control socket (default $UPTIME_CHECKER_HOME or ~/.uptime-checker)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newStartCmd(g),
		newStopCmd(g),
		newStatusCmd(g),
		newConfigCmd(g),
		newDashboardCmd(g),
		newDaemonCmd(g),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		return 1
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	_, _ = io.WriteString(w, "Version: "+Version+"\nGit Commit: "+GitCommit+"\nBuild Time: "+BuildTime+"\n")
}

// short retry and reply deadline for "is it running?" checks
const (
	pingRetry   = 300 * time.Millisecond
	pingTimeout = time.Second
)
