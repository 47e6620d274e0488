package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/config"
	"github.com/hamed0406/uptimed/internal/control"
	"github.com/hamed0406/uptimed/internal/daemon"
	"github.com/hamed0406/uptimed/internal/dashboard"
	"github.com/hamed0406/uptimed/internal/httpapi"
	apimw "github.com/hamed0406/uptimed/internal/httpapi/middleware"
	"github.com/hamed0406/uptimed/internal/logging"
	"github.com/hamed0406/uptimed/internal/notify"
)

func newDaemonCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:    "daemon",
		Short:  "Run the daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), g)
		},
	}
}

// NewDaemonCmd is the root command of the standalone uptimed binary.
func NewDaemonCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:          "uptimed",
		Short:        "Run the uptime checker daemon in the foreground",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), g)
		},
	}
	cmd.Flags().StringVarP(&g.configPath, "config", "c", "", "configuration file")
	cmd.Flags().StringVar(&g.home, "home", "", "daemon home")
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func runDaemon(ctx context.Context, g *globals) error {
	if ctx == nil {
		ctx = context.Background()
	}
	env := g.env()
	if err := os.MkdirAll(env.Home, 0o755); err != nil {
		return fmt.Errorf("daemon home: %w", err)
	}

	opts := []logging.Option{logging.WithLevel(logging.ParseLevel(env.LogLevel))}
	if g.verbose {
		opts = append(opts, logging.WithConsole())
	}
	logger, err := logging.NewLogger(env.LogDir, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, path, err := config.Resolve(g.configPath, config.DefaultSearchDirs(), logger)
	if err != nil {
		logger.Error("config_error", zap.Error(err))
		return err
	}
	cfg.ApplyDefaults(env.Home)
	cfg.ApplyEnv(env)
	logger.Info("config_loaded", zap.String("path", path), zap.Int("websites", len(cfg.Website)))

	sink, err := daemon.OpenSink(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("sink_error", zap.Error(err))
		return err
	}
	defer sink.Close()

	hub := httpapi.NewHub(logger)
	defer hub.Close()

	sup, err := daemon.New(cfg, sink, daemon.Options{
		Logger:   logger,
		Home:     env.Home,
		Notifier: notify.Build(logger, cfg.Notify.SlackWebhook, smtpConfig(cfg.Notify.Email)),
		OnAlert:  hub.BroadcastAlert,
	})
	if err != nil {
		return err
	}

	ctl, err := control.Listen(control.SocketPath(env.Home), sup, logger)
	if err != nil {
		return err
	}
	sup.AttachControl(ctl)
	go func() {
		if err := ctl.Serve(); err != nil {
			logger.Error("control_serve_error", zap.Error(err))
		}
	}()

	var api *http.Server
	if cfg.API.Addr != "" {
		srv := httpapi.NewServer(logger, sup, dashboard.NewService(sink), hub)
		api = &http.Server{
			Addr: cfg.API.Addr,
			Handler: srv.Router(
				apimw.Keys{Public: cfg.API.PublicKeys, Admin: cfg.API.AdminKeys},
				cfg.API.AllowedOrigins,
				cfg.API.PublicRPM,
				cfg.API.PublicBurst,
			),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("api_listen", zap.String("addr", api.Addr))
			if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("api_listen_error", zap.Error(err))
			}
		}()
	}

	if err := sup.StartAll(); err != nil {
		sup.StopAll()
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-sigCtx.Done():
		logger.Info("signal_received")
		sup.StopAll()
	case <-sup.Done():
	}

	if api != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = api.Shutdown(shCtx)
	}
	return sup.Err()
}

func smtpConfig(e config.Email) notify.SMTP {
	return notify.SMTP{
		Host:     e.Host,
		Port:     e.Port,
		Username: e.Username,
		Password: e.Password,
		From:     e.From,
		To:       e.To,
		TLS:      e.TLS,
	}
}
