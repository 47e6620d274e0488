package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hamed0406/uptimed/internal/config"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Find and validate the configuration file and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkConfig(cmd.OutOrStdout(), g)
		},
	})
	return cmd
}

func checkConfig(w io.Writer, g *globals) error {
	ok := func(msg string) { fmt.Fprintln(w, "✔", msg) }
	warn := func(msg string) { fmt.Fprintln(w, "⚠", msg) }

	cfg, path, err := config.Resolve(g.configPath, config.DefaultSearchDirs(), g.console())
	if err != nil {
		fmt.Fprintln(w, "✖", err)
		return err
	}
	env := g.env()
	cfg.ApplyDefaults(env.Home)
	cfg.ApplyEnv(env)

	ok("configuration file " + path)
	sites, err := cfg.Websites()
	if err != nil {
		fmt.Fprintln(w, "✖", err)
		return err
	}
	for _, s := range sites {
		ok(fmt.Sprintf("website %s every %s", s.Host, s.Interval))
	}

	switch cfg.Database.Driver {
	case "memory":
		warn("database driver memory keeps measurements in the daemon only; dashboard needs sqlite or postgres")
	case "postgres":
		if cfg.Database.DSN == "" {
			warn("postgres driver without database.dsn or DATABASE_URL")
		} else {
			ok("database postgres " + cfg.Database.Redacted().DSN)
		}
	default:
		ok(fmt.Sprintf("database sqlite %s/%s.db", cfg.Database.Dir, cfg.Database.Database))
	}
	if cfg.Database.Retention > 0 {
		ok("retention " + cfg.Database.Retention.String())
	}

	if cfg.Notify.SlackWebhook == "" && cfg.Notify.Email.Host == "" {
		warn("no Slack webhook or SMTP relay; alerts go to the log only")
	}

	if cfg.API.Addr == "" {
		return nil
	}
	ok("status API on " + cfg.API.Addr)
	if len(cfg.API.AdminKeys) == 0 {
		warn("ADMIN_API_KEYS is empty (/api/config rejects every request)")
	}
	if len(cfg.API.PublicKeys) == 0 && len(cfg.API.AdminKeys) == 0 {
		warn("no API keys; read routes are open")
	}
	for _, k := range append(append([]string{}, cfg.API.PublicKeys...), cfg.API.AdminKeys...) {
		if strings.ContainsAny(k, " \t") {
			warn("API key contains whitespace; use comma-separated keys without spaces")
			break
		}
	}
	if len(cfg.API.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; any origin may call the API")
	}
	return nil
}
