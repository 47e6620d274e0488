package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Env is the daemon's runtime environment. The website configuration file
// is loaded separately; see Load.
type Env struct {
	Home         string // socket, error dumps and default data dir
	LogDir       string // logs directory
	LogLevel     string // debug | info | warn | error
	APIAddr      string // overrides api.addr when set
	SlackWebhook string // overrides notify.slackWebhook when set
	DatabaseURL  string // overrides database.dsn when set

	// Status API
	PublicKeys     []string
	AdminKeys      []string
	AllowedOrigins []string
}

// splitList reads a comma-separated variable, dropping empty items.
func splitList(name string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(name), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func FromEnv() Env {
	// Daemon home
	home := strings.TrimSpace(os.Getenv("UPTIME_CHECKER_HOME"))
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(h, ".uptime-checker")
		} else {
			home = ".uptime-checker"
		}
	}

	// Logs
	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = filepath.Join(home, "logs")
	}
	level := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if level == "" {
		level = "info"
	}

	return Env{
		Home:         home,
		LogDir:       logDir,
		LogLevel:     level,
		APIAddr:      strings.TrimSpace(os.Getenv("API_ADDR")),
		SlackWebhook: strings.TrimSpace(os.Getenv("SLACK_WEBHOOK_URL")),
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),

		PublicKeys:     splitList("PUBLIC_API_KEYS"),
		AdminKeys:      splitList("ADMIN_API_KEYS"),
		AllowedOrigins: splitList("ALLOWED_ORIGINS"),
	}
}
