package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
)

var (
	ErrNoConfigFile = errors.New("no uptime-checker configuration file found")
	ErrAllInvalid   = errors.New("all configuration files found are invalid")
	ErrInvalid      = errors.New("invalid configuration")
)

// FileNames are tried in order inside every search directory.
var FileNames = []string{
	"uptime-checker.json",
	"uptime-checker.conf",
	".uptime-checker.json",
	".uptime-checker.conf",
}

type HTTPOptions struct {
	Method     string            `mapstructure:"method" json:"method,omitempty" validate:"omitempty,alpha"`
	Headers    map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	Timeout    int               `mapstructure:"timeout" json:"timeout,omitempty" validate:"gte=0"` // ms
	IgnoreBody bool              `mapstructure:"ignoreBody" json:"ignoreBody,omitempty"`
}

type Website struct {
	URL           string      `mapstructure:"url" json:"url" validate:"required,httpurl"`
	CheckInterval int         `mapstructure:"checkInterval" json:"checkInterval,omitempty" validate:"gte=0"` // ms
	HTTPOptions   HTTPOptions `mapstructure:"httpOptions" json:"httpOptions"`
}

type Database struct {
	Driver    string        `mapstructure:"driver" json:"driver" validate:"oneof=memory sqlite postgres"`
	Database  string        `mapstructure:"database" json:"database" validate:"required"`
	Dir       string        `mapstructure:"dir" json:"dir,omitempty"`
	DSN       string        `mapstructure:"dsn" json:"dsn,omitempty"`
	Retention time.Duration `mapstructure:"retention" json:"retention,omitempty" validate:"gte=0"`
}

type Notify struct {
	SlackWebhook string `mapstructure:"slackWebhook" json:"slackWebhook,omitempty" validate:"omitempty,url"`
	Email        Email  `mapstructure:"email" json:"email"`
}

type Email struct {
	Host     string   `mapstructure:"host" json:"host,omitempty" validate:"required_with=To"`
	Port     int      `mapstructure:"port" json:"port,omitempty" validate:"gte=0,lte=65535"`
	Username string   `mapstructure:"username" json:"username,omitempty"`
	Password string   `mapstructure:"password" json:"-"`
	From     string   `mapstructure:"from" json:"from,omitempty" validate:"omitempty,email"`
	To       []string `mapstructure:"to" json:"to,omitempty" validate:"omitempty,dive,email"`
	TLS      bool     `mapstructure:"tls" json:"tls,omitempty"`
}

type API struct {
	Addr        string   `mapstructure:"addr" json:"addr,omitempty"`
	PublicKeys  []string `mapstructure:"publicKeys" json:"-"`
	AdminKeys   []string `mapstructure:"adminKeys" json:"-"`
	PublicRPM   int      `mapstructure:"publicRPM" json:"publicRPM,omitempty" validate:"gte=0"`
	PublicBurst int      `mapstructure:"publicBurst" json:"publicBurst,omitempty" validate:"gte=0"`

	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowedOrigins" json:"allowedOrigins,omitempty"`
}

type Config struct {
	Website       []Website `mapstructure:"website" json:"website" validate:"required,min=1,dive"`
	CheckInterval int       `mapstructure:"checkInterval" json:"checkInterval,omitempty" validate:"gte=0"` // ms
	Database      Database  `mapstructure:"database" json:"database"`
	Notify        Notify    `mapstructure:"notify" json:"notify"`
	API           API       `mapstructure:"api" json:"api"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseURL(fl.Field().String())
		return err == nil
	})
	return v
}

// DefaultSearchDirs is the working directory, the user's home and, on
// Linux, /etc/uptime-checker.
func DefaultSearchDirs() []string {
	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	if h, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, h)
	}
	if runtime.GOOS == "linux" {
		dirs = append(dirs, "/etc/uptime-checker")
	}
	return dirs
}

// Find lists existing configuration files, highest priority first.
func Find(dirs []string) ([]string, error) {
	var found []string
	for _, d := range dirs {
		for _, name := range FileNames {
			p := filepath.Join(d, name)
			if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
				found = append(found, p)
			}
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w (searched %s)", ErrNoConfigFile, strings.Join(dirs, ", "))
	}
	return found, nil
}

// LoadAndValidate reads a JSON configuration file, applies defaults and
// validates it.
func LoadAndValidate(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration file %s: %w", path, err)
	}
	return Parse(raw, path)
}

// Parse decodes raw JSON. name is only used in error messages.
func Parse(raw []byte, name string) (*Config, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	v := viper.New()
	v.SetConfigType("json")
	v.SetDefault("checkInterval", int(domain.DefaultCheckInterval/time.Millisecond))
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.database", "uptime-checker")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("unable to parse the JSON configuration file in %s: %w", name, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration %s: %w", name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			fe := ves[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalid, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	seen := make(map[string]bool, len(c.Website))
	for _, w := range c.Website {
		h := domain.NormalizeHost(w.URL)
		if seen[h] {
			return fmt.Errorf("%w: website %s listed twice", ErrInvalid, h)
		}
		seen[h] = true
	}
	return nil
}

// FirstValid loads the first valid file among the ones Find returns.
// Invalid files with higher priority are logged and skipped.
func FirstValid(dirs []string, log *zap.Logger) (*Config, string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	files, err := Find(dirs)
	if err != nil {
		return nil, "", err
	}
	var skipped error
	for _, f := range files {
		cfg, err := LoadAndValidate(f)
		if err == nil {
			return cfg, f, nil
		}
		log.Warn("config_skipped", zap.String("path", f), zap.Error(err))
		skipped = multierr.Append(skipped, err)
	}
	return nil, "", fmt.Errorf("%w: %v", ErrAllInvalid, skipped)
}

// Resolve loads explicit when given, otherwise searches dirs.
func Resolve(explicit string, dirs []string, log *zap.Logger) (*Config, string, error) {
	if explicit != "" {
		cfg, err := LoadAndValidate(explicit)
		return cfg, explicit, err
	}
	return FirstValid(dirs, log)
}

// ApplyDefaults fills values that depend on the daemon home.
func (c *Config) ApplyDefaults(home string) {
	if c.Database.Dir == "" {
		c.Database.Dir = filepath.Join(home, "data")
	}
}

// ApplyEnv lets the runtime environment override file settings.
func (c *Config) ApplyEnv(env Env) {
	if env.APIAddr != "" {
		c.API.Addr = env.APIAddr
	}
	if env.SlackWebhook != "" {
		c.Notify.SlackWebhook = env.SlackWebhook
	}
	if env.DatabaseURL != "" && c.Database.Driver == "postgres" {
		c.Database.DSN = env.DatabaseURL
	}
	if len(env.PublicKeys) > 0 {
		c.API.PublicKeys = env.PublicKeys
	}
	if len(env.AdminKeys) > 0 {
		c.API.AdminKeys = env.AdminKeys
	}
	if len(env.AllowedOrigins) > 0 {
		c.API.AllowedOrigins = env.AllowedOrigins
	}
}

// Websites converts the file entries into poll targets. A site's own
// interval wins over the file-wide one.
func (c *Config) Websites() ([]domain.Website, error) {
	out := make([]domain.Website, 0, len(c.Website))
	for _, w := range c.Website {
		ms := w.CheckInterval
		if ms == 0 {
			ms = c.CheckInterval
		}
		opts := domain.ProbeOptions{
			Method:     strings.ToUpper(w.HTTPOptions.Method),
			Headers:    w.HTTPOptions.Headers,
			Timeout:    time.Duration(w.HTTPOptions.Timeout) * time.Millisecond,
			IgnoreBody: w.HTTPOptions.IgnoreBody,
		}
		site, err := domain.NewWebsite(w.URL, time.Duration(ms)*time.Millisecond, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, nil
}

// Redacted returns a copy without the DSN password.
func (d Database) Redacted() Database {
	if d.DSN == "" {
		return d
	}
	if u, err := url.Parse(d.DSN); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			d.DSN = u.String()
		}
	}
	return d
}
