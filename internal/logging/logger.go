package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const FileName = "uptimed.log"

type options struct {
	level   zapcore.Level
	console bool
}

type Option func(*options)

// WithConsole tees entries to stderr in addition to the rotated file.
func WithConsole() Option { return func(o *options) { o.console = true } }

func WithLevel(l zapcore.Level) Option { return func(o *options) { o.level = l } }

// ParseLevel accepts debug, info, warn and error. Anything else is info.
func ParseLevel(s string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zap.InfoLevel
	}
	return l
}

func NewLogger(logDir string, opts ...Option) (*zap.Logger, error) {
	o := options{level: zap.InfoLevel}
	for _, fn := range opts {
		fn(&o)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, FileName),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, o.level)

	if o.console {
		ccfg := zap.NewDevelopmentEncoderConfig()
		ccfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewTee(core, zapcore.NewCore(zapcore.NewConsoleEncoder(ccfg), zapcore.Lock(os.Stderr), o.level))
	}
	return zap.New(core), nil
}

// NewConsole is the logger for short-lived CLI commands.
func NewConsole(level zapcore.Level) *zap.Logger {
	ccfg := zap.NewDevelopmentEncoderConfig()
	ccfg.TimeKey = ""
	return zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(ccfg), zapcore.Lock(os.Stderr), level))
}

// WriteErrorFile dumps msg to dir/error-<timestamp>.log and returns the
// file path.
func WriteErrorFile(dir string, at time.Time, msg string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, "error-"+at.UTC().Format("20060102T150405")+".log")
	body := fmt.Sprintf("%s\n%s\n", at.UTC().Format(time.RFC3339), msg)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		return "", err
	}
	return p, nil
}
