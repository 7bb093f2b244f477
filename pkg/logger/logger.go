package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`    // debug|info|warn|error
	Format string `mapstructure:"format" yaml:"format" json:"format"` // console|json
}

var (
	mu          sync.RWMutex
	base        = zap.NewNop()
	serviceName = "sigtrader"
)

func SetServiceName(newName string) string {
	mu.Lock()
	defer mu.Unlock()

	oldName := serviceName
	serviceName = newName
	return oldName
}

// New builds a zap logger from cfg. Unknown levels are an error so a typo in
// the config file is caught at load time rather than silently logging at info.
func New(cfg Config) (*zap.Logger, error) {
	var lvl zapcore.Level
	levelName := strings.TrimSpace(cfg.Level)
	if levelName == "" {
		levelName = "info"
	}
	if err := lvl.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("logger: bad level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
	case "json":
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("logger: unknown format %q (supported: console, json)", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}

	mu.RLock()
	name := serviceName
	mu.RUnlock()

	return l.With(zap.String("service", name)), nil
}

// Init builds the process logger and installs it as the package default.
func Init(cfg Config) (*zap.Logger, error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	Set(l)
	return l, nil
}

// Set replaces the package default. A nil logger resets it to a no-op.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	base = l
	mu.Unlock()
}

// L returns the package default logger. It is a no-op logger until Init or
// Set is called.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func Info(format string, args ...interface{}) {
	L().Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	L().Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	L().Error(fmt.Sprintf(format, args...))
}
