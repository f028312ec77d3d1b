package logger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Names of the loggers the service asks for.
const (
	App   = "garagedesk"
	HTTP  = "http"
	Audit = "audit"
)

// Manager owns every named logger built from log.config.json.
type Manager struct {
	mu      sync.RWMutex
	loggers map[string]*zap.Logger
	closers []func() error
}

// NewManager builds loggers from the given config files. Missing files are
// skipped; the App logger always exists afterwards.
func NewManager(configPaths ...string) (*Manager, error) {
	m := &Manager{loggers: make(map[string]*zap.Logger)}

	for _, path := range configPaths {
		if path == "" {
			continue
		}
		if err := m.load(path); err != nil {
			return nil, err
		}
	}

	if _, ok := m.loggers[App]; !ok {
		cfg := DefaultConfig
		l, err := m.build(App, &cfg)
		if err != nil {
			return nil, fmt.Errorf("building default logger: %w", err)
		}
		m.loggers[App] = l
	}

	return m, nil
}

func (m *Manager) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading log config %q: %w", path, err)
	}

	var wrapper struct {
		Loggers map[string]Config `json:"loggers"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("parsing log config %q: %w", path, err)
	}

	for name, cfg := range wrapper.Loggers {
		if _, exists := m.loggers[name]; exists {
			return fmt.Errorf("logger %q defined twice (last in %q)", name, path)
		}
		l, err := m.build(name, &cfg)
		if err != nil {
			return fmt.Errorf("building logger %q: %w", name, err)
		}
		m.loggers[name] = l
	}
	return nil
}

// Get returns the named logger. Unknown names get a child of the App logger.
func (m *Manager) Get(name string) *zap.Logger {
	m.mu.RLock()
	l, ok := m.loggers[name]
	app := m.loggers[App]
	m.mu.RUnlock()
	if ok {
		return l
	}
	return app.Named(name)
}

// Sync flushes all loggers and stops their async writers.
func (m *Manager) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, l := range m.loggers {
		// syncing stdout returns EINVAL on most platforms
		if err := l.Sync(); err != nil && !isStdSyncErr(err) {
			errs = append(errs, fmt.Errorf("sync %q: %w", name, err))
		}
	}
	for _, c := range m.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isStdSyncErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}

func (m *Manager) build(name string, cfg *Config) (*zap.Logger, error) {
	applyDefaults(cfg)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = timeEncoder(cfg.TimeEncoder)

	var fileEncoder zapcore.Encoder = zapcore.NewJSONEncoder(encCfg)
	consoleCfg := encCfg
	if cfg.Development {
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	var consoleEncoder zapcore.Encoder
	if cfg.Encoding == "console" || cfg.Development {
		consoleEncoder = zapcore.NewConsoleEncoder(consoleCfg)
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(consoleCfg)
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var cores []zapcore.Core
	if cfg.LogToConsole || cfg.Development {
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level))
	}

	for _, path := range cfg.OutputPaths {
		switch path {
		case "stdout", "stderr":
			if cfg.LogToConsole || cfg.Development {
				continue
			}
			ws := zapcore.Lock(os.Stdout)
			if path == "stderr" {
				ws = zapcore.Lock(os.Stderr)
			}
			cores = append(cores, zapcore.NewCore(consoleEncoder, ws, level))
			continue
		}

		var ws zapcore.WriteSyncer
		if cfg.Rotation.Enabled {
			ws = zapcore.AddSync(&lumberjack.Logger{
				Filename:   path,
				MaxSize:    cfg.Rotation.MaxSizeMB,
				MaxBackups: cfg.Rotation.MaxBackups,
				MaxAge:     cfg.Rotation.MaxAgeDays,
				Compress:   cfg.Rotation.Compress,
			})
		} else {
			f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("opening log file %q: %w", path, err)
			}
			ws = zapcore.AddSync(f)
		}

		ac := NewAsyncCore(zapcore.NewCore(fileEncoder, ws, level),
			cfg.Async.BufferSize, cfg.Async.BatchSize,
			time.Duration(cfg.Async.FlushIntervalMS)*time.Millisecond)
		m.closers = append(m.closers, ac.Close)
		cores = append(cores, ac)
	}

	core := zapcore.NewTee(cores...)
	core = NewSanitizerCore(core, cfg.Sanitization.SensitiveFields, cfg.Sanitization.Mask)

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)).Named(name), nil
}

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func timeEncoder(name string) zapcore.TimeEncoder {
	switch strings.ToLower(name) {
	case "epoch":
		return zapcore.EpochTimeEncoder
	case "millis":
		return zapcore.EpochMillisTimeEncoder
	case "rfc3339":
		return zapcore.RFC3339TimeEncoder
	default:
		return zapcore.ISO8601TimeEncoder
	}
}
