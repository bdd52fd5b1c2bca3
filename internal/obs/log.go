package obs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	loggerMu sync.RWMutex
	logger   *zap.Logger
)

// LogConfig selects the log level and destination.
type LogConfig struct {
	Level  string
	Output string // stdout or file
	Path   string
	// Rotation settings apply to file output only.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger builds a JSON zap logger from cfg.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var sink zapcore.WriteSyncer
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		sink = zapcore.AddSync(os.Stdout)
	case "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("log path is required when output is file")
		}
		sink = fileSink(cfg)
	default:
		return nil, fmt.Errorf("unsupported log output %q", cfg.Output)
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), sink, ParseLevel(cfg.Level))
	return zap.New(core, zap.AddCaller()), nil
}

func fileSink(cfg LogConfig) zapcore.WriteSyncer {
	size, backups, age := cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays
	if size <= 0 {
		size = 100
	}
	if backups <= 0 {
		backups = 10
	}
	if age <= 0 {
		age = 7
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.Path, "teamledger.log"),
		MaxSize:    size,
		MaxBackups: backups,
		MaxAge:     age,
		Compress:   true,
	})
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.MessageKey = "msg"
	ec.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339Nano))
	}
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	return ec
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger, _ = NewLogger(LogConfig{Level: "info"})
	}
	return logger
}

// SetLogger replaces the shared logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// LogRequest emits the access log line written once per HTTP request.
func LogRequest(fields ...zap.Field) {
	Logger().Info("request_complete", fields...)
}
