package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/fnpulse/errors"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// Flag to track if JSON output is enabled
	JSONOutput bool
	// Stream fans log entries out to live subscribers (websocket log viewer)
	Stream *StreamCore
)

func init() {
	// Initialize with a safe no-op logger at package load time
	// This prevents nil pointer panics if logger is used before Initialize() is called
	Logger = zap.NewNop().Sugar()
	Stream = NewStreamCore(zapcore.DebugLevel)
}

// Options controls how the process logger is built.
type Options struct {
	// Component names the process ("server", "worker"). It becomes the
	// root logger name and the log file name: <Dir>/<Component>.log
	Component string
	// Dir is where per-component log files are written. Empty disables file output.
	Dir string
	// JSON switches stdout to JSON lines (files are always JSON)
	JSON bool
	// Level is the minimum level for stdout and file output
	Level zapcore.Level
}

// Initialize sets up the global logger. Output is a tee of stdout, an
// optional per-component log file, and the in-process stream core.
func Initialize(opts Options) error {
	JSONOutput = opts.JSON

	level := zap.NewAtomicLevelAt(opts.Level)

	var stdoutEncoder zapcore.Encoder
	if opts.JSON {
		stdoutEncoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encCfg.EncodeCaller = nil
		stdoutEncoder = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stdoutEncoder, zapcore.Lock(os.Stdout), level),
		Stream,
	}

	if opts.Dir != "" && opts.Component != "" {
		fileCore, err := newFileCore(opts.Dir, opts.Component, level)
		if err != nil {
			return err
		}
		cores = append(cores, fileCore)
	}

	zapLogger := zap.New(zapcore.NewTee(cores...))
	if opts.Component != "" {
		zapLogger = zapLogger.Named(opts.Component)
	}

	Logger = zapLogger.Sugar()
	return nil
}

// newFileCore opens <dir>/<component>.log for appending. Several worker
// processes share worker.log; O_APPEND keeps their lines whole.
func newFileCore(dir, component string, level zapcore.LevelEnabler) (zapcore.Core, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create log directory %s", dir)
	}

	path := filepath.Join(dir, component+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log file %s", path)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), level), nil
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Infow logs an info message with structured fields
func Infow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, keysAndValues...)
	}
}

// Errorw logs an error message with structured fields
func Errorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Errorw(msg, keysAndValues...)
	}
}

// Warnw logs a warning message with structured fields
func Warnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, keysAndValues...)
	}
}

// Debugw logs a debug message with structured fields
func Debugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Debugw(msg, keysAndValues...)
	}
}
