// Package logging provides config-driven categorized structured logging for the
// harvester. Each subsystem logs under its own category; categories can be
// enabled or disabled individually from config. Output goes to a rotating file
// sink and, for CLI runs, a console sink.
package logging

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryPlanner      Category = "planner"
	CategoryScheduler    Category = "scheduler"
	CategoryFetch        Category = "fetch"
	CategoryExtract      Category = "extract"
	CategoryIdentity     Category = "identity"
	CategoryPipeline     Category = "pipeline"
	CategoryRules        Category = "rules"
	CategoryNeedSet      Category = "needset"
	CategoryFrontier     Category = "frontier"
	CategoryLearning     Category = "learning"
	CategoryReview       Category = "review"
	CategoryStorage      Category = "storage"
	CategoryOrchestrator Category = "orchestrator"
	CategoryLLM          Category = "llm"
)

// Options controls logger construction.
type Options struct {
	Dir        string          // log directory; empty disables the file sink
	Level      string          // debug, info, warn, error
	Console    bool            // also log to stderr
	Categories map[string]bool // nil enables everything
	MaxSizeMB  int             // file rotation threshold
	MaxBackups int
}

var (
	mu      sync.RWMutex
	root    *zap.Logger = zap.NewNop()
	enabled map[string]bool
)

// Init builds the process-wide logger. Safe to call more than once; the last
// call wins.
func Init(opts Options) error {
	level := zapcore.InfoLevel
	switch opts.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return err
		}
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 50
		}
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, "harvester.log"),
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level))
	}
	if opts.Console {
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stderr), level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewNopCore())
	}

	mu.Lock()
	defer mu.Unlock()
	root = zap.New(zapcore.NewTee(cores...))
	enabled = opts.Categories
	return nil
}

// Get returns the logger for a category. Disabled categories get a no-op
// logger so call sites never need to check.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if enabled != nil {
		if on, ok := enabled[string(cat)]; ok && !on {
			return zap.NewNop()
		}
	}
	return root.Named(string(cat))
}

// Err wraps zap.Error so call sites need not import zap for the common case.
func Err(err error) zap.Field { return zap.Error(err) }

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
