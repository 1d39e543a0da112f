// Package log provides the module-scoped, key/value leveled logger used
// across the aggregation fabric. Call sites log like:
//
//	logger.Info("ingest succeeded", "height", height, "elapsed", elapsed)
//
// rather than formatting strings themselves, so that every worker's log
// stream stays machine-parseable under a single JSON encoder.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module names. New workers/components should add a constant here rather
// than passing ad-hoc strings, so `grep` over log output stays reliable.
const (
	Cache         = "cache"
	Coordination  = "coordination"
	Snapshot      = "snapshot"
	Bucket        = "bucket"
	TopN          = "topn"
	Nodes         = "nodes"
	ElectrumX     = "electrumx"
	WorkerBlockch = "worker.blockchain"
	WorkerMempool = "worker.mempool"
	WorkerNetwork = "worker.network"
	WorkerTop     = "worker.top"
	WorkerTraffic = "worker.traffic"
	WorkerAddr    = "worker.address"
	API           = "api"
	Supervisor    = "supervisor"
	Config        = "config"
	CmdUtils      = "cmd.utils"
)

var (
	baseOnce sync.Once
	base     *zap.Logger
)

func baseLogger() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if lvl := os.Getenv("BTCDASH_LOG_LEVEL"); lvl != "" {
			var parsed zapcore.Level
			if err := parsed.UnmarshalText([]byte(lvl)); err == nil {
				cfg.Level = zap.NewAtomicLevelAt(parsed)
			}
		}
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// Logger is a module-scoped leveled logger using alternating key/value
// pairs for structured context, matching the teacher's logging idiom.
type Logger struct {
	module string
	z      *zap.SugaredLogger
}

// NewModuleLogger returns the logger for the given module name. Safe to
// call repeatedly; loggers are cheap and share the process-wide zap core.
func NewModuleLogger(module string) *Logger {
	return &Logger{
		module: module,
		z:      baseLogger().Sugar().With("module", module),
	}
}

func (l *Logger) Trace(msg string, ctx ...interface{}) { l.z.Debugw(msg, ctx...) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.z.Debugw(msg, ctx...) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.z.Infow(msg, ctx...) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.z.Warnw(msg, ctx...) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.z.Errorw(msg, ctx...) }

// Crit logs at error level then terminates the process, mirroring the
// teacher's fatal-log convention for unrecoverable startup failures.
func (l *Logger) Crit(msg string, ctx ...interface{}) {
	l.z.Errorw(msg, ctx...)
	_ = l.z.Sync()
	os.Exit(1)
}

// With returns a child logger with additional permanent key/value context,
// useful for tagging a logger with a worker's instance id for the lifetime
// of a loop.
func (l *Logger) With(ctx ...interface{}) *Logger {
	return &Logger{module: l.module, z: l.z.With(ctx...)}
}
