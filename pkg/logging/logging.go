package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rexliu/delegate/pkg/config"
)

// Logger wraps a zap sugared logger and keeps the Printf surface the IPC
// layer expects.
type Logger struct {
	*zap.SugaredLogger
	name   string
	out    zapcore.WriteSyncer
	level  zap.AtomicLevel
	printf *zap.SugaredLogger
}

// New returns a logger writing to stdout at info level.
func New(name string) *Logger {
	return NewTo(name, os.Stdout)
}

// NewTo returns a logger writing to out at info level. Processes whose
// stdout carries a protocol log to stderr.
func NewTo(name string, out *os.File) *Logger {
	l := &Logger{name: name, out: zapcore.Lock(out), level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
	l.build(l.out)
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	base := zap.NewNop().Sugar()
	return &Logger{SugaredLogger: base, printf: base, out: zapcore.AddSync(io.Discard), level: zap.NewAtomicLevel()}
}

// Printf logs at info level.
func (l *Logger) Printf(format string, v ...any) {
	l.printf.Infof(format, v...)
}

// Println logs its operands at info level.
func (l *Logger) Println(v ...any) {
	l.printf.Info(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

// Configure applies logging settings from config.
func (l *Logger) Configure(cfg config.LoggingConfig) error {
	if l == nil || l.SugaredLogger == nil {
		return nil
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
		l.level.SetLevel(lvl)
	}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
			return err
		}
		writer, err := newRollingFile(cfg.FilePath, cfg.FileMaxSize, cfg.FileBackups)
		if err != nil {
			return err
		}
		l.build(zapcore.NewMultiWriteSyncer(l.out, writer))
	}
	return nil
}

func (l *Logger) build(out zapcore.WriteSyncer) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), out, l.level)
	base := zap.New(core, zap.AddCaller()).Named(l.name)
	l.SugaredLogger = base.Sugar()
	l.printf = base.WithOptions(zap.AddCallerSkip(1)).Sugar()
}
