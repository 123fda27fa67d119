// Package logger provides structured logging for sercha-sync.
// A process-wide default logger backs the package-level functions; request
// and job scoped fields travel on the context.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps logrus.Entry.
type Logger struct {
	*logrus.Entry
}

// Config holds logger configuration.
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // json, text
	Output io.Writer // overrides stderr and File when set

	// File enables rotated file output alongside stderr.
	File       string
	FileOnly   bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns text logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

var (
	mu          sync.RWMutex
	defaultLog  = New(DefaultConfig())
	fileCloser  io.Closer
	verboseMode bool
)

// New creates a logger from cfg.
func New(cfg Config) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: callerPrettyfier,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  "2006-01-02T15:04:05.000Z07:00",
			CallerPrettyfier: callerPrettyfier,
		})
	}

	switch {
	case cfg.Output != nil:
		log.SetOutput(cfg.Output)
	case cfg.File != "":
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		if cfg.FileOnly {
			log.SetOutput(file)
		} else {
			log.SetOutput(io.MultiWriter(os.Stderr, file))
		}
		mu.Lock()
		fileCloser = file
		mu.Unlock()
	default:
		log.SetOutput(os.Stderr)
	}

	return &Logger{Entry: logrus.NewEntry(log)}
}

// SetDefault replaces the logger used by package-level functions.
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	defaultLog = l
}

// Default returns the process-wide logger.
func Default() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLog
}

// Sync closes the rotated log file, if any.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if fileCloser != nil {
		return fileCloser.Close()
	}
	return nil
}

// SetVerbose switches the default logger between debug and info level.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verboseMode = v
	if v {
		defaultLog.Logger.SetLevel(logrus.DebugLevel)
	} else {
		defaultLog.Logger.SetLevel(logrus.InfoLevel)
	}
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verboseMode
}

// SetOutput redirects the default logger. Useful for testing.
func SetOutput(w io.Writer) {
	Default().Logger.SetOutput(w)
}

// WithFields returns a derived logger.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a derived logger with one more field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithError returns a derived logger with an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

func callerPrettyfier(frame *runtime.Frame) (function string, file string) {
	funcName := frame.Function
	if idx := strings.LastIndex(funcName, "/"); idx != -1 {
		funcName = funcName[idx+1:]
	}
	return funcName, filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

// Debug logs at debug level.
func Debug(format string, args ...any) {
	Default().Debugf(format, args...)
}

// Info logs at info level.
func Info(format string, args ...any) {
	Default().Infof(format, args...)
}

// Warn logs at warn level.
func Warn(format string, args ...any) {
	Default().Warnf(format, args...)
}

// Error logs at error level.
func Error(format string, args ...any) {
	Default().Errorf(format, args...)
}

// Section logs a section marker at debug level.
func Section(name string) {
	Default().Debugf("=== %s ===", name)
}
