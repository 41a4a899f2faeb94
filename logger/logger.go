// Package logger wraps zap for structured logging.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log     *zap.Logger
	once    sync.Once
	logFile = "" // No file output unless configured
	level   = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// SetLogPath sets the JSON log file. It must be called before the logger is initialized.
func SetLogPath(path string) {
	logFile = path
}

// SetLevel changes the minimum enabled level. It can be called at any time.
func SetLevel(name string) error {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// InitLogger initializes the Zap logger with structured logging.
func InitLogger() {
	once.Do(func() {
		// Console output goes to stderr so stdout stays free for data
		consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level)

		core := consoleCore
		if logFile != "" {
			fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
			if file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666); err == nil {
				fileCore := zapcore.NewCore(fileEncoder, zapcore.AddSync(file), level)
				core = zapcore.NewTee(consoleCore, fileCore)
			}
		}

		log = zap.New(core, zap.AddCaller())
	})
}

// GetLogger provides access to the initialized logger.
func GetLogger() *zap.Logger {
	if log == nil {
		InitLogger()
	}
	return log
}

// Sync ensures buffered logs are written before the application exits.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

// ResetLogger discards the current logger so the next call re-initializes it.
func ResetLogger() {
	Sync()
	log = nil
	once = sync.Once{}
	logFile = ""
	level.SetLevel(zap.InfoLevel)
}
