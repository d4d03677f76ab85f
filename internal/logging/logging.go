// Package logging holds the process-wide structured logger.
package logging

import (
	"sync"

	"github.com/phuslu/log"
)

var (
	mu     sync.RWMutex
	logger *log.Logger
)

// Get returns the global logger, creating a console logger on first use.
func Get() *log.Logger {
	mu.RLock()
	if logger != nil {
		defer mu.RUnlock()
		return logger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = newLogger("info")
	}
	return logger
}

// Init replaces the global logger with one at the configured level.
func Init(level string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(level)
	return logger
}

func newLogger(level string) *log.Logger {
	return &log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "15:04:05",
		Writer: &log.ConsoleWriter{
			ColorOutput:    log.IsTerminal(2),
			EndWithMessage: true,
		},
	}
}
