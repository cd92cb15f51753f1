package obs

import (
	"sync"

	"go.uber.org/zap"
)

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop()
)

// InitLogger builds the process logger. Call once from main before any
// component starts logging; env selects the zap preset.
func InitLogger(env string) (*zap.Logger, error) {
	var (
		l   *zap.Logger
		err error
	)
	switch env {
	case "local", "dev":
		l, err = zap.NewDevelopment()
	default:
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	return l, nil
}

// Logger returns the shared structured logger. Before InitLogger it is a
// no-op logger, so library code may log unconditionally.
func Logger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}
