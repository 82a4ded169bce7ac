package telemetry

import (
	"io"
	"log"
	"os"
	"sync"

	"github.com/mohammad-safakhou/autospook/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	sinkOnce sync.Once
	sink     io.Writer = os.Stdout
)

// NewLogger returns a prefixed logger writing to stdout and, when telemetry.log_file is
// set, to a size-rotated file shared by every logger of the process.
func NewLogger(cfg config.TelemetryConfig, prefix string) *log.Logger {
	sinkOnce.Do(func() {
		if cfg.LogFile == "" {
			return
		}
		sink = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	})
	return log.New(sink, prefix, log.LstdFlags)
}

// DiscardLogger is used by tests and library callers that pass no logger.
func DiscardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
