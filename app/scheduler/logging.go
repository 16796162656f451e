package scheduler

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the shared scheduler logger writing to both stdout and a
// size-rotated file. Timestamps are UTC with microseconds so interleaved
// dispatcher/worker/reconciler lines order cleanly.
func NewLogger(filePath string) *log.Logger {
	if filePath == "" {
		return log.New(os.Stdout, "scheduler ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
	}
	rotated := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	mw := io.MultiWriter(os.Stdout, rotated)
	return log.New(mw, "scheduler ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}
