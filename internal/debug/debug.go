// Package debug is the daemon's small process-wide logger: a single
// rotating file sink (via lumberjack) plus a debug-gated stderr echo,
// mirroring the --debug flag's effect across the rest of the codebase.
package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	enabled int32
	logger  *log.Logger
	mu      sync.Mutex
)

// Init points the logger at logPath (rotated via lumberjack: 10MB per file,
// 5 backups, 30 days retention) and sets whether debug-level messages echo
// to stderr in addition to the log file.
func Init(logPath string, debugMode bool) error {
	mu.Lock()
	defer mu.Unlock()

	var out io.Writer = io.Discard
	if logPath != "" {
		out = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
	}

	if debugMode {
		atomic.StoreInt32(&enabled, 1)
		out = io.MultiWriter(out, os.Stderr)
	} else {
		atomic.StoreInt32(&enabled, 0)
	}

	logger = log.New(out, "", log.LstdFlags)
	return nil
}

// SetEnabled sets the flag that Enabled reports. It does not change where
// Logf writes: the stderr echo is fixed by the debugMode passed to Init.
func SetEnabled(v bool) {
	if v {
		atomic.StoreInt32(&enabled, 1)
	} else {
		atomic.StoreInt32(&enabled, 0)
	}
}

// Enabled reports whether --debug mode is on.
func Enabled() bool { return atomic.LoadInt32(&enabled) == 1 }

// Logf writes a line to the rotating log file (and stderr when debug mode is
// on). A nil logger (Init never called) is a silent no-op, useful in tests.
func Logf(format string, args ...interface{}) {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		return
	}
	l.Output(2, fmt.Sprintf(format, args...))
}
