package logging

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// FileLogger appends timestamped application log lines to a file.
// It is safe for concurrent use.
type FileLogger struct {
	file   *os.File
	mu     sync.Mutex
	closed bool
}

// NewFileLogger opens path for appending, creating it if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return &FileLogger{file: file}, nil
}

// Log writes a formatted line with a timestamp.
func (l *FileLogger) Log(format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	fmt.Fprintf(l.file, "%s %s\n", timestamp(), fmt.Sprintf(format, args...))
}

// Close closes the log file. Further Log calls are dropped.
func (l *FileLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var (
	appMu     sync.RWMutex
	appFile   *FileLogger
	appStderr = log.New(os.Stderr, "", log.LstdFlags)
)

// SetFileLogger mirrors application log lines into l. Pass nil to stop.
func SetFileLogger(l *FileLogger) {
	appMu.Lock()
	defer appMu.Unlock()
	appFile = l
}

// SetOutput replaces the stderr destination of the application log.
func SetOutput(l *log.Logger) {
	appMu.Lock()
	defer appMu.Unlock()
	appStderr = l
}

// Printf writes an application log line to stderr, the file logger if one is
// set, and the debug log under protocol "app".
func Printf(format string, args ...interface{}) {
	appMu.RLock()
	std, file := appStderr, appFile
	appMu.RUnlock()

	msg := fmt.Sprintf(format, args...)
	if std != nil {
		std.Print(msg)
	}
	file.Log("%s", msg)
	DebugLog("app", "%s", msg)
}

// ConsoleSink returns a debug/error printf pair for a component. Debug lines
// go only to the debug log; error lines go to the application log prefixed
// with the protocol name.
func ConsoleSink(protocol string) (debug, errorf func(format string, args ...interface{})) {
	debug = func(format string, args ...interface{}) {
		DebugLog(protocol, format, args...)
	}
	errorf = func(format string, args ...interface{}) {
		Printf("[%s] %s", protocol, fmt.Sprintf(format, args...))
	}
	return debug, errorf
}
