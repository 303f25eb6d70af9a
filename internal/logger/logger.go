// Package logger provides tagged console logging with an optional
// rotating file mirror. Console output is colorized when stdout is a
// terminal; the file mirror is always plain text.
package logger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const (
	reset  = "\033[0m"
	dim    = "\033[2m"
	bold   = "\033[1m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	yellow = "\033[33m"
	red    = "\033[31m"
)

// Rotation policy for the file mirror.
const (
	maxFileBytes = 5 << 20
	keepFiles    = 3
)

var (
	mu       sync.Mutex
	colored  = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	logFile  *os.File
	logPath  string
	logBytes int64
)

// SetFile mirrors all subsequent log output to path, rotating at 5 MiB
// and keeping the 3 most recent generations (app.log, app.log.1, app.log.2).
func SetFile(path string) error {
	mu.Lock()
	defer mu.Unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	logPath = path
	logBytes = info.Size()
	return nil
}

// CloseFile stops mirroring to the log file.
func CloseFile() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Info logs an informational message under a component tag.
func Info(tag, format string, args ...interface{}) {
	emit(cyan, "INFO", tag, format, args...)
}

// Success logs a completed-action message under a component tag.
func Success(tag, format string, args ...interface{}) {
	emit(green, "OK", tag, format, args...)
}

// Warn logs a warning under a component tag.
func Warn(tag, format string, args ...interface{}) {
	emit(yellow, "WARN", tag, format, args...)
}

// Error logs an error under a component tag.
func Error(tag, format string, args ...interface{}) {
	emit(red, "ERROR", tag, format, args...)
}

// Banner prints the startup banner with the given version string.
func Banner(version string) {
	mu.Lock()
	defer mu.Unlock()
	line := "  TI Tracker"
	if version != "" {
		line += " " + version
	}
	if colored {
		fmt.Fprintf(os.Stdout, "%s%s%s\n%s%s%s\n", bold, line, reset, dim, "  passive loot tracking for Torchlight: Infinite", reset)
	} else {
		fmt.Fprintf(os.Stdout, "%s\n  passive loot tracking for Torchlight: Infinite\n", line)
	}
	writeFileLocked(line + "\n")
}

// Section prints a titled divider used to group startup statistics.
func Section(title string) {
	mu.Lock()
	defer mu.Unlock()
	if colored {
		fmt.Fprintf(os.Stdout, "%s-- %s --%s\n", dim, title, reset)
	} else {
		fmt.Fprintf(os.Stdout, "-- %s --\n", title)
	}
	writeFileLocked("-- " + title + " --\n")
}

// Server prints the address the HTTP server is listening on.
func Server(addr string) {
	mu.Lock()
	defer mu.Unlock()
	if colored {
		fmt.Fprintf(os.Stdout, "%sServing on%s %shttp://%s%s\n", dim, reset, bold, addr, reset)
	} else {
		fmt.Fprintf(os.Stdout, "Serving on http://%s\n", addr)
	}
	writeFileLocked(fmt.Sprintf("Serving on http://%s\n", addr))
}

// Stats prints an aligned label/count pair inside a Section.
func Stats(label string, count int) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(os.Stdout, "  %-14s %d\n", label, count)
	writeFileLocked(fmt.Sprintf("  %-14s %d\n", label, count))
}

func emit(color, level, tag, format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	mu.Lock()
	defer mu.Unlock()
	ts := time.Now().Format("15:04:05")
	if colored {
		fmt.Fprintf(os.Stdout, "%s%s%s %s%-5s%s %s[%s]%s %s\n", dim, ts, reset, color, level, reset, bold, tag, reset, msg)
	} else {
		fmt.Fprintf(os.Stdout, "%s %-5s [%s] %s\n", ts, level, tag, msg)
	}
	writeFileLocked(fmt.Sprintf("%s %-5s [%s] %s\n", ts, level, tag, msg))
}

// writeFileLocked appends to the file mirror, rotating when the current
// generation exceeds maxFileBytes. Callers must hold mu.
func writeFileLocked(line string) {
	if logFile == nil {
		return
	}
	if logBytes+int64(len(line)) > maxFileBytes {
		rotateLocked()
	}
	n, err := logFile.WriteString(line)
	if err != nil {
		// Drop the mirror rather than spam the console from inside the logger.
		logFile.Close()
		logFile = nil
		return
	}
	logBytes += int64(n)
}

func rotateLocked() {
	logFile.Close()
	os.Remove(fmt.Sprintf("%s.%d", logPath, keepFiles-1))
	for i := keepFiles - 1; i >= 2; i-- {
		os.Rename(fmt.Sprintf("%s.%d", logPath, i-1), fmt.Sprintf("%s.%d", logPath, i))
	}
	os.Rename(logPath, logPath+".1")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		logFile = nil
		return
	}
	logFile = f
	logBytes = 0
}
