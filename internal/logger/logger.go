// Package logger provides leveled logging for the sentinel processes.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

var (
	minLevel = InfoLevel
	std      = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

// Init configures the process logger. Format "text" adds caller locations;
// anything else keeps the compact default.
func Init(level, format string) {
	minLevel = parseLevel(level)
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}
	std = log.New(os.Stderr, "", flags)
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

func logf(l Level, tag, format string, args ...interface{}) {
	if l < minLevel {
		return
	}
	_ = std.Output(3, fmt.Sprintf(tag+" "+format, args...))
}

func Debug(format string, args ...interface{}) { logf(DebugLevel, "[DEBUG]", format, args...) }
func Info(format string, args ...interface{})  { logf(InfoLevel, "[INFO]", format, args...) }
func Warn(format string, args ...interface{})  { logf(WarnLevel, "[WARN]", format, args...) }
func Error(format string, args ...interface{}) { logf(ErrorLevel, "[ERROR]", format, args...) }

// Fatal logs and exits the process.
func Fatal(format string, args ...interface{}) {
	_ = std.Output(2, fmt.Sprintf("[FATAL] "+format, args...))
	os.Exit(1)
}
