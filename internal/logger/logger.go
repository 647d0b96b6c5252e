// Package logger wraps the standard library logger with the teacher's
// per-component prefix convention (e.g. "pipeline[channel-7]: ...").
package logger

import (
	"log"
	"os"
)

// Logger is a thin *log.Logger wrapper that prefixes every line with a
// component tag, matching the plain log.Printf("component[name]: ...")
// idiom used throughout this codebase — no structured-logging library.
type Logger struct {
	*log.Logger
	component string
}

// For returns a Logger prefixed with "[component]: ".
func For(component string) *Logger {
	return &Logger{
		Logger:    log.New(os.Stderr, "", log.LstdFlags),
		component: component,
	}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.Logger.Printf("["+l.component+"] "+format, args...)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.Logger.Fatalf("["+l.component+"] "+format, args...)
}

func (l *Logger) Println(args ...interface{}) {
	all := append([]interface{}{"[" + l.component + "]"}, args...)
	l.Logger.Println(all...)
}
