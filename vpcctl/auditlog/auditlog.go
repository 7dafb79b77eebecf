// Package auditlog appends one line per driver primitive and one per
// command outcome to the on-host log, correlated by a per-invocation ID.
package auditlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Logger is an append-only audit log for one invocation.
type Logger struct {
	file       *os.File
	invocation string
}

// Open creates or appends to the audit log at path. Each Logger gets a
// fresh invocation ID so concurrent histories can be told apart.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &Logger{file: file, invocation: uuid.NewString()[:8]}, nil
}

// Invocation returns the short invocation ID.
func (l *Logger) Invocation() string {
	if l == nil {
		return ""
	}
	return l.invocation
}

func (l *Logger) line(kind, message string) {
	if l == nil || l.file == nil {
		return
	}
	fmt.Fprintf(l.file, "%s %s %s %s\n", time.Now().UTC().Format(time.RFC3339), l.invocation, kind, message)
}

// Primitive records one driver primitive. Implements driver.AuditSink.
func (l *Logger) Primitive(name, detail string) {
	l.line("primitive", name+" "+detail)
}

// Outcome records the final result of a command.
func (l *Logger) Outcome(command string, err error) {
	if err != nil {
		l.line("outcome", fmt.Sprintf("%s failed: %v", command, err))
		return
	}
	l.line("outcome", command+" ok")
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
