package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// AuditLog is a single dispatched tool-call entry.
type AuditLog struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	Tool       string    `json:"tool"`
	Service    string    `json:"service"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	DenyReason string    `json:"deny_reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Retries    int       `json:"retries,omitempty"`
	Cost       float64   `json:"cost,omitempty"`
}

// Logger writes tool-call audit entries to the console and optionally to
// a JSON-lines file.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Audit returns the default audit logger.
func Audit() *Logger {
	return defaultLogger
}

// NewAudit returns a standalone audit logger that writes only to the
// file set with SetOutput.
func NewAudit() *Logger {
	return &Logger{enabled: true}
}

// SetOutput sets the audit log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes an audit entry.
func (l *Logger) Log(entry *AuditLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	// Console output (human-readable, stderr only)
	if l.console {
		status := "✓"
		if entry.Outcome != "completed" {
			status = "✗"
		}
		retry := ""
		if entry.Retries > 0 {
			retry = fmt.Sprintf(" [retry:%d]", entry.Retries)
		}
		deny := ""
		if entry.DenyReason != "" {
			deny = " [" + entry.DenyReason + "]"
		}
		fmt.Fprintf(os.Stderr, "[call] %s %s %s %s:%s %dms%s%s\n",
			status, entry.TenantID, entry.Tool, entry.Service, entry.Action, entry.DurationMs, retry, deny)
		if entry.Error != "" {
			fmt.Fprintf(os.Stderr, "[call]   error: %s\n", entry.Error)
		}
	}

	// File output (JSON lines)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the audit log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
