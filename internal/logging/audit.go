// Package logging provides audit logging that outputs Mangle-queryable facts.
// Audit logs are structured events that can be parsed into Mangle predicates
// for declarative querying and analysis.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES - Maps to Mangle predicates
// =============================================================================

// AuditEventType defines the type of audit event (maps to Mangle predicate)
type AuditEventType string

const (
	// Fold lifecycle events -> fold_event/5
	AuditFoldStart    AuditEventType = "fold_start"
	AuditFoldComplete AuditEventType = "fold_complete"
	AuditFoldError    AuditEventType = "fold_error"

	// Workspace scan events -> scan_event/5
	AuditScanStart    AuditEventType = "scan_start"
	AuditScanComplete AuditEventType = "scan_complete"
	AuditScanError    AuditEventType = "scan_error"

	// Store operations -> store_op/5
	AuditStoreSave   AuditEventType = "store_save"
	AuditStoreLoad   AuditEventType = "store_load"
	AuditStoreDelete AuditEventType = "store_delete"
	AuditStoreError  AuditEventType = "store_error"

	// Watcher events -> watch_event/4
	AuditFileChanged AuditEventType = "file_changed"
	AuditFileRemoved AuditEventType = "file_removed"

	// Invalidation events -> invalidation/4
	AuditInvalidate AuditEventType = "invalidate"

	// Performance -> perf_metric/4
	AuditPerfMetric AuditEventType = "perf_metric"
	AuditPerfSlow   AuditEventType = "perf_slow"

	// Error events -> error_event/4
	AuditErrorGeneric  AuditEventType = "error_generic"
	AuditErrorCritical AuditEventType = "error_critical"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry that can be parsed to Mangle.
// Format: predicate(timestamp, category, ...args)
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`      // Unix milliseconds
	EventType  AuditEventType         `json:"event"`   // Maps to Mangle predicate
	Category   string                 `json:"cat"`     // Log category
	RequestID  string                 `json:"req"`     // Request correlation
	Target     string                 `json:"target"`  // Target of operation (usually a type name)
	Action     string                 `json:"action"`  // Action being performed
	Success    bool                   `json:"success"` // Operation succeeded
	DurationMs int64                  `json:"dur_ms"`  // Duration in milliseconds
	Count      int                    `json:"count"`   // Item count if applicable
	Error      string                 `json:"error"`   // Error message if failed
	Message    string                 `json:"msg"`     // Human-readable message
	Fields     map[string]interface{} `json:"fields"`  // Additional structured fields
	MangleFact string                 `json:"mangle"`  // Pre-formatted Mangle fact
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging with Mangle fact generation
type AuditLogger struct {
	requestID string
	category  Category
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	// Write header
	header := fmt.Sprintf("# Audit log started at %s\n# Format: Mangle-queryable structured events\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithRequest creates an audit logger scoped to a request
func AuditWithRequest(requestID string) *AuditLogger {
	return &AuditLogger{requestID: requestID}
}

// AuditWithContext creates a fully-scoped audit logger
func AuditWithContext(requestID string, category Category) *AuditLogger {
	return &AuditLogger{
		requestID: requestID,
		category:  category,
	}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	// Fill in defaults
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RequestID == "" && a.requestID != "" {
		event.RequestID = a.requestID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}

	// Generate Mangle fact
	event.MangleFact = generateMangleFact(event)

	auditMu.Lock()
	defer auditMu.Unlock()

	// Write JSON line
	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// generateMangleFact creates a Mangle-compatible fact string from an event
func generateMangleFact(e AuditEvent) string {
	switch e.EventType {
	case AuditFoldStart, AuditFoldComplete, AuditFoldError:
		return fmt.Sprintf("fold_event(%d, /%s, \"%s\", %v, %d).",
			e.Timestamp, e.EventType, escapeString(e.Target), e.Success, e.DurationMs)

	case AuditScanStart, AuditScanComplete, AuditScanError:
		return fmt.Sprintf("scan_event(%d, /%s, \"%s\", %v, %d).",
			e.Timestamp, e.EventType, escapeString(e.Target), e.Success, e.Count)

	case AuditStoreSave, AuditStoreLoad, AuditStoreDelete, AuditStoreError:
		return fmt.Sprintf("store_op(%d, /%s, \"%s\", %v, %d).",
			e.Timestamp, e.EventType, escapeString(e.Target), e.Success, e.DurationMs)

	case AuditFileChanged, AuditFileRemoved:
		return fmt.Sprintf("watch_event(%d, /%s, \"%s\", %d).",
			e.Timestamp, e.EventType, escapeString(e.Target), e.Count)

	case AuditInvalidate:
		return fmt.Sprintf("invalidation(%d, \"%s\", \"%s\", %d).",
			e.Timestamp, escapeString(e.Target), escapeString(e.Action), e.Count)

	case AuditPerfMetric, AuditPerfSlow:
		return fmt.Sprintf("perf_metric(%d, \"%s\", \"%s\", %d).",
			e.Timestamp, e.Category, escapeString(e.Action), e.DurationMs)

	case AuditErrorGeneric, AuditErrorCritical:
		return fmt.Sprintf("error_event(%d, /%s, \"%s\", \"%s\").",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Error))

	default:
		return fmt.Sprintf("audit_event(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Message), e.Success)
	}
}

func escapeString(s string) string {
	// Escape quotes and backslashes for Mangle strings
	var b strings.Builder
	b.Grow(len(s) + len(s)/10)

	for _, c := range s {
		switch c {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// FoldStart logs the start of a fold
func (a *AuditLogger) FoldStart(class string) {
	a.Log(AuditEvent{
		EventType: AuditFoldStart,
		Category:  string(CategoryFold),
		Target:    class,
		Success:   true,
		Message:   fmt.Sprintf("Fold started: %s", class),
	})
}

// FoldComplete logs a fold completion
func (a *AuditLogger) FoldComplete(class string, durationMs int64, success bool, errMsg string) {
	eventType := AuditFoldComplete
	if !success {
		eventType = AuditFoldError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategoryFold),
		Target:     class,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Fold completed: %s (success=%v, %dms)", class, success, durationMs),
	})
}

// ScanComplete logs a workspace scan completion
func (a *AuditLogger) ScanComplete(root string, fileCount int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditScanComplete,
		Category:   string(CategoryWorld),
		Target:     root,
		Success:    true,
		Count:      fileCount,
		DurationMs: durationMs,
		Message:    fmt.Sprintf("Scan completed: %s (%d files, %dms)", root, fileCount, durationMs),
	})
}

// StoreOp logs a store operation
func (a *AuditLogger) StoreOp(eventType AuditEventType, target string, success bool, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategoryStore),
		Target:     target,
		Success:    success,
		DurationMs: durationMs,
		Message:    fmt.Sprintf("Store op %s: %s (success=%v)", eventType, target, success),
	})
}

// FileChanged logs a watched file change
func (a *AuditLogger) FileChanged(path string, declCount int) {
	a.Log(AuditEvent{
		EventType: AuditFileChanged,
		Category:  string(CategoryWatch),
		Target:    path,
		Success:   true,
		Count:     declCount,
		Message:   fmt.Sprintf("File changed: %s (%d decls)", path, declCount),
	})
}

// Invalidation logs a cache invalidation with its cause
func (a *AuditLogger) Invalidation(class, cause string, dependents int) {
	a.Log(AuditEvent{
		EventType: AuditInvalidate,
		Category:  string(CategoryDepgraph),
		Target:    class,
		Action:    cause,
		Success:   true,
		Count:     dependents,
		Message:   fmt.Sprintf("Invalidated: %s (%s, %d dependents)", class, cause, dependents),
	})
}

// PerfMetric logs a performance measurement
func (a *AuditLogger) PerfMetric(category Category, operation string, durationMs int64) {
	eventType := AuditPerfMetric
	if durationMs > 1000 {
		eventType = AuditPerfSlow
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(category),
		Action:     operation,
		Success:    true,
		DurationMs: durationMs,
		Message:    fmt.Sprintf("Perf: %s took %dms", operation, durationMs),
	})
}

// Error logs a generic error event
func (a *AuditLogger) Error(category Category, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditErrorGeneric,
		Category:  string(category),
		Success:   false,
		Error:     errMsg,
		Message:   fmt.Sprintf("Error in %s: %s", category, errMsg),
	})
}
