package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cloud10922/zkim/internal/config"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeEncrypt represents a CreateZkimFile (three-layer encrypt) operation.
	EventTypeEncrypt EventType = "encrypt"
	// EventTypeDecrypt represents a DecryptZkimFile operation.
	EventTypeDecrypt EventType = "decrypt"
	// EventTypeKeyRotation represents a content-key rotation.
	EventTypeKeyRotation EventType = "key_rotation"
	// EventTypeIndex represents an indexFile/updateFileIndex/removeFileFromIndex operation.
	EventTypeIndex EventType = "index"
	// EventTypeSearch represents a search operation.
	EventTypeSearch EventType = "search"
	// EventTypeAccess represents a general access-control decision.
	EventTypeAccess EventType = "access"
)

// AuditEvent represents a single audit log event over the core's
// encrypt/decrypt/index/search/rotate operations.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Operation string                 `json:"operation"`
	FileID    string                 `json:"file_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	ObjectID  string                 `json:"object_id,omitempty"`
	QueryID   string                 `json:"query_id,omitempty"`
	Algorithm string                 `json:"algorithm,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration_ms"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *AuditEvent) error

	// LogEncrypt logs a three-layer encrypt operation (§4.1/§4.2 create).
	LogEncrypt(fileID, userID, algorithm string, success bool, err error, duration time.Duration, metadata map[string]interface{})

	// LogDecrypt logs a three-layer decrypt operation (§4.2 decrypt).
	LogDecrypt(fileID, userID, algorithm string, success bool, err error, duration time.Duration, metadata map[string]interface{})

	// LogKeyRotation logs a content-key rotation (§4.1 rotateKeys).
	LogKeyRotation(fileID string, success bool, err error)

	// LogIndex logs an indexFile/updateFileIndex/removeFileFromIndex operation (§4.3.3).
	LogIndex(operation, fileID, userID, objectID string, tokenCount int, success bool, err error, duration time.Duration)

	// LogSearch logs a search operation (§4.3.4).
	LogSearch(queryID, userID string, resultCount int, success bool, err error, duration time.Duration)

	// GetEvents returns all audit events (for testing/querying).
	GetEvents() []*AuditEvent

	// Close closes the logger and its underlying writer.
	Close() error
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu         sync.Mutex
	events     []*AuditEvent
	maxEvents  int
	writer     EventWriter
	redactKeys []string
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// NewLogger creates a new audit logger.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return NewLoggerWithRedaction(maxEvents, writer, nil)
}

// NewLoggerWithRedaction creates a new audit logger with redaction keys.
func NewLoggerWithRedaction(maxEvents int, writer EventWriter, redactKeys []string) Logger {
	if writer == nil {
		writer = &defaultWriter{}
	}

	return &auditLogger{
		events:     make([]*AuditEvent, 0, maxEvents),
		maxEvents:  maxEvents,
		writer:     writer,
		redactKeys: redactKeys,
	}
}

// NewLoggerFromConfig creates a new audit logger from configuration.
func NewLoggerFromConfig(cfg config.AuditConfig) (Logger, error) {
	var writer EventWriter

	switch cfg.Sink.Type {
	case "http":
		writer = NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		writer = NewFileSink(cfg.Sink.FilePath)
	case "stdout", "":
		writer = &defaultWriter{}
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Sink.Type)
	}

	if cfg.Sink.BatchSize > 0 || cfg.Sink.FlushInterval > 0 {
		writer = NewBatchSink(writer, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, cfg.Sink.RetryCount, cfg.Sink.RetryBackoff)
	}

	return NewLoggerWithRedaction(cfg.MaxEvents, writer, cfg.RedactMetadataKeys), nil
}

// Log logs an audit event.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		// Best-effort: a sink failure must never fail the operation being audited.
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}

	return nil
}

// Close closes the logger and its underlying writer.
func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// redactMetadata removes sensitive keys from metadata (e.g. a stray
// contentKey entry carried on customFields).
func (l *auditLogger) redactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if len(l.redactKeys) == 0 || len(metadata) == 0 {
		return metadata
	}

	needsRedaction := false
	for _, k := range l.redactKeys {
		if _, ok := metadata[k]; ok {
			needsRedaction = true
			break
		}
	}
	if !needsRedaction {
		return metadata
	}

	clone := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	for _, key := range l.redactKeys {
		if _, ok := clone[key]; ok {
			clone[key] = "[REDACTED]"
		}
	}
	return clone
}

// LogEncrypt logs a three-layer encrypt operation.
func (l *auditLogger) LogEncrypt(fileID, userID, algorithm string, success bool, err error, duration time.Duration, metadata map[string]interface{}) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeEncrypt,
		Operation: "encrypt",
		FileID:    fileID,
		UserID:    userID,
		Algorithm: algorithm,
		Success:   success,
		Duration:  duration,
		Metadata:  l.redactMetadata(metadata),
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogDecrypt logs a three-layer decrypt operation.
func (l *auditLogger) LogDecrypt(fileID, userID, algorithm string, success bool, err error, duration time.Duration, metadata map[string]interface{}) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeDecrypt,
		Operation: "decrypt",
		FileID:    fileID,
		UserID:    userID,
		Algorithm: algorithm,
		Success:   success,
		Duration:  duration,
		Metadata:  l.redactMetadata(metadata),
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogKeyRotation logs a content-key rotation.
func (l *auditLogger) LogKeyRotation(fileID string, success bool, err error) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeKeyRotation,
		Operation: "key_rotation",
		FileID:    fileID,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogIndex logs an indexFile/updateFileIndex/removeFileFromIndex operation.
func (l *auditLogger) LogIndex(operation, fileID, userID, objectID string, tokenCount int, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeIndex,
		Operation: operation,
		FileID:    fileID,
		UserID:    userID,
		ObjectID:  objectID,
		Success:   success,
		Duration:  duration,
		Metadata:  map[string]interface{}{"token_count": tokenCount},
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogSearch logs a search operation.
func (l *auditLogger) LogSearch(queryID, userID string, resultCount int, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeSearch,
		Operation: "search",
		UserID:    userID,
		QueryID:   queryID,
		Success:   success,
		Duration:  duration,
		Metadata:  map[string]interface{}{"result_count": resultCount},
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// GetEvents returns all audit events (for testing/querying).
func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// defaultWriter is a default implementation that writes to stdout as JSON.
type defaultWriter struct{}

func (w *defaultWriter) WriteEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	fmt.Printf("%s\n", string(data))
	return nil
}
