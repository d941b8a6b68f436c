package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Session   string                 `json:"session,omitempty"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// StructuredLogger wraps a standard logger with structured logging
type StructuredLogger struct {
	logger    *log.Logger
	component string
	session   string
	jsonMode  bool
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *log.Logger, component string, jsonMode bool) *StructuredLogger {
	return &StructuredLogger{
		logger:    logger,
		component: component,
		jsonMode:  jsonMode,
	}
}

// WithSession returns a logger with session context
func (s *StructuredLogger) WithSession(session string) *StructuredLogger {
	return &StructuredLogger{
		logger:    s.logger,
		component: s.component,
		session:   session,
		jsonMode:  s.jsonMode,
	}
}

// WithComponent returns a logger with component context
func (s *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return &StructuredLogger{
		logger:    s.logger,
		component: component,
		session:   s.session,
		jsonMode:  s.jsonMode,
	}
}

// log formats and writes the log entry
func (s *StructuredLogger) log(level string, msg string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Component: s.component,
		Session:   s.session,
		Message:   msg,
		Fields:    fields,
	}

	if s.jsonMode {
		data, _ := json.Marshal(entry)
		s.logger.Println(string(data))
		return
	}

	prefix := ""
	if s.component != "" {
		prefix = fmt.Sprintf("[%s] ", s.component)
	}
	if s.session != "" {
		prefix += fmt.Sprintf("[session:%s] ", s.session)
	}
	line := prefix + msg
	if len(fields) > 0 {
		data, _ := json.Marshal(fields)
		line += " " + string(data)
	}
	s.logger.Printf("[%s] %s", level, line)
}

// Info logs an informational message
func (s *StructuredLogger) Info(msg string, fields map[string]interface{}) {
	s.log("INFO", msg, fields)
}

// Warn logs a warning
func (s *StructuredLogger) Warn(msg string, fields map[string]interface{}) {
	s.log("WARN", msg, fields)
}

// Error logs an error
func (s *StructuredLogger) Error(msg string, fields map[string]interface{}) {
	s.log("ERROR", msg, fields)
}

// Debug logs only when DEV_MODE=1
func (s *StructuredLogger) Debug(msg string, fields map[string]interface{}) {
	if DevMode {
		s.log("DEBUG", msg, fields)
	}
}
