package models

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WorkflowLogger writes a workflow's JSON-lines log file. Step output
// and control transitions may arrive from separate goroutines, so the
// encoder is guarded.
type WorkflowLogger struct {
	file    *os.File
	mu      sync.Mutex
	encoder *json.Encoder
}

func NewWorkflowLogger(baseDir string, wid WorkflowId) (*WorkflowLogger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	path := LogFilePath(baseDir, wid)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	return &WorkflowLogger{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

func LogFilePath(baseDir string, workflowID WorkflowId) string {
	logFilePath := filepath.Join(baseDir, fmt.Sprintf("%s.log", workflowID.String()))
	return logFilePath
}

func (l *WorkflowLogger) Close() error {
	return l.file.Close()
}

func (l *WorkflowLogger) encode(entry LogLine) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encoder.Encode(entry)
}

func (l *WorkflowLogger) DataWriter(idx int, stream string) io.Writer {
	return &dataWriter{
		logger: l,
		idx:    idx,
		stream: stream,
	}
}

// LogControl records a step transition.
func (l *WorkflowLogger) LogControl(idx int, step Step, status StatusKind) error {
	return l.encode(NewControlLogLine(idx, step, status))
}

type dataWriter struct {
	logger *WorkflowLogger
	idx    int
	stream string
}

func (w *dataWriter) Write(p []byte) (int, error) {
	for line := range strings.Lines(string(p)) {
		line = strings.TrimRight(line, "\r\n")
		entry := NewDataLogLine(w.idx, line, w.stream)
		if err := w.logger.encode(entry); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
