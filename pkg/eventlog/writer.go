// Package eventlog appends task lifecycle events to daily rotated JSONL
// files so a shift supervisor can reconstruct what the pipeline did.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"relief/pkg/proto"
)

// Event is one JSONL row: a task reaching a lifecycle point.
type Event struct {
	Timestamp   time.Time     `json:"ts"`
	Kind        string        `json:"event"` // enqueued, completed, retried, failed
	TaskID      string        `json:"task_id"`
	TaskName    string        `json:"task_name"`
	Persona     proto.Persona `json:"persona"`
	RequesterID string        `json:"requester_id"`
	RetryCount  int           `json:"retry_count,omitempty"`
	Detail      string        `json:"detail,omitempty"`
}

// Writer appends events to daily rotated JSONL files under one directory.
type Writer struct {
	logDir      string
	currentFile *os.File
	currentDate string
	mu          sync.Mutex
}

// NewWriter creates the log directory if needed and opens today's file.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}
	w := &Writer{logDir: logDir}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("opening event log file: %w", err)
	}
	return w, nil
}

// Write appends one event to the current day's file.
func (w *Writer) Write(ev *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotating event log: %w", err)
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serializing event: %w", err)
	}
	if _, err := w.currentFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return w.currentFile.Sync()
}

// TaskEvent builds an Event from a task at a lifecycle point.
func TaskEvent(kind string, task *proto.Task, detail string) *Event {
	return &Event{
		Kind:        kind,
		TaskID:      task.ID,
		TaskName:    task.TaskName,
		Persona:     task.Persona,
		RequesterID: task.RequesterID,
		RetryCount:  task.RetryCount,
		Detail:      detail,
	}
}

func (w *Writer) rotateIfNeeded() error {
	date := time.Now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("closing previous event log: %w", err)
		}
	}
	path := filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = date
	return nil
}

// CurrentLogFile returns the path of the active file, "" if none.
func (w *Writer) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fmt.Sprintf("events-%s.jsonl", w.currentDate))
}

// Close closes the active file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

// ReadEvents parses every event in a log file, skipping blank lines.
func ReadEvents(path string) ([]*Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("parsing event line: %w", err)
		}
		events = append(events, &ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}
	return events, nil
}
