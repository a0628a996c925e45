// Package proto defines the message types that flow through the task pipeline:
// queued tasks, tool calls produced by the interpreter, and job results
// delivered to pollers.
package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Persona identifies which side of the operation submitted a task. It selects
// the interpreter's instruction set and the tools it may call.
type Persona string

const (
	PersonaRequester  Persona = "requester"
	PersonaSupervisor Persona = "supervisor"
)

// TaskKind distinguishes free-text tasks (which need the interpreter) from
// direct tool calls (admin actions already expressed as a ToolCall).
type TaskKind string

const (
	// KindInterpret sends the payload text through the command interpreter.
	KindInterpret TaskKind = "interpret"
	// KindDirect executes the embedded tool call without interpretation.
	KindDirect TaskKind = "direct"
	// KindPoison instructs the worker loop to exit.
	KindPoison TaskKind = "poison"
)

// Task is a queue entry. It exists only for the queue/worker lifetime and is
// never persisted.
type Task struct {
	ID          string    `json:"id"`
	Kind        TaskKind  `json:"kind"`
	Persona     Persona   `json:"persona"`
	Payload     string    `json:"payload"`             // free text for KindInterpret
	Call        *ToolCall `json:"call,omitempty"`      // set for KindDirect
	TaskName    string    `json:"task_name"`           // caller-chosen label, echoed in the result
	RequesterID string    `json:"requester_id"`        // result mailbox key
	SessionRef  string    `json:"session_ref,omitempty"` // opaque notification token
	RetryCount  int       `json:"retry_count,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// NewTask builds an interpreter task.
func NewTask(persona Persona, payload, taskName, requesterID string) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Kind:        KindInterpret,
		Persona:     persona,
		Payload:     payload,
		TaskName:    taskName,
		RequesterID: requesterID,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// NewDirectTask builds a task that executes a tool call without interpretation.
func NewDirectTask(persona Persona, call *ToolCall, taskName, requesterID string) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Kind:        KindDirect,
		Persona:     persona,
		Call:        call,
		TaskName:    taskName,
		RequesterID: requesterID,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// NewPoisonTask builds the shutdown sentinel.
func NewPoisonTask() *Task {
	return &Task{ID: uuid.New().String(), Kind: KindPoison, EnqueuedAt: time.Now().UTC()}
}

func (t *Task) ToJSON() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}
	return data, nil
}

// JobResult is the mailbox entry a caller polls for. Delivery is at-most-once:
// a result that is never polled is eventually evicted.
type JobResult struct {
	RequesterID string    `json:"requester_id"`
	TaskID      string    `json:"task_id"`
	TaskName    string    `json:"task_name"`
	Persona     Persona   `json:"persona"`
	Output      string    `json:"output"`
	Failed      bool      `json:"failed,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
