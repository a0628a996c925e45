// Package interp turns free-form operator text into structured tool calls.
// Backends share one contract: a reply for the operator plus an optional
// tool call the pipeline executes. All backend failures cross this boundary
// as classified *Error values.
package interp

import (
	"context"

	"relief/pkg/proto"
)

// Result is what a single interpretation produces. Reply is shown to the
// operator verbatim when Call is nil; otherwise the pipeline executes Call
// and renders its outcome.
type Result struct {
	Reply string
	Call  *proto.ToolCall
}

// Interpreter maps operator text to a Result. Implementations must return
// classified *Error values so the dispatcher can decide whether to retry.
type Interpreter interface {
	Interpret(ctx context.Context, persona proto.Persona, text string) (Result, error)
}
