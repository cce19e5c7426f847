// Package workflow implements a process-wide registry of multi-step
// interactive flows, each implementing start/handle/cleanup.
package workflow

import (
	"context"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/session"
)

// Workflow is the contract every canonical workflow implements. Its Handle
// method has the exact shape command.WorkflowHandler expects, so any
// Workflow also satisfies that interface without an explicit assertion.
type Workflow interface {
	Kind() string
	Start(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State) (packets.Result, error)
	Handle(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, wf *session.WorkflowState, rawInput string) (packets.Result, error)
	Cleanup(ctx context.Context, deps *command.Dependencies, sessionID string, wf *session.WorkflowState) error
}

// Registry is the process-wide kind -> Workflow mapping.
type Registry struct {
	workflows map[string]Workflow
}

func NewRegistry() *Registry {
	return &Registry{workflows: make(map[string]Workflow)}
}

// Register adds w under its own Kind().
func (r *Registry) Register(w Workflow) {
	r.workflows[w.Kind()] = w
}

// Get satisfies command.WorkflowRegistry.
func (r *Registry) Get(kind string) (command.WorkflowHandler, bool) {
	w, ok := r.workflows[kind]
	return w, ok
}

// Lookup returns the concrete Workflow (rather than the narrower
// WorkflowHandler view), for callers — typically command handlers —that
// need to invoke Start directly when transitioning a session into a
// workflow.
func (r *Registry) Lookup(kind string) (Workflow, bool) {
	w, ok := r.workflows[kind]
	return w, ok
}

// DataString reads a string field out of a workflow's opaque Data map,
// tolerating a missing or wrong-typed entry.
func DataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}
