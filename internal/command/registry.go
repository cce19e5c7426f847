// Package command implements the command registry, parser, and processor:
// the table of available BBS commands, the text-to-command parser, and the
// dispatcher that runs a parsed command or an active workflow against a
// session.
package command

import (
	"context"
	"fmt"

	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/session"
)

// HandlerFunc executes one registered command against the acting session.
type HandlerFunc func(ctx context.Context, deps *Dependencies, sessionID string, state *session.State, args string) (packets.Result, error)

// Category groups commands for the help menu.
type Category string

const (
	CategoryCommon   Category = "Common"
	CategoryUncommon Category = "Uncommon"
	CategoryUnusual  Category = "Unusual"
	CategoryAide     Category = "Aide"
	CategorySysop    Category = "Sysop"
)

// Descriptor is one entry in the process-wide command table.
type Descriptor struct {
	Code      string
	Name      string
	Action    permission.Action
	Category  Category
	ShortText string
	Help      string
	Handler   HandlerFunc
}

// Registry is the process-wide code -> Descriptor mapping, populated at
// startup.
type Registry struct {
	commands map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Descriptor)}
}

// Register adds d to the table. Registering the same code twice is a
// programming error, not a runtime condition, so it panics immediately.
func (r *Registry) Register(d Descriptor) {
	if d.Code == "" {
		panic("command: descriptor must define a code")
	}
	if d.Handler == nil {
		panic(fmt.Sprintf("command: descriptor %q must define a handler", d.Code))
	}
	if _, dup := r.commands[d.Code]; dup {
		panic(fmt.Sprintf("command: duplicate code %q", d.Code))
	}
	r.commands[d.Code] = d
}

// Get looks up a descriptor by its upper-cased code.
func (r *Registry) Get(code string) (Descriptor, bool) {
	d, ok := r.commands[code]
	return d, ok
}

// Catalog returns a copy of the registered descriptors, keyed by code.
func (r *Registry) Catalog() map[string]Descriptor {
	out := make(map[string]Descriptor, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}
