package command

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
)

// cleanupHandler is the optional extra a WorkflowHandler may implement, for
// workflows that need to release resources when cancelled mid-flight.
type cleanupHandler interface {
	Cleanup(ctx context.Context, deps *Dependencies, sessionID string, wf *session.WorkflowState) error
}

// WorkflowHandler is the contract a workflow package implements. Defined
// here, on the consumer side, to avoid a command<->workflow import cycle.
type WorkflowHandler interface {
	Handle(ctx context.Context, deps *Dependencies, sessionID string, state *session.State, wf *session.WorkflowState, rawInput string) (packets.Result, error)
}

// WorkflowRegistry looks up a WorkflowHandler by its kind string.
type WorkflowRegistry interface {
	Get(kind string) (WorkflowHandler, bool)
}

// RegistrationSettings is the slice of registration config the
// register_user workflow needs.
type RegistrationSettings struct {
	TermsRequired bool
	Terms         string
}

// Dependencies bundles the external collaborators the processor and every
// command handler need.
type Dependencies struct {
	Sessions     *session.Manager
	Users        store.Users
	Rooms        store.Rooms
	Messages     store.Messages
	Hasher       store.PasswordHasher
	DB           store.DB
	Registry     *Registry
	Workflows    WorkflowRegistry
	Registration RegistrationSettings
}

// Processor validates a session, delegates to an active workflow, or
// dispatches a parsed command against the permission-checked registry.
type Processor struct {
	deps *Dependencies
}

func NewProcessor(deps *Dependencies) *Processor {
	return &Processor{deps: deps}
}

func invalidSession() packets.Result {
	return packets.Result{ToUser: []packets.ToUser{{
		IsError: true, ErrorCode: "invalid_session", Text: "Session expired or invalid.",
	}}}
}

func unknownCommand(code string) packets.Result {
	return packets.Result{ToUser: []packets.ToUser{{
		IsError: true, ErrorCode: "unknown_command", Text: fmt.Sprintf("Unknown command: %s", code),
	}}}
}

func permissionDenied(action permission.Action) packets.Result {
	return packets.Result{ToUser: []packets.ToUser{{
		IsError: true, ErrorCode: "permission_denied",
		Text: fmt.Sprintf("You do not have permission to %s.", permission.Describe(action)),
	}}}
}

func internalError(err error) packets.Result {
	return packets.Result{ToUser: []packets.ToUser{{
		IsError: true, ErrorCode: "internal_error", Text: err.Error(),
	}}}
}

// Process validates the session, touches its activity timestamp, delegates
// to an active workflow or dispatches the parsed command, checking
// permissions before the handler runs.
func (p *Processor) Process(ctx context.Context, fu packets.FromUser) packets.Result {
	// 1. Validate session.
	if !p.deps.Sessions.ValidateSession(fu.SessionID) {
		return invalidSession()
	}
	// 2. Touch session.
	p.deps.Sessions.TouchSession(fu.SessionID)

	state := p.deps.Sessions.GetSessionState(fu.SessionID)
	if state == nil {
		return invalidSession()
	}

	// 3. Workflow delegation. "cancel" is a global override: it interrupts
	// whatever workflow is active rather than being interpreted as that
	// workflow's next input.
	if state.Workflow != nil {
		handler, ok := p.deps.Workflows.Get(state.Workflow.Kind)
		if ok && strings.EqualFold(strings.TrimSpace(fu.RawText), "cancel") {
			kind := state.Workflow.Kind
			if ch, ok := handler.(cleanupHandler); ok {
				if err := ch.Cleanup(ctx, p.deps, fu.SessionID, state.Workflow); err != nil {
					log.Warnf("command: cleanup for %s workflow failed: %v", kind, err)
				}
			}
			p.deps.Sessions.ClearWorkflow(fu.SessionID)
			return packets.Result{ToUser: []packets.ToUser{{
				SessionID: fu.SessionID, Text: fmt.Sprintf("Cancelled %s workflow.", kind),
			}}}
		}
		if !ok {
			return packets.Result{ToUser: []packets.ToUser{{
				IsError: true, ErrorCode: "unknown_workflow",
				Text: fmt.Sprintf("Unknown workflow: %s", state.Workflow.Kind),
			}}}
		}
		result, err := handler.Handle(ctx, p.deps, fu.SessionID, state, state.Workflow, fu.RawText)
		if err != nil {
			log.Errorf("command: workflow %s failed for %s: %v", state.Workflow.Kind, fu.SessionID, err)
			return internalError(err)
		}
		return result
	}

	// 4. Normal dispatch.
	if fu.Command == nil {
		return unknownCommand(fu.RawText)
	}
	desc, ok := p.deps.Registry.Get(fu.Command.Code)
	if !ok {
		return unknownCommand(fu.Command.Code)
	}

	user, err := p.deps.Users.Load(ctx, state.Username)
	if err != nil {
		log.Errorf("command: loading user %s: %v", state.Username, err)
		return internalError(err)
	}

	var roomView *permission.RoomView
	if state.CurrentRoom != 0 {
		room, err := p.deps.Rooms.Load(ctx, state.CurrentRoom)
		if err != nil {
			log.Errorf("command: loading room %d: %v", state.CurrentRoom, err)
			return internalError(err)
		}
		roomView = &permission.RoomView{
			ID:         room.ID,
			IsTwitRoom: room.ID == store.TwitRoomID,
			CanRead: func(level permission.Level, username string) bool {
				ok, _ := p.deps.Rooms.CanUserRead(ctx, room.ID, level, username)
				return ok
			},
			CanPost: func(level permission.Level, username string) bool {
				ok, _ := p.deps.Rooms.CanUserPost(ctx, room.ID, level, username)
				return ok
			},
		}
	}

	// 5. Permission check.
	userLevel := permission.Unverified
	if user != nil {
		userLevel = user.PermissionLevel
	}
	if !permission.IsAllowed(desc.Action, userLevel, state.Username, roomView) {
		return permissionDenied(desc.Action)
	}

	// 6. Execute.
	result, err := func() (res packets.Result, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in command %s: %v", desc.Code, r)
			}
		}()
		return desc.Handler(ctx, p.deps, fu.SessionID, state, fu.Command.Args)
	}()
	if err != nil {
		log.Errorf("command: %s failed for %s: %v", desc.Code, fu.SessionID, err)
		return internalError(err)
	}
	return result
}
