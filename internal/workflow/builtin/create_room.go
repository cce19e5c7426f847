package builtin

import (
	"context"
	"strings"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
)

// CreateRoom is the create_room workflow: prompts for a room name, then
// inserts the new room immediately after the session's current room in
// the room chain (after store.MinUserRoomID when the current room's id is
// lower) and moves the session into it.
type CreateRoom struct{}

func (CreateRoom) Kind() string { return "create_room" }

func (CreateRoom) Start(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State) (packets.Result, error) {
	deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: "create_room", Step: 1})
	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID,
		Text:      "Preparing to create new room.\nPlease enter the room name:",
		Hints:     packets.Hints{Type: packets.HintText, Workflow: "create_room", Step: 1},
	}}}, nil
}

func (c CreateRoom) Handle(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, wf *session.WorkflowState, rawInput string) (packets.Result, error) {
	if wf.Step != 1 {
		return invalidStep(sessionID, wf.Step), nil
	}

	roomName := strings.TrimSpace(rawInput)
	if !isASCIIIdentifier(roomName) {
		return errResult(sessionID, "invalid_room_name", "Room names are limited to ASCII characters only"), nil
	}
	if len(roomName) < 3 {
		return errResult(sessionID, "invalid_room_name", "Room name must be at least 3 characters."), nil
	}

	existingID, err := deps.Rooms.GetIDByName(ctx, roomName)
	if err != nil {
		return packets.Result{}, err
	}
	if existingID != 0 {
		return errResult(sessionID, "room_name_taken", "'"+roomName+"' already exists. Please try again."), nil
	}

	currentRoomID := state.CurrentRoom
	if currentRoomID < store.MinUserRoomID {
		currentRoomID = store.MinUserRoomID
	}

	newID, err := deps.Rooms.Create(ctx, roomName, "", false, permission.User, currentRoomID)
	if err != nil {
		return packets.Result{}, err
	}

	deps.Sessions.ClearWorkflow(sessionID)
	deps.Sessions.SetCurrentRoom(sessionID, newID)

	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID, Text: "Room " + roomName + " created!",
	}}}, nil
}

func (CreateRoom) Cleanup(ctx context.Context, deps *command.Dependencies, sessionID string, wf *session.WorkflowState) error {
	return nil
}
