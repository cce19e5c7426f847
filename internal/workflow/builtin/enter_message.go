package builtin

import (
	"context"
	"strconv"
	"strings"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
	"github.com/taedryn/mesh-citadel/internal/workflow"
)

// EnterMessage is the enter_message workflow. In the Mail room it first
// collects a recipient; everywhere else it goes straight to body
// collection, which reads lines until a solitary '.'.
type EnterMessage struct{}

func (EnterMessage) Kind() string { return "enter_message" }

func (EnterMessage) Start(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State) (packets.Result, error) {
	if state.CurrentRoom == store.MailRoomID {
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: "enter_message", Step: 1, Data: map[string]any{}})
		return packets.Result{ToUser: []packets.ToUser{{
			SessionID: sessionID,
			Text:      "Enter recipient username:",
			Hints:     packets.Hints{Type: packets.HintText, Workflow: "enter_message", Step: 1},
		}}}, nil
	}
	deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: "enter_message", Step: 2, Data: map[string]any{}})
	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID,
		Text:      "Enter your message. End with a single '.' on a line:",
		Hints:     packets.Hints{Type: packets.HintText, Workflow: "enter_message", Step: 2},
	}}}, nil
}

func (e EnterMessage) Handle(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, wf *session.WorkflowState, rawInput string) (packets.Result, error) {
	data := wf.Data
	if data == nil {
		data = map[string]any{}
	}

	room, err := deps.Rooms.Load(ctx, state.CurrentRoom)
	if err != nil {
		return packets.Result{}, err
	}

	switch wf.Step {
	case 1:
		recipient := strings.TrimSpace(rawInput)
		exists := false
		if recipient != "" {
			exists, err = deps.Users.UsernameExists(ctx, recipient)
			if err != nil {
				return packets.Result{}, err
			}
		}
		if !exists {
			return errResult(sessionID, "invalid_recipient", "Recipient not found. Try again."), nil
		}

		data["recipient"] = recipient
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 2, Data: data})
		return packets.Result{ToUser: []packets.ToUser{{
			SessionID: sessionID,
			Text:      "Enter your message. End with a single '.' on a line:",
			Hints:     packets.Hints{Type: packets.HintText, Workflow: e.Kind(), Step: 2},
		}}}, nil

	case 2:
		line := strings.TrimSpace(rawInput)
		lines, _ := data["lines"].([]string)

		if line == "." {
			content := strings.Join(lines, "\n")
			recipient := workflow.DataString(data, "recipient")
			msgID, err := deps.Rooms.PostMessage(ctx, room.ID, state.Username, content, recipient)
			if err != nil {
				return packets.Result{}, err
			}
			deps.Sessions.ClearWorkflow(sessionID)
			return packets.Result{ToUser: []packets.ToUser{{
				SessionID: sessionID,
				Text:      "Message " + strconv.FormatInt(msgID, 10) + " posted in " + room.Name + ".",
			}}}, nil
		}

		lines = append(lines, line)
		data["lines"] = lines
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 2, Data: data})
		return packets.Result{}, nil
	}

	return invalidStep(sessionID, wf.Step), nil
}

func (EnterMessage) Cleanup(ctx context.Context, deps *command.Dependencies, sessionID string, wf *session.WorkflowState) error {
	return nil
}
