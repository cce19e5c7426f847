// Package builtin holds the canonical interactive workflows: login,
// register_user, enter_message, create_room, validate_users, edit_user.
package builtin

import (
	"context"
	"strconv"
	"strings"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/workflow"
)

const maxLoginAttempts = 3

// Login is the login workflow: username, then password, with a
// hand-off to registration when the username is "new".
type Login struct{}

func (Login) Kind() string { return "login" }

func (Login) Start(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State) (packets.Result, error) {
	deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: "login", Step: 2})
	return promptUsername(sessionID)
}

func promptUsername(sessionID string) (packets.Result, error) {
	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID,
		Text:      "Enter your username:",
		Hints:     packets.Hints{Type: packets.HintText, Workflow: "login", Step: 2},
	}}}, nil
}

func (l Login) Handle(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, wf *session.WorkflowState, rawInput string) (packets.Result, error) {
	data := wf.Data
	if data == nil {
		data = map[string]any{}
	}

	switch wf.Step {
	case 1:
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: l.Kind(), Step: 2, Data: data})
		return promptUsername(sessionID)

	case 2:
		username := strings.TrimSpace(rawInput)
		if strings.EqualFold(username, "new") {
			registerWF, ok := deps.Workflows.(*workflow.Registry)
			if !ok {
				return unknownWorkflow(sessionID, "register_user"), nil
			}
			handler, ok := registerWF.Lookup("register_user")
			if !ok {
				return unknownWorkflow(sessionID, "register_user"), nil
			}
			deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: "register_user", Step: 1, Data: map[string]any{}})
			return handler.Start(ctx, deps, sessionID, state)
		}

		exists, err := deps.Users.UsernameExists(ctx, username)
		if err != nil {
			return packets.Result{}, err
		}
		if !exists {
			deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: l.Kind(), Step: 2, Data: map[string]any{}})
			return packets.Result{ToUser: []packets.ToUser{{
				SessionID: sessionID,
				Text: "User '" + username + "' not found. Try again or type 'new' to register as a new user.\n" +
					"Enter your username:",
				Hints:     packets.Hints{Type: packets.HintText, Workflow: l.Kind(), Step: 2},
				IsError:   true,
				ErrorCode: "invalid_username",
			}}}, nil
		}

		data["username"] = username
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: l.Kind(), Step: 3, Data: data})
		return packets.Result{ToUser: []packets.ToUser{{
			SessionID: sessionID,
			Text:      "Enter your password:",
			Hints:     packets.Hints{Type: packets.HintPassword, Workflow: l.Kind(), Step: 3},
		}}}, nil

	case 3:
		username := workflow.DataString(data, "username")
		ok, err := deps.Users.VerifyPassword(ctx, username, rawInput)
		if err != nil {
			return packets.Result{}, err
		}
		if !ok {
			attempts, _ := data["attempts"].(int)
			attempts++
			data["attempts"] = attempts

			if attempts >= maxLoginAttempts {
				deps.Sessions.ClearWorkflow(sessionID)
				return packets.Result{ToUser: []packets.ToUser{{
					SessionID: sessionID,
					Text:      "Too many failed login attempts. Please try again later.",
					IsError:   true,
					ErrorCode: "login_blocked",
				}}}, nil
			}

			deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: l.Kind(), Step: 2, Data: data})
			return packets.Result{ToUser: []packets.ToUser{{
				SessionID: sessionID,
				Text:      "Login failed. Try again.\nEnter your username:",
				Hints:     packets.Hints{Type: packets.HintText, Workflow: l.Kind(), Step: 2},
				IsError:   true,
				ErrorCode: "login_failed",
			}}}, nil
		}

		deps.Sessions.MarkUsername(sessionID, username)
		deps.Sessions.MarkLoggedIn(sessionID, true)
		deps.Sessions.ClearWorkflow(sessionID)
		return packets.Result{ToUser: []packets.ToUser{{
			SessionID: sessionID,
			Text:      "Welcome, " + username + "! You are now logged in.",
		}}}, nil
	}

	return invalidStep(sessionID, wf.Step), nil
}

func (Login) Cleanup(ctx context.Context, deps *command.Dependencies, sessionID string, wf *session.WorkflowState) error {
	if wf == nil {
		return nil
	}
	if _, bound := wf.Data["username"]; bound {
		deps.Sessions.MarkUsername(sessionID, "")
	}
	return nil
}

func unknownWorkflow(sessionID, kind string) packets.Result {
	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID, IsError: true, ErrorCode: "workflow_not_found",
		Text: "Error: " + kind + " workflow not found",
	}}}
}

func invalidStep(sessionID string, step int) packets.Result {
	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID, IsError: true, ErrorCode: "invalid_step",
		Text: "Invalid workflow step: " + strconv.Itoa(step),
	}}}
}
