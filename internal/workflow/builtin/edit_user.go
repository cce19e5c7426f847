package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
	"github.com/taedryn/mesh-citadel/internal/workflow"
)

// EditUser is the edit_user workflow: self-edit for USER, arbitrary target
// for AIDE+. Password reset is folded in as step 6 rather than a
// separate workflow.
type EditUser struct{}

func (EditUser) Kind() string { return "edit_user" }

var allLevels = []permission.Level{permission.Unverified, permission.Twit, permission.User, permission.Aide, permission.Sysop}
var allStatuses = []store.UserStatus{store.StatusUnverified, store.StatusProvisional, store.StatusActive}

func menuOptions(editorLevel permission.Level) []string {
	options := []string{"Display Name", "Reset Password"}
	if editorLevel >= permission.Aide {
		options = append(options, "Permission Level", "Status")
	}
	options = append(options, "Quit")
	return options
}

func (e EditUser) Start(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State) (packets.Result, error) {
	editor, err := deps.Users.Load(ctx, state.Username)
	if err != nil {
		return packets.Result{}, err
	}

	if editor.PermissionLevel >= permission.Aide {
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 1, Data: map[string]any{}})
		return packets.Result{ToUser: []packets.ToUser{{
			SessionID: sessionID,
			Text:      "Username to edit?\nType 'cancel' to quit",
			Hints:     packets.Hints{Type: packets.HintText, Workflow: e.Kind(), Step: 1},
		}}}, nil
	}

	data := map[string]any{"target_user": editor.Username}
	deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 2, Data: data})
	return e.presentEditMenu(ctx, deps, sessionID, editor, data)
}

func (e EditUser) Handle(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, wf *session.WorkflowState, rawInput string) (packets.Result, error) {
	data := wf.Data
	if data == nil {
		data = map[string]any{}
	}

	editor, err := deps.Users.Load(ctx, state.Username)
	if err != nil {
		return packets.Result{}, err
	}

	switch wf.Step {
	case 1:
		if strings.EqualFold(strings.TrimSpace(rawInput), "cancel") {
			deps.Sessions.ClearWorkflow(sessionID)
			return packets.Result{ToUser: []packets.ToUser{{SessionID: sessionID, Text: "Exiting user edit"}}}, nil
		}
		username := strings.TrimSpace(rawInput)
		target, err := deps.Users.Load(ctx, username)
		if err != nil {
			return packets.Result{}, err
		}
		if target == nil {
			return errResult(sessionID, "user_not_found", "User not found. Please enter a valid username or type 'cancel' to quit."), nil
		}
		data["target_user"] = target.Username
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 2, Data: data})
		return e.presentEditMenu(ctx, deps, sessionID, editor, data)

	case 2:
		choice, convErr := strconv.Atoi(strings.TrimSpace(rawInput))
		options := menuOptions(editor.PermissionLevel)
		if convErr != nil || choice < 1 || choice > len(options) {
			return e.presentEditMenu(ctx, deps, sessionID, editor, data)
		}

		selected := options[choice-1]
		data["field"] = selected

		switch selected {
		case "Quit":
			deps.Sessions.ClearWorkflow(sessionID)
			return packets.Result{ToUser: []packets.ToUser{{SessionID: sessionID, Text: "Exiting user edit"}}}, nil

		case "Reset Password":
			deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 6, Data: data})
			return packets.Result{ToUser: []packets.ToUser{{
				SessionID: sessionID, Text: "Resetting password\nEnter new password:",
				Hints: packets.Hints{Type: packets.HintPassword, Workflow: e.Kind(), Step: 6},
			}}}, nil

		case "Display Name":
			deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 3, Data: data})
			target, err := deps.Users.Load(ctx, workflow.DataString(data, "target_user"))
			if err != nil {
				return packets.Result{}, err
			}
			return packets.Result{ToUser: []packets.ToUser{{
				SessionID: sessionID,
				Text:      "Current display name: " + target.DisplayName + "\nEnter new display name:",
				Hints:     packets.Hints{Type: packets.HintText, Workflow: e.Kind(), Step: 3},
			}}}, nil

		case "Permission Level":
			deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 4, Data: data})
			var b strings.Builder
			b.WriteString("Select new permission level:\n")
			for i, lvl := range allLevels {
				fmt.Fprintf(&b, "%d. %s\n", i+1, lvl.String())
			}
			return packets.Result{ToUser: []packets.ToUser{{
				SessionID: sessionID, Text: strings.TrimRight(b.String(), "\n"),
				Hints: packets.Hints{Type: packets.HintMenu, Workflow: e.Kind(), Step: 4},
			}}}, nil

		case "Status":
			deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 5, Data: data})
			var b strings.Builder
			b.WriteString("Select new status:\n")
			for i, st := range allStatuses {
				fmt.Fprintf(&b, "%d. %s\n", i+1, st)
			}
			return packets.Result{ToUser: []packets.ToUser{{
				SessionID: sessionID, Text: strings.TrimRight(b.String(), "\n"),
				Hints: packets.Hints{Type: packets.HintMenu, Workflow: e.Kind(), Step: 5},
			}}}, nil
		}

	case 3:
		newName := strings.TrimSpace(rawInput)
		targetUser := workflow.DataString(data, "target_user")
		if err := deps.Users.SetDisplayName(ctx, targetUser, newName); err != nil {
			return packets.Result{}, err
		}
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 2, Data: data})
		return e.presentEditMenu(ctx, deps, sessionID, editor, data)

	case 4:
		index, convErr := strconv.Atoi(strings.TrimSpace(rawInput))
		if convErr != nil || index < 1 || index > len(allLevels) {
			return errResult(sessionID, "invalid_permission", "Invalid selection. Please choose a valid permission level."), nil
		}
		targetUser := workflow.DataString(data, "target_user")
		if err := deps.Users.SetPermissionLevel(ctx, targetUser, allLevels[index-1]); err != nil {
			return packets.Result{}, err
		}
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 2, Data: data})
		return e.presentEditMenu(ctx, deps, sessionID, editor, data)

	case 5:
		index, convErr := strconv.Atoi(strings.TrimSpace(rawInput))
		if convErr != nil || index < 1 || index > len(allStatuses) {
			return errResult(sessionID, "invalid_status", "Invalid selection. Please choose a valid status."), nil
		}
		targetUser := workflow.DataString(data, "target_user")
		if err := deps.Users.SetStatus(ctx, targetUser, allStatuses[index-1]); err != nil {
			return packets.Result{}, err
		}
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 2, Data: data})
		return e.presentEditMenu(ctx, deps, sessionID, editor, data)

	case 6:
		newPassword := rawInput
		if len(newPassword) < 6 {
			return errResult(sessionID, "invalid_password", "Password must be at least 6 characters."), nil
		}
		targetUser := workflow.DataString(data, "target_user")
		salt, err := deps.Hasher.GenerateSalt()
		if err != nil {
			return packets.Result{}, err
		}
		hash := deps.Hasher.Hash(newPassword, salt)
		if err := deps.Users.UpdatePassword(ctx, targetUser, hash, salt); err != nil {
			return packets.Result{}, err
		}
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: e.Kind(), Step: 2, Data: data})
		return e.presentEditMenu(ctx, deps, sessionID, editor, data)
	}

	return invalidStep(sessionID, wf.Step), nil
}

func (e EditUser) presentEditMenu(ctx context.Context, deps *command.Dependencies, sessionID string, editor *store.User, data map[string]any) (packets.Result, error) {
	target, err := deps.Users.Load(ctx, workflow.DataString(data, "target_user"))
	if err != nil {
		return packets.Result{}, err
	}

	options := menuOptions(editor.PermissionLevel)
	var b strings.Builder
	fmt.Fprintf(&b, "Username: %s\n", target.Username)
	for i, opt := range options {
		switch opt {
		case "Display Name":
			fmt.Fprintf(&b, "%d. Display Name: %s\n", i+1, target.DisplayName)
		case "Permission Level":
			fmt.Fprintf(&b, "%d. Permission Level: %s\n", i+1, target.PermissionLevel.String())
		case "Status":
			fmt.Fprintf(&b, "%d. Status: %s\n", i+1, target.Status)
		default:
			fmt.Fprintf(&b, "%d. %s\n", i+1, opt)
		}
	}

	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID, Text: strings.TrimRight(b.String(), "\n"),
		Hints: packets.Hints{Type: packets.HintMenu, Workflow: e.Kind(), Step: 2},
	}}}, nil
}

func (EditUser) Cleanup(ctx context.Context, deps *command.Dependencies, sessionID string, wf *session.WorkflowState) error {
	return nil
}

