package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/session"
)

// ValidateUsers is the validate_users workflow, restricted to AIDE/SYSOP
// by its command registration. It walks the pending-validation queue one
// username at a time, accepting a single-keystroke A/R/S/Q.
type ValidateUsers struct{}

func (ValidateUsers) Kind() string { return "validate_users" }

func (v ValidateUsers) Start(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State) (packets.Result, error) {
	rows, err := deps.DB.Execute(ctx, `SELECT username FROM pending_validations ORDER BY submitted_at`)
	if err != nil {
		return packets.Result{}, err
	}
	pending := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			if s, ok := row[0].(string); ok {
				pending = append(pending, s)
			}
		}
	}

	data := map[string]any{"pending_users": pending, "current_index": 0}
	deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: v.Kind(), Step: 1, Data: data})

	res, err := v.showCurrentUser(ctx, deps, sessionID, data)
	if err != nil {
		return packets.Result{}, err
	}
	if len(res.ToUser) > 0 {
		res.ToUser[0].Text = "USER VALIDATION\nA=approve R=reject S=skip Q=quit\n\n" + res.ToUser[0].Text
	}
	return res, nil
}

func (v ValidateUsers) Handle(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, wf *session.WorkflowState, rawInput string) (packets.Result, error) {
	cmd := strings.ToLower(strings.TrimSpace(rawInput))

	switch cmd {
	case "a", "approve":
		return v.approveCurrentUser(ctx, deps, sessionID, wf.Data)
	case "r", "reject":
		return v.rejectCurrentUser(ctx, deps, sessionID, wf.Data)
	case "s", "skip":
		v.advance(deps, sessionID, wf.Data)
		return v.showCurrentUser(ctx, deps, sessionID, wf.Data)
	case "q", "quit":
		deps.Sessions.ClearWorkflow(sessionID)
		return packets.Result{ToUser: []packets.ToUser{{
			SessionID: sessionID, Text: "Validation session ended.",
		}}}, nil
	default:
		return errResult(sessionID, "invalid_command", "Invalid command. Use A/R/S/Q."), nil
	}
}

func (ValidateUsers) Cleanup(ctx context.Context, deps *command.Dependencies, sessionID string, wf *session.WorkflowState) error {
	return nil
}

func pendingList(data map[string]any) ([]string, int) {
	pending, _ := data["pending_users"].([]string)
	index, _ := data["current_index"].(int)
	return pending, index
}

func (v ValidateUsers) advance(deps *command.Dependencies, sessionID string, data map[string]any) {
	_, index := pendingList(data)
	data["current_index"] = index + 1
	deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: v.Kind(), Step: 1, Data: data})
}

func (v ValidateUsers) showCurrentUser(ctx context.Context, deps *command.Dependencies, sessionID string, data map[string]any) (packets.Result, error) {
	pending, index := pendingList(data)
	if index >= len(pending) {
		deps.Sessions.ClearWorkflow(sessionID)
		return packets.Result{ToUser: []packets.ToUser{{
			SessionID: sessionID, Text: "All users processed!",
		}}}, nil
	}

	username := pending[index]
	user, err := deps.Users.Load(ctx, username)
	if err != nil {
		return packets.Result{}, err
	}
	if user == nil {
		v.advance(deps, sessionID, data)
		return v.showCurrentUser(ctx, deps, sessionID, data)
	}

	rows, err := deps.DB.Execute(ctx,
		`SELECT submitted_at, intro_text FROM pending_validations WHERE username = ?`, username)
	if err != nil {
		return packets.Result{}, err
	}
	if len(rows) == 0 {
		v.advance(deps, sessionID, data)
		return v.showCurrentUser(ctx, deps, sessionID, data)
	}

	submittedAt, _ := rows[0][0].(string)
	introText, _ := rows[0][1].(string)
	if strings.TrimSpace(introText) == "" {
		introText = "No introduction provided."
	}

	text := fmt.Sprintf("User %d/%d\n%s (%s)\nSubmitted: %s\n\nIntroduction:\n%s",
		index+1, len(pending), username, user.DisplayName, submittedAt, introText)

	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID, Text: text,
		Hints: packets.Hints{Type: packets.HintChoice, Workflow: v.Kind(), Step: 1},
	}}}, nil
}

func (v ValidateUsers) approveCurrentUser(ctx context.Context, deps *command.Dependencies, sessionID string, data map[string]any) (packets.Result, error) {
	pending, index := pendingList(data)
	if index >= len(pending) {
		return v.showCurrentUser(ctx, deps, sessionID, data)
	}
	username := pending[index]

	if err := deps.Users.SetPermissionLevel(ctx, username, permission.User); err != nil {
		return packets.Result{}, err
	}
	if _, err := deps.DB.Execute(ctx, `DELETE FROM pending_validations WHERE username = ?`, username); err != nil {
		return packets.Result{}, err
	}

	v.advance(deps, sessionID, data)
	res, err := v.showCurrentUser(ctx, deps, sessionID, data)
	if err != nil {
		return packets.Result{}, err
	}
	if len(res.ToUser) > 0 {
		res.ToUser[0].Text = "'" + username + "' approved!\n\n" + res.ToUser[0].Text
	}
	return res, nil
}

func (v ValidateUsers) rejectCurrentUser(ctx context.Context, deps *command.Dependencies, sessionID string, data map[string]any) (packets.Result, error) {
	pending, index := pendingList(data)
	if index >= len(pending) {
		return v.showCurrentUser(ctx, deps, sessionID, data)
	}
	username := pending[index]

	if err := deps.Users.Delete(ctx, username); err != nil {
		return packets.Result{}, err
	}
	if _, err := deps.DB.Execute(ctx, `DELETE FROM pending_validations WHERE username = ?`, username); err != nil {
		return packets.Result{}, err
	}

	v.advance(deps, sessionID, data)
	res, err := v.showCurrentUser(ctx, deps, sessionID, data)
	if err != nil {
		return packets.Result{}, err
	}
	if len(res.ToUser) > 0 {
		res.ToUser[0].Text = "'" + username + "' rejected.\n\n" + res.ToUser[0].Text
	}
	return res, nil
}
