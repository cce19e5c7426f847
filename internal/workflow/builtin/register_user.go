package builtin

import (
	"strings"
	"time"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
	"github.com/taedryn/mesh-citadel/internal/workflow"

	"context"
)

const tempPassword = "temporary"

// RegisterUser is the register_user workflow.
type RegisterUser struct{}

func (RegisterUser) Kind() string { return "register_user" }

func (RegisterUser) Start(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State) (packets.Result, error) {
	deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: "register_user", Step: 1, Data: map[string]any{}})
	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID,
		Text:      "Choose a username to begin registration.",
		Hints:     packets.Hints{Type: packets.HintText, Workflow: "register_user", Step: 1},
	}}}, nil
}

func isASCIIIdentifier(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func errResult(sessionID, code, text string) packets.Result {
	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID, IsError: true, ErrorCode: code, Text: text,
	}}}
}

func prompt(sessionID string, step int, hintType packets.HintType, text string) packets.Result {
	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID, Text: text,
		Hints: packets.Hints{Type: hintType, Workflow: "register_user", Step: step},
	}}}
}

func (r RegisterUser) Handle(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, wf *session.WorkflowState, rawInput string) (packets.Result, error) {
	data := wf.Data
	if data == nil {
		data = map[string]any{}
	}

	switch wf.Step {
	case 1:
		username := strings.TrimSpace(rawInput)
		if !isASCIIIdentifier(username) {
			return errResult(sessionID, "invalid_username", "Usernames are limited to ASCII characters only"), nil
		}
		if len(username) < 3 {
			return errResult(sessionID, "invalid_username", "Username must be at least 3 characters."), nil
		}
		exists, err := deps.Users.UsernameExists(ctx, username)
		if err != nil {
			return packets.Result{}, err
		}
		if exists {
			return errResult(sessionID, "username_taken", "'"+username+"' is already in use. Please try again."), nil
		}

		salt, err := deps.Hasher.GenerateSalt()
		if err != nil {
			return packets.Result{}, err
		}
		hash := deps.Hasher.Hash(tempPassword, salt)
		if err := deps.Users.Create(ctx, username, username, hash, salt, store.StatusProvisional); err != nil {
			return packets.Result{}, err
		}

		newSessionID := deps.Sessions.CreateSession(ctx, "")
		data["username"] = username
		deps.Sessions.SetWorkflow(newSessionID, &session.WorkflowState{Kind: r.Kind(), Step: 2, Data: data})

		result := prompt(newSessionID, 2, packets.HintText, "Choose a display name.")
		result.NewSessionID = newSessionID
		return result, nil

	case 2:
		displayName := strings.TrimSpace(rawInput)
		if displayName == "" {
			return errResult(sessionID, "invalid_display_name", "Display name cannot be empty."), nil
		}
		username := workflow.DataString(data, "username")
		if err := deps.Users.SetDisplayName(ctx, username, displayName); err != nil {
			return packets.Result{}, err
		}
		data["display_name"] = displayName
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: r.Kind(), Step: 3, Data: data})
		return prompt(sessionID, 3, packets.HintPassword, "Choose a password."), nil

	case 3:
		password := rawInput
		if len(password) < 6 {
			return errResult(sessionID, "invalid_password", "Password must be at least 6 characters."), nil
		}
		username := workflow.DataString(data, "username")
		salt, err := deps.Hasher.GenerateSalt()
		if err != nil {
			return packets.Result{}, err
		}
		hash := deps.Hasher.Hash(password, salt)
		if err := deps.Users.UpdatePassword(ctx, username, hash, salt); err != nil {
			return packets.Result{}, err
		}

		if deps.Registration.TermsRequired {
			deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: r.Kind(), Step: 4, Data: data})
			return prompt(sessionID, 4, packets.HintText, deps.Registration.Terms+"\nDo you agree to the terms? (yes/no)"), nil
		}
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: r.Kind(), Step: 5, Data: data})
		return prompt(sessionID, 5, packets.HintText, "Tell us a bit about yourself."), nil

	case 4:
		agree := strings.ToLower(strings.TrimSpace(rawInput))
		if agree != "yes" && agree != "y" {
			return errResult(sessionID, "terms_not_accepted", "You must agree to the terms to continue."), nil
		}
		data["agreed"] = true
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: r.Kind(), Step: 5, Data: data})
		return prompt(sessionID, 5, packets.HintText, "Tell us a bit about yourself."), nil

	case 5:
		data["intro"] = rawInput
		deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: r.Kind(), Step: 6, Data: data})
		return prompt(sessionID, 6, packets.HintText, "Submit registration? (yes/no)"), nil

	case 6:
		confirm := strings.ToLower(strings.TrimSpace(rawInput))
		if confirm != "yes" && confirm != "y" {
			return errResult(sessionID, "registration_cancelled", "Registration not submitted."), nil
		}
		username := workflow.DataString(data, "username")
		if err := deps.Users.SetStatus(ctx, username, store.StatusActive); err != nil {
			return packets.Result{}, err
		}
		if _, err := deps.DB.Execute(ctx,
			`INSERT INTO pending_validations (username, submitted_at, transport_engine, transport_metadata, intro_text)
			 VALUES (?, ?, ?, ?, ?)`,
			username, time.Now().UTC().Format(time.RFC3339), "meshcore", "{}", workflow.DataString(data, "intro")); err != nil {
			return packets.Result{}, err
		}
		deps.Sessions.ClearWorkflow(sessionID)
		return packets.Result{ToUser: []packets.ToUser{{
			SessionID: sessionID, Text: "Your registration has been submitted for validation.",
		}}}, nil
	}

	return invalidStep(sessionID, wf.Step), nil
}

func (RegisterUser) Cleanup(ctx context.Context, deps *command.Dependencies, sessionID string, wf *session.WorkflowState) error {
	return nil
}
