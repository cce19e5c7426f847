// Package packets defines the wire-level value types that flow between the
// transport and the core: ToUser (outbound), FromUser (inbound), and the
// structured message payload a ToUser may carry.
package packets

import (
	"fmt"
	"time"

	"github.com/taedryn/mesh-citadel/internal/store"
)

// HintType enumerates the UI hints a ToUser may carry for the transport.
type HintType string

const (
	HintText     HintType = "text"
	HintPassword HintType = "password"
	HintMenu     HintType = "menu"
	HintChoice   HintType = "choice"
)

// Hints is the optional UI-steering metadata on a ToUser.
type Hints struct {
	Type        HintType
	Workflow    string
	Step        int
	PromptNext  bool
}

// ToUser is the outbound packet the transport formats and sends.
type ToUser struct {
	SessionID string
	Text      string
	Hints     Hints
	Message   *store.Message
	IsError   bool
	ErrorCode string
}

// Result wraps one or more ToUser packets together with an optional
// NewSessionID — set by workflows (register_user, step 1) that hand the
// transport a brand-new session id to switch to.
type Result struct {
	ToUser       []ToUser
	NewSessionID string
}

// FromUserType enumerates the two inbound payload shapes.
type FromUserType int

const (
	PayloadCommand FromUserType = iota
	PayloadWorkflowResponse
)

// FromUser is the inbound packet the Message Router builds.
type FromUser struct {
	SessionID   string
	PayloadType FromUserType
	// RawText is always populated; Command is populated only when
	// PayloadType == PayloadCommand.
	RawText string
	Command *ParsedCommand
}

// ParsedCommand is what the command parser produces: the first whitespace
// token upper-cased as Code, the remainder verbatim as Args.
type ParsedCommand struct {
	Code string
	Args string
}

// FormatMessage renders a structured BBS message for transmission: a header
// line with id/sender/display name/recipient/timestamp, then the content
// (or a blocked-sender placeholder).
func FormatMessage(m *store.Message, formatTimestamp func(time.Time) string) string {
	if formatTimestamp == nil {
		formatTimestamp = func(t time.Time) string { return t.Format("2006-01-02 15:04:05") }
	}
	toStr := ""
	if m.Recipient != "" {
		toStr = fmt.Sprintf(" To: %s", m.Recipient)
	}
	header := fmt.Sprintf("[%d] From: %s (%s)%s - %s", m.ID, m.DisplayName, m.Sender, toStr, formatTimestamp(m.Timestamp))
	content := m.Content
	if m.Blocked {
		content = "[Message from blocked sender]"
	}
	return header + "\n" + content
}
