// Package router turns a raw (node_id, text) pair received off the mesh
// into a command processor call, then formats the reply with a room-aware
// prompt before handing it back to the transport for delivery.
package router

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/dedupe"
	"github.com/taedryn/mesh-citadel/internal/nodeauth"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
)

// SendToNodeFunc delivers text to a node, returning whether an ACK arrived.
type SendToNodeFunc func(ctx context.Context, nodeID, username, text string) bool

// DisconnectFunc tears down a session's delivery listener after a failed send.
type DisconnectFunc func(sessionID string)

// StartListenerFunc starts the Session Coordinator's listener goroutine for
// a newly created session.
type StartListenerFunc func(sessionID string)

// StartLoginFunc begins the login workflow for a node with no password
// cache entry.
type StartLoginFunc func(ctx context.Context, sessionID, nodeID string) (packets.Result, error)

// Router is the Message Router.
type Router struct {
	DB        store.DB
	Users     store.Users
	Rooms     store.Rooms
	Sessions  *session.Manager
	NodeAuth  *nodeauth.Authenticator
	Dedupe    *dedupe.Deduplicator
	Limiter   *NodeLimiter
	Registry  *command.Registry
	Processor *command.Processor

	SendToNode     SendToNodeFunc
	Disconnect     DisconnectFunc
	StartListener  StartListenerFunc
	StartLogin     StartLoginFunc
	InterPacketGap func() // blocks for the configured inter-packet delay
}

// HandleMessage is the full pipeline for one inbound message: dedupe, rate
// limit, session lookup/create, password-cache check or workflow
// delegation, command dispatch, inter-packet delay, prompt insertion, and
// send.
func (r *Router) HandleMessage(ctx context.Context, nodeID, text string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("router: panic handling message from %s: %v", nodeID, rec)
		}
	}()

	if r.Dedupe.IsDuplicate(nodeID, text) {
		log.Debugf("router: duplicate message from %s, skipping", nodeID)
		return
	}

	if r.Limiter != nil && !r.Limiter.Allow(nodeID) {
		log.Warnf("router: rate-limiting %s, dropping message", nodeID)
		return
	}

	sessionID, existed := r.Sessions.GetSessionByNodeID(nodeID)
	isNewSession := !existed
	if isNewSession {
		sessionID = r.Sessions.CreateSession(ctx, nodeID)
		if r.StartListener != nil {
			r.StartListener(sessionID)
		}
	}

	username, hasCache := r.NodeAuth.HasCache(ctx, nodeID)
	state := r.Sessions.GetSessionState(sessionID)

	var packet packets.FromUser
	switch {
	case state != nil && state.Workflow != nil:
		packet = packets.FromUser{SessionID: sessionID, PayloadType: packets.PayloadWorkflowResponse, RawText: text}

	case hasCache:
		if err := r.NodeAuth.Touch(ctx, nodeID); err != nil {
			log.Warnf("router: touching password cache for %s: %v", nodeID, err)
		}
		if err := r.NodeAuth.SetUsername(ctx, nodeID, username); err != nil {
			log.Warnf("router: binding cached username for %s: %v", nodeID, err)
		}
		r.Sessions.MarkLoggedIn(sessionID, true)
		r.Sessions.MarkUsername(sessionID, username)

		if isNewSession {
			welcome := fmt.Sprintf("Welcome back, %s! You've been automatically logged in.", username)
			welcome = r.insertPromptText(ctx, sessionID, welcome)
			r.pause()
			if !r.SendToNode(ctx, nodeID, username, welcome) {
				log.Warnf("router: no ACK sending welcome-back message to %s", nodeID)
				r.Disconnect(sessionID)
			}
			return
		}

		pc, ok := command.ParseCommand(r.Registry, text)
		if !ok {
			packet = packets.FromUser{SessionID: sessionID, PayloadType: packets.PayloadCommand, RawText: text}
		} else {
			packet = packets.FromUser{SessionID: sessionID, PayloadType: packets.PayloadCommand, RawText: text, Command: pc}
		}

	default:
		log.Infof("router: no password cache for %s, starting login", nodeID)
		if r.StartLogin == nil {
			return
		}
		result, err := r.StartLogin(ctx, sessionID, nodeID)
		if err != nil {
			log.Errorf("router: starting login for %s: %v", nodeID, err)
			return
		}
		r.deliver(ctx, sessionID, nodeID, username, result)
		return
	}

	result := r.Processor.Process(ctx, packet)
	r.pause()
	r.deliver(ctx, sessionID, nodeID, username, result)
}

// deliver sends every ToUser in result in order. A failed send disconnects
// the session but doesn't stop the loop — the remaining items are still
// attempted.
func (r *Router) deliver(ctx context.Context, sessionID, nodeID, username string, result packets.Result) {
	if len(result.ToUser) == 0 {
		return
	}
	last := len(result.ToUser) - 1
	for i, tu := range result.ToUser {
		text := tu.Text
		if i == last {
			text = r.insertPromptText(ctx, sessionID, text)
		}
		if !r.SendToNode(ctx, nodeID, username, text) {
			r.Disconnect(sessionID)
		}
	}
}

func (r *Router) pause() {
	if r.InterPacketGap != nil {
		r.InterPacketGap()
	}
}

// insertPromptText appends a room-aware prompt to a reply: a mid-workflow
// reply is left untouched; otherwise a room-aware prompt, validation-queue
// count (AIDE+), and unread-mail notice are appended.
func (r *Router) insertPromptText(ctx context.Context, sessionID, text string) string {
	state := r.Sessions.GetSessionState(sessionID)
	if state == nil || state.Workflow != nil {
		return text
	}

	if state.CurrentRoom == 0 {
		return text + "\nWhat now? (H for help)"
	}

	var lines []string

	user, err := r.Users.Load(ctx, state.Username)
	if err == nil && user != nil && user.PermissionLevel >= permission.Aide {
		if rows, err := r.DB.Execute(ctx, `SELECT COUNT(*) FROM pending_validations`); err == nil && len(rows) > 0 {
			count, _ := rows[0][0].(int64)
			if count > 0 {
				word, isWord := "validations", "are"
				if count == 1 {
					word, isWord = "validation", "is"
				}
				lines = append(lines, fmt.Sprintf("* There %s %d %s to review", isWord, count, word))
			}
		}
	}

	if hasMail, err := r.Rooms.HasUnreadMessages(ctx, store.MailRoomID, state.Username); err == nil && hasMail {
		lines = append(lines, "* You have unread mail")
	}

	roomName := fmt.Sprintf("Room %d", state.CurrentRoom)
	if room, err := r.Rooms.Load(ctx, state.CurrentRoom); err == nil && room != nil {
		roomName = room.Name
	}
	lines = append(lines, fmt.Sprintf("In %s. What now? (H for help)", roomName))

	return text + "\n" + strings.Join(lines, "\n")
}
