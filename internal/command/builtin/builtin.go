// Package builtin registers the built-in BBS command set against a
// command.Registry.
package builtin

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/permission"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
	"github.com/taedryn/mesh-citadel/internal/workflow"
)

// RegisterAll registers every built-in command against reg.
func RegisterAll(reg *command.Registry) {
	for _, d := range []command.Descriptor{
		goNextUnreadDescriptor(),
		enterMessageDescriptor(),
		readMessagesDescriptor(),
		readNewMessagesDescriptor(),
		knownRoomsDescriptor(),
		ignoreRoomDescriptor(),
		quitDescriptor(),
		cancelDescriptor(),
		scanMessagesDescriptor(),
		changeRoomDescriptor(),
		helpDescriptor("H"),
		helpDescriptor("?"),
		mailDescriptor(),
		whoDescriptor(),
		deleteMessageDescriptor(),
		blockUserDescriptor(),
		validateUsersDescriptor(),
		createRoomDescriptor(),
		editRoomDescriptor(),
		editUserDescriptor(),
		fastForwardDescriptor(),
	} {
		reg.Register(d)
	}
}

func textResult(sessionID, text string) packets.Result {
	return packets.Result{ToUser: []packets.ToUser{{SessionID: sessionID, Text: text}}}
}

func errResult(sessionID, code, text string) packets.Result {
	return packets.Result{ToUser: []packets.ToUser{{
		SessionID: sessionID, IsError: true, ErrorCode: code, Text: text,
	}}}
}

func unknownWorkflow(sessionID, kind string) packets.Result {
	return errResult(sessionID, "workflow_not_found", "Error: "+kind+" workflow not found")
}

// startWorkflow hands sessionID off to the named workflow, mirroring the
// login workflow's own new-user hand-off (builtin.Login, step 2).
func startWorkflow(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, kind string) (packets.Result, error) {
	reg, ok := deps.Workflows.(*workflow.Registry)
	if !ok {
		return unknownWorkflow(sessionID, kind), nil
	}
	handler, ok := reg.Lookup(kind)
	if !ok {
		return unknownWorkflow(sessionID, kind), nil
	}
	deps.Sessions.SetWorkflow(sessionID, &session.WorkflowState{Kind: kind, Step: 1, Data: map[string]any{}})
	return handler.Start(ctx, deps, sessionID, state)
}

// resolveRoomID accepts either a numeric room id or a room name.
func resolveRoomID(ctx context.Context, deps *command.Dependencies, identifier string) (int64, error) {
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		return id, nil
	}
	return deps.Rooms.GetIDByName(ctx, identifier)
}

func roomView(ctx context.Context, deps *command.Dependencies, room *store.Room) *permission.RoomView {
	if room == nil {
		return nil
	}
	return &permission.RoomView{
		ID:         room.ID,
		IsTwitRoom: room.ID == store.TwitRoomID,
		CanRead: func(level permission.Level, username string) bool {
			ok, _ := deps.Rooms.CanUserRead(ctx, room.ID, level, username)
			return ok
		},
		CanPost: func(level permission.Level, username string) bool {
			ok, _ := deps.Rooms.CanUserPost(ctx, room.ID, level, username)
			return ok
		},
	}
}

// -------------------
// Core user commands
// -------------------

func goNextUnreadDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "G", Name: "go_next_unread", Action: permission.ActionGoNextUnread,
		Category: command.CategoryCommon, ShortText: "Goto next unread room",
		Help:    "Go to the next room that has any messages. Rooms with no messages are skipped; rooms you've already read completely are not.",
		Handler: goNextUnread,
	}
}

func goNextUnread(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	user, err := deps.Users.Load(ctx, state.Username)
	if err != nil {
		return packets.Result{}, err
	}
	if user == nil {
		return errResult(sessionID, "no_session", "Session not found"), nil
	}

	next, err := deps.Rooms.GoToNextRoom(ctx, state.CurrentRoom, user.PermissionLevel, true)
	if err != nil {
		return packets.Result{}, err
	}
	if next == nil {
		return textResult(sessionID, "No further rooms with unread messages."), nil
	}

	deps.Sessions.SetCurrentRoom(sessionID, next.ID)
	return textResult(sessionID, fmt.Sprintf("You are now in room '%s'.", next.Name)), nil
}

func enterMessageDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "E", Name: "enter_message", Action: permission.ActionEnterMessage,
		Category: command.CategoryCommon, ShortText: "Enter message",
		Help:    "Compose and post a message to the current room",
		Handler: enterMessage,
	}
}

func enterMessage(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	return startWorkflow(ctx, deps, sessionID, state, "enter_message")
}

func readMessagesDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "R", Name: "read_messages", Action: permission.ActionReadMessages,
		Category: command.CategoryCommon, ShortText: "Read messages",
		Help:    "Read messages in the current room. Provide ID to read a specific message.",
		Handler: readMessages,
	}
}

func readMessages(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return readNewMessages(ctx, deps, sessionID, state, args)
	}

	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		return errResult(sessionID, "invalid_command", "Message ID must be numeric."), nil
	}
	msg, err := deps.Messages.GetMessage(ctx, id, state.Username)
	if err != nil {
		return packets.Result{}, err
	}
	if msg == nil {
		return errResult(sessionID, "invalid_command", "Message not found."), nil
	}
	return packets.Result{ToUser: []packets.ToUser{{SessionID: sessionID, Message: msg}}}, nil
}

func readNewMessagesDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "N", Name: "read_new_messages", Action: permission.ActionReadNewMessages,
		Category: command.CategoryCommon, ShortText: "Read new messages",
		Help:    "Read new messages since last visit. Starts with the oldest message you haven't read yet in this room.",
		Handler: readNewMessages,
	}
}

func readNewMessages(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	ids, err := deps.Rooms.GetUnreadMessageIDs(ctx, state.CurrentRoom, state.Username)
	if err != nil {
		return packets.Result{}, err
	}
	if len(ids) == 0 {
		return textResult(sessionID, "No unread messages."), nil
	}

	var toUser []packets.ToUser
	for _, id := range ids {
		msg, err := deps.Messages.GetMessage(ctx, id, state.Username)
		if err != nil {
			return packets.Result{}, err
		}
		if msg == nil {
			continue
		}
		toUser = append(toUser, packets.ToUser{SessionID: sessionID, Message: msg})
	}
	return packets.Result{ToUser: toUser}, nil
}

func knownRoomsDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "K", Name: "known_rooms", Action: permission.ActionKnownRooms,
		Category: command.CategoryCommon, ShortText: "Known rooms",
		Help:    "List all rooms known to you.",
		Handler: knownRooms,
	}
}

func knownRooms(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	user, err := deps.Users.Load(ctx, state.Username)
	if err != nil {
		return packets.Result{}, err
	}
	if user == nil {
		return errResult(sessionID, "no_session", "Session not found"), nil
	}

	rows, err := deps.DB.Execute(ctx, `SELECT id, name FROM rooms ORDER BY id`)
	if err != nil {
		return packets.Result{}, err
	}

	var lines []string
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		id, _ := row[0].(int64)
		name, _ := row[1].(string)

		canRead, err := deps.Rooms.CanUserRead(ctx, id, user.PermissionLevel, user.Username)
		if err != nil {
			return packets.Result{}, err
		}
		if !canRead {
			continue
		}

		ignored, err := deps.DB.Execute(ctx,
			`SELECT 1 FROM room_ignores WHERE username = ? AND room_id = ?`, user.Username, id)
		if err != nil {
			return packets.Result{}, err
		}
		if len(ignored) > 0 {
			continue
		}

		marker := ""
		if id == state.CurrentRoom {
			marker = " (current)"
		}
		lines = append(lines, fmt.Sprintf("%d - %s%s", id, name, marker))
	}

	if len(lines) == 0 {
		return textResult(sessionID, "No known rooms."), nil
	}
	return textResult(sessionID, "Known rooms:\n"+strings.Join(lines, "\n")), nil
}

func ignoreRoomDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "I", Name: "ignore_room", Action: permission.ActionIgnoreRoom,
		Category: command.CategoryCommon, ShortText: "Ignore room",
		Help:    "Ignore or unignore the current room",
		Handler: ignoreRoom,
	}
}

func ignoreRoom(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	rows, err := deps.DB.Execute(ctx,
		`SELECT 1 FROM room_ignores WHERE username = ? AND room_id = ?`, state.Username, state.CurrentRoom)
	if err != nil {
		return packets.Result{}, err
	}
	if len(rows) > 0 {
		if _, err := deps.DB.Execute(ctx,
			`DELETE FROM room_ignores WHERE username = ? AND room_id = ?`, state.Username, state.CurrentRoom); err != nil {
			return packets.Result{}, err
		}
		return textResult(sessionID, "Room un-ignored."), nil
	}

	if _, err := deps.DB.Execute(ctx,
		`INSERT OR IGNORE INTO room_ignores (username, room_id) VALUES (?, ?)`, state.Username, state.CurrentRoom); err != nil {
		return packets.Result{}, err
	}
	return textResult(sessionID, "Room ignored. It will be left out of known-rooms."), nil
}

func quitDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "Q", Name: "quit", Action: permission.ActionQuit,
		Category: command.CategoryCommon, ShortText: "Quit",
		Help:    "Quit or log off",
		Handler: quit,
	}
}

func quit(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	deps.Sessions.ExpireSession(sessionID)
	return textResult(sessionID, "Goodbye!"), nil
}

func cancelDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "CANCEL", Name: "cancel", Action: permission.ActionCancel,
		Category: command.CategoryCommon, ShortText: "Cancel workflow",
		Help: "Cancel the current workflow and return to normal command mode",
		// Only reached when no workflow is active: the processor
		// intercepts the literal word "cancel" mid-workflow before
		// dispatch ever gets here.
		Handler: cancel,
	}
}

func cancel(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	return errResult(sessionID, "no_workflow", "No active workflow to cancel."), nil
}

func scanMessagesDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "S", Name: "scan_messages", Action: permission.ActionScanMessages,
		Category: command.CategoryUncommon, ShortText: "Scan messages",
		Help:    "Show message summaries in the current room.",
		Handler: scanMessages,
	}
}

func scanMessages(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	rows, err := deps.DB.Execute(ctx,
		`SELECT message_id FROM room_messages WHERE room_id = ? ORDER BY message_id`, state.CurrentRoom)
	if err != nil {
		return packets.Result{}, err
	}
	if len(rows) == 0 {
		return textResult(sessionID, "No messages in this room."), nil
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		id, _ := row[0].(int64)
		summary, err := deps.Messages.GetMessageSummary(ctx, id)
		if err != nil {
			return packets.Result{}, err
		}
		lines = append(lines, summary)
	}
	return textResult(sessionID, strings.Join(lines, "\n")), nil
}

func changeRoomDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "C", Name: "change_room", Action: permission.ActionChangeRoom,
		Category: command.CategoryUncommon, ShortText: "Change room",
		Help:    "Change to a room by name or number. Specify the room name or ID after the command letter.",
		Handler: changeRoom,
	}
}

func changeRoom(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return errResult(sessionID, "invalid_room_name", "Specify a room name or number."), nil
	}

	roomID, err := resolveRoomID(ctx, deps, args)
	if err != nil {
		return packets.Result{}, err
	}
	var room *store.Room
	if roomID != 0 {
		room, err = deps.Rooms.Load(ctx, roomID)
		if err != nil {
			return packets.Result{}, err
		}
	}
	if room == nil {
		return errResult(sessionID, "no_next_room", fmt.Sprintf("Room %s not found.", args)), nil
	}

	deps.Sessions.SetCurrentRoom(sessionID, room.ID)
	return textResult(sessionID, fmt.Sprintf("You are now in room '%s'.", room.Name)), nil
}

func helpDescriptor(code string) command.Descriptor {
	return command.Descriptor{
		Code: code, Name: "help", Action: permission.ActionHelp,
		Category: command.CategoryCommon, ShortText: "Help",
		Help:    "Display a help menu of available commands",
		Handler: help,
	}
}

func help(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	user, err := deps.Users.Load(ctx, state.Username)
	if err != nil {
		return packets.Result{}, err
	}
	if user == nil {
		return errResult(sessionID, "no_session", "Session not found"), nil
	}

	var room *permission.RoomView
	if state.CurrentRoom != 0 {
		r, err := deps.Rooms.Load(ctx, state.CurrentRoom)
		if err != nil {
			return packets.Result{}, err
		}
		room = roomView(ctx, deps, r)
	}

	args = strings.TrimSpace(args)
	if args != "" {
		return showCommandHelp(deps.Registry, sessionID, strings.ToUpper(args), user.PermissionLevel, user.Username, room), nil
	}

	return textResult(sessionID, buildMenu(deps.Registry.Catalog(), user.PermissionLevel, user.Username, room)), nil
}

func showCommandHelp(reg *command.Registry, sessionID, code string, level permission.Level, username string, room *permission.RoomView) packets.Result {
	desc, ok := reg.Get(code)
	if !ok {
		return errResult(sessionID, "unknown_command", "Unknown command: "+code)
	}
	if !permission.IsAllowed(desc.Action, level, username, room) {
		return errResult(sessionID, "permission_denied", "You don't have permission to use command "+code)
	}
	return textResult(sessionID, desc.Code+" - "+desc.ShortText+"\n"+desc.Help)
}

func buildMenu(catalog map[string]command.Descriptor, level permission.Level, username string, room *permission.RoomView) string {
	byCategory := map[command.Category][]command.Descriptor{}
	for _, d := range catalog {
		if !permission.IsAllowed(d.Action, level, username, room) {
			continue
		}
		byCategory[d.Category] = append(byCategory[d.Category], d)
	}

	order := []command.Category{
		command.CategoryCommon, command.CategoryUncommon, command.CategoryUnusual,
		command.CategoryAide, command.CategorySysop,
	}

	var b strings.Builder
	for _, cat := range order {
		cmds := byCategory[cat]
		if len(cmds) == 0 {
			continue
		}
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].Code < cmds[j].Code })

		parts := make([]string, len(cmds))
		for i, c := range cmds {
			parts[i] = fmt.Sprintf("%s-%s", c.Code, c.ShortText)
		}
		fmt.Fprintf(&b, "%s Commands:\n%s\n", cat, strings.Join(parts, "  "))
	}

	if b.Len() == 0 {
		return "No available commands."
	}
	return strings.TrimRight(b.String(), "\n")
}

func mailDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "M", Name: "mail", Action: permission.ActionMail,
		Category: command.CategoryUncommon, ShortText: "Go to Mail",
		Help:    "Go directly to the Mail room to send/receive private messages.",
		Handler: mail,
	}
}

func mail(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	room, err := deps.Rooms.Load(ctx, store.MailRoomID)
	if err != nil {
		return packets.Result{}, err
	}
	if room == nil {
		return errResult(sessionID, "no_next_room", "Mail room not found."), nil
	}
	deps.Sessions.SetCurrentRoom(sessionID, room.ID)
	return textResult(sessionID, fmt.Sprintf("You are now in room '%s'.", room.Name)), nil
}

func whoDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "W", Name: "who", Action: permission.ActionWho,
		Category: command.CategoryUncommon, ShortText: "Who's online",
		Help:    "List active users currently online.",
		Handler: who,
	}
}

func who(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	names := deps.Sessions.ActiveUsernames()
	if len(names) == 0 {
		return textResult(sessionID, "No users online."), nil
	}
	sort.Strings(names)
	return textResult(sessionID, "Online now:\n"+strings.Join(names, "\n")), nil
}

func deleteMessageDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "D", Name: "delete_message", Action: permission.ActionDeleteMessage,
		Category: command.CategoryCommon, ShortText: "Delete message",
		Help:    "Delete a message by ID. Only Aides and Sysops can delete others' messages.",
		Handler: deleteMessage,
	}
}

func deleteMessage(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return errResult(sessionID, "invalid_command", "Specify a message ID to delete."), nil
	}
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		return errResult(sessionID, "invalid_command", "Message ID must be numeric."), nil
	}

	msg, err := deps.Messages.GetMessage(ctx, id, state.Username)
	if err != nil {
		return packets.Result{}, err
	}
	if msg == nil {
		return errResult(sessionID, "invalid_command", "Message not found."), nil
	}

	if !strings.EqualFold(msg.Sender, state.Username) {
		user, err := deps.Users.Load(ctx, state.Username)
		if err != nil {
			return packets.Result{}, err
		}
		if user == nil || user.PermissionLevel < permission.Aide {
			return errResult(sessionID, "permission_denied", "Only Aides and Sysops can delete others' messages."), nil
		}
	}

	if err := deps.Messages.DeleteMessage(ctx, id); err != nil {
		return packets.Result{}, err
	}
	return textResult(sessionID, fmt.Sprintf("Message %d deleted.", id)), nil
}

func blockUserDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "B", Name: "block_user", Action: permission.ActionBlockUser,
		Category: command.CategoryUnusual, ShortText: "(Un)Block user",
		Help:    "Block or unblock another user. Prevents you seeing their messages/mails (they can still see yours).",
		Handler: blockUser,
	}
}

func blockUser(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	target := strings.TrimSpace(args)
	if target == "" {
		return errResult(sessionID, "invalid_command", "Specify a username to block or unblock."), nil
	}
	if strings.EqualFold(target, state.Username) {
		return errResult(sessionID, "invalid_recipient", "You cannot block yourself."), nil
	}

	exists, err := deps.Users.UsernameExists(ctx, target)
	if err != nil {
		return packets.Result{}, err
	}
	if !exists {
		return errResult(sessionID, "invalid_recipient", "User not found."), nil
	}

	blocked, err := deps.Users.IsBlocked(ctx, state.Username, target)
	if err != nil {
		return packets.Result{}, err
	}
	if blocked {
		if _, err := deps.DB.Execute(ctx,
			`DELETE FROM user_blocks WHERE blocker = ? AND blocked = ?`, state.Username, target); err != nil {
			return packets.Result{}, err
		}
		return textResult(sessionID, fmt.Sprintf("Unblocked %s.", target)), nil
	}

	if _, err := deps.DB.Execute(ctx,
		`INSERT OR IGNORE INTO user_blocks (blocker, blocked) VALUES (?, ?)`, state.Username, target); err != nil {
		return packets.Result{}, err
	}
	return textResult(sessionID, fmt.Sprintf("Blocked %s.", target)), nil
}

func validateUsersDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: "V", Name: "validate_users", Action: permission.ActionValidateUsers,
		Category: command.CategoryAide, ShortText: "Validate users",
		Help:    "Enter the user validation workflow to approve new users.",
		Handler: validateUsers,
	}
}

func validateUsers(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	return startWorkflow(ctx, deps, sessionID, state, "validate_users")
}

// -------------------
// Dot commands (administrative / less common)
// -------------------

func createRoomDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: ".C", Name: "create_room", Action: permission.ActionCreateRoom,
		Category: command.CategoryUnusual, ShortText: "Create room",
		Help:    "Create a new room. Sends you into an interactive workflow to create the new room.",
		Handler: createRoom,
	}
}

func createRoom(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	return startWorkflow(ctx, deps, sessionID, state, "create_room")
}

var editableLevels = map[string]permission.Level{
	"unverified": permission.Unverified,
	"twit":       permission.Twit,
	"user":       permission.User,
	"aide":       permission.Aide,
	"sysop":      permission.Sysop,
}

func editRoomDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: ".ER", Name: "edit_room", Action: permission.ActionEditRoom,
		Category: command.CategorySysop, ShortText: "Edit room",
		Help:    "Edit a room's characteristics: .ER {room} key=value [key=value...]. Keys: name, description, read_only, permission_level.",
		Handler: editRoom,
	}
}

func editRoom(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	fields := strings.Fields(strings.TrimSpace(args))
	if len(fields) < 2 {
		return errResult(sessionID, "invalid_command", "Usage: .ER {room} key=value [key=value...]"), nil
	}

	roomID, err := resolveRoomID(ctx, deps, fields[0])
	if err != nil {
		return packets.Result{}, err
	}
	if roomID == 0 {
		return errResult(sessionID, "invalid_room_name", "Room not found."), nil
	}
	room, err := deps.Rooms.Load(ctx, roomID)
	if err != nil {
		return packets.Result{}, err
	}
	if room == nil {
		return errResult(sessionID, "invalid_room_name", "Room not found."), nil
	}

	for _, kv := range fields[1:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "name":
			_, err = deps.DB.Execute(ctx, `UPDATE rooms SET name = ? WHERE id = ?`, value, roomID)
		case "description":
			_, err = deps.DB.Execute(ctx, `UPDATE rooms SET description = ? WHERE id = ?`, value, roomID)
		case "read_only":
			_, err = deps.DB.Execute(ctx, `UPDATE rooms SET read_only = ? WHERE id = ?`, value == "true", roomID)
		case "permission_level":
			level, known := editableLevels[strings.ToLower(value)]
			if !known {
				return errResult(sessionID, "invalid_command", "Unknown permission_level: "+value), nil
			}
			_, err = deps.DB.Execute(ctx, `UPDATE rooms SET permission_level = ? WHERE id = ?`, strings.ToLower(level.String()), roomID)
		default:
			continue
		}
		if err != nil {
			return packets.Result{}, err
		}
	}

	return textResult(sessionID, fmt.Sprintf("Room '%s' updated.", room.Name)), nil
}

func editUserDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: ".EU", Name: "edit_user", Action: permission.ActionEditUser,
		Category: command.CategorySysop, ShortText: "Edit user",
		Help:    "Edit a user's characteristics",
		Handler: editUser,
	}
}

func editUser(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	return startWorkflow(ctx, deps, sessionID, state, "edit_user")
}

func fastForwardDescriptor() command.Descriptor {
	return command.Descriptor{
		Code: ".FF", Name: "fast_forward", Action: permission.ActionFastForward,
		Category: command.CategoryUnusual, ShortText: "Fast-forward",
		Help:    "Fast-forward to the latest message in the current room, resetting your last-read pointer.",
		Handler: fastForward,
	}
}

func fastForward(ctx context.Context, deps *command.Dependencies, sessionID string, state *session.State, args string) (packets.Result, error) {
	rows, err := deps.DB.Execute(ctx,
		`SELECT message_id FROM room_messages WHERE room_id = ? ORDER BY message_id DESC LIMIT 1`, state.CurrentRoom)
	if err != nil {
		return packets.Result{}, err
	}
	if len(rows) == 0 {
		return textResult(sessionID, "No messages in this room."), nil
	}
	latest, _ := rows[0][0].(int64)

	if _, err := deps.DB.Execute(ctx,
		`INSERT OR REPLACE INTO user_room_state (username, room_id, last_seen_message_id) VALUES (?, ?, ?)`,
		state.Username, state.CurrentRoom, latest); err != nil {
		return packets.Result{}, err
	}
	return textResult(sessionID, "Fast-forwarded to the latest message."), nil
}
