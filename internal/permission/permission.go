// Package permission defines the BBS permission-level order and the
// action/room rules the command processor and workflows consult before
// letting a user do anything.
package permission

// Level is a total order: UNVERIFIED < TWIT < USER < AIDE < SYSOP.
type Level int

const (
	Unverified Level = iota
	Twit
	User
	Aide
	Sysop
)

func (l Level) String() string {
	switch l {
	case Unverified:
		return "UNVERIFIED"
	case Twit:
		return "TWIT"
	case User:
		return "USER"
	case Aide:
		return "AIDE"
	case Sysop:
		return "SYSOP"
	default:
		return "UNKNOWN"
	}
}

// Action names the operations the permission checker and
// ActionRequirements table key off of.
type Action string

const (
	ActionReadMessages    Action = "read_messages"
	ActionReadNewMessages Action = "read_new_messages"
	ActionScanMessages    Action = "scan_messages"
	ActionIgnoreRoom      Action = "ignore_room"
	ActionEnterMessage    Action = "enter_message"
	ActionDeleteMessage   Action = "delete_message"
	ActionBlockUser       Action = "block_user"
	ActionValidateUsers   Action = "validate_users"
	ActionCreateRoom      Action = "create_room"
	ActionEditRoom        Action = "edit_room"
	ActionEditUser        Action = "edit_user"
	ActionAdmin           Action = "admin"

	// The following round out the full command set.
	// Quit/Cancel/Help are available regardless of verification status so
	// that a session stuck mid-login or pending validation is never
	// trapped without a way out.
	ActionGoNextUnread Action = "go_next_unread"
	ActionKnownRooms   Action = "known_rooms"
	ActionChangeRoom   Action = "change_room"
	ActionMail         Action = "mail"
	ActionWho          Action = "who"
	ActionQuit         Action = "quit"
	ActionCancel       Action = "cancel"
	ActionHelp         Action = "help"
	ActionFastForward  Action = "fast_forward"
)

// Requirement pairs an action with the minimum level it needs and the
// human-readable verb used in permission_denied messages.
type Requirement struct {
	Level       Level
	Description string
}

// ActionRequirements is the process-wide action -> minimum-level table.
var ActionRequirements = map[Action]Requirement{
	ActionReadMessages:    {User, "read messages"},
	ActionReadNewMessages: {User, "read new messages"},
	ActionScanMessages:    {User, "scan messages"},
	ActionIgnoreRoom:      {User, "ignore this room"},
	ActionEnterMessage:    {User, "post a message"},
	// Base requirement lets anyone delete their own message; the delete
	// handler additionally requires AIDE+ to remove someone else's.
	ActionDeleteMessage: {User, "delete messages"},
	ActionBlockUser:     {User, "block a user"},
	ActionValidateUsers: {Aide, "validate users"},
	ActionCreateRoom:    {User, "create a room"},
	ActionEditRoom:      {Sysop, "edit a room"},
	ActionEditUser:      {User, "edit a user"},
	ActionAdmin:         {Sysop, "perform this administrative action"},

	ActionGoNextUnread: {User, "go to the next room"},
	ActionKnownRooms:   {User, "list known rooms"},
	ActionChangeRoom:   {User, "change rooms"},
	ActionMail:         {User, "go to mail"},
	ActionWho:          {User, "see who's online"},
	ActionQuit:         {Unverified, "quit"},
	ActionCancel:       {Unverified, "cancel a workflow"},
	ActionHelp:         {Unverified, "view help"},
	ActionFastForward:  {User, "fast-forward a room"},
}

// RoomView is the minimal room shape the permission checker needs, kept
// narrow so internal/permission never imports internal/store.
type RoomView struct {
	ID         int64
	IsTwitRoom bool
	CanRead    func(userLevel Level, username string) bool
	CanPost    func(userLevel Level, username string) bool
}

var readActions = map[Action]bool{
	ActionReadMessages:    true,
	ActionReadNewMessages: true,
	ActionScanMessages:    true,
	ActionIgnoreRoom:      true,
}

// IsAllowed reports whether userLevel may perform action in room: the Twit
// room is open to TWIT/AIDE/SYSOP for read and post actions regardless of
// the action's normal minimum level, and otherwise the user's level must
// meet the action's minimum plus any room-scoped read/post predicate.
func IsAllowed(action Action, userLevel Level, username string, room *RoomView) bool {
	req, ok := ActionRequirements[action]
	if !ok {
		return false
	}

	if room != nil && room.IsTwitRoom && (action == ActionReadMessages || action == ActionReadNewMessages || action == ActionEnterMessage) {
		switch userLevel {
		case Twit, Aide, Sysop:
			return true
		default:
			return false
		}
	}

	if userLevel < req.Level {
		return false
	}

	if room != nil {
		if readActions[action] && room.CanRead != nil && !room.CanRead(userLevel, username) {
			return false
		}
		if action == ActionEnterMessage && room.CanPost != nil && !room.CanPost(userLevel, username) {
			return false
		}
	}

	return true
}

// Describe returns the human verb for an action, falling back to the raw
// action name when no requirement is registered.
func Describe(action Action) string {
	if req, ok := ActionRequirements[action]; ok {
		return req.Description
	}
	return string(action)
}
