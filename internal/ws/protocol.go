package ws

import (
	"encoding/json"

	"github.com/codesync/codesync/internal/room"
)

// Client-originated events.
const (
	EventJoin            = "join"
	EventLeave           = "leave"
	EventCodeChange      = "code_change"
	EventCursorMove      = "cursor_move"
	EventSelectionChange = "selection_change"
	EventChatMessage     = "chat_message"
	EventTerminalInput   = "terminal_input"
	EventRunCode         = "run_code"
)

// Server-originated events.
const (
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventStatus          = "status"
	EventUpdateCode      = "update_code"
	EventRemoteCursor    = "remote_cursor"
	EventRemoteSelection = "remote_selection"
	EventTerminalOutput  = "terminal_output"
	EventRunResult       = "run_result"
	EventError           = "error"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

type leavePayload struct {
	Room string `json:"room"`
}

type codeChangePayload struct {
	Room     string `json:"room"`
	File     string `json:"file"`
	Content  string `json:"content"`
	AutoSave *bool  `json:"auto_save"`
}

type cursorMovePayload struct {
	Room   string        `json:"room"`
	Cursor room.Position `json:"cursor"`
}

type selectionChangePayload struct {
	Room      string      `json:"room"`
	Selection *room.Range `json:"selection"`
}

type chatPayload struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

type terminalPayload struct {
	Room    string `json:"room"`
	Command string `json:"command"`
}

// Marshal frames an outbound event; marshal failures cannot happen for the
// payload types used here, so the error is swallowed at call sites.
func Marshal(event string, data any) []byte {
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		return nil
	}
	return raw
}
