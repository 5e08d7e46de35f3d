package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codesync/codesync/internal/ratelimit"
	"github.com/codesync/codesync/internal/room"
	"github.com/codesync/codesync/internal/runner"
	"github.com/codesync/codesync/internal/workspace"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server upgrades connections and routes their events to the coordinator,
// the workspace store and the execution pipeline.
type Server struct {
	coord    *room.Coordinator
	store    *workspace.Store
	runner   *runner.Runner
	terminal *runner.Terminal
	logger   *zap.Logger
}

func NewServer(coord *room.Coordinator, store *workspace.Store, run *runner.Runner, term *runner.Terminal, logger *zap.Logger) *Server {
	return &Server{
		coord:    coord,
		store:    store,
		runner:   run,
		terminal: term,
		logger:   logger,
	}
}

// Client is one live websocket connection.
type Client struct {
	srv         *Server
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	id          string
	rateLimiter *ratelimit.Limiter
}

// ID implements room.Subscriber.
func (c *Client) ID() string { return c.id }

// Send implements room.Subscriber. It never blocks; a full buffer or a
// finished connection reports false so the coordinator can drop the client.
func (c *Client) Send(data []byte) bool {
	if data == nil {
		return true
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		srv:         s,
		conn:        conn,
		send:        make(chan []byte, 512),
		done:        make(chan struct{}),
		id:          uuid.NewString(),
		rateLimiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		// A teardown removes the identity from whichever room it was in;
		// in-flight runs keep going and their results are dropped.
		c.srv.coord.Disconnect(c.id)
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.srv.logger.Debug("websocket closed", zap.String("sid", c.id), zap.Error(err))
			}
			break
		}

		if !c.rateLimiter.Allow() {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.sendError("invalid message")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.Event {
	case EventJoin:
		var p joinPayload
		if json.Unmarshal(env.Data, &p) != nil || p.Room == "" {
			c.sendError("join requires a room")
			return
		}
		c.srv.coord.Join(p.Room, c, p.Username, p.Color)

	case EventLeave:
		var p leavePayload
		if json.Unmarshal(env.Data, &p) == nil && p.Room != "" {
			c.srv.coord.Leave(p.Room, c.id)
		}

	case EventCodeChange:
		var p codeChangePayload
		if json.Unmarshal(env.Data, &p) != nil || p.Room == "" {
			return
		}
		// auto_save defaults on, matching the editor's behavior.
		if p.AutoSave == nil || *p.AutoSave {
			if err := c.srv.store.Write(p.Room, p.File, p.Content); err != nil {
				c.sendError(saveErrorMessage(err))
				return
			}
		}
		c.srv.coord.RelayCode(p.Room, c.id, p.File, p.Content)

	case EventCursorMove:
		var p cursorMovePayload
		if json.Unmarshal(env.Data, &p) == nil && p.Room != "" {
			c.srv.coord.UpdateCursor(p.Room, c.id, p.Cursor)
		}

	case EventSelectionChange:
		var p selectionChangePayload
		if json.Unmarshal(env.Data, &p) == nil && p.Room != "" {
			c.srv.coord.UpdateSelection(p.Room, c.id, p.Selection)
		}

	case EventChatMessage:
		var p chatPayload
		if json.Unmarshal(env.Data, &p) == nil && p.Room != "" {
			c.srv.coord.Chat(p.Room, c.id, p.Message)
		}

	case EventTerminalInput:
		var p terminalPayload
		if json.Unmarshal(env.Data, &p) != nil || p.Room == "" {
			return
		}
		// Off the read loop; a slow command must not stall presence events.
		go func() {
			dir, err := c.srv.store.RoomDir(p.Room)
			var output string
			if err != nil {
				output = "Error: room not found"
			} else {
				output = c.srv.terminal.Exec(context.Background(), dir, p.Command)
			}
			c.srv.coord.TerminalBroadcast(p.Room, p.Command, output)
		}()

	case EventRunCode:
		var req runner.Request
		if json.Unmarshal(env.Data, &req) != nil {
			c.sendError("invalid run request")
			return
		}
		go func() {
			result := c.srv.runner.Run(context.Background(), req)
			c.Send(Marshal(EventRunResult, result))
		}()

	default:
		c.sendError("unknown event: " + env.Event)
	}
}

func (c *Client) sendError(msg string) {
	c.Send(Marshal(EventError, map[string]string{"message": msg}))
}

func saveErrorMessage(err error) string {
	switch {
	case err == workspace.ErrTooLarge:
		return "file too large"
	case err == workspace.ErrDenied:
		return "path not allowed"
	default:
		return "save failed"
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
