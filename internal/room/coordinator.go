package room

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codesync/codesync/internal/workspace"
)

// Position is a zero-based cursor location.
type Position struct {
	Row int `json:"row"`
	Col int `json:"column"`
}

// Range is a text selection; nil means no active selection.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Session is one live connection's presence state within a room.
type Session struct {
	ID        string
	Name      string
	Color     string
	Cursor    Position
	Selection *Range
}

// Subscriber receives broadcast payloads. Send must not block; it reports
// false when the subscriber can no longer accept messages.
type Subscriber interface {
	ID() string
	Send(data []byte) bool
}

// room holds one room's sessions and subscribers. Its mutex linearizes all
// mutations and the fan-out they produce, so peers observe presence events
// in mutation order. pruned marks a registry entry that has been deleted
// from the coordinator's map; joiners must not land in it.
type room struct {
	mu       sync.Mutex
	id       string
	sessions map[string]*Session
	subs     map[string]Subscriber
	pruned   bool
}

// Coordinator owns all live rooms. The registry lock only guards the room
// map and the connection index; per-room work runs under that room's own
// lock so unrelated rooms never serialize against each other.
type Coordinator struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	connRoom map[string]string

	store  *workspace.Store
	logger *zap.Logger
}

func NewCoordinator(store *workspace.Store, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		rooms:    make(map[string]*room),
		connRoom: make(map[string]string),
		store:    store,
		logger:   logger,
	}
}

func (c *Coordinator) getOrCreate(roomID string) (*room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[roomID]
	if !ok {
		r = &room{
			id:       roomID,
			sessions: make(map[string]*Session),
			subs:     make(map[string]Subscriber),
		}
		c.rooms[roomID] = r
	}
	return r, !ok
}

func (c *Coordinator) get(roomID string) *room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[roomID]
}

// Join registers the connection in the room, initializing the room's
// workspace on first use, and announces the updated presence list to the
// whole room, joiner included.
func (c *Coordinator) Join(roomID string, sub Subscriber, name, color string) error {
	if name == "" {
		name = "Anonymous"
	}
	if color == "" {
		color = deriveColor(name)
	}

	c.mu.Lock()
	c.connRoom[sub.ID()] = roomID
	c.mu.Unlock()

	var r *room
	for {
		reg, created := c.getOrCreate(roomID)
		if created {
			if err := c.store.EnsureRoom(roomID); err != nil {
				c.logger.Warn("room init failed", zap.String("room", roomID), zap.Error(err))
			}
		}
		reg.mu.Lock()
		if reg.pruned {
			// Lost a race with the empty-room prune between the registry
			// lookup and this lock; the entry is gone, take a fresh one.
			reg.mu.Unlock()
			continue
		}
		r = reg
		break
	}

	r.sessions[sub.ID()] = &Session{ID: sub.ID(), Name: name, Color: color}
	r.subs[sub.ID()] = sub

	dead := r.broadcast("user_joined", map[string]any{
		"username": name,
		"users":    r.names(),
		"sid":      sub.ID(),
	}, "")
	dead = append(dead, r.broadcast("status", map[string]any{
		"msg":  name + " joined the room",
		"type": "join",
	}, "")...)
	evicted := r.evict(dead)
	sessions := len(r.sessions)
	r.mu.Unlock()

	c.settle(r, evicted)

	c.logger.Info("session joined",
		zap.String("room", roomID),
		zap.String("sid", sub.ID()),
		zap.String("username", name),
		zap.Int("sessions", sessions))
	return nil
}

// Leave removes the connection from the room. Unknown identities are a
// silent no-op: the connection already disconnected.
func (c *Coordinator) Leave(roomID, id string) {
	r := c.get(roomID)
	if r == nil {
		return
	}
	c.remove(r, id)
}

// Disconnect removes the identity from whichever room it was registered in.
func (c *Coordinator) Disconnect(id string) {
	c.mu.RLock()
	roomID, ok := c.connRoom[id]
	c.mu.RUnlock()
	if !ok {
		return
	}
	r := c.get(roomID)
	if r == nil {
		// The session was already evicted or the room pruned; only the
		// index entry is left to clear.
		c.mu.Lock()
		delete(c.connRoom, id)
		c.mu.Unlock()
		return
	}
	c.remove(r, id)
}

func (c *Coordinator) remove(r *room, id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	var evicted []string
	if ok {
		delete(r.sessions, id)
		delete(r.subs, id)
		dead := r.broadcast("user_left", map[string]any{
			"username": sess.Name,
			"users":    r.names(),
			"sid":      id,
		}, "")
		dead = append(dead, r.broadcast("status", map[string]any{
			"msg":  sess.Name + " left the room",
			"type": "leave",
		}, "")...)
		evicted = r.evict(dead)
	}
	r.mu.Unlock()

	// The index entry is cleared even when the session was already gone;
	// an earlier eviction must not leave the identity registered forever.
	c.settle(r, append(evicted, id))

	if ok {
		c.logger.Info("session left",
			zap.String("room", r.id),
			zap.String("sid", id),
			zap.String("username", sess.Name))
	}
}

// settle clears evicted identities from the connection index and prunes the
// room's registry entry if it emptied. Must be called without r.mu held;
// the registry lock is always taken before a room lock.
func (c *Coordinator) settle(r *room, evicted []string) {
	r.mu.Lock()
	empty := len(r.sessions) == 0
	r.mu.Unlock()

	if len(evicted) == 0 && !empty {
		return
	}

	c.mu.Lock()
	for _, id := range evicted {
		delete(c.connRoom, id)
	}
	if empty {
		// Prune the registry entry; the room's files stay on disk.
		if cur, exists := c.rooms[r.id]; exists && cur == r {
			cur.mu.Lock()
			if len(cur.sessions) == 0 {
				cur.pruned = true
				delete(c.rooms, r.id)
			}
			cur.mu.Unlock()
		}
	}
	c.mu.Unlock()
}

// UpdateCursor records the new position and relays it to the sender's peers.
// Unknown identities are tolerated silently; a concurrent leave may have
// removed the session between the client's send and this call.
func (c *Coordinator) UpdateCursor(roomID, id string, pos Position) {
	r := c.get(roomID)
	if r == nil {
		return
	}

	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	sess.Cursor = pos

	evicted := r.evict(r.broadcast("remote_cursor", map[string]any{
		"sid":      id,
		"username": sess.Name,
		"cursor":   pos,
		"color":    sess.Color,
	}, id))
	r.mu.Unlock()

	c.settle(r, evicted)
}

// UpdateSelection mirrors UpdateCursor's tolerance policy.
func (c *Coordinator) UpdateSelection(roomID, id string, sel *Range) {
	r := c.get(roomID)
	if r == nil {
		return
	}

	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	sess.Selection = sel

	evicted := r.evict(r.broadcast("remote_selection", map[string]any{
		"sid":       id,
		"username":  sess.Name,
		"selection": sel,
	}, id))
	r.mu.Unlock()

	c.settle(r, evicted)
}

// RelayCode pushes an edited file's content to everyone except the editor.
func (c *Coordinator) RelayCode(roomID, id, file, content string) {
	r := c.get(roomID)
	if r == nil {
		return
	}

	r.mu.Lock()
	name := "Unknown"
	if sess, ok := r.sessions[id]; ok {
		name = sess.Name
	}
	evicted := r.evict(r.broadcast("update_code", map[string]any{
		"file":    file,
		"content": content,
		"user":    name,
	}, id))
	r.mu.Unlock()

	c.settle(r, evicted)
}

// Chat relays a message to the whole room with the sender's name attached.
func (c *Coordinator) Chat(roomID, id, text string) {
	r := c.get(roomID)
	if r == nil {
		return
	}

	r.mu.Lock()
	name := "Unknown"
	if sess, ok := r.sessions[id]; ok {
		name = sess.Name
	}
	evicted := r.evict(r.broadcast("chat_message", map[string]any{
		"username":  name,
		"message":   text,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, ""))
	r.mu.Unlock()

	c.settle(r, evicted)
}

// TerminalBroadcast sends a terminal result to the whole room.
func (c *Coordinator) TerminalBroadcast(roomID string, command, output string) {
	r := c.get(roomID)
	if r == nil {
		return
	}

	r.mu.Lock()
	evicted := r.evict(r.broadcast("terminal_output", map[string]any{
		"command": command,
		"output":  output,
	}, ""))
	r.mu.Unlock()

	c.settle(r, evicted)
}

// Users returns the display names currently present in a room.
func (c *Coordinator) Users(roomID string) []string {
	r := c.get(roomID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names()
}

// RoomCount reports the number of rooms with live sessions.
func (c *Coordinator) RoomCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}

// SessionCount reports live connections across all rooms.
func (c *Coordinator) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.connRoom)
}

// ActiveRooms maps room id to live session count.
func (c *Coordinator) ActiveRooms() map[string]int {
	c.mu.RLock()
	rooms := make([]*room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.RUnlock()

	out := make(map[string]int, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		out[r.id] = len(r.sessions)
		r.mu.Unlock()
	}
	return out
}

// names must be called with r.mu held.
func (r *room) names() []string {
	names := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		names = append(names, s.Name)
	}
	return names
}

// broadcast must be called with r.mu held so fan-out order matches
// mutation order. except skips one subscriber (the sender); empty string
// delivers to everyone. Subscribers that cannot accept are dropped from
// the fan-out set and returned; the caller routes them through evict so
// their departure is announced like any other leave.
func (r *room) broadcast(event string, data map[string]any, except string) []string {
	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		return nil
	}
	var dropped []string
	for id, sub := range r.subs {
		if id == except {
			continue
		}
		if !sub.Send(payload) {
			delete(r.subs, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// evict must be called with r.mu held. It removes the named sessions and
// announces each departure to the remaining peers; those announcements can
// surface more dead subscribers, which are evicted in turn. Returns every
// identity removed.
func (r *room) evict(ids []string) []string {
	var all []string
	for len(ids) > 0 {
		var next []string
		for _, id := range ids {
			sess, ok := r.sessions[id]
			if !ok {
				continue
			}
			delete(r.sessions, id)
			all = append(all, id)
			next = append(next, r.broadcast("user_left", map[string]any{
				"username": sess.Name,
				"users":    r.names(),
				"sid":      id,
			}, "")...)
			next = append(next, r.broadcast("status", map[string]any{
				"msg":  sess.Name + " left the room",
				"type": "leave",
			}, "")...)
		}
		ids = next
	}
	return all
}

// deriveColor builds a stable hex color from the display name, mirroring
// the client-side fallback.
func deriveColor(name string) string {
	sum := sha1.Sum([]byte(name))
	return fmt.Sprintf("#%02x%02x%02x", sum[0], sum[1], sum[2])
}
