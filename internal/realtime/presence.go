package realtime

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// HubConfig describes optional hub collaborators.
type HubConfig struct {
	Logger   *zap.Logger
	Observer Observer
}

// Hub tracks which users are live in which space on top of a Registry.
// A user is online in a space while at least one client is bound to them;
// the typing set of a space is always a subset of its online users.
// Clients leave only through Disconnect or eviction so their bindings are
// always released.
type Hub struct {
	registry *Registry

	mu     sync.Mutex
	spaces map[uint]*spacePresence
}

type spacePresence struct {
	refs   map[string]int
	typing map[string]struct{}
}

func newSpacePresence() *spacePresence {
	return &spacePresence{
		refs:   make(map[string]int),
		typing: make(map[string]struct{}),
	}
}

func (p *spacePresence) empty() bool {
	return len(p.refs) == 0 && len(p.typing) == 0
}

// NewHub constructs a presence hub with its own registry.
func NewHub(cfg HubConfig) *Hub {
	hub := &Hub{spaces: make(map[uint]*spacePresence)}
	hub.registry = NewRegistry(RegistryConfig{
		Logger:   cfg.Logger,
		Observer: cfg.Observer,
		OnEvict:  hub.evicted,
	})
	return hub
}

// Accept adds the client to the space without binding a user.
func (h *Hub) Accept(spaceID uint, client *Client) {
	h.registry.Accept(spaceID, client)
}

// Members returns the number of live clients in the space.
func (h *Hub) Members(spaceID uint) int {
	return h.registry.Members(spaceID)
}

// Broadcast delivers message to every client of the space. See Registry.Broadcast.
func (h *Hub) Broadcast(spaceID uint, message interface{}) int {
	return h.registry.Broadcast(spaceID, message)
}

// evicted releases the binding of a client dropped after a failed write and
// announces the typing stop and presence change to the rest of the space.
func (h *Hub) evicted(spaceID uint, client *Client) {
	released := h.detach(spaceID, client)
	if released == "" {
		return
	}
	h.BroadcastTyping(spaceID, released, false)
	h.BroadcastPresence(spaceID)
}

// RegisterUser binds the client to userID. Rebinding to the same user is a
// no-op; rebinding to another user releases the previous binding first.
func (h *Hub) RegisterUser(spaceID uint, client *Client, userID string) {
	if client == nil || userID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rebindLocked(spaceID, client, userID, false)
}

// SetTyping adds or removes userID from the space's typing set. Users
// without a live binding cannot start typing.
func (h *Hub) SetTyping(spaceID uint, userID string, typing bool) {
	if userID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	state := h.spaces[spaceID]
	if !typing {
		if state != nil {
			delete(state.typing, userID)
			h.pruneLocked(spaceID, state)
		}
		return
	}
	if state == nil || state.refs[userID] <= 0 {
		return
	}
	state.typing[userID] = struct{}{}
}

// OnlineUsers returns the sorted identifiers of users with a live binding.
func (h *Hub) OnlineUsers(spaceID uint) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := h.spaces[spaceID]
	if state == nil {
		return []string{}
	}
	users := make([]string, 0, len(state.refs))
	for userID, count := range state.refs {
		if count > 0 {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users
}

// IsOnline reports whether userID has at least one live binding in the space.
func (h *Hub) IsOnline(spaceID uint, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := h.spaces[spaceID]
	return state != nil && state.refs[userID] > 0
}

// TypingUsers returns the sorted identifiers of users currently composing.
func (h *Hub) TypingUsers(spaceID uint) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := h.spaces[spaceID]
	if state == nil {
		return []string{}
	}
	users := make([]string, 0, len(state.typing))
	for userID := range state.typing {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Disconnect removes the client from the registry and releases its binding.
// The bound user's typing flag is cleared even when other clients of that
// user remain. It returns the released user id, or "" when none was bound.
func (h *Hub) Disconnect(spaceID uint, client *Client) string {
	if client == nil {
		return ""
	}
	h.registry.Remove(spaceID, client)
	return h.detach(spaceID, client)
}

// BroadcastPresence sends the current online snapshot to the space.
func (h *Hub) BroadcastPresence(spaceID uint) {
	online := h.OnlineUsers(spaceID)
	h.Broadcast(spaceID, PresenceEvent{
		Event:         EventPresence,
		OnlineUserIDs: online,
		OnlineCount:   len(online),
	})
}

// BroadcastTyping sends a typing notice for userID to the space.
func (h *Hub) BroadcastTyping(spaceID uint, userID string, typing bool) {
	h.Broadcast(spaceID, NewTypingEvent(userID, typing))
}

func (h *Hub) detach(spaceID uint, client *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rebindLocked(spaceID, client, "", true)
}

// rebindLocked is the single transition for client identity: it moves the
// client from its current user to next ("" unbinds) and keeps reference
// counts non-negative and typing a subset of online. Callers hold h.mu.
func (h *Hub) rebindLocked(spaceID uint, client *Client, next string, clearTyping bool) string {
	previous := client.userID
	if previous == next {
		return previous
	}
	state := h.spaces[spaceID]
	if state == nil {
		state = newSpacePresence()
		h.spaces[spaceID] = state
	}
	if previous != "" {
		if count := state.refs[previous]; count > 1 {
			state.refs[previous] = count - 1
		} else {
			delete(state.refs, previous)
			delete(state.typing, previous)
		}
		if clearTyping {
			delete(state.typing, previous)
		}
	}
	client.userID = next
	if next != "" {
		state.refs[next]++
	}
	h.pruneLocked(spaceID, state)
	return previous
}

func (h *Hub) pruneLocked(spaceID uint, state *spacePresence) {
	if state.empty() {
		delete(h.spaces, spaceID)
	}
}
