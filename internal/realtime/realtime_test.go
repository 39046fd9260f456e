package realtime

import (
	"errors"
	"sync"
	"testing"
)

type recordingSocket struct {
	mu       sync.Mutex
	messages []interface{}
	writeErr error
	closed   bool
}

func (s *recordingSocket) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.messages = append(s.messages, v)
	return nil
}

func (s *recordingSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSocket) received() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interface{}(nil), s.messages...)
}

type countingObserver struct {
	accepted int
	removed  int
	evicted  int
	failed   int
}

func (o *countingObserver) ClientAccepted() { o.accepted++ }

func (o *countingObserver) ClientRemoved(evicted bool) {
	o.removed++
	if evicted {
		o.evicted++
	}
}

func (o *countingObserver) Broadcasted(_ int, failed int) { o.failed += failed }

func TestBroadcastSurvivesFailingClient(t *testing.T) {
	observer := &countingObserver{}
	hub := NewHub(HubConfig{Observer: observer})

	healthy := []*recordingSocket{{}, {}, {}}
	broken := &recordingSocket{writeErr: errors.New("broken pipe")}

	for _, socket := range healthy {
		hub.Accept(7, NewClient(socket))
	}
	brokenClient := NewClient(broken)
	hub.Accept(7, brokenClient)

	delivered := hub.Broadcast(7, map[string]string{"content": "hello"})
	if delivered != len(healthy) {
		t.Fatalf("expected %d deliveries, got %d", len(healthy), delivered)
	}
	for index, socket := range healthy {
		if len(socket.received()) != 1 {
			t.Fatalf("healthy client %d did not receive the message", index)
		}
	}
	if hub.Members(7) != len(healthy) {
		t.Fatalf("expected failing client to be removed, members=%d", hub.Members(7))
	}
	if !broken.closed {
		t.Fatalf("expected failing client socket to be closed")
	}
	if observer.evicted != 1 || observer.failed != 1 {
		t.Fatalf("unexpected observer counts: %+v", observer)
	}
}

func TestEvictionAnnouncesTypingStop(t *testing.T) {
	hub := NewHub(HubConfig{})
	aliceSocket := &recordingSocket{}
	bobSocket := &recordingSocket{}
	alice := NewClient(aliceSocket)
	bob := NewClient(bobSocket)
	hub.Accept(3, alice)
	hub.Accept(3, bob)
	hub.RegisterUser(3, alice, "alice")
	hub.RegisterUser(3, bob, "bob")
	hub.SetTyping(3, "alice", true)

	aliceSocket.mu.Lock()
	aliceSocket.writeErr = errors.New("broken pipe")
	aliceSocket.mu.Unlock()
	hub.BroadcastPresence(3)

	if hub.IsOnline(3, "alice") {
		t.Fatalf("expected evicted client binding to be released")
	}
	if typing := hub.TypingUsers(3); len(typing) != 0 {
		t.Fatalf("expected typing cleared on eviction, got %v", typing)
	}

	received := bobSocket.received()
	if len(received) != 3 {
		t.Fatalf("expected presence, typing stop and refreshed presence, got %v", received)
	}
	if stale, ok := received[0].(PresenceEvent); !ok || stale.OnlineCount != 2 {
		t.Fatalf("expected the original presence first, got %+v", received[0])
	}
	if stop, ok := received[1].(TypingEvent); !ok || stop.UserID != "alice" || stop.Typing {
		t.Fatalf("expected a typing stop notice for alice, got %+v", received[1])
	}
	fresh, ok := received[2].(PresenceEvent)
	if !ok || fresh.OnlineCount != 1 || fresh.OnlineUserIDs[0] != "bob" {
		t.Fatalf("expected a presence update without alice, got %+v", received[2])
	}

	if released := hub.Disconnect(3, alice); released != "" {
		t.Fatalf("expected nothing left to release after eviction, got %q", released)
	}
}

func TestEvictionOfUnboundClientIsSilent(t *testing.T) {
	hub := NewHub(HubConfig{})
	peerSocket := &recordingSocket{}
	hub.Accept(4, NewClient(peerSocket))
	hub.Accept(4, NewClient(&recordingSocket{writeErr: errors.New("closed")}))

	hub.Broadcast(4, "ping")

	if received := peerSocket.received(); len(received) != 1 {
		t.Fatalf("expected only the original message, got %v", received)
	}
}

func TestBroadcastIsScopedToSpace(t *testing.T) {
	hub := NewHub(HubConfig{})
	inSpace := &recordingSocket{}
	elsewhere := &recordingSocket{}
	hub.Accept(1, NewClient(inSpace))
	hub.Accept(2, NewClient(elsewhere))

	hub.Broadcast(1, "ping")

	if len(inSpace.received()) != 1 {
		t.Fatalf("expected member of space 1 to receive the message")
	}
	if len(elsewhere.received()) != 0 {
		t.Fatalf("did not expect member of space 2 to receive the message")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	registry := NewRegistry(RegistryConfig{})
	client := NewClient(&recordingSocket{})
	registry.Accept(3, client)

	if !registry.Remove(3, client) {
		t.Fatalf("expected first removal to report membership")
	}
	if registry.Remove(3, client) {
		t.Fatalf("expected second removal to be a no-op")
	}
	if registry.Remove(99, client) {
		t.Fatalf("expected removal from unknown space to be a no-op")
	}
	if registry.Broadcast(3, "ping") != 0 {
		t.Fatalf("expected no deliveries after removal")
	}
}

func TestRegisterUserIsIdempotent(t *testing.T) {
	hub := NewHub(HubConfig{})
	client := NewClient(&recordingSocket{})
	hub.Accept(5, client)

	hub.RegisterUser(5, client, "u1")
	hub.RegisterUser(5, client, "u1")

	if got := hub.spaces[5].refs["u1"]; got != 1 {
		t.Fatalf("expected reference count 1 after rebinding the same user, got %d", got)
	}
	if released := hub.Disconnect(5, client); released != "u1" {
		t.Fatalf("expected u1 to be released, got %q", released)
	}
	if len(hub.OnlineUsers(5)) != 0 {
		t.Fatalf("expected nobody online after single disconnect")
	}
}

func TestMultiConnectionPresence(t *testing.T) {
	hub := NewHub(HubConfig{})
	first := NewClient(&recordingSocket{})
	second := NewClient(&recordingSocket{})
	hub.Accept(5, first)
	hub.Accept(5, second)
	hub.RegisterUser(5, first, "u1")
	hub.RegisterUser(5, second, "u1")

	hub.Disconnect(5, first)
	online := hub.OnlineUsers(5)
	if len(online) != 1 || online[0] != "u1" {
		t.Fatalf("expected u1 to remain online, got %v", online)
	}

	hub.Disconnect(5, second)
	if online := hub.OnlineUsers(5); len(online) != 0 {
		t.Fatalf("expected u1 to go offline, got %v", online)
	}
}

func TestRebindMovesReferenceToNewUser(t *testing.T) {
	hub := NewHub(HubConfig{})
	client := NewClient(&recordingSocket{})
	hub.Accept(9, client)

	hub.RegisterUser(9, client, "alice")
	hub.SetTyping(9, "alice", true)
	hub.RegisterUser(9, client, "bob")

	online := hub.OnlineUsers(9)
	if len(online) != 1 || online[0] != "bob" {
		t.Fatalf("expected only bob online, got %v", online)
	}
	if typing := hub.TypingUsers(9); len(typing) != 0 {
		t.Fatalf("expected alice typing flag to follow her offline, got %v", typing)
	}
}

func TestPresenceNeverGoesNegative(t *testing.T) {
	hub := NewHub(HubConfig{})
	clients := []*Client{
		NewClient(&recordingSocket{}),
		NewClient(&recordingSocket{}),
		NewClient(&recordingSocket{}),
	}
	for _, client := range clients {
		hub.Accept(4, client)
	}

	steps := []func(){
		func() { hub.RegisterUser(4, clients[0], "u1") },
		func() { hub.Disconnect(4, clients[0]) },
		func() { hub.Disconnect(4, clients[0]) },
		func() { hub.RegisterUser(4, clients[1], "u1") },
		func() { hub.RegisterUser(4, clients[1], "u2") },
		func() { hub.RegisterUser(4, clients[2], "u2") },
		func() { hub.Disconnect(4, clients[1]) },
		func() { hub.Disconnect(4, clients[1]) },
		func() { hub.Disconnect(4, clients[2]) },
	}
	for index, step := range steps {
		step()
		hub.mu.Lock()
		if state := hub.spaces[4]; state != nil {
			for userID, count := range state.refs {
				if count <= 0 {
					hub.mu.Unlock()
					t.Fatalf("step %d: user %s has non-positive count %d", index, userID, count)
				}
			}
		}
		hub.mu.Unlock()
	}
	if online := hub.OnlineUsers(4); len(online) != 0 {
		t.Fatalf("expected nobody online at the end, got %v", online)
	}
}

func TestTypingRequiresPresenceAndClearsOnDisconnect(t *testing.T) {
	hub := NewHub(HubConfig{})
	hub.SetTyping(2, "stranger", true)
	if typing := hub.TypingUsers(2); len(typing) != 0 {
		t.Fatalf("expected offline user to be ignored, got %v", typing)
	}
	hub.SetTyping(2, "", true)

	first := NewClient(&recordingSocket{})
	second := NewClient(&recordingSocket{})
	hub.Accept(2, first)
	hub.Accept(2, second)
	hub.RegisterUser(2, first, "u1")
	hub.RegisterUser(2, second, "u1")
	hub.SetTyping(2, "u1", true)

	if released := hub.Disconnect(2, first); released != "u1" {
		t.Fatalf("expected u1 released, got %q", released)
	}
	if typing := hub.TypingUsers(2); len(typing) != 0 {
		t.Fatalf("expected disconnect to clear typing even with another live client, got %v", typing)
	}
	if !hub.IsOnline(2, "u1") {
		t.Fatalf("expected u1 to stay online through the second client")
	}
}

func TestBroadcastPresenceSnapshot(t *testing.T) {
	hub := NewHub(HubConfig{})
	socket := &recordingSocket{}
	client := NewClient(socket)
	hub.Accept(6, client)
	hub.RegisterUser(6, client, "u1")

	hub.BroadcastPresence(6)

	received := socket.received()
	if len(received) != 1 {
		t.Fatalf("expected one presence event, got %d", len(received))
	}
	event, ok := received[0].(PresenceEvent)
	if !ok {
		t.Fatalf("unexpected event type %T", received[0])
	}
	if event.Event != EventPresence || event.OnlineCount != 1 || event.OnlineUserIDs[0] != "u1" {
		t.Fatalf("unexpected presence event %+v", event)
	}
}

func TestConcurrentBroadcastAndDisconnect(t *testing.T) {
	hub := NewHub(HubConfig{})
	clients := make([]*Client, 0, 32)
	for index := 0; index < 32; index++ {
		client := NewClient(&recordingSocket{})
		clients = append(clients, client)
		hub.Accept(8, client)
		hub.RegisterUser(8, client, "user")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for index := 0; index < 50; index++ {
			hub.Broadcast(8, index)
		}
	}()
	go func() {
		defer wg.Done()
		for _, client := range clients {
			hub.Disconnect(8, client)
		}
	}()
	wg.Wait()

	if hub.Members(8) != 0 {
		t.Fatalf("expected all clients removed, got %d", hub.Members(8))
	}
	if len(hub.OnlineUsers(8)) != 0 {
		t.Fatalf("expected nobody online")
	}
}
