package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// Observer receives registry lifecycle callbacks, typically for metrics.
type Observer interface {
	ClientAccepted()
	ClientRemoved(evicted bool)
	Broadcasted(delivered, failed int)
}

type noopObserver struct{}

func (noopObserver) ClientAccepted() {}

func (noopObserver) ClientRemoved(bool) {}

func (noopObserver) Broadcasted(int, int) {}

// RegistryConfig describes optional registry collaborators.
type RegistryConfig struct {
	Logger   *zap.Logger
	Observer Observer
	// OnEvict runs for each client dropped because a broadcast write failed,
	// once the broadcast that dropped it has reached every other member.
	OnEvict func(spaceID uint, client *Client)
}

// Registry owns, per space, the set of live clients and fans messages out to them.
type Registry struct {
	mu       sync.RWMutex
	members  map[uint]map[*Client]struct{}
	logger   *zap.Logger
	observer Observer
	onEvict  func(spaceID uint, client *Client)
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &Registry{
		members:  make(map[uint]map[*Client]struct{}),
		logger:   logger,
		observer: observer,
		onEvict:  cfg.OnEvict,
	}
}

// Accept adds the client to the space's member set.
func (r *Registry) Accept(spaceID uint, client *Client) {
	if client == nil {
		return
	}
	r.mu.Lock()
	if _, ok := r.members[spaceID]; !ok {
		r.members[spaceID] = make(map[*Client]struct{})
	}
	_, existed := r.members[spaceID][client]
	r.members[spaceID][client] = struct{}{}
	r.mu.Unlock()
	if !existed {
		r.observer.ClientAccepted()
	}
}

// Remove drops the client from the space. It is safe to call repeatedly and
// reports whether the client was still a member.
func (r *Registry) Remove(spaceID uint, client *Client) bool {
	removed := r.removeMember(spaceID, client)
	if removed {
		r.observer.ClientRemoved(false)
	}
	return removed
}

// Members returns the number of live clients in the space.
func (r *Registry) Members(spaceID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[spaceID])
}

// Broadcast delivers message to a snapshot of the space's members. Clients
// whose write fails are closed and removed; delivery to the rest continues.
// It returns the number of successful deliveries.
func (r *Registry) Broadcast(spaceID uint, message interface{}) int {
	r.mu.RLock()
	members := r.members[spaceID]
	if len(members) == 0 {
		r.mu.RUnlock()
		return 0
	}
	snapshot := make([]*Client, 0, len(members))
	for client := range members {
		snapshot = append(snapshot, client)
	}
	r.mu.RUnlock()

	delivered, failed := 0, 0
	var evicted []*Client
	for _, client := range snapshot {
		if err := client.send(message); err != nil {
			failed++
			if r.evict(spaceID, client, err) {
				evicted = append(evicted, client)
			}
			continue
		}
		delivered++
	}
	r.observer.Broadcasted(delivered, failed)

	// Hooks run after the fan-out so their own notices follow this message.
	if r.onEvict != nil {
		for _, client := range evicted {
			r.onEvict(spaceID, client)
		}
	}
	return delivered
}

func (r *Registry) evict(spaceID uint, client *Client, cause error) bool {
	client.close()
	if !r.removeMember(spaceID, client) {
		return false
	}
	r.observer.ClientRemoved(true)
	r.logger.Debug("dropped client after failed write",
		zap.Uint("space_id", spaceID),
		zap.String("client_id", client.ID()),
		zap.Error(cause))
	return true
}

func (r *Registry) removeMember(spaceID uint, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.members[spaceID]
	if members == nil {
		return false
	}
	if _, ok := members[client]; !ok {
		return false
	}
	delete(members, client)
	if len(members) == 0 {
		delete(r.members, spaceID)
	}
	return true
}
