package lobby

import (
	"sync"
	"time"
)

// Player in the lobby
type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
	IsHost   bool      `json:"is_host"`
}

// Roster tracks joined players. The earliest remaining player is host.
type Roster struct {
	maxPlayers int

	mu      sync.RWMutex
	players map[string]Player
	order   []string // join order
	hostID  string
}

// NewRoster creates a roster holding at most maxPlayers. Zero means no limit.
func NewRoster(maxPlayers int) *Roster {
	return &Roster{
		maxPlayers: maxPlayers,
		players:    make(map[string]Player),
	}
}

// Join adds a player to the roster
func (r *Roster) Join(id, name string) (*Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// If player already joined, just return them
	if p, exists := r.players[id]; exists {
		return &p, nil
	}
	if r.maxPlayers > 0 && len(r.players) >= r.maxPlayers {
		return nil, ErrRosterFull
	}

	// First player is host
	isHost := len(r.players) == 0
	if isHost {
		r.hostID = id
	}

	player := Player{
		ID:       id,
		Name:     name,
		JoinedAt: time.Now(),
		IsHost:   isHost,
	}
	r.players[id] = player
	r.order = append(r.order, id)

	return &player, nil
}

// Leave removes a player and hands host to the longest-joined remaining
// player when the host leaves.
func (r *Roster) Leave(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[id]; !exists {
		return ErrNotJoined
	}
	delete(r.players, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if id == r.hostID {
		r.hostID = ""
		if len(r.order) > 0 {
			next := r.players[r.order[0]]
			next.IsHost = true
			r.players[next.ID] = next
			r.hostID = next.ID
		}
	}
	return nil
}

// Get returns a copy of the player with the given ID.
func (r *Roster) Get(id string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	return p, ok
}

// Host returns the current host ID, or "" when the roster is empty.
func (r *Roster) Host() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostID
}

// Count returns the number of players
func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// IDs returns player IDs in join order
func (r *Roster) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Players returns every player in join order (for the admin endpoint)
func (r *Roster) Players() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	players := make([]Player, 0, len(r.order))
	for _, id := range r.order {
		players = append(players, r.players[id])
	}
	return players
}
