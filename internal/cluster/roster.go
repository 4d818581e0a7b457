package cluster

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Roster supplies the players currently on this process. Game logic owns it.
type Roster interface {
	OnlinePlayers() []Player
}

// StaticRoster is an in-memory Roster.
type StaticRoster struct {
	mu      sync.RWMutex
	players map[uuid.UUID]Player
}

func NewStaticRoster(players ...Player) *StaticRoster {
	r := &StaticRoster{players: make(map[uuid.UUID]Player, len(players))}
	for _, p := range players {
		r.players[p.UUID] = p
	}
	return r
}

// Add inserts or replaces a player.
func (r *StaticRoster) Add(p Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p.UUID] = p
}

func (r *StaticRoster) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, id)
}

// OnlinePlayers returns the players ordered by username.
func (r *StaticRoster) OnlinePlayers() []Player {
	r.mu.RLock()
	out := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func findPlayer(r Roster, id uuid.UUID) (Player, bool) {
	for _, p := range r.OnlinePlayers() {
		if p.UUID == id {
			return p, true
		}
	}
	return Player{}, false
}
