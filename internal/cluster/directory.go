package cluster

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

// Directory is the Local Player Directory: where every player announced by
// some heartbeat currently is. Only heartbeat processing mutates it.
type Directory struct {
	mu      sync.RWMutex
	players map[uuid.UUID]PlayerLocation
}

func NewDirectory() *Directory {
	return &Directory{players: make(map[uuid.UUID]PlayerLocation)}
}

// Reconcile applies one heartbeat from serverID. Every listed player is
// upserted, then every entry still claiming serverID but absent from the
// list is dropped.
func (d *Directory) Reconcile(serverID string, players []Player) (removed int) {
	listed := mapset.NewThreadUnsafeSet[uuid.UUID]()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range players {
		current := p.CurrentServer
		if current == "" {
			current = serverID
		}
		d.players[p.UUID] = PlayerLocation{
			UUID:          p.UUID,
			Username:      p.Username,
			CurrentServer: current,
		}
		listed.Add(p.UUID)
	}

	owned := mapset.NewThreadUnsafeSet[uuid.UUID]()
	for id, loc := range d.players {
		if loc.CurrentServer == serverID {
			owned.Add(id)
		}
	}

	stale := owned.Difference(listed)
	stale.Each(func(id uuid.UUID) bool {
		delete(d.players, id)
		return false
	})
	return stale.Cardinality()
}

// DropServer removes every entry located on serverID.
func (d *Directory) DropServer(serverID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for id, loc := range d.players {
		if loc.CurrentServer == serverID {
			delete(d.players, id)
			n++
		}
	}
	return n
}

func (d *Directory) Get(id uuid.UUID) (PlayerLocation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	loc, ok := d.players[id]
	return loc, ok
}

// Snapshot returns a copy of the directory.
func (d *Directory) Snapshot() map[uuid.UUID]PlayerLocation {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[uuid.UUID]PlayerLocation, len(d.players))
	for id, loc := range d.players {
		out[id] = loc
	}
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.players)
}
