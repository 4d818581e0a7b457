package cluster

import (
	"fmt"
	"strings"
	"time"

	"netcluster/internal/config"

	"github.com/google/uuid"
)

// ServiceType is the role a process plays in the network.
type ServiceType string

const (
	Lobby ServiceType = "lobby"
	Duel  ServiceType = "duel"
	Limbo ServiceType = "limbo"
	Proxy ServiceType = "proxy"
	Queue ServiceType = "queue"
)

// ParseServiceType accepts any casing of a known type name.
func ParseServiceType(s string) (ServiceType, error) {
	t := ServiceType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown service type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the roles config accepts.
func (t ServiceType) Valid() bool {
	return config.KnownServiceType(string(t))
}

func (t ServiceType) String() string { return string(t) }

// Player is an online player as reported by the server holding them.
type Player struct {
	UUID          uuid.UUID `json:"uuid"`
	Username      string    `json:"username"`
	CurrentServer string    `json:"currentServer"`
}

// ServiceDescriptor is a peer's last announced state. It is replaced
// wholesale by every heartbeat from that peer.
type ServiceDescriptor struct {
	ID            string      `json:"id"`
	Address       string      `json:"address"`
	Type          ServiceType `json:"serviceType"`
	OnlinePlayers []Player    `json:"onlinePlayers"`
	LastSeenAt    time.Time   `json:"lastSeenAt"`
}

// PlayerCount is the load measure used for least-loaded selection.
func (d ServiceDescriptor) PlayerCount() int { return len(d.OnlinePlayers) }

func (d ServiceDescriptor) clone() ServiceDescriptor {
	out := d
	out.OnlinePlayers = append([]Player(nil), d.OnlinePlayers...)
	return out
}

// PlayerLocation is a Local Player Directory entry.
type PlayerLocation struct {
	UUID          uuid.UUID `json:"uuid"`
	Username      string    `json:"username"`
	CurrentServer string    `json:"currentServer"`
}

// HeartbeatTopic carries every node's liveness announcements.
const HeartbeatTopic = "service:heartbeat"

// Heartbeat is the announcement each node publishes on HeartbeatTopic.
type Heartbeat struct {
	Timestamp     int64       `json:"timestamp"` // unix millis
	ServiceType   ServiceType `json:"serviceType"`
	ID            string      `json:"id"`
	PlayerCount   int         `json:"playerCount"`
	OnlinePlayers []Player    `json:"onlinePlayers"`
	ServerIP      string      `json:"serverIp"`
}

func (hb Heartbeat) validate() error {
	if hb.ID == "" {
		return fmt.Errorf("heartbeat without id")
	}
	if !hb.ServiceType.Valid() {
		return fmt.Errorf("heartbeat from %s: unknown service type %q", hb.ID, hb.ServiceType)
	}
	if hb.Timestamp <= 0 {
		return fmt.Errorf("heartbeat from %s: missing timestamp", hb.ID)
	}
	return nil
}

// Locate protocol payloads.

// WhereIsRequest asks every backend server whether it holds a player.
type WhereIsRequest struct {
	UUID uuid.UUID `json:"uuid"`
}

func (WhereIsRequest) PayloadType() string { return "netcluster.cluster.v1.WhereIsRequest" }

// WhereIsProxyRequest asks every proxy whether a player is connected through it.
type WhereIsProxyRequest struct {
	UUID uuid.UUID `json:"uuid"`
}

func (WhereIsProxyRequest) PayloadType() string { return "netcluster.cluster.v1.WhereIsProxyRequest" }

// PlayerLocationResponse answers both locate requests.
type PlayerLocationResponse struct {
	UUID     uuid.UUID `json:"uuid"`
	ServerID string    `json:"serverId"`
}

func (PlayerLocationResponse) PayloadType() string {
	return "netcluster.cluster.v1.PlayerLocationResponse"
}
