package bus

// broadcastWireID is how a broadcast target is spelled inside an envelope.
const broadcastWireID = "global"

// Address selects the receivers of an envelope: one node, or every node.
// The zero value is not a valid address.
type Address struct {
	broadcast bool
	id        string
}

// Broadcast addresses every subscribed node, the sender included.
var Broadcast = Address{broadcast: true}

// Unicast addresses the node with the given id.
func Unicast(id string) Address {
	return Address{id: id}
}

// ParseAddress turns a wire target id back into an Address.
func ParseAddress(wire string) Address {
	if wire == broadcastWireID {
		return Broadcast
	}
	return Unicast(wire)
}

func (a Address) IsBroadcast() bool { return a.broadcast }

// ID is the node id of a unicast address and "" for broadcast.
func (a Address) ID() string { return a.id }

// Valid reports whether the address can be sent to.
func (a Address) Valid() bool {
	return a.broadcast || (a.id != "" && a.id != broadcastWireID)
}

// Wire renders the address as an envelope target id.
func (a Address) Wire() string {
	if a.broadcast {
		return broadcastWireID
	}
	return a.id
}

// Topic is the broker topic envelopes for this address are published on.
func (a Address) Topic() string {
	return "service-messages-" + a.Wire()
}

func (a Address) String() string {
	if a.broadcast {
		return "broadcast"
	}
	return "node:" + a.id
}
