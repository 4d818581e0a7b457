package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddress(t *testing.T) {
	t.Run("unicast", func(t *testing.T) {
		a := Unicast("lobby-1")
		assert.False(t, a.IsBroadcast())
		assert.True(t, a.Valid())
		assert.Equal(t, "lobby-1", a.ID())
		assert.Equal(t, "service-messages-lobby-1", a.Topic())
	})

	t.Run("broadcast", func(t *testing.T) {
		assert.True(t, Broadcast.IsBroadcast())
		assert.True(t, Broadcast.Valid())
		assert.Equal(t, "", Broadcast.ID())
		assert.Equal(t, "global", Broadcast.Wire())
		assert.Equal(t, "service-messages-global", Broadcast.Topic())
	})

	t.Run("a node cannot be named like the broadcast target", func(t *testing.T) {
		assert.False(t, Unicast("global").Valid())
		assert.False(t, Unicast("").Valid())
		assert.False(t, Address{}.Valid())
	})

	t.Run("parse round trip", func(t *testing.T) {
		assert.Equal(t, Broadcast, ParseAddress(Broadcast.Wire()))
		assert.Equal(t, Unicast("duel-7"), ParseAddress("duel-7"))
	})
}
