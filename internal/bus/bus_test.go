package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"netcluster/internal/future"
	"netcluster/internal/logs"
	"netcluster/internal/metrics"
	"netcluster/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/* ---------------- helpers ---------------- */

const (
	testTimeout = 200 * time.Millisecond
	testWindow  = 100 * time.Millisecond
)

type testNode struct {
	bus     *Bus
	metrics *metrics.Registry
}

func newHub() *transport.MemoryHub {
	return transport.NewMemoryHub(logs.NewLogger(100, logs.DEBUG), metrics.NewRegistry())
}

func newTestNode(t *testing.T, hub *transport.MemoryHub, id string, timeout time.Duration) testNode {
	t.Helper()

	reg := metrics.NewRegistry()
	tr := hub.Connect()
	b, err := New(Options{
		NodeID:          id,
		Transport:       tr,
		Timeout:         timeout,
		BroadcastWindow: testWindow,
		Logger:          logs.NewLogger(100, logs.DEBUG),
		Metrics:         reg,
	})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		_ = b.Close()
		_ = tr.Close()
	})
	return testNode{bus: b, metrics: reg}
}

func echo(id string) func(ping) Payload {
	return func(req ping) Payload {
		return pong{N: req.N, From: id}
	}
}

func get[T any](t *testing.T, f *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.Get(ctx)
}

/* ---------------- construction ---------------- */

func TestNew_Validation(t *testing.T) {
	hub := newHub()

	_, err := New(Options{NodeID: "global", Transport: hub.Connect(), Timeout: time.Second, BroadcastWindow: time.Second})
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = New(Options{NodeID: "a", Timeout: time.Second, BroadcastWindow: time.Second})
	assert.Error(t, err)

	_, err = New(Options{NodeID: "a", Transport: hub.Connect()})
	assert.Error(t, err)

	b, err := New(Options{NodeID: "a", Transport: hub.Connect(), Timeout: time.Second, BroadcastWindow: time.Second})
	require.NoError(t, err)
	assert.Equal(t, Unicast("a"), b.Self())
}

/* ---------------- unicast ---------------- */

func TestSendRequest_ResolvesWithResponse(t *testing.T) {
	hub := newHub()
	server := newTestNode(t, hub, "lobby-1", testTimeout)
	client := newTestNode(t, hub, "proxy-1", testTimeout)

	require.NoError(t, Handle(server.bus, echo("lobby-1")))

	resp, err := get[pong](t, Request[pong](client.bus, Unicast("lobby-1"), ping{N: 7}))
	require.NoError(t, err)
	assert.Equal(t, pong{N: 7, From: "lobby-1"}, resp)

	assert.Equal(t, int64(1), client.metrics.Value(metrics.BusRequestsSentTotal))
	assert.Equal(t, int64(1), client.metrics.Value(metrics.BusResponsesReceivedTotal))
	assert.Equal(t, int64(1), server.metrics.Value(metrics.BusResponsesSentTotal))
}

func TestSendRequest_ConcurrentRequestsResolveIndependently(t *testing.T) {
	hub := newHub()
	server := newTestNode(t, hub, "lobby-1", testTimeout)
	client := newTestNode(t, hub, "proxy-1", testTimeout)
	require.NoError(t, Handle(server.bus, echo("lobby-1")))

	futures := make([]*future.Future[pong], 20)
	for i := range futures {
		futures[i] = Request[pong](client.bus, Unicast("lobby-1"), ping{N: i})
	}
	for i, f := range futures {
		resp, err := get[pong](t, f)
		require.NoError(t, err)
		assert.Equal(t, i, resp.N)
	}
}

func TestSendRequest_ToSelfReachesOwnHandler(t *testing.T) {
	hub := newHub()
	n := newTestNode(t, hub, "lobby-1", testTimeout)
	require.NoError(t, Handle(n.bus, echo("lobby-1")))

	resp, err := get[pong](t, Request[pong](n.bus, Unicast("lobby-1"), ping{N: 3}))
	require.NoError(t, err)
	assert.Equal(t, pong{N: 3, From: "lobby-1"}, resp)

	assert.Equal(t, int64(1), n.metrics.Value(metrics.BusResponsesSentTotal))
	assert.Equal(t, int64(1), n.metrics.Value(metrics.BusResponsesReceivedTotal))
}

func TestSendRequest_ToSelfWithSameResponseType(t *testing.T) {
	hub := newHub()
	n := newTestNode(t, hub, "lobby-1", testTimeout)
	require.NoError(t, Handle(n.bus, func(req ping) Payload { return ping{N: req.N * 2} }))

	resp, err := get[ping](t, Request[ping](n.bus, Unicast("lobby-1"), ping{N: 21}))
	require.NoError(t, err)
	assert.Equal(t, ping{N: 42}, resp)
}

// forward is answered by asking another node and relaying its answer.
type forward struct {
	To string `json:"to"`
	N  int    `json:"n"`
}

func (forward) PayloadType() string { return "netcluster.bus.test.Forward" }

func TestHandler_NestedRequestResolves(t *testing.T) {
	hub := newHub()
	lobby := newTestNode(t, hub, "lobby-1", testTimeout)
	duel := newTestNode(t, hub, "duel-1", testTimeout)
	queue := newTestNode(t, hub, "queue-1", time.Second)

	require.NoError(t, Handle(lobby.bus, echo("lobby-1")))
	require.NoError(t, Handle(duel.bus, func(req forward) Payload {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := Request[pong](duel.bus, Unicast(req.To), ping{N: req.N}).Get(ctx)
		if err != nil {
			return pong{N: -1, From: err.Error()}
		}
		return resp
	}))

	resp, err := get[pong](t, Request[pong](queue.bus, Unicast("duel-1"), forward{To: "lobby-1", N: 7}))
	require.NoError(t, err)
	assert.Equal(t, pong{N: 7, From: "lobby-1"}, resp)
	assert.Zero(t, duel.metrics.Value(metrics.BusRequestTimeoutsTotal))
}

func TestHandler_SlowHandlerDoesNotBlockOthers(t *testing.T) {
	hub := newHub()
	server := newTestNode(t, hub, "lobby-1", testTimeout)
	client := newTestNode(t, hub, "proxy-1", testTimeout)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	require.NoError(t, Handle(server.bus, func(req ping) Payload {
		if req.N == 0 {
			<-release
		}
		return pong{N: req.N}
	}))

	stuck := Request[pong](client.bus, Unicast("lobby-1"), ping{N: 0})
	resp, err := get[pong](t, Request[pong](client.bus, Unicast("lobby-1"), ping{N: 5}))
	require.NoError(t, err)
	assert.Equal(t, 5, resp.N)
	assert.False(t, stuck.IsDone())
}

func TestSendRequest_TimesOutWithoutResponder(t *testing.T) {
	hub := newHub()
	client := newTestNode(t, hub, "proxy-1", 50*time.Millisecond)

	start := time.Now()
	_, err := get[Payload](t, client.bus.SendRequest(Unicast("nobody"), ping{N: 1}, pong{}))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(1), client.metrics.Value(metrics.BusRequestTimeoutsTotal))
}

func TestSendRequest_LateResponseIsIgnored(t *testing.T) {
	hub := newHub()
	server := newTestNode(t, hub, "lobby-1", testTimeout)
	client := newTestNode(t, hub, "proxy-1", 30*time.Millisecond)

	require.NoError(t, Handle(server.bus, func(req ping) Payload {
		time.Sleep(100 * time.Millisecond)
		return pong{N: req.N}
	}))

	_, err := get[pong](t, Request[pong](client.bus, Unicast("lobby-1"), ping{N: 1}))
	assert.ErrorIs(t, err, ErrTimeout)

	assert.Eventually(t, func() bool {
		return client.metrics.Value(metrics.BusEnvelopesIgnoredTotal) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), client.metrics.Value(metrics.BusResponsesReceivedTotal))
}

func TestSendRequest_BroadcastTargetRejected(t *testing.T) {
	hub := newHub()
	client := newTestNode(t, hub, "proxy-1", testTimeout)

	_, err := get[Payload](t, client.bus.SendRequest(Broadcast, ping{}, pong{}))
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = get[Payload](t, client.bus.SendRequest(Unicast(""), ping{}, pong{}))
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestSendRequest_UnregisteredResponseFailsFuture(t *testing.T) {
	hub := newHub()
	server := newTestNode(t, hub, "lobby-1", testTimeout)
	client := newTestNode(t, hub, "proxy-1", testTimeout)

	// The server answers with a type the client never registered.
	require.NoError(t, Handle(server.bus, func(ping) Payload { return &pointerPayload{Name: "x"} }))

	_, err := get[Payload](t, client.bus.SendRequest(Unicast("lobby-1"), ping{}, pong{}))
	assert.ErrorIs(t, err, ErrUnregisteredType)
	assert.Equal(t, int64(1), client.metrics.Value(metrics.BusUnregisteredTotal))
}

func TestRequest_TypeMismatch(t *testing.T) {
	hub := newHub()
	server := newTestNode(t, hub, "lobby-1", testTimeout)
	client := newTestNode(t, hub, "proxy-1", testTimeout)

	require.NoError(t, client.bus.Register(ping{}))
	require.NoError(t, Handle(server.bus, func(req ping) Payload { return req }))

	_, err := get[pong](t, Request[pong](client.bus, Unicast("lobby-1"), ping{N: 3}))
	assert.ErrorIs(t, err, ErrUnexpectedPayload)
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	hub := newHub()
	server := newTestNode(t, hub, "lobby-1", testTimeout)
	client := newTestNode(t, hub, "proxy-1", 80*time.Millisecond)

	require.NoError(t, Handle(server.bus, func(req ping) Payload {
		if req.N < 0 {
			panic("negative ping")
		}
		return pong{N: req.N}
	}))

	_, err := get[pong](t, Request[pong](client.bus, Unicast("lobby-1"), ping{N: -1}))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int64(1), server.metrics.Value(metrics.BusHandlerPanicsTotal))

	resp, err := get[pong](t, Request[pong](client.bus, Unicast("lobby-1"), ping{N: 2}))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.N)
}

func TestClose_FailsPendingRequests(t *testing.T) {
	hub := newHub()
	client := newTestNode(t, hub, "proxy-1", time.Minute)

	f := client.bus.SendRequest(Unicast("nobody"), ping{}, pong{})
	require.NoError(t, client.bus.Close())

	_, err := get[Payload](t, f)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = get[Payload](t, client.bus.SendRequest(Unicast("nobody"), ping{}, pong{}))
	assert.ErrorIs(t, err, ErrClosed)
}

/* ---------------- messages ---------------- */

func TestSendMessage_ReachesOnlyTarget(t *testing.T) {
	hub := newHub()
	a := newTestNode(t, hub, "lobby-1", testTimeout)
	b := newTestNode(t, hub, "lobby-2", testTimeout)
	sender := newTestNode(t, hub, "proxy-1", testTimeout)

	var gotA, gotB atomic.Int32
	require.NoError(t, OnMessage(a.bus, func(ping) { gotA.Add(1) }))
	require.NoError(t, OnMessage(b.bus, func(ping) { gotB.Add(1) }))

	require.NoError(t, sender.bus.SendMessage(Unicast("lobby-1"), ping{N: 1}))

	assert.Eventually(t, func() bool { return gotA.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), gotB.Load())
}

func TestSendGlobalMessage_ReachesEveryNodeIncludingSender(t *testing.T) {
	hub := newHub()
	nodes := []testNode{
		newTestNode(t, hub, "lobby-1", testTimeout),
		newTestNode(t, hub, "lobby-2", testTimeout),
		newTestNode(t, hub, "proxy-1", testTimeout),
	}

	var got atomic.Int32
	for _, n := range nodes {
		require.NoError(t, OnMessage(n.bus, func(ping) { got.Add(1) }))
	}

	require.NoError(t, nodes[2].bus.SendGlobalMessage(ping{N: 1}))
	assert.Eventually(t, func() bool { return got.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestSendMessage_InvalidTarget(t *testing.T) {
	hub := newHub()
	n := newTestNode(t, hub, "lobby-1", testTimeout)
	require.NoError(t, n.bus.Register(ping{}))

	assert.ErrorIs(t, n.bus.SendMessage(Address{}, ping{}), ErrInvalidTarget)
	assert.ErrorIs(t, n.bus.SendMessage(Unicast("x"), impostor{}), ErrTypeConflict, "ping already owns the id")
}

/* ---------------- broadcast requests ---------------- */

func TestSendGlobalRequest_CollectsWithinWindow(t *testing.T) {
	hub := newHub()
	ids := []string{"lobby-1", "lobby-2", "duel-1"}
	for _, id := range ids {
		n := newTestNode(t, hub, id, testTimeout)
		require.NoError(t, Handle(n.bus, echo(id)))
	}
	requester := newTestNode(t, hub, "proxy-1", testTimeout)

	start := time.Now()
	responses, err := get[[]pong](t, GlobalRequest[pong](requester.bus, ping{N: 5}))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), testWindow)

	from := make([]string, 0, len(responses))
	for _, r := range responses {
		assert.Equal(t, 5, r.N)
		from = append(from, r.From)
	}
	assert.ElementsMatch(t, ids, from)
}

func TestSendGlobalRequest_SenderAnswersItself(t *testing.T) {
	hub := newHub()
	requester := newTestNode(t, hub, "lobby-1", testTimeout)
	require.NoError(t, Handle(requester.bus, echo("lobby-1")))

	responses, err := get[[]pong](t, GlobalRequest[pong](requester.bus, ping{N: 1}))
	require.NoError(t, err)
	assert.Equal(t, []pong{{N: 1, From: "lobby-1"}}, responses)
}

func TestSendGlobalRequest_NoRespondersIsEmptySuccess(t *testing.T) {
	hub := newHub()
	requester := newTestNode(t, hub, "proxy-1", testTimeout)

	responses, err := get[[]Payload](t, requester.bus.SendGlobalRequest(ping{}, pong{}))
	require.NoError(t, err)
	assert.Empty(t, responses)
}

func TestSendGlobalRequest_ResponsesAfterWindowAreDropped(t *testing.T) {
	hub := newHub()
	fast := newTestNode(t, hub, "lobby-1", testTimeout)
	slow := newTestNode(t, hub, "lobby-2", testTimeout)
	requester := newTestNode(t, hub, "proxy-1", testTimeout)

	require.NoError(t, Handle(fast.bus, echo("lobby-1")))
	require.NoError(t, Handle(slow.bus, func(req ping) Payload {
		time.Sleep(2 * testWindow)
		return pong{N: req.N, From: "lobby-2"}
	}))

	responses, err := get[[]pong](t, GlobalRequest[pong](requester.bus, ping{N: 1}))
	require.NoError(t, err)
	assert.Equal(t, []pong{{N: 1, From: "lobby-1"}}, responses)

	// The requester's own copy of the broadcast was already ignored; the
	// straggler finds no collector and no handler either.
	baseline := requester.metrics.Value(metrics.BusEnvelopesIgnoredTotal)
	assert.Eventually(t, func() bool {
		return requester.metrics.Value(metrics.BusEnvelopesIgnoredTotal) == baseline+1
	}, time.Second, 10*time.Millisecond)
}

/* ---------------- dispatch ---------------- */

func TestReceive_DropsMalformedAndForeignEnvelopes(t *testing.T) {
	hub := newHub()
	n := newTestNode(t, hub, "lobby-1", testTimeout)

	var got atomic.Int32
	require.NoError(t, OnMessage(n.bus, func(ping) { got.Add(1) }))

	n.bus.receive("service-messages-lobby-1", []byte("garbage"))

	foreign, err := newEnvelope("c1", "proxy-1", Unicast("lobby-2"), ping{})
	require.NoError(t, err)
	n.bus.dispatch(foreign)

	unknown := Envelope{CorrelationID: "c2", SenderID: "proxy-1", TargetID: "lobby-1", PayloadType: "netcluster.bus.test.Unknown", PayloadJSON: "{}"}
	n.bus.dispatch(unknown)

	assert.Equal(t, int32(0), got.Load())
	assert.Equal(t, int64(3), n.metrics.Value(metrics.BusEnvelopesIgnoredTotal))
}
