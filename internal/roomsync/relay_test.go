package roomsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtualroom-backend/internal/model"
)

func TestBusRelay_BridgesProcesses(t *testing.T) {
	srv := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewClient(srv.baseURL, "")
	host.SetHostToken(srv.hostToken)
	code, err := host.CreateRoom(ctx, "relay", "Dr. Kim", false)
	require.NoError(t, err)

	busA, busB := NewBus(), NewBus()
	room := NewClient(srv.baseURL, code)
	room.SetHostToken(srv.hostToken)
	url := room.BusURL()
	assert.Contains(t, url, "ws://")

	subA, unsubA := busA.Subscribe()
	defer unsubA()
	subB, unsubB := busB.Subscribe()
	defer unsubB()

	go func() { _ = NewBusRelay(busA, url, room.AuthHeader).Run(ctx) }()
	go func() { _ = NewBusRelay(busB, url, room.AuthHeader).Run(ctx) }()

	msg, err := NewBusMessage(MsgDrawStart, "peer-a", map[string]any{"x": 1, "y": 2, "color": "#000", keySeq: 1})
	require.NoError(t, err)
	msg.Role = model.RoleGuest

	require.Eventually(t, func() bool {
		busA.Publish(msg)
		select {
		case got := <-subB:
			return got.Type == MsgDrawStart && got.From == "peer-a" && got.remote &&
				got.Role == model.RoleHost
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, waitFor, 50*time.Millisecond)

	t.Run("relayed messages are not sent back", func(t *testing.T) {
		time.Sleep(100 * time.Millisecond)
		for {
			select {
			case got := <-subA:
				assert.False(t, got.remote)
			default:
				return
			}
		}
	})
}

func TestBusRelay_RequiresMembership(t *testing.T) {
	srv := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := NewClient(srv.baseURL, "")
	host.SetHostToken(srv.hostToken)
	code, err := host.CreateRoom(ctx, "relay", "Dr. Kim", false)
	require.NoError(t, err)

	anonymous := NewClient(srv.baseURL, code)
	bus, peer := NewBus(), NewBus()
	sub, unsubscribe := peer.Subscribe()
	defer unsubscribe()

	member := NewClient(srv.baseURL, code)
	member.SetHostToken(srv.hostToken)
	go func() { _ = NewBusRelay(peer, member.BusURL(), member.AuthHeader).Run(ctx) }()
	go func() { _ = NewBusRelay(bus, anonymous.BusURL(), anonymous.AuthHeader).Run(ctx) }()

	msg, err := NewBusMessage(MsgClearBoard, "intruder", nil)
	require.NoError(t, err)
	msg.Role = model.RoleHost

	deadline := time.After(500 * time.Millisecond)
	for {
		bus.Publish(msg)
		select {
		case got := <-sub:
			t.Fatalf("unauthenticated frame was relayed: %+v", got)
		case <-deadline:
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()

	msg, err := NewBusMessage(MsgClearBoard, "a", nil)
	require.NoError(t, err)
	bus.Publish(msg)

	got := <-ch
	assert.Equal(t, MsgClearBoard, got.Type)
	assert.Nil(t, got.Data)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	// publishing with no subscribers never blocks
	bus.Publish(msg)
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	msg, _ := NewBusMessage(MsgDrawMove, "a", nil)
	for i := 0; i < 200; i++ {
		bus.Publish(msg)
	}
	assert.Equal(t, 64, len(ch))
}

func TestFanoutSink(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	var seq sequencer
	payload := stamp(map[string]any{"x": 1}, "me", &seq)
	sink := FanoutSink{NewBusSink(bus, model.RoleHost), NewDurableSink(api, "me")}

	require.NoError(t, sink.Publish(ctx, Outbound{
		Stream:    "events",
		EventType: "whiteboard_start",
		Payload:   payload,
		Bus:       busMirror(MsgDrawStart, "me", payload),
	}))

	first := <-ch
	assert.Equal(t, MsgDrawStart, first.Type)
	assert.Equal(t, model.RoleHost, first.Role)
	require.Len(t, api.events, 1)
	assert.Equal(t, ClientIdentity("me"), api.events[0].Origin())
	assert.Equal(t, int64(1), api.events[0].seq())

	t.Run("durable failure is reported after the bus copy went out", func(t *testing.T) {
		api.appendErr = errOffline
		err := sink.Publish(ctx, Outbound{Stream: "messages", Text: "hi", Bus: busMirror(MsgClearBoard, "me", nil)})
		assert.ErrorIs(t, err, errOffline)
		assert.Equal(t, MsgClearBoard, (<-ch).Type)
	})

	t.Run("unknown stream", func(t *testing.T) {
		api.appendErr = nil
		assert.Error(t, NewDurableSink(api, "me").Publish(ctx, Outbound{Stream: "nope"}))
	})
}

func TestSeenSet(t *testing.T) {
	s := newSeenSet(2)
	assert.True(t, s.add("a", 1))
	assert.False(t, s.add("a", 1))
	assert.True(t, s.add("a", 2))
	assert.True(t, s.add("a", 3))
	assert.True(t, s.add("a", 1), "oldest entry was evicted")

	assert.True(t, s.add("", 5))
	assert.True(t, s.add("", 5), "unstamped records are never deduplicated")
}
