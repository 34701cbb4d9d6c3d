package roomsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtualroom-backend/internal/model"
)

func TestMapPoint(t *testing.T) {
	internal := Size{W: 800, H: 600}

	t.Run("center of a half-size canvas", func(t *testing.T) {
		got := MapPoint(Point{X: 200, Y: 150}, Size{W: 400, H: 300}, internal)
		assert.Equal(t, Point{X: 400, Y: 300}, got)
	})

	t.Run("remote client with a larger window lands on the same spot", func(t *testing.T) {
		got := MapPoint(Point{X: 600, Y: 450}, Size{W: 1200, H: 900}, internal)
		assert.Equal(t, Point{X: 400, Y: 300}, got)
	})

	t.Run("unrendered canvas passes through", func(t *testing.T) {
		got := MapPoint(Point{X: 5, Y: 6}, Size{}, internal)
		assert.Equal(t, Point{X: 5, Y: 6}, got)
	})
}

func TestWhiteboard_GuestPermissionGate(t *testing.T) {
	ctx := context.Background()
	var seq sequencer

	hostSink := &recordingSink{}
	host := NewWhiteboard(true, "host", &seq, hostSink, &MemoryCanvas{})

	guestSink := &recordingSink{}
	guestCanvas := &MemoryCanvas{}
	guest := NewWhiteboard(false, "guest", &seq, guestSink, guestCanvas)

	assert.ErrorIs(t, guest.DrawStart(ctx, Point{X: 1, Y: 1}, "#000"), ErrDrawingDisabled)
	assert.ErrorIs(t, guest.DrawMove(ctx, Point{X: 1, Y: 1}, Point{X: 2, Y: 2}, "#000"), ErrDrawingDisabled)
	assert.ErrorIs(t, guest.Clear(ctx), ErrDrawingDisabled)
	assert.Empty(t, guestSink.types())
	assert.Empty(t, guestCanvas.Starts())
	assert.Empty(t, guestCanvas.Strokes())

	assert.ErrorIs(t, guest.SetAllowGuestDraw(ctx, true), ErrHostOnly)

	require.NoError(t, host.SetAllowGuestDraw(ctx, true))
	for _, rec := range hostSink.records(1) {
		guest.ApplyEvent(rec)
	}
	require.True(t, guest.CanDraw())

	require.NoError(t, guest.DrawStart(ctx, Point{X: 1, Y: 1}, "#f00"))
	require.NoError(t, guest.DrawMove(ctx, Point{X: 1, Y: 1}, Point{X: 4, Y: 5}, "#f00"))
	assert.Equal(t, []string{"whiteboard_start", "whiteboard_move"}, guestSink.types())
	assert.Len(t, guestCanvas.Strokes(), 1)

	t.Run("revoking stops the next segment", func(t *testing.T) {
		revoke := &recordingSink{}
		host.sink = revoke
		require.NoError(t, host.SetAllowGuestDraw(ctx, false))
		for _, rec := range revoke.records(10) {
			guest.ApplyEvent(rec)
		}
		assert.ErrorIs(t, guest.DrawMove(ctx, Point{X: 4, Y: 5}, Point{X: 6, Y: 7}, "#f00"), ErrDrawingDisabled)
		assert.Len(t, guestCanvas.Strokes(), 1)
	})

	t.Run("host always draws", func(t *testing.T) {
		assert.NoError(t, host.DrawStart(ctx, Point{}, "#000"))
	})
}

func TestWhiteboard_EventsCarryIdentityAndMirror(t *testing.T) {
	ctx := context.Background()
	var seq sequencer
	sink := &recordingSink{}
	wb := NewWhiteboard(true, "host", &seq, sink, &MemoryCanvas{})

	require.NoError(t, wb.DrawMove(ctx, Point{X: 1, Y: 2}, Point{X: 3, Y: 4}, "#00f"))
	require.Len(t, sink.out, 1)
	out := sink.out[0]

	assert.Equal(t, model.StreamEvents, out.Stream)
	assert.Equal(t, "host", out.Payload[keyClientID])
	assert.Equal(t, int64(1), out.Payload[keySeq])
	assert.Equal(t, 3.0, out.Payload["endX"])
	require.NotNil(t, out.Bus)
	assert.Equal(t, MsgDrawMove, out.Bus.Type)
	assert.JSONEq(t, `{"startX":1,"startY":2,"endX":3,"endY":4,"color":"#00f","client_id":"host","event_seq":1}`, string(out.Bus.Data))
}

func TestWhiteboard_RemoteReplay(t *testing.T) {
	canvas := &MemoryCanvas{}
	wb := NewWhiteboard(false, "guest", &sequencer{}, &recordingSink{}, canvas)

	wb.ApplyEvent(EventRecord{ID: 1, EventType: "whiteboard_start", Payload: []byte(`{"x":10,"y":20,"color":"#000"}`)})
	wb.ApplyEvent(EventRecord{ID: 2, EventType: "whiteboard_move", Payload: []byte(`{"startX":10,"startY":20,"endX":30,"endY":40,"color":"#000"}`)})
	assert.Equal(t, []Point{{X: 10, Y: 20}}, canvas.Starts())
	assert.Equal(t, []Stroke{{From: Point{X: 10, Y: 20}, To: Point{X: 30, Y: 40}, Color: "#000"}}, canvas.Strokes())

	msg, err := NewBusMessage(MsgClearBoard, "host", map[string]any{})
	require.NoError(t, err)
	msg.Role = model.RoleHost
	assert.True(t, wb.ApplyBus(msg))
	assert.Empty(t, canvas.Strokes())
	assert.Equal(t, 1, canvas.Clears())

	t.Run("panel follows the host", func(t *testing.T) {
		wb.ApplyEvent(EventRecord{ID: 3, EventType: "whiteboard_open", Payload: []byte(`{}`)})
		assert.True(t, wb.PanelOpen())
		wb.ApplyEvent(EventRecord{ID: 4, EventType: "whiteboard_close", Payload: []byte(`{}`)})
		assert.False(t, wb.PanelOpen())
		assert.ErrorIs(t, wb.OpenPanel(context.Background()), ErrHostOnly)
	})

	t.Run("non whiteboard events are not consumed", func(t *testing.T) {
		assert.False(t, wb.ApplyEvent(EventRecord{ID: 5, EventType: "screen_share_on"}))
	})
}

func TestWhiteboard_GuestStrokesFollowPermission(t *testing.T) {
	canvas := &MemoryCanvas{}
	wb := NewWhiteboard(false, "guest-a", &sequencer{}, &recordingSink{}, canvas)

	stroke, err := NewBusMessage(MsgDrawMove, "guest-b", map[string]any{"startX": 1, "startY": 1, "endX": 2, "endY": 2, "color": "#f00"})
	require.NoError(t, err)
	stroke.Role = model.RoleGuest

	assert.True(t, wb.ApplyBus(stroke), "consumed but not drawn")
	assert.Empty(t, canvas.Strokes())

	wipe, err := NewBusMessage(MsgClearBoard, "guest-b", nil)
	require.NoError(t, err)
	wipe.Role = model.RoleGuest
	wb.ApplyBus(wipe)
	assert.Zero(t, canvas.Clears())

	wb.ApplyEvent(EventRecord{ID: 1, EventType: "whiteboard_permission", Payload: []byte(`{"allowed":true}`)})
	wb.ApplyBus(stroke)
	assert.Len(t, canvas.Strokes(), 1)
}

func TestWhiteboard_FoldEvent(t *testing.T) {
	canvas := &MemoryCanvas{}
	wb := NewWhiteboard(false, "guest", &sequencer{}, &recordingSink{}, canvas)

	assert.False(t, wb.FoldEvent(EventRecord{ID: 1, EventType: "whiteboard_start", Payload: []byte(`{"x":1,"y":2}`)}))
	assert.False(t, wb.FoldEvent(EventRecord{ID: 2, EventType: "whiteboard_clear"}))
	assert.True(t, wb.FoldEvent(EventRecord{ID: 3, EventType: "whiteboard_permission", Payload: []byte(`{"allowed":true}`)}))
	assert.True(t, wb.FoldEvent(EventRecord{ID: 4, EventType: "whiteboard_open", Payload: []byte(`{}`)}))

	assert.Empty(t, canvas.Starts())
	assert.Zero(t, canvas.Clears())
	assert.True(t, wb.AllowGuestDraw())
	assert.True(t, wb.PanelOpen())
}
