package roomsync

import (
	"context"
	"errors"
	"sync"

	"github.com/tidwall/gjson"

	"virtualroom-backend/internal/model"
)

var ErrDrawingDisabled = errors.New("drawing is disabled by the host")

// Point 캔버스/화면 좌표
type Point struct {
	X float64
	Y float64
}

// Size 픽셀 크기
type Size struct {
	W float64
	H float64
}

// MapPoint 화면 좌표를 캔버스 내부 해상도로 변환 (기기 간 획 위치 일치)
func MapPoint(screen Point, rendered, internal Size) Point {
	if rendered.W <= 0 || rendered.H <= 0 {
		return screen
	}
	return Point{
		X: screen.X * (internal.W / rendered.W),
		Y: screen.Y * (internal.H / rendered.H),
	}
}

// Canvas 획을 그리는 대상
type Canvas interface {
	Begin(p Point, color string)
	Line(from, to Point, color string)
	Clear()
}

// Stroke 선분 하나
type Stroke struct {
	From  Point
	To    Point
	Color string
}

// MemoryCanvas 그리기 기록 (headless, 테스트용)
type MemoryCanvas struct {
	mu      sync.Mutex
	starts  []Point
	strokes []Stroke
	clears  int
}

func (c *MemoryCanvas) Begin(p Point, _ string) {
	c.mu.Lock()
	c.starts = append(c.starts, p)
	c.mu.Unlock()
}

func (c *MemoryCanvas) Line(from, to Point, color string) {
	c.mu.Lock()
	c.strokes = append(c.strokes, Stroke{From: from, To: to, Color: color})
	c.mu.Unlock()
}

func (c *MemoryCanvas) Clear() {
	c.mu.Lock()
	c.starts = nil
	c.strokes = nil
	c.clears++
	c.mu.Unlock()
}

// Starts 마지막 clear 이후 획 시작점
func (c *MemoryCanvas) Starts() []Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Point(nil), c.starts...)
}

// Strokes 마지막 clear 이후 선분
func (c *MemoryCanvas) Strokes() []Stroke {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Stroke(nil), c.strokes...)
}

// Clears clear 횟수
func (c *MemoryCanvas) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

// Whiteboard 참가자 간 획 동기화
//
// 그리기 권한과 패널 표시는 호스트가 결정한다.
type Whiteboard struct {
	isHost bool
	self   ClientIdentity
	seq    *sequencer
	sink   EventSink
	canvas Canvas

	mu             sync.RWMutex
	allowGuestDraw bool
	panelOpen      bool
}

// NewWhiteboard Whiteboard 생성
func NewWhiteboard(isHost bool, self ClientIdentity, seq *sequencer, sink EventSink, canvas Canvas) *Whiteboard {
	return &Whiteboard{
		isHost: isHost,
		self:   self,
		seq:    seq,
		sink:   sink,
		canvas: canvas,
	}
}

// CanDraw 로컬에서 유효한 그리기 권한
func (w *Whiteboard) CanDraw() bool {
	if w.isHost {
		return true
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.allowGuestDraw
}

// AllowGuestDraw 마지막으로 설정/수신한 권한 값
func (w *Whiteboard) AllowGuestDraw() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.allowGuestDraw
}

func (w *Whiteboard) PanelOpen() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.panelOpen
}

// DrawStart p에서 획 시작 (캔버스 좌표)
func (w *Whiteboard) DrawStart(ctx context.Context, p Point, color string) error {
	if !w.CanDraw() {
		return ErrDrawingDisabled
	}
	w.canvas.Begin(p, color)

	payload := stamp(map[string]any{"x": p.X, "y": p.Y, "color": color}, w.self, w.seq)
	return w.sink.Publish(ctx, Outbound{
		Stream:    model.StreamEvents,
		EventType: model.EventWhiteboardStart.String(),
		Payload:   payload,
		Bus:       busMirror(MsgDrawStart, w.self, payload),
	})
}

// DrawMove 선분 하나 그리기 (권한은 선분마다 확인, 회수되면 그리던 획도 멈춤)
func (w *Whiteboard) DrawMove(ctx context.Context, from, to Point, color string) error {
	if !w.CanDraw() {
		return ErrDrawingDisabled
	}
	w.canvas.Line(from, to, color)

	payload := stamp(map[string]any{
		"startX": from.X, "startY": from.Y,
		"endX": to.X, "endY": to.Y,
		"color": color,
	}, w.self, w.seq)
	return w.sink.Publish(ctx, Outbound{
		Stream:    model.StreamEvents,
		EventType: model.EventWhiteboardMove.String(),
		Payload:   payload,
		Bus:       busMirror(MsgDrawMove, w.self, payload),
	})
}

// Clear 모든 참가자의 보드 지우기
func (w *Whiteboard) Clear(ctx context.Context) error {
	if !w.CanDraw() {
		return ErrDrawingDisabled
	}
	w.canvas.Clear()

	payload := stamp(nil, w.self, w.seq)
	return w.sink.Publish(ctx, Outbound{
		Stream:    model.StreamEvents,
		EventType: model.EventWhiteboardClear.String(),
		Payload:   payload,
		Bus:       busMirror(MsgClearBoard, w.self, payload),
	})
}

// SetAllowGuestDraw 게스트 그리기 권한 설정 (호스트)
func (w *Whiteboard) SetAllowGuestDraw(ctx context.Context, allowed bool) error {
	if !w.isHost {
		return ErrHostOnly
	}
	w.mu.Lock()
	w.allowGuestDraw = allowed
	w.mu.Unlock()

	return w.sink.Publish(ctx, Outbound{
		Stream:    model.StreamEvents,
		EventType: model.EventWhiteboardPermission.String(),
		Payload:   stamp(map[string]any{"allowed": allowed}, w.self, w.seq),
	})
}

// OpenPanel 화이트보드 열기 (호스트)
func (w *Whiteboard) OpenPanel(ctx context.Context) error {
	return w.setPanel(ctx, true)
}

// ClosePanel 화이트보드 닫기 (호스트)
func (w *Whiteboard) ClosePanel(ctx context.Context) error {
	return w.setPanel(ctx, false)
}

func (w *Whiteboard) setPanel(ctx context.Context, open bool) error {
	if !w.isHost {
		return ErrHostOnly
	}
	w.mu.Lock()
	w.panelOpen = open
	w.mu.Unlock()

	t := model.EventWhiteboardClose
	if open {
		t = model.EventWhiteboardOpen
	}
	return w.sink.Publish(ctx, Outbound{
		Stream:    model.StreamEvents,
		EventType: t.String(),
		Payload:   stamp(nil, w.self, w.seq),
	})
}

// ApplyEvent 원격 화이트보드 이벤트 재생 (화이트보드 이벤트였으면 true)
func (w *Whiteboard) ApplyEvent(rec EventRecord) bool {
	return w.apply(model.RoomEventType(rec.EventType), rec.Payload)
}

// FoldEvent 지난 이벤트에서 권한/패널 상태만 반영 (획은 재생하지 않음, 입장 시 히스토리용)
func (w *Whiteboard) FoldEvent(rec EventRecord) bool {
	switch t := model.RoomEventType(rec.EventType); t {
	case model.EventWhiteboardPermission, model.EventWhiteboardOpen, model.EventWhiteboardClose:
		return w.apply(t, rec.Payload)
	}
	return false
}

// ApplyBus 버스 그리기 메시지 재생 (게스트 그리기가 꺼져 있으면 게스트 획은 버림)
func (w *Whiteboard) ApplyBus(msg BusMessage) bool {
	var t model.RoomEventType
	switch msg.Type {
	case MsgDrawStart:
		t = model.EventWhiteboardStart
	case MsgDrawMove:
		t = model.EventWhiteboardMove
	case MsgClearBoard:
		t = model.EventWhiteboardClear
	default:
		return false
	}
	if msg.Role != model.RoleHost && !w.AllowGuestDraw() {
		return true
	}
	return w.apply(t, msg.Data)
}

func (w *Whiteboard) apply(t model.RoomEventType, payload []byte) bool {
	switch t {
	case model.EventWhiteboardStart:
		p := gjson.GetManyBytes(payload, "x", "y", "color")
		w.canvas.Begin(Point{X: p[0].Float(), Y: p[1].Float()}, p[2].String())

	case model.EventWhiteboardMove:
		p := gjson.GetManyBytes(payload, "startX", "startY", "endX", "endY", "color")
		w.canvas.Line(
			Point{X: p[0].Float(), Y: p[1].Float()},
			Point{X: p[2].Float(), Y: p[3].Float()},
			p[4].String(),
		)

	case model.EventWhiteboardClear:
		w.canvas.Clear()

	case model.EventWhiteboardPermission:
		// 게스트만 호스트 값을 따른다
		if !w.isHost {
			w.mu.Lock()
			w.allowGuestDraw = gjson.GetBytes(payload, "allowed").Bool()
			w.mu.Unlock()
		}

	case model.EventWhiteboardOpen, model.EventWhiteboardClose:
		if !w.isHost {
			w.mu.Lock()
			w.panelOpen = t == model.EventWhiteboardOpen
			w.mu.Unlock()
		}

	default:
		return false
	}
	return true
}
