package handler

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/tidwall/gjson"

	"virtualroom-backend/internal/model"
)

// BusRelayHandler 방 단위 fast-path 버스 중계 (WebSocket)
//
// 받은 텍스트 프레임을 같은 방의 다른 연결에 그대로 전달한다. 저장하지 않으며
// 느린 수신자의 프레임은 버린다.
type BusRelayHandler struct {
	rooms      map[string]*BusRoom // roomCode -> BusRoom
	mu         sync.RWMutex
	bufferSize int
	maxFrame   int
}

// BusRoom 중계 방
type BusRoom struct {
	clients map[*websocket.Conn]*BusClient
	mu      sync.RWMutex
}

// BusClient 중계 연결
type BusClient struct {
	Conn *websocket.Conn
	Role model.SenderRole
	send chan []byte
}

// NewBusRelayHandler BusRelayHandler 생성
func NewBusRelayHandler(bufferSize, maxFrame int) *BusRelayHandler {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &BusRelayHandler{
		rooms:      make(map[string]*BusRoom),
		bufferSize: bufferSize,
		maxFrame:   maxFrame,
	}
}

// join 중계 방 조회 또는 생성 후 연결 등록
func (h *BusRelayHandler) join(code string, client *BusClient) *BusRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[code]
	if !ok {
		room = &BusRoom{
			clients: make(map[*websocket.Conn]*BusClient),
		}
		h.rooms[code] = room
	}

	room.mu.Lock()
	room.clients[client.Conn] = client
	room.mu.Unlock()
	return room
}

// leave 연결 제거 (빈 방은 정리)
func (h *BusRelayHandler) leave(code string, room *BusRoom, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room.mu.Lock()
	delete(room.clients, c)
	empty := len(room.clients) == 0
	room.mu.Unlock()

	if empty && h.rooms[code] == room {
		delete(h.rooms, code)
	}
}

// Connections 방의 현재 연결 수
func (h *BusRelayHandler) Connections(code string) int {
	h.mu.RLock()
	room, ok := h.rooms[code]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.clients)
}

// HandleWebSocket WebSocket 연결 처리
func (h *BusRelayHandler) HandleWebSocket(c *websocket.Conn) {
	room, ok := c.Locals("room").(*model.Room)
	if !ok || room == nil {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"invalid room"}`))
		c.Close()
		return
	}

	role, _ := c.Locals("role").(model.SenderRole)
	if role == "" {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"unauthorized"}`))
		c.Close()
		return
	}

	client := &BusClient{
		Conn: c,
		Role: role,
		send: make(chan []byte, h.bufferSize),
	}
	relay := h.join(room.Code, client)

	log.Printf("[BusRelay %s] client connected (%d)", room.Code, h.Connections(room.Code))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for frame := range client.send {
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.leave(room.Code, relay, c)
		close(client.send)
		<-done
		c.Close()
		log.Printf("[BusRelay %s] client disconnected", room.Code)
	}()

	for {
		msgType, frame, err := c.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if h.maxFrame > 0 && len(frame) > h.maxFrame {
			continue
		}
		// {"type": "..."} 형태의 버스 메시지만 중계
		if !gjson.ValidBytes(frame) || gjson.GetBytes(frame, "type").String() == "" {
			continue
		}

		stamped, err := stampRole(frame, client.Role)
		if err != nil {
			continue
		}
		h.broadcast(relay, client, stamped)
	}
}

// stampRole 프레임의 role을 인증된 역할로 덮어쓴다 (클라이언트가 보낸 값은 신뢰하지 않음)
func stampRole(frame []byte, role model.SenderRole) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(role)
	if err != nil {
		return nil, err
	}
	fields["role"] = raw
	return json.Marshal(fields)
}

// broadcast 보낸 연결을 제외한 모든 연결에 전달 (가득 찬 큐는 드롭)
func (h *BusRelayHandler) broadcast(room *BusRoom, sender *BusClient, frame []byte) {
	room.mu.RLock()
	defer room.mu.RUnlock()

	for _, client := range room.clients {
		if client == sender {
			continue
		}
		select {
		case client.send <- frame:
		default:
			log.Printf("[BusRelay] dropping frame for slow client")
		}
	}
}
