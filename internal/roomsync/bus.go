package roomsync

import (
	"encoding/json"
	"sync"

	"virtualroom-backend/internal/model"
)

// MessageType 버스 메시지 종류
type MessageType string

const (
	MsgRequestEntry     MessageType = "REQUEST_ENTRY"
	MsgAdmitGuest       MessageType = "ADMIT_GUEST"
	MsgDenyGuest        MessageType = "DENY_GUEST"
	MsgDrawStart        MessageType = "DRAW_START"
	MsgDrawMove         MessageType = "DRAW_MOVE"
	MsgClearBoard       MessageType = "CLEAR_BOARD"
	MsgStartAssessment  MessageType = "START_ASSESSMENT"
	MsgUpdateAnswer     MessageType = "UPDATE_ANSWER"
	MsgFinishAssessment MessageType = "FINISH_ASSESSMENT"
)

// BusMessage fast-path 메시지 (To가 비면 브로드캐스트)
//
// Role은 로컬 sink가 채우고, 서버 중계를 거치면 연결이 인증된 역할로 덮어쓴다.
type BusMessage struct {
	Type MessageType      `json:"type"`
	From ClientIdentity   `json:"from"`
	To   ClientIdentity   `json:"to,omitempty"`
	Role model.SenderRole `json:"role,omitempty"`
	Data json.RawMessage  `json:"data,omitempty"`

	// 중계로 들어온 메시지 (다시 내보내지 않음)
	remote bool
}

// NewBusMessage data를 인코딩해 메시지 생성
func NewBusMessage(t MessageType, from ClientIdentity, data any) (BusMessage, error) {
	msg := BusMessage{Type: t, From: from}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return BusMessage{}, err
		}
		msg.Data = raw
	}
	return msg, nil
}

// Bus 같은 프로세스 참가자끼리 공유하는 pub/sub 채널
//
// 전달은 best-effort. 저장하지 않으며 느린 구독자는 메시지를 놓친다.
type Bus struct {
	mu         sync.RWMutex
	subs       map[chan BusMessage]struct{}
	bufferSize int
}

// NewBus Bus 생성
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[chan BusMessage]struct{}),
		bufferSize: 64,
	}
}

// Subscribe 구독 채널과 해제 함수 반환 (해제 시 채널을 닫음)
func (b *Bus) Subscribe() (<-chan BusMessage, func()) {
	ch := make(chan BusMessage, b.bufferSize)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish 모든 구독자에게 논블로킹 전달
func (b *Bus) Publish(msg BusMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
			// 느린 구독자는 드롭
		}
	}
}
