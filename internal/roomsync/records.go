package roomsync

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// 로컬 이벤트 payload에 찍는 키
const (
	keyClientID = "client_id"
	keySeq      = "event_seq"
)

// Record 스트림 레코드
type Record interface {
	RecordID() int64
	// Origin 레코드를 만든 식별자 (모르면 빈 값)
	Origin() ClientIdentity
}

// ChatRecord 채팅 한 줄
type ChatRecord struct {
	ID         int64     `json:"id"`
	SenderRole string    `json:"sender_role"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	ClientID   string    `json:"client_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r ChatRecord) RecordID() int64        { return r.ID }
func (r ChatRecord) Origin() ClientIdentity { return ClientIdentity(r.ClientID) }

// EventRecord 시그널링/화이트보드 이벤트
type EventRecord struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (r EventRecord) RecordID() int64 { return r.ID }
func (r EventRecord) Origin() ClientIdentity {
	return ClientIdentity(gjson.GetBytes(r.Payload, keyClientID).String())
}
func (r EventRecord) seq() int64 { return gjson.GetBytes(r.Payload, keySeq).Int() }

// AssessmentRecord 문진 진행 이벤트
type AssessmentRecord struct {
	ID           int64           `json:"id"`
	EventType    string          `json:"event_type"`
	AssessmentID int64           `json:"assessment_id"`
	QuestionID   *string         `json:"question_id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (r AssessmentRecord) RecordID() int64 { return r.ID }
func (r AssessmentRecord) Origin() ClientIdentity {
	return ClientIdentity(gjson.GetBytes(r.Payload, keyClientID).String())
}
func (r AssessmentRecord) seq() int64 { return gjson.GetBytes(r.Payload, keySeq).Int() }

// TranscriptRecord 음성 인식 결과
type TranscriptRecord struct {
	ID          int64     `json:"id"`
	SpeakerRole string    `json:"speaker_role"`
	SpeakerName string    `json:"speaker_name"`
	Text        string    `json:"text"`
	ClientID    string    `json:"client_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r TranscriptRecord) RecordID() int64        { return r.ID }
func (r TranscriptRecord) Origin() ClientIdentity { return ClientIdentity(r.ClientID) }

// WaitingEntry 호스트가 보는 대기 요청 (ID 0은 버스로만 알려진 요청)
type WaitingEntry struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ClientID  ClientIdentity `json:"-"`
}

// Participant 참가자 목록 항목
type Participant struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
	Online   *bool     `json:"online,omitempty"`
}

type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// Form 문진 양식
type Form struct {
	ID         int64      `json:"id"`
	Title      string     `json:"title"`
	PublicHash string     `json:"public_hash"`
	Questions  []Question `json:"questions"`
}

// seenSet 버스로 적용한 (origin, seq) 기록. 같은 동작의 스트림 사본을 건너뛴다.
// 크기 제한이 있고 오래된 항목부터 버린다.
type seenSet struct {
	mu    sync.Mutex
	order []string
	set   map[string]struct{}
	max   int
}

func newSeenSet(max int) *seenSet {
	return &seenSet{set: make(map[string]struct{}), max: max}
}

func seenKey(origin ClientIdentity, seq int64) string {
	return origin.String() + ":" + strconv.FormatInt(seq, 10)
}

// add 처음 본 쌍이면 true
func (s *seenSet) add(origin ClientIdentity, seq int64) bool {
	if origin == "" || seq <= 0 {
		return true
	}
	key := seenKey(origin, seq)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[key]; ok {
		return false
	}
	s.set[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > s.max {
		delete(s.set, s.order[0])
		s.order = s.order[1:]
	}
	return true
}
