package model

import (
	"time"
)

// Stream 방 단위 append-only 로그 종류
type Stream string

const (
	StreamMessages    Stream = "messages"
	StreamEvents      Stream = "events"
	StreamAssessments Stream = "assessments"
	StreamTranscripts Stream = "transcripts"
)

func (s Stream) String() string {
	return string(s)
}

// ChatMessage 채팅 메시지 (수정/삭제 없음)
type ChatMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID     int64     `gorm:"not null;index:idx_chat_room_id" json:"room_id"`
	SenderRole string    `gorm:"type:varchar(20);not null" json:"sender_role"`
	SenderName string    `gorm:"type:varchar(100);not null" json:"sender_name"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	ClientID   string    `gorm:"type:varchar(64)" json:"client_id,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// RoomEvent 시그널/화이트보드 이벤트
type RoomEvent struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    int64     `gorm:"not null;index:idx_event_room_id" json:"room_id"`
	EventType string    `gorm:"type:varchar(40);not null" json:"event_type"`
	Payload   string    `gorm:"type:jsonb;not null" json:"payload"` // client_id 포함
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (RoomEvent) TableName() string {
	return "room_events"
}

// AssessmentEvent 문진 진행 이벤트 (start/answer/finish)
type AssessmentEvent struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID       int64     `gorm:"not null;index:idx_assessment_room_id" json:"room_id"`
	EventType    string    `gorm:"type:varchar(20);not null" json:"event_type"`
	AssessmentID int64     `gorm:"not null" json:"assessment_id"`
	QuestionID   *string   `gorm:"type:varchar(64)" json:"question_id,omitempty"`
	Payload      string    `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AssessmentEvent) TableName() string {
	return "assessment_events"
}

// TranscriptEntry 음성 인식 결과 한 줄 (발화자 본인 클라이언트가 추가)
type TranscriptEntry struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID      int64     `gorm:"not null;index:idx_transcript_room_id" json:"room_id"`
	SpeakerRole string    `gorm:"type:varchar(20);not null" json:"speaker_role"`
	SpeakerName string    `gorm:"type:varchar(100);not null" json:"speaker_name"`
	Text        string    `gorm:"type:text;not null" json:"text"`
	ClientID    string    `gorm:"type:varchar(64)" json:"client_id,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (TranscriptEntry) TableName() string {
	return "transcript_entries"
}
