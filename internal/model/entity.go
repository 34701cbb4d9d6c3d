package model

import (
	"time"
)

// Room 가상 진료실 (방 코드로 식별)
type Room struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Code      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	HostID    int64      `gorm:"not null;index" json:"host_id"`
	HostName  string     `gorm:"type:varchar(100)" json:"host_name"`
	Title     string     `gorm:"type:varchar(200)" json:"title"`
	Companion bool       `gorm:"default:false" json:"companion"`
	Status    string     `gorm:"type:varchar(20);default:'OPEN'" json:"status"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Room) TableName() string {
	return "rooms"
}

// IsEnded 종료된 방인지 확인
func (r *Room) IsEnded() bool {
	return r.Status == RoomStatusEnded.String()
}

// WaitingEntry 게스트 입장 요청 (대기실)
type WaitingEntry struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    int64      `gorm:"not null;index" json:"room_id"`
	Name      string     `gorm:"type:varchar(100);not null" json:"name"`
	Token     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	Status    string     `gorm:"type:varchar(20);default:'waiting';index" json:"status"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (WaitingEntry) TableName() string {
	return "waiting_entries"
}

// Participant 입장 승인 후 참가자 (토큰으로 게스트 쓰기 인증)
type Participant struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    int64      `gorm:"not null;index" json:"room_id"`
	EntryID   int64      `gorm:"not null;uniqueIndex" json:"entry_id"`
	Token     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	Name      string     `gorm:"type:varchar(100);not null" json:"name"`
	Role      string     `gorm:"type:varchar(20);not null" json:"role"`
	JoinedAt  time.Time  `gorm:"autoCreateTime" json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
}

func (Participant) TableName() string {
	return "participants"
}

// Active 퇴장하지 않은 참가자인지 확인
func (p *Participant) Active() bool {
	return p.LeftAt == nil
}

// AssessmentForm 세션 중 진행하는 문진 양식
type AssessmentForm struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	HostID     int64     `gorm:"not null;index" json:"host_id"`
	Title      string    `gorm:"type:varchar(200);not null" json:"title"`
	PublicHash string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"public_hash"`
	Questions  string    `gorm:"type:jsonb;not null" json:"-"` // JSON array of questions
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AssessmentForm) TableName() string {
	return "assessment_forms"
}
