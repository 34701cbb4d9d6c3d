package model

// RoomStatus 방 상태
type RoomStatus string

const (
	RoomStatusOpen  RoomStatus = "OPEN"
	RoomStatusEnded RoomStatus = "ENDED"
)

func (s RoomStatus) String() string {
	return string(s)
}

// WaitingStatus 대기실 항목 상태
type WaitingStatus string

const (
	WaitingStatusWaiting  WaitingStatus = "waiting"
	WaitingStatusApproved WaitingStatus = "approved"
	WaitingStatusDenied   WaitingStatus = "denied"
)

func (s WaitingStatus) String() string {
	return string(s)
}

// Resolved 승인/거절이 이미 결정되었는지 여부
func (s WaitingStatus) Resolved() bool {
	return s == WaitingStatusApproved || s == WaitingStatusDenied
}

// SenderRole 발신자 역할
type SenderRole string

const (
	RoleHost   SenderRole = "host"
	RoleGuest  SenderRole = "guest"
	RoleSystem SenderRole = "system"
)

func (r SenderRole) String() string {
	return string(r)
}

// RoomEventType 일반 이벤트 스트림 타입
type RoomEventType string

const (
	EventWhiteboardStart      RoomEventType = "whiteboard_start"
	EventWhiteboardMove       RoomEventType = "whiteboard_move"
	EventWhiteboardClear      RoomEventType = "whiteboard_clear"
	EventWhiteboardOpen       RoomEventType = "whiteboard_open"
	EventWhiteboardClose      RoomEventType = "whiteboard_close"
	EventWhiteboardPermission RoomEventType = "whiteboard_permission"
	EventTranscriptionOn      RoomEventType = "transcription_on"
	EventTranscriptionOff     RoomEventType = "transcription_off"
	EventScreenShareOn        RoomEventType = "screen_share_on"
	EventScreenShareOff       RoomEventType = "screen_share_off"
)

var roomEventTypes = map[RoomEventType]bool{
	EventWhiteboardStart:      true,
	EventWhiteboardMove:       true,
	EventWhiteboardClear:      true,
	EventWhiteboardOpen:       true,
	EventWhiteboardClose:      true,
	EventWhiteboardPermission: true,
	EventTranscriptionOn:      true,
	EventTranscriptionOff:     true,
	EventScreenShareOn:        true,
	EventScreenShareOff:       true,
}

// Valid 허용된 이벤트 타입인지 확인
func (t RoomEventType) Valid() bool {
	return roomEventTypes[t]
}

// HostOnly 호스트만 발행할 수 있는 이벤트 (패널 열기/닫기, 권한)
func (t RoomEventType) HostOnly() bool {
	switch t {
	case EventWhiteboardOpen, EventWhiteboardClose, EventWhiteboardPermission:
		return true
	}
	return false
}

func (t RoomEventType) String() string {
	return string(t)
}

// AssessmentEventType 문진 스트림 타입
type AssessmentEventType string

const (
	AssessmentStart  AssessmentEventType = "start"
	AssessmentAnswer AssessmentEventType = "answer"
	AssessmentFinish AssessmentEventType = "finish"
)

// Valid 허용된 문진 이벤트 타입인지 확인
func (t AssessmentEventType) Valid() bool {
	switch t {
	case AssessmentStart, AssessmentAnswer, AssessmentFinish:
		return true
	}
	return false
}

// AllowedFor 역할별 발행 가능 여부 (start는 호스트, answer/finish는 게스트)
func (t AssessmentEventType) AllowedFor(role SenderRole) bool {
	if t == AssessmentStart {
		return role == RoleHost
	}
	return role == RoleGuest
}

func (t AssessmentEventType) String() string {
	return string(t)
}
