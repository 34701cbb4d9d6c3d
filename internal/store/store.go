package store

import (
	"context"
	"errors"

	"virtualroom-backend/internal/model"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyResolved = errors.New("waiting entry already resolved")
	ErrNotApproved     = errors.New("waiting entry is not approved")
	ErrParticipantLeft = errors.New("participant has left the room")
	ErrInvalidDecision = errors.New("invalid waiting decision")
	ErrDuplicate       = errors.New("duplicate key")
)

// Store 방 단위 이벤트 로그 및 대기실 저장소
//
// 네 개의 스트림(messages, events, assessments, transcripts)은 방 별로 id가
// 단조 증가하는 append-only 로그이며 "since 커서 이후 조회"만 제공한다.
// 대기실 항목의 승인/거절은 항목당 한 번만 성공한다.
type Store interface {
	CreateRoom(ctx context.Context, room *model.Room) error
	RoomByCode(ctx context.Context, code string) (*model.Room, error)
	EndRoom(ctx context.Context, roomID int64) error

	RegisterWaiting(ctx context.Context, entry *model.WaitingEntry) error
	WaitingByToken(ctx context.Context, roomID int64, token string) (*model.WaitingEntry, error)
	PendingWaiting(ctx context.Context, roomID int64) ([]model.WaitingEntry, error)
	DecideWaiting(ctx context.Context, roomID, entryID int64, status model.WaitingStatus) (*model.WaitingEntry, error)

	Join(ctx context.Context, entry *model.WaitingEntry, name string) (*model.Participant, error)
	ParticipantByToken(ctx context.Context, roomID int64, token string) (*model.Participant, error)
	Leave(ctx context.Context, roomID int64, token string) (*model.Participant, error)
	ActiveParticipants(ctx context.Context, roomID int64) ([]model.Participant, error)

	AppendMessage(ctx context.Context, msg *model.ChatMessage) error
	MessagesSince(ctx context.Context, roomID, since int64, limit int) ([]model.ChatMessage, error)
	AppendEvent(ctx context.Context, ev *model.RoomEvent) error
	EventsSince(ctx context.Context, roomID, since int64, limit int) ([]model.RoomEvent, error)
	AppendAssessmentEvent(ctx context.Context, ev *model.AssessmentEvent) error
	AssessmentEventsSince(ctx context.Context, roomID, since int64, limit int) ([]model.AssessmentEvent, error)
	AppendTranscript(ctx context.Context, entry *model.TranscriptEntry) error
	TranscriptsSince(ctx context.Context, roomID, since int64, limit int) ([]model.TranscriptEntry, error)

	CreateForm(ctx context.Context, form *model.AssessmentForm) error
	FormByID(ctx context.Context, id int64) (*model.AssessmentForm, error)
	FormByHash(ctx context.Context, hash string) (*model.AssessmentForm, error)
}

// validDecision 승인/거절만 허용
func validDecision(status model.WaitingStatus) bool {
	return status == model.WaitingStatusApproved || status == model.WaitingStatusDenied
}
