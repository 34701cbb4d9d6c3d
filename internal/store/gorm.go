package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"virtualroom-backend/internal/model"
)

// 스트림별 advisory lock 네임스페이스
const (
	lockMessages int32 = iota + 1
	lockEvents
	lockAssessments
	lockTranscripts
)

// GormStore PostgreSQL 기반 Store
type GormStore struct {
	db *gorm.DB
}

// NewGormStore GormStore 생성
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// duplicate TranslateError가 켜진 연결에서 unique 충돌을 ErrDuplicate로 변환
func duplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// CreateRoom 방 생성
func (s *GormStore) CreateRoom(ctx context.Context, room *model.Room) error {
	if room.Status == "" {
		room.Status = model.RoomStatusOpen.String()
	}
	return duplicate(s.db.WithContext(ctx).Create(room).Error)
}

// RoomByCode 방 코드로 조회
func (s *GormStore) RoomByCode(ctx context.Context, code string) (*model.Room, error) {
	var room model.Room
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&room).Error; err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

// EndRoom 방 종료 (이미 종료된 경우 그대로 둔다)
func (s *GormStore) EndRoom(ctx context.Context, roomID int64) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.Room{}).
		Where("id = ? AND status = ?", roomID, model.RoomStatusOpen.String()).
		Updates(map[string]interface{}{
			"status":   model.RoomStatusEnded.String(),
			"ended_at": now,
		}).Error
}

// RegisterWaiting 대기실 항목 등록
func (s *GormStore) RegisterWaiting(ctx context.Context, entry *model.WaitingEntry) error {
	entry.Status = model.WaitingStatusWaiting.String()
	return s.db.WithContext(ctx).Create(entry).Error
}

// WaitingByToken 토큰으로 대기실 항목 조회
func (s *GormStore) WaitingByToken(ctx context.Context, roomID int64, token string) (*model.WaitingEntry, error) {
	var entry model.WaitingEntry
	if err := s.db.WithContext(ctx).Where("room_id = ? AND token = ?", roomID, token).First(&entry).Error; err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

// PendingWaiting 아직 결정되지 않은 대기실 항목
func (s *GormStore) PendingWaiting(ctx context.Context, roomID int64) ([]model.WaitingEntry, error) {
	var entries []model.WaitingEntry
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND status = ?", roomID, model.WaitingStatusWaiting.String()).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// DecideWaiting 승인/거절 (항목당 단 한 번, 조건부 UPDATE로 원자적 처리)
func (s *GormStore) DecideWaiting(ctx context.Context, roomID, entryID int64, status model.WaitingStatus) (*model.WaitingEntry, error) {
	if !validDecision(status) {
		return nil, ErrInvalidDecision
	}

	now := time.Now()
	result := s.db.WithContext(ctx).Model(&model.WaitingEntry{}).
		Where("id = ? AND room_id = ? AND status = ?", entryID, roomID, model.WaitingStatusWaiting.String()).
		Updates(map[string]interface{}{
			"status":     status.String(),
			"decided_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}

	var entry model.WaitingEntry
	if err := s.db.WithContext(ctx).Where("id = ? AND room_id = ?", entryID, roomID).First(&entry).Error; err != nil {
		return nil, notFound(err)
	}
	if result.RowsAffected == 0 {
		return &entry, ErrAlreadyResolved
	}
	return &entry, nil
}

// Join 승인된 항목으로 참가자 등록 (같은 항목으로 재호출 시 기존 참가자 반환)
func (s *GormStore) Join(ctx context.Context, entry *model.WaitingEntry, name string) (*model.Participant, error) {
	if entry.Status != model.WaitingStatusApproved.String() {
		return nil, ErrNotApproved
	}

	var participant model.Participant
	err := s.db.WithContext(ctx).Where("entry_id = ?", entry.ID).First(&participant).Error
	if err == nil {
		if !participant.Active() {
			return nil, ErrParticipantLeft
		}
		return &participant, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	participant = model.Participant{
		RoomID:  entry.RoomID,
		EntryID: entry.ID,
		Token:   entry.Token,
		Name:    name,
		Role:    model.RoleGuest.String(),
	}
	if err := s.db.WithContext(ctx).Create(&participant).Error; err != nil {
		// 동시 join: entry_id unique 충돌 시 다시 조회
		var existing model.Participant
		if ferr := s.db.WithContext(ctx).Where("entry_id = ?", entry.ID).First(&existing).Error; ferr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &participant, nil
}

// ParticipantByToken 토큰으로 참가자 조회
func (s *GormStore) ParticipantByToken(ctx context.Context, roomID int64, token string) (*model.Participant, error) {
	var participant model.Participant
	if err := s.db.WithContext(ctx).Where("room_id = ? AND token = ?", roomID, token).First(&participant).Error; err != nil {
		return nil, notFound(err)
	}
	return &participant, nil
}

// Leave 퇴장 처리 (이후 토큰은 무효)
func (s *GormStore) Leave(ctx context.Context, roomID int64, token string) (*model.Participant, error) {
	participant, err := s.ParticipantByToken(ctx, roomID, token)
	if err != nil {
		return nil, err
	}
	if !participant.Active() {
		return participant, nil
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(participant).Update("left_at", now).Error; err != nil {
		return nil, err
	}
	participant.LeftAt = &now
	return participant, nil
}

// ActiveParticipants 퇴장하지 않은 참가자 목록
func (s *GormStore) ActiveParticipants(ctx context.Context, roomID int64) ([]model.Participant, error) {
	var participants []model.Participant
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND left_at IS NULL", roomID).
		Order("id ASC").
		Find(&participants).Error
	return participants, err
}

// appendOrdered 방 단위 advisory lock 아래에서 INSERT
//
// bigserial은 커밋 순서와 id 순서가 어긋날 수 있어, 커서 뒤로 늦게 커밋된 레코드를
// 폴러가 건너뛰지 않도록 같은 방/스트림의 추가를 직렬화한다.
func (s *GormStore) appendOrdered(ctx context.Context, lockKey int32, roomID int64, value interface{}) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?, ?)", lockKey, int32(roomID)).Error; err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		return tx.Create(value).Error
	})
}

// AppendMessage 채팅 메시지 추가
func (s *GormStore) AppendMessage(ctx context.Context, msg *model.ChatMessage) error {
	return s.appendOrdered(ctx, lockMessages, msg.RoomID, msg)
}

// MessagesSince 커서 이후 채팅 메시지
func (s *GormStore) MessagesSince(ctx context.Context, roomID, since int64, limit int) ([]model.ChatMessage, error) {
	var items []model.ChatMessage
	err := s.since(ctx, roomID, since, limit).Find(&items).Error
	return items, err
}

// AppendEvent 이벤트 추가
func (s *GormStore) AppendEvent(ctx context.Context, ev *model.RoomEvent) error {
	return s.appendOrdered(ctx, lockEvents, ev.RoomID, ev)
}

// EventsSince 커서 이후 이벤트
func (s *GormStore) EventsSince(ctx context.Context, roomID, since int64, limit int) ([]model.RoomEvent, error) {
	var items []model.RoomEvent
	err := s.since(ctx, roomID, since, limit).Find(&items).Error
	return items, err
}

// AppendAssessmentEvent 문진 이벤트 추가
func (s *GormStore) AppendAssessmentEvent(ctx context.Context, ev *model.AssessmentEvent) error {
	return s.appendOrdered(ctx, lockAssessments, ev.RoomID, ev)
}

// AssessmentEventsSince 커서 이후 문진 이벤트
func (s *GormStore) AssessmentEventsSince(ctx context.Context, roomID, since int64, limit int) ([]model.AssessmentEvent, error) {
	var items []model.AssessmentEvent
	err := s.since(ctx, roomID, since, limit).Find(&items).Error
	return items, err
}

// AppendTranscript 자막 추가
func (s *GormStore) AppendTranscript(ctx context.Context, entry *model.TranscriptEntry) error {
	return s.appendOrdered(ctx, lockTranscripts, entry.RoomID, entry)
}

// TranscriptsSince 커서 이후 자막
func (s *GormStore) TranscriptsSince(ctx context.Context, roomID, since int64, limit int) ([]model.TranscriptEntry, error) {
	var items []model.TranscriptEntry
	err := s.since(ctx, roomID, since, limit).Find(&items).Error
	return items, err
}

func (s *GormStore) since(ctx context.Context, roomID, since int64, limit int) *gorm.DB {
	q := s.db.WithContext(ctx).
		Where("room_id = ? AND id > ?", roomID, since).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

// CreateForm 문진 양식 생성
func (s *GormStore) CreateForm(ctx context.Context, form *model.AssessmentForm) error {
	return duplicate(s.db.WithContext(ctx).Create(form).Error)
}

// FormByID id로 문진 양식 조회
func (s *GormStore) FormByID(ctx context.Context, id int64) (*model.AssessmentForm, error) {
	var form model.AssessmentForm
	if err := s.db.WithContext(ctx).First(&form, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &form, nil
}

// FormByHash 공개 해시로 문진 양식 조회
func (s *GormStore) FormByHash(ctx context.Context, hash string) (*model.AssessmentForm, error) {
	var form model.AssessmentForm
	if err := s.db.WithContext(ctx).Where("public_hash = ?", hash).First(&form).Error; err != nil {
		return nil, notFound(err)
	}
	return &form, nil
}
