package store

import (
	"context"
	"sync"
	"time"

	"virtualroom-backend/internal/model"
)

// MemoryStore 프로세스 메모리 기반 Store (로컬 개발 및 테스트용)
type MemoryStore struct {
	mu sync.RWMutex

	seq          map[string]int64
	rooms        []*model.Room
	waiting      []*model.WaitingEntry
	participants []*model.Participant
	forms        []*model.AssessmentForm

	messages    []model.ChatMessage
	events      []model.RoomEvent
	assessments []model.AssessmentEvent
	transcripts []model.TranscriptEntry
}

// NewMemoryStore MemoryStore 생성
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seq: make(map[string]int64)}
}

// nextID 테이블별 단조 증가 id (호출자가 mu를 잡고 있어야 함)
func (s *MemoryStore) nextID(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func (s *MemoryStore) CreateRoom(_ context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rooms {
		if r.Code == room.Code {
			return ErrDuplicate
		}
	}
	room.ID = s.nextID("rooms")
	room.CreatedAt = time.Now()
	if room.Status == "" {
		room.Status = model.RoomStatusOpen.String()
	}
	copied := *room
	s.rooms = append(s.rooms, &copied)
	return nil
}

func (s *MemoryStore) RoomByCode(_ context.Context, code string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rooms {
		if r.Code == code {
			copied := *r
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) EndRoom(_ context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rooms {
		if r.ID == roomID && !r.IsEnded() {
			now := time.Now()
			r.Status = model.RoomStatusEnded.String()
			r.EndedAt = &now
		}
	}
	return nil
}

func (s *MemoryStore) RegisterWaiting(_ context.Context, entry *model.WaitingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.nextID("waiting")
	entry.Status = model.WaitingStatusWaiting.String()
	entry.CreatedAt = time.Now()
	copied := *entry
	s.waiting = append(s.waiting, &copied)
	return nil
}

func (s *MemoryStore) WaitingByToken(_ context.Context, roomID int64, token string) (*model.WaitingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.waiting {
		if e.RoomID == roomID && e.Token == token {
			copied := *e
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) PendingWaiting(_ context.Context, roomID int64) ([]model.WaitingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]model.WaitingEntry, 0)
	for _, e := range s.waiting {
		if e.RoomID == roomID && e.Status == model.WaitingStatusWaiting.String() {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}

func (s *MemoryStore) DecideWaiting(_ context.Context, roomID, entryID int64, status model.WaitingStatus) (*model.WaitingEntry, error) {
	if !validDecision(status) {
		return nil, ErrInvalidDecision
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.waiting {
		if e.ID != entryID || e.RoomID != roomID {
			continue
		}
		if model.WaitingStatus(e.Status).Resolved() {
			copied := *e
			return &copied, ErrAlreadyResolved
		}
		now := time.Now()
		e.Status = status.String()
		e.DecidedAt = &now
		copied := *e
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Join(_ context.Context, entry *model.WaitingEntry, name string) (*model.Participant, error) {
	if entry.Status != model.WaitingStatusApproved.String() {
		return nil, ErrNotApproved
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.participants {
		if p.EntryID == entry.ID {
			if !p.Active() {
				return nil, ErrParticipantLeft
			}
			copied := *p
			return &copied, nil
		}
	}

	p := &model.Participant{
		ID:       s.nextID("participants"),
		RoomID:   entry.RoomID,
		EntryID:  entry.ID,
		Token:    entry.Token,
		Name:     name,
		Role:     model.RoleGuest.String(),
		JoinedAt: time.Now(),
	}
	s.participants = append(s.participants, p)
	copied := *p
	return &copied, nil
}

func (s *MemoryStore) ParticipantByToken(_ context.Context, roomID int64, token string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.participants {
		if p.RoomID == roomID && p.Token == token {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Leave(_ context.Context, roomID int64, token string) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.participants {
		if p.RoomID == roomID && p.Token == token {
			if p.Active() {
				now := time.Now()
				p.LeftAt = &now
			}
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ActiveParticipants(_ context.Context, roomID int64) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants := make([]model.Participant, 0)
	for _, p := range s.participants {
		if p.RoomID == roomID && p.Active() {
			participants = append(participants, *p)
		}
	}
	return participants, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg *model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = s.nextID("messages")
	msg.CreatedAt = time.Now()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) MessagesSince(_ context.Context, roomID, since int64, limit int) ([]model.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterSince(s.messages, roomID, since, limit, func(m model.ChatMessage) (int64, int64) {
		return m.RoomID, m.ID
	}), nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev *model.RoomEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = s.nextID("events")
	ev.CreatedAt = time.Now()
	s.events = append(s.events, *ev)
	return nil
}

func (s *MemoryStore) EventsSince(_ context.Context, roomID, since int64, limit int) ([]model.RoomEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterSince(s.events, roomID, since, limit, func(e model.RoomEvent) (int64, int64) {
		return e.RoomID, e.ID
	}), nil
}

func (s *MemoryStore) AppendAssessmentEvent(_ context.Context, ev *model.AssessmentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = s.nextID("assessments")
	ev.CreatedAt = time.Now()
	s.assessments = append(s.assessments, *ev)
	return nil
}

func (s *MemoryStore) AssessmentEventsSince(_ context.Context, roomID, since int64, limit int) ([]model.AssessmentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterSince(s.assessments, roomID, since, limit, func(e model.AssessmentEvent) (int64, int64) {
		return e.RoomID, e.ID
	}), nil
}

func (s *MemoryStore) AppendTranscript(_ context.Context, entry *model.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.nextID("transcripts")
	entry.CreatedAt = time.Now()
	s.transcripts = append(s.transcripts, *entry)
	return nil
}

func (s *MemoryStore) TranscriptsSince(_ context.Context, roomID, since int64, limit int) ([]model.TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterSince(s.transcripts, roomID, since, limit, func(e model.TranscriptEntry) (int64, int64) {
		return e.RoomID, e.ID
	}), nil
}

func (s *MemoryStore) CreateForm(_ context.Context, form *model.AssessmentForm) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.forms {
		if f.PublicHash == form.PublicHash {
			return ErrDuplicate
		}
	}
	form.ID = s.nextID("forms")
	form.CreatedAt = time.Now()
	copied := *form
	s.forms = append(s.forms, &copied)
	return nil
}

func (s *MemoryStore) FormByID(_ context.Context, id int64) (*model.AssessmentForm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.forms {
		if f.ID == id {
			copied := *f
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FormByHash(_ context.Context, hash string) (*model.AssessmentForm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.forms {
		if f.PublicHash == hash {
			copied := *f
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

// filterSince 로그는 id 오름차순으로 쌓이므로 순서대로 걸러낸다
func filterSince[T any](items []T, roomID, since int64, limit int, key func(T) (int64, int64)) []T {
	out := make([]T, 0)
	for _, item := range items {
		rid, id := key(item)
		if rid != roomID || id <= since {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
