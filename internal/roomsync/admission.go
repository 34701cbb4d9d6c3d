package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"virtualroom-backend/internal/model"
)

var (
	ErrAdmissionFailed   = errors.New("admission failed") // 등록/참가 실패, 게스트는 idle로 복귀
	ErrEntryDenied       = errors.New("entry denied by host")
	ErrNameRequired      = errors.New("display name is required")
	ErrInvalidTransition = errors.New("invalid admission transition")
	ErrHostOnly          = errors.New("host only")
	ErrGuestOnly         = errors.New("guest only")
)

// GuestState 게스트 입장 상태
type GuestState int

const (
	StateIdle GuestState = iota
	StateWaitingApproval
	StateConnected
)

func (s GuestState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingApproval:
		return "waiting_approval"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// AdmissionAPI 입장 처리에 쓰는 API
type AdmissionAPI interface {
	RegisterWaiting(ctx context.Context, name string) (*Registration, error)
	WaitingStatus(ctx context.Context) (string, error)
	Join(ctx context.Context, name string) error
	SetParticipantToken(token string)
	PendingWaiting(ctx context.Context) ([]WaitingEntry, error)
	Decide(ctx context.Context, entryID int64, approve bool) error
}

type entryAnnouncement struct {
	Name    string `json:"name"`
	EntryID int64  `json:"entry_id"`
}

// Admission 참가자 한 명의 대기실 상태 머신 (버스만 쓰면 api는 nil)
type Admission struct {
	api    AdmissionAPI
	bus    *Bus
	self   ClientIdentity
	isHost bool

	mu       sync.Mutex
	state    GuestState
	joining  bool
	name     string
	entryID  int64
	alert    string
	direct   bool
	queue    []WaitingEntry
	owners   map[int64]ClientIdentity
	resolved map[string]bool

	onAdmitted func(ctx context.Context)
	onAlert    func(msg string)
}

// NewAdmission Admission 생성 (호스트는 connected로 시작)
func NewAdmission(api AdmissionAPI, bus *Bus, self ClientIdentity, isHost bool) *Admission {
	a := &Admission{
		api:      api,
		bus:      bus,
		self:     self,
		isHost:   isHost,
		owners:   make(map[int64]ClientIdentity),
		resolved: make(map[string]bool),
	}
	if isHost {
		a.state = StateConnected
	}
	return a
}

// OnAdmitted 입장 승인 콜백 등록 (상태가 connected로 바뀌기 직전 호출)
func (a *Admission) OnAdmitted(fn func(ctx context.Context)) {
	a.mu.Lock()
	a.onAdmitted = fn
	a.mu.Unlock()
}

// OnAlert 사용자 알림 콜백 등록
func (a *Admission) OnAlert(fn func(msg string)) {
	a.mu.Lock()
	a.onAlert = fn
	a.mu.Unlock()
}

func (a *Admission) State() GuestState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Alert 마지막 사용자 알림
func (a *Admission) Alert() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alert
}

// EntryID 자신의 대기 항목 id (없으면 0)
func (a *Admission) EntryID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entryID
}

// ForceConnected 대기실 없이 바로 입장 (이미 인증 정보를 가진 보조 클라이언트용)
func (a *Admission) ForceConnected(ctx context.Context) {
	a.mu.Lock()
	cb := a.onAdmitted
	a.mu.Unlock()
	if cb != nil {
		cb(ctx)
	}

	a.mu.Lock()
	a.state = StateConnected
	a.mu.Unlock()
}

// RequestEntry 이름을 제출하고 waiting_approval로 전환
func (a *Admission) RequestEntry(ctx context.Context, name string) error {
	if a.isHost {
		return ErrGuestOnly
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}

	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return fmt.Errorf("%w: request entry from %s", ErrInvalidTransition, a.state)
	}
	a.state = StateWaitingApproval
	a.name = name
	a.entryID = 0
	a.alert = ""
	a.mu.Unlock()

	var entryID int64
	if a.api != nil {
		reg, err := a.api.RegisterWaiting(ctx, name)
		if err != nil {
			a.fail("Could not reach the waiting room. Please try again.")
			return fmt.Errorf("%w: %v", ErrAdmissionFailed, err)
		}
		a.api.SetParticipantToken(reg.Token)
		entryID = reg.EntryID

		a.mu.Lock()
		a.entryID = entryID
		a.mu.Unlock()
	}

	if msg, err := NewBusMessage(MsgRequestEntry, a.self, entryAnnouncement{Name: name, EntryID: entryID}); err == nil {
		msg.Role = model.RoleGuest
		a.bus.Publish(msg)
	}
	log.Printf("[Admission] %s waiting for approval (entry %d)", name, entryID)
	return nil
}

// PollStatus 자신의 대기 상태를 한 번 확인하고 승인되면 참가
//
// 등록으로 항목과 토큰을 받기 전에는 조회하지 않는다.
func (a *Admission) PollStatus(ctx context.Context) error {
	a.mu.Lock()
	ready := a.state == StateWaitingApproval && a.entryID > 0
	a.mu.Unlock()
	if a.api == nil || !ready {
		return nil
	}

	status, err := a.api.WaitingStatus(ctx)
	if err != nil {
		return err
	}
	switch model.WaitingStatus(status) {
	case model.WaitingStatusApproved:
		return a.join(ctx)
	case model.WaitingStatusDenied:
		a.denied()
	}
	return nil
}

// join 입장 완료 (폴링과 버스가 경쟁해도 한쪽만 진행)
func (a *Admission) join(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateWaitingApproval || a.joining {
		a.mu.Unlock()
		return nil
	}
	a.joining = true
	name := a.name
	a.mu.Unlock()

	if a.api != nil {
		if err := a.api.Join(ctx, name); err != nil {
			a.mu.Lock()
			a.joining = false
			a.mu.Unlock()
			a.fail("Could not join the room.")
			return fmt.Errorf("%w: join: %v", ErrAdmissionFailed, err)
		}
	}

	a.mu.Lock()
	cb := a.onAdmitted
	a.mu.Unlock()
	if cb != nil {
		cb(ctx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.joining = false
	if a.state != StateWaitingApproval {
		return nil
	}
	a.state = StateConnected
	log.Printf("[Admission] %s admitted", name)
	return nil
}

func (a *Admission) denied() {
	a.mu.Lock()
	if a.state != StateWaitingApproval {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	a.fail("The host declined your request to join.")
}

func (a *Admission) fail(msg string) {
	a.mu.Lock()
	a.state = StateIdle
	a.alert = msg
	cb := a.onAlert
	a.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
}

// HandleBus 버스 입장 메시지 처리 (승인/거절은 호스트 역할만 인정)
func (a *Admission) HandleBus(ctx context.Context, msg BusMessage) {
	switch msg.Type {
	case MsgRequestEntry:
		if !a.isHost {
			return
		}
		var ann entryAnnouncement
		if err := json.Unmarshal(msg.Data, &ann); err != nil || strings.TrimSpace(ann.Name) == "" {
			return
		}
		a.announce(ctx, ann, msg.From)

	case MsgAdmitGuest:
		if a.isHost || msg.To != a.self || msg.Role != model.RoleHost {
			return
		}
		if err := a.join(ctx); err != nil {
			log.Printf("[Admission] join after bus admit failed: %v", err)
		}

	case MsgDenyGuest:
		if a.isHost || msg.To != a.self || msg.Role != model.RoleHost {
			return
		}
		a.denied()
	}
}

// announce 버스 REQUEST_ENTRY 기록
//
// 서버에 있는 항목은 소유자만 기억하고, 버스 전용 항목은 id 0으로 대기열에 넣는다.
func (a *Admission) announce(ctx context.Context, ann entryAnnouncement, from ClientIdentity) {
	a.mu.Lock()
	if ann.EntryID > 0 {
		a.owners[ann.EntryID] = from
		for i := range a.queue {
			if a.queue[i].ID == ann.EntryID {
				a.queue[i].ClientID = from
			}
		}
		a.mu.Unlock()
		return
	}

	if a.resolved[busKey(from)] {
		a.mu.Unlock()
		return
	}
	for _, e := range a.queue {
		if e.ID == 0 && e.ClientID == from {
			a.mu.Unlock()
			return
		}
	}
	entry := WaitingEntry{Name: strings.TrimSpace(ann.Name), Status: model.WaitingStatusWaiting.String(), ClientID: from}
	a.queue = append(a.queue, entry)
	direct := a.direct
	a.mu.Unlock()

	if direct {
		if err := a.Approve(ctx, entry); err != nil {
			log.Printf("[Admission] auto-admit %s failed: %v", entry.Name, err)
		}
	}
}

// SetDirect 자동 승인 모드 전환
func (a *Admission) SetDirect(direct bool) {
	a.mu.Lock()
	a.direct = direct
	a.mu.Unlock()
}

// Queue 현재 대기 목록
func (a *Admission) Queue() []WaitingEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]WaitingEntry, len(a.queue))
	copy(out, a.queue)
	return out
}

// RefreshQueue 서버 대기 목록과 버스 전용 항목 병합
func (a *Admission) RefreshQueue(ctx context.Context) error {
	if !a.isHost || a.api == nil {
		return nil
	}
	pending, err := a.api.PendingWaiting(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	merged := make([]WaitingEntry, 0, len(pending)+len(a.queue))
	for _, e := range a.queue {
		if e.ID == 0 {
			merged = append(merged, e)
		}
	}
	for _, e := range pending {
		if a.resolved[idKey(e.ID)] {
			continue
		}
		e.ClientID = a.owners[e.ID]
		merged = append(merged, e)
	}
	a.queue = merged
	direct := a.direct
	a.mu.Unlock()

	if direct {
		for _, e := range merged {
			if err := a.Approve(ctx, e); err != nil && !errors.Is(err, ErrAlreadyResolved) {
				log.Printf("[Admission] auto-admit %s failed: %v", e.Name, err)
			}
		}
	}
	return nil
}

// Approve 대기 항목 승인
func (a *Admission) Approve(ctx context.Context, entry WaitingEntry) error {
	return a.decide(ctx, entry, true)
}

// Deny 대기 항목 거절
func (a *Admission) Deny(ctx context.Context, entry WaitingEntry) error {
	return a.decide(ctx, entry, false)
}

func (a *Admission) decide(ctx context.Context, entry WaitingEntry, approve bool) error {
	if !a.isHost {
		return ErrHostOnly
	}

	a.mu.Lock()
	if entry.ClientID == "" && entry.ID > 0 {
		entry.ClientID = a.owners[entry.ID]
	}
	key := entryKey(entry)
	if key == "" {
		a.mu.Unlock()
		return fmt.Errorf("%w: entry has neither id nor owner", ErrInvalidTransition)
	}
	if a.resolved[key] {
		a.mu.Unlock()
		return ErrAlreadyResolved
	}
	// 동시에 들어온 다른 결정은 처리된 것으로 본다
	a.resolved[key] = true
	a.mu.Unlock()

	if entry.ID > 0 {
		if a.api == nil {
			a.release(key)
			return fmt.Errorf("%w: server entry without a server", ErrInvalidTransition)
		}
		if err := a.api.Decide(ctx, entry.ID, approve); err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				a.markResolved(key)
			} else {
				a.release(key)
			}
			return err
		}
	}
	a.markResolved(key)

	if entry.ClientID != "" {
		t := MsgDenyGuest
		if approve {
			t = MsgAdmitGuest
		}
		if msg, err := NewBusMessage(t, a.self, map[string]any{"entry_id": entry.ID}); err == nil {
			msg.To = entry.ClientID
			msg.Role = model.RoleHost
			a.bus.Publish(msg)
		}
	}
	log.Printf("[Admission] entry %d (%s) approve=%t", entry.ID, entry.Name, approve)
	return nil
}

// release 서버 결정 실패 시 예약 해제
func (a *Admission) release(key string) {
	a.mu.Lock()
	delete(a.resolved, key)
	a.mu.Unlock()
}

func (a *Admission) markResolved(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resolved[key] = true
	kept := make([]WaitingEntry, 0, len(a.queue))
	for _, e := range a.queue {
		if entryKey(e) != key {
			kept = append(kept, e)
		}
	}
	a.queue = kept
}

func idKey(id int64) string { return "id:" + strconv.FormatInt(id, 10) }

func busKey(owner ClientIdentity) string { return "bus:" + owner.String() }

func entryKey(e WaitingEntry) string {
	if e.ID > 0 {
		return idKey(e.ID)
	}
	if e.ClientID != "" {
		return busKey(e.ClientID)
	}
	return ""
}
