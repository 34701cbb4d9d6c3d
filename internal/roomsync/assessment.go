package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/tidwall/gjson"

	"virtualroom-backend/internal/model"
)

var ErrNoActiveAssessment = errors.New("no active assessment")

// RunStatus 문진 진행 상태
type RunStatus int

const (
	RunIdle RunStatus = iota
	RunActive
	RunCompleted
)

func (s RunStatus) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunActive:
		return "active"
	case RunCompleted:
		return "completed"
	}
	return "unknown"
}

// Answer 문항별 최신 응답
type Answer struct {
	Value string
	Score int
}

// RunState 문진 스트림을 접은 현재 상태
type RunState struct {
	AssessmentID int64
	FormHash     string
	FormTitle    string
	Status       RunStatus
	Answers      map[string]Answer
}

// Score 응답한 문항 점수 합계
func (r RunState) Score() int {
	total := 0
	for _, a := range r.Answers {
		total += a.Score
	}
	return total
}

func (r RunState) clone() RunState {
	out := r
	out.Answers = make(map[string]Answer, len(r.Answers))
	for k, v := range r.Answers {
		out.Answers[k] = v
	}
	return out
}

type FormLoader interface {
	FormByID(ctx context.Context, id int64) (*Form, error)
	FormByHash(ctx context.Context, hash string) (*Form, error)
}

// FormCache 세션 동안 받은 양식 캐시 (같은 문진 id는 한 번만 조회)
type FormCache struct {
	loader        FormLoader
	authenticated bool

	mu    sync.Mutex
	forms map[int64]*Form
}

// NewFormCache FormCache 생성 (인증된 호출자는 id로, 나머지는 공개 해시로 조회)
func NewFormCache(loader FormLoader, authenticated bool) *FormCache {
	return &FormCache{
		loader:        loader,
		authenticated: authenticated,
		forms:         make(map[int64]*Form),
	}
}

// Get 문진 id의 양식 조회
func (c *FormCache) Get(ctx context.Context, id int64, hash string) (*Form, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if form, ok := c.forms[id]; ok {
		return form, nil
	}
	if c.loader == nil {
		return nil, fmt.Errorf("form %d: no loader", id)
	}

	var (
		form *Form
		err  error
	)
	switch {
	case c.authenticated:
		form, err = c.loader.FormByID(ctx, id)
	case hash != "":
		form, err = c.loader.FormByHash(ctx, hash)
	default:
		return nil, fmt.Errorf("form %d: no public hash", id)
	}
	if err != nil {
		return nil, err
	}
	c.forms[id] = form
	return form, nil
}

// Assessment 실시간 공유 문진
//
// 호스트가 시작하고 응답을 보며, 게스트가 응답하고 완료한다.
type Assessment struct {
	isHost bool
	self   ClientIdentity
	seq    *sequencer
	sink   EventSink
	forms  *FormCache

	mu       sync.RWMutex
	run      RunState
	form     *Form
	onChange func(RunState)
}

// NewAssessment Assessment 생성
func NewAssessment(isHost bool, self ClientIdentity, seq *sequencer, sink EventSink, forms *FormCache) *Assessment {
	return &Assessment{
		isHost: isHost,
		self:   self,
		seq:    seq,
		sink:   sink,
		forms:  forms,
		run:    RunState{Answers: map[string]Answer{}},
	}
}

// OnChange 상태 변경 콜백 등록
func (a *Assessment) OnChange(fn func(RunState)) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// State 현재 상태 사본
func (a *Assessment) State() RunState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.run.clone()
}

// Form 현재 문진 양식 (로드 전이면 nil)
func (a *Assessment) Form() *Form {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.form
}

// Start 문진 시작 (호스트)
func (a *Assessment) Start(ctx context.Context, id int64) error {
	if !a.isHost {
		return ErrHostOnly
	}
	form, err := a.forms.Get(ctx, id, "")
	if err != nil {
		return fmt.Errorf("load form %d: %w", id, err)
	}

	a.transition(func(r *RunState) bool {
		*r = RunState{
			AssessmentID: id,
			FormHash:     form.PublicHash,
			FormTitle:    form.Title,
			Status:       RunActive,
			Answers:      map[string]Answer{},
		}
		a.form = form
		return true
	})

	payload := stamp(map[string]any{
		"assessment_id": id,
		"form_hash":     form.PublicHash,
		"form_title":    form.Title,
	}, a.self, a.seq)
	return a.sink.Publish(ctx, Outbound{
		Stream:       model.StreamAssessments,
		EventType:    model.AssessmentStart.String(),
		AssessmentID: id,
		Payload:      payload,
		Bus:          busMirror(MsgStartAssessment, a.self, payload),
	})
}

// Answer 응답을 로컬에 기록하고 호스트에 전송
func (a *Assessment) Answer(ctx context.Context, questionID, value string, score int) error {
	if a.isHost {
		return ErrGuestOnly
	}

	var id int64
	applied := a.transition(func(r *RunState) bool {
		if r.Status != RunActive {
			return false
		}
		r.Answers[questionID] = Answer{Value: value, Score: score}
		id = r.AssessmentID
		return true
	})
	if !applied {
		return ErrNoActiveAssessment
	}

	payload := stamp(map[string]any{
		"assessment_id": id,
		"question_id":   questionID,
		"value":         value,
		"score":         score,
	}, a.self, a.seq)
	return a.sink.Publish(ctx, Outbound{
		Stream:       model.StreamAssessments,
		EventType:    model.AssessmentAnswer.String(),
		AssessmentID: id,
		QuestionID:   questionID,
		Payload:      payload,
		Bus:          busMirror(MsgUpdateAnswer, a.self, payload),
	})
}

// Finish 문진 완료 (게스트)
func (a *Assessment) Finish(ctx context.Context) error {
	if a.isHost {
		return ErrGuestOnly
	}

	var id int64
	applied := a.transition(func(r *RunState) bool {
		if r.Status != RunActive {
			return false
		}
		r.Status = RunCompleted
		id = r.AssessmentID
		return true
	})
	if !applied {
		return ErrNoActiveAssessment
	}

	payload := stamp(map[string]any{"assessment_id": id}, a.self, a.seq)
	return a.sink.Publish(ctx, Outbound{
		Stream:       model.StreamAssessments,
		EventType:    model.AssessmentFinish.String(),
		AssessmentID: id,
		Payload:      payload,
		Bus:          busMirror(MsgFinishAssessment, a.self, payload),
	})
}

// ApplyEvent 원격 문진 이벤트 적용
func (a *Assessment) ApplyEvent(ctx context.Context, rec AssessmentRecord) {
	id := rec.AssessmentID
	if id == 0 {
		id = gjson.GetBytes(rec.Payload, "assessment_id").Int()
	}
	a.apply(ctx, model.AssessmentEventType(rec.EventType), id, rec.Payload)
}

// ApplyBus 버스 문진 메시지 적용 (보낼 권한이 없는 역할의 메시지는 소비만 하고 무시)
func (a *Assessment) ApplyBus(ctx context.Context, msg BusMessage) bool {
	var t model.AssessmentEventType
	switch msg.Type {
	case MsgStartAssessment:
		t = model.AssessmentStart
	case MsgUpdateAnswer:
		t = model.AssessmentAnswer
	case MsgFinishAssessment:
		t = model.AssessmentFinish
	default:
		return false
	}
	if !t.AllowedFor(msg.Role) {
		return true
	}
	a.apply(ctx, t, gjson.GetBytes(msg.Data, "assessment_id").Int(), msg.Data)
	return true
}

func (a *Assessment) apply(ctx context.Context, t model.AssessmentEventType, id int64, payload json.RawMessage) {
	switch t {
	case model.AssessmentStart:
		hash := gjson.GetBytes(payload, "form_hash").String()
		a.transition(func(r *RunState) bool {
			*r = RunState{
				AssessmentID: id,
				FormHash:     hash,
				FormTitle:    gjson.GetBytes(payload, "form_title").String(),
				Status:       RunActive,
				Answers:      map[string]Answer{},
			}
			a.form = nil
			return true
		})
		if a.forms != nil {
			form, err := a.forms.Get(ctx, id, hash)
			if err != nil {
				log.Printf("[Assessment] load form %d failed: %v", id, err)
				return
			}
			a.mu.Lock()
			if a.run.AssessmentID == id {
				a.form = form
			}
			a.mu.Unlock()
		}

	case model.AssessmentAnswer:
		p := gjson.GetManyBytes(payload, "question_id", "value", "score")
		if p[0].String() == "" {
			return
		}
		a.transition(func(r *RunState) bool {
			if r.Status != RunActive || r.AssessmentID != id {
				return false
			}
			r.Answers[p[0].String()] = Answer{Value: p[1].String(), Score: int(p[2].Int())}
			return true
		})

	case model.AssessmentFinish:
		a.transition(func(r *RunState) bool {
			if r.Status != RunActive || r.AssessmentID != id {
				return false
			}
			r.Status = RunCompleted
			return true
		})
	}
}

// transition 잠금 상태에서 fn 적용, 바뀌면 알림
func (a *Assessment) transition(fn func(r *RunState) bool) bool {
	a.mu.Lock()
	changed := fn(&a.run)
	var snapshot RunState
	cb := a.onChange
	if changed && cb != nil {
		snapshot = a.run.clone()
	}
	a.mu.Unlock()

	if changed && cb != nil {
		cb(snapshot)
	}
	return changed
}
