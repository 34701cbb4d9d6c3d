package roomsync

import (
	"context"
	"strings"
	"sync"
	"time"

	"virtualroom-backend/internal/model"
)

// StreamFetcher 방의 4개 스트림 조회
type StreamFetcher interface {
	FetchMessages(ctx context.Context, since int64) ([]ChatRecord, error)
	FetchEvents(ctx context.Context, since int64) ([]EventRecord, error)
	FetchAssessments(ctx context.Context, since int64) ([]AssessmentRecord, error)
	FetchTranscripts(ctx context.Context, since int64) ([]TranscriptRecord, error)
}

// Line 화면에 표시한 채팅/자막 한 줄
type Line struct {
	ID    int64
	Role  string
	Name  string
	Text  string
	At    time.Time
	Local bool
}

type lineLog struct {
	mu       sync.RWMutex
	lines    []Line
	onAppend func(Line)
}

func (l *lineLog) add(line Line) {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	cb := l.onAppend
	l.mu.Unlock()

	if cb != nil {
		cb(line)
	}
}

// Lines 지금까지 표시한 줄 사본
func (l *lineLog) Lines() []Line {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Line, len(l.lines))
	copy(out, l.lines)
	return out
}

func (l *lineLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lines)
}

// OnAppend 새 줄 콜백 등록
func (l *lineLog) OnAppend(fn func(Line)) {
	l.mu.Lock()
	l.onAppend = fn
	l.mu.Unlock()
}

// ChatLog 채팅 스트림 로컬 뷰
type ChatLog struct {
	lineLog
}

// TranscriptLog 자막 스트림 로컬 뷰
type TranscriptLog struct {
	lineLog
}

// Streams 참가자 하나의 스트림 poller 4개
type Streams struct {
	Chat        *Poller[ChatRecord]
	Events      *Poller[EventRecord]
	Assessments *Poller[AssessmentRecord]
	Transcripts *Poller[TranscriptRecord]

	ChatLog       *ChatLog
	TranscriptLog *TranscriptLog
}

// StreamHandlers 커서/에코 검사를 통과한 원격 레코드 처리
//
// EventState는 히스토리로 건너뛴 이벤트를 받아 상태만 복원한다.
// 문진 히스토리는 그리는 것이 없으므로 Assessment로 그대로 접는다.
type StreamHandlers struct {
	Event      func(ctx context.Context, rec EventRecord)
	EventState func(ctx context.Context, rec EventRecord)
	Assessment func(ctx context.Context, rec AssessmentRecord)
}

// NewStreams poller 4개를 api에 연결 (버스로 이미 적용한 레코드는 seen으로 거름)
func NewStreams(api StreamFetcher, self ClientIdentity, seen *seenSet, h StreamHandlers, interval time.Duration) *Streams {
	s := &Streams{
		ChatLog:       &ChatLog{},
		TranscriptLog: &TranscriptLog{},
	}

	s.Chat = NewPoller(model.StreamMessages.String(), self, api.FetchMessages,
		func(_ context.Context, rec ChatRecord) {
			s.ChatLog.add(Line{ID: rec.ID, Role: rec.SenderRole, Name: rec.SenderName, Text: rec.Text, At: rec.CreatedAt})
		},
		WithInterval[ChatRecord](interval),
	)

	s.Events = NewPoller(model.StreamEvents.String(), self, api.FetchEvents,
		func(ctx context.Context, rec EventRecord) {
			if h.Event != nil {
				h.Event(ctx, rec)
			}
		},
		WithInterval[EventRecord](interval),
		WithFold(func(ctx context.Context, rec EventRecord) {
			if h.EventState != nil {
				h.EventState(ctx, rec)
			}
		}),
		WithSkip(func(rec EventRecord) bool {
			return !seen.add(rec.Origin(), rec.seq())
		}),
	)

	applyAssessment := func(ctx context.Context, rec AssessmentRecord) {
		if h.Assessment != nil {
			h.Assessment(ctx, rec)
		}
	}
	s.Assessments = NewPoller(model.StreamAssessments.String(), self, api.FetchAssessments,
		applyAssessment,
		WithInterval[AssessmentRecord](interval),
		WithFold(applyAssessment),
		WithSkip(func(rec AssessmentRecord) bool {
			return !seen.add(rec.Origin(), rec.seq())
		}),
	)

	s.Transcripts = NewPoller(model.StreamTranscripts.String(), self, api.FetchTranscripts,
		func(_ context.Context, rec TranscriptRecord) {
			s.TranscriptLog.add(Line{ID: rec.ID, Role: rec.SpeakerRole, Name: rec.SpeakerName, Text: rec.Text, At: rec.CreatedAt})
		},
		WithInterval[TranscriptRecord](interval),
	)

	// 각 커서가 히스토리를 건너뛸 때까지 아무것도 그리지 않음
	s.ResetAll()
	return s
}

// ResetAll 모든 커서를 되돌리고 suppress 설정
func (s *Streams) ResetAll() {
	s.Chat.Reset()
	s.Events.Reset()
	s.Assessments.Reset()
	s.Transcripts.Reset()
}

// Live 모든 스트림이 히스토리를 건너뛰었는지
func (s *Streams) Live() bool {
	return !s.Chat.Suppressing() && !s.Events.Suppressing() &&
		!s.Assessments.Suppressing() && !s.Transcripts.Suppressing()
}

// TickAll 모든 스트림 한 라운드 (첫 에러 반환)
func (s *Streams) TickAll(ctx context.Context) error {
	var first error
	for _, tick := range []func(context.Context) error{
		s.Chat.Tick, s.Events.Tick, s.Assessments.Tick, s.Transcripts.Tick,
	} {
		if err := tick(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Say 채팅을 바로 표시하고 스트림에 추가 (추가 실패해도 표시는 유지, 에러는 로그용으로 반환)
func (s *Streams) Say(ctx context.Context, sink EventSink, role model.SenderRole, name, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.ChatLog.add(Line{Role: role.String(), Name: name, Text: text, At: time.Now(), Local: true})
	return sink.Publish(ctx, Outbound{Stream: model.StreamMessages, Text: text})
}

// Transcribe 자기 확정 발화를 표시하고 추가
func (s *Streams) Transcribe(ctx context.Context, sink EventSink, role model.SenderRole, name, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.TranscriptLog.add(Line{Role: role.String(), Name: name, Text: text, At: time.Now(), Local: true})
	return sink.Publish(ctx, Outbound{Stream: model.StreamTranscripts, Text: text})
}

// Snapshot 커서 없는 목록(대기 목록, 참가자 목록)을 주기적으로 통째로 조회
type Snapshot[T any] struct {
	name     string
	fetch    func(ctx context.Context) ([]T, error)
	apply    func(items []T)
	interval time.Duration
}

// NewSnapshot Snapshot 생성
func NewSnapshot[T any](name string, fetch func(ctx context.Context) ([]T, error), apply func([]T), interval time.Duration) *Snapshot[T] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Snapshot[T]{name: name, fetch: fetch, apply: apply, interval: interval}
}

func (s *Snapshot[T]) Tick(ctx context.Context) error {
	items, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.apply(items)
	return nil
}

// Run ctx 취소 전까지 주기적으로 Tick
func (s *Snapshot[T]) Run(ctx context.Context) error {
	return runEvery(ctx, s.name, s.interval, s.Tick)
}
