package roomsync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"virtualroom-backend/internal/model"
)

// Mode 세션 참가자 종류
type Mode int

const (
	ModeGuest Mode = iota
	ModeHost
	// 대기실 없이 들어오는 화이트보드 전용 클라이언트
	ModeCompanion
)

func (m Mode) String() string {
	switch m {
	case ModeGuest:
		return "guest"
	case ModeHost:
		return "host"
	case ModeCompanion:
		return "companion"
	}
	return "unknown"
}

// RoomAPI 세션이 쓰는 방 서버 API 전체
type RoomAPI interface {
	StreamFetcher
	Appender
	AdmissionAPI
	FormLoader
	CreateRoom(ctx context.Context, title, hostName string, companion bool) (string, error)
	EndRoom(ctx context.Context) error
	Leave(ctx context.Context) error
	Participants(ctx context.Context) ([]Participant, error)
	Room() string
}

// Config 세션 설정 (BaseURL이 비고 API가 nil이면 로컬 버스만 사용)
type Config struct {
	BaseURL          string
	RoomCode         string
	Title            string
	Name             string
	Mode             Mode
	HostToken        string
	ParticipantToken string
	// 호스트가 모든 요청을 자동 승인
	Direct bool
	// 호스트가 만드는 방에 저장
	AllowCompanion bool
	// 버스를 서버 중계와 연결 (프로세스 간 fast path)
	Relay    bool
	Interval time.Duration

	Bus        *Bus
	API        RoomAPI
	Canvas     Canvas
	Devices    MediaDevices
	Recognizer SpeechRecognizer
	Media      MediaOptions
}

var errMissingToken = errors.New("missing credentials for this mode")

// Session 방 하나의 참가자 하나
type Session struct {
	cfg    Config
	self   ClientIdentity
	seq    sequencer
	api    RoomAPI
	client *Client
	bus    *Bus
	seen   *seenSet
	sink   EventSink

	streams    *Streams
	admission  *Admission
	whiteboard *Whiteboard
	assessment *Assessment
	media      *Media

	rosterMu sync.RWMutex
	roster   []Participant

	teardownMu sync.Mutex
	teardowns  []func()
	once       sync.Once
}

// NewSession 참가자의 모든 컨트롤러 연결
func NewSession(cfg Config) (*Session, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Bus == nil {
		cfg.Bus = NewBus()
	}
	if cfg.Canvas == nil {
		cfg.Canvas = &MemoryCanvas{}
	}

	s := &Session{
		cfg:  cfg,
		self: NewClientIdentity(),
		bus:  cfg.Bus,
		seen: newSeenSet(4096),
		api:  cfg.API,
	}

	if s.api == nil && cfg.BaseURL != "" {
		client := NewClient(cfg.BaseURL, cfg.RoomCode)
		switch cfg.Mode {
		case ModeHost:
			if cfg.HostToken == "" {
				return nil, errMissingToken
			}
			client.SetHostToken(cfg.HostToken)
		case ModeCompanion:
			if cfg.HostToken == "" && cfg.ParticipantToken == "" {
				return nil, errMissingToken
			}
			if cfg.HostToken != "" {
				client.SetHostToken(cfg.HostToken)
			}
			client.SetParticipantToken(cfg.ParticipantToken)
		}
		s.client = client
		s.api = client
	}

	sinks := FanoutSink{NewBusSink(s.bus, s.role())}
	var (
		fetcher   StreamFetcher = offlineStreams{}
		admission AdmissionAPI
		forms     FormLoader
	)
	if s.api != nil {
		sinks = append(sinks, NewDurableSink(s.api, s.self))
		fetcher, admission, forms = s.api, s.api, s.api
	}
	s.sink = sinks

	isHost := cfg.Mode == ModeHost
	s.whiteboard = NewWhiteboard(isHost, s.self, &s.seq, s.sink, cfg.Canvas)
	s.assessment = NewAssessment(isHost, s.self, &s.seq, s.sink, NewFormCache(forms, cfg.HostToken != ""))
	s.admission = NewAdmission(admission, s.bus, s.self, isHost)
	s.admission.SetDirect(cfg.Direct)
	s.admission.OnAdmitted(func(context.Context) {
		s.streams.ResetAll()
	})

	s.streams = NewStreams(fetcher, s.self, s.seen, StreamHandlers{
		Event: func(_ context.Context, rec EventRecord) {
			if s.whiteboard.ApplyEvent(rec) {
				return
			}
			s.media.ApplyEvent(rec)
		},
		EventState: func(_ context.Context, rec EventRecord) {
			if s.whiteboard.FoldEvent(rec) {
				return
			}
			s.media.ApplyEvent(rec)
		},
		Assessment: s.assessment.ApplyEvent,
	}, cfg.Interval)

	s.media = NewMedia(cfg.Devices, cfg.Recognizer, s.self, &s.seq, s.sink, s.Transcribe, cfg.Media)

	return s, nil
}

// offlineStreams 버스 전용 세션의 fetcher
type offlineStreams struct{}

func (offlineStreams) FetchMessages(context.Context, int64) ([]ChatRecord, error) { return nil, nil }
func (offlineStreams) FetchEvents(context.Context, int64) ([]EventRecord, error) { return nil, nil }
func (offlineStreams) FetchAssessments(context.Context, int64) ([]AssessmentRecord, error) {
	return nil, nil
}
func (offlineStreams) FetchTranscripts(context.Context, int64) ([]TranscriptRecord, error) {
	return nil, nil
}

func (s *Session) role() model.SenderRole {
	if s.cfg.Mode == ModeHost {
		return model.RoleHost
	}
	return model.RoleGuest
}

func (s *Session) Identity() ClientIdentity { return s.self }
func (s *Session) Mode() Mode { return s.cfg.Mode }
func (s *Session) Admission() *Admission { return s.admission }
func (s *Session) Whiteboard() *Whiteboard { return s.whiteboard }
func (s *Session) Assessment() *Assessment { return s.assessment }
func (s *Session) Media() *Media { return s.media }
func (s *Session) Streams() *Streams { return s.streams }
func (s *Session) Bus() *Bus { return s.bus }

func (s *Session) RoomCode() string {
	if s.api != nil {
		return s.api.Room()
	}
	return s.cfg.RoomCode
}

// Say 채팅 전송
func (s *Session) Say(ctx context.Context, text string) error {
	return s.streams.Say(ctx, s.sink, s.role(), s.cfg.Name, text)
}

// Transcribe 자기 확정 발화 추가
func (s *Session) Transcribe(ctx context.Context, text string) error {
	return s.streams.Transcribe(ctx, s.sink, s.role(), s.cfg.Name, text)
}

// RequestEntry 입장 요청
func (s *Session) RequestEntry(ctx context.Context) error {
	return s.admission.RequestEntry(ctx, s.cfg.Name)
}

// Roster 마지막으로 받은 참가자 목록
func (s *Session) Roster() []Participant {
	s.rosterMu.RLock()
	defer s.rosterMu.RUnlock()
	return append([]Participant(nil), s.roster...)
}

func (s *Session) refreshRoster(ctx context.Context) error {
	items, err := s.api.Participants(ctx)
	if err != nil {
		return err
	}
	s.rosterMu.Lock()
	s.roster = items
	s.rosterMu.Unlock()
	return nil
}

// OnTeardown 세션 종료 시 한 번 실행할 fn 등록
func (s *Session) OnTeardown(fn func()) {
	s.teardownMu.Lock()
	s.teardowns = append(s.teardowns, fn)
	s.teardownMu.Unlock()
}

// Open 코드 없이 시작한 호스트면 방 생성
func (s *Session) Open(ctx context.Context) error {
	if s.cfg.Mode != ModeHost || s.api == nil || s.api.Room() != "" {
		return nil
	}
	code, err := s.api.CreateRoom(ctx, s.cfg.Title, s.cfg.Name, s.cfg.AllowCompanion)
	if err != nil {
		return err
	}
	log.Printf("[Room %s] created", code)
	return nil
}

// Run ctx 취소나 Leave 전까지 세션의 모든 루프 실행
//
// 어떤 경로로 끝나든 teardown은 한 번만 실행된다.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.OnTeardown(cancel)

	busCh, unsubscribe := s.bus.Subscribe()
	s.OnTeardown(unsubscribe)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.listen(gctx, busCh)
		return nil
	})

	if s.cfg.Mode != ModeGuest {
		s.admission.ForceConnected(gctx)
	}

	if s.api != nil {
		s.runStreams(gctx, g)
	}

	if s.cfg.Relay && s.client != nil {
		relay := NewBusRelay(s.bus, s.client.BusURL(), s.client.AuthHeader)
		g.Go(func() error {
			// 중계는 호스트와 입장한 게스트만 받는다
			if !s.awaitConnected(gctx) {
				return nil
			}
			return relay.Run(gctx)
		})
	}

	if s.cfg.Mode != ModeCompanion {
		s.OnTeardown(s.media.Close)
		s.media.Start(gctx)
	}

	g.Go(func() error {
		<-gctx.Done()
		_ = s.Close()
		return nil
	})

	log.Printf("[Room %s] %s session running as %s", s.RoomCode(), s.cfg.Mode, s.self)
	return g.Wait()
}

func (s *Session) runStreams(ctx context.Context, g *errgroup.Group) {
	every := func(name string, tick func(context.Context) error) {
		g.Go(func() error { return runEvery(ctx, name, s.cfg.Interval, tick) })
	}

	every(s.streams.Events.Name(), s.whenConnected(s.streams.Events.Tick))
	if s.cfg.Mode == ModeCompanion {
		return
	}
	every(s.streams.Chat.Name(), s.whenConnected(s.streams.Chat.Tick))
	every(s.streams.Assessments.Name(), s.whenConnected(s.streams.Assessments.Tick))
	every(s.streams.Transcripts.Name(), s.whenConnected(s.streams.Transcripts.Tick))
	every("participants", s.whenConnected(s.refreshRoster))

	switch s.cfg.Mode {
	case ModeHost:
		every("waiting", s.admission.RefreshQueue)
	case ModeGuest:
		every("admission", s.admission.PollStatus)
	}
}

// awaitConnected 입장 완료까지 대기 (ctx가 먼저 끝나면 false)
func (s *Session) awaitConnected(ctx context.Context) bool {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for s.admission.State() != StateConnected {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

func (s *Session) whenConnected(tick func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if s.admission.State() != StateConnected {
			return nil
		}
		return tick(ctx)
	}
}

// listen 이 참가자에게 온 버스 메시지 분배
func (s *Session) listen(ctx context.Context, ch <-chan BusMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(ctx, msg)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, msg BusMessage) {
	if msg.From == s.self || (msg.To != "" && msg.To != s.self) {
		return
	}

	switch msg.Type {
	case MsgRequestEntry, MsgAdmitGuest, MsgDenyGuest:
		if s.cfg.Mode != ModeCompanion {
			s.admission.HandleBus(ctx, msg)
		}
		return
	}

	if s.admission.State() != StateConnected {
		return
	}
	if !s.seen.add(msg.From, gjson.GetBytes(msg.Data, keySeq).Int()) {
		return
	}
	if s.whiteboard.ApplyBus(msg) || s.cfg.Mode == ModeCompanion {
		return
	}
	s.assessment.ApplyBus(ctx, msg)
}

// Leave 서버에 알리고 (게스트 퇴장, 호스트 종료) 세션 정리
func (s *Session) Leave(ctx context.Context) error {
	return s.shutdown(ctx)
}

// Close 짧은 best-effort 서버 알림 후 세션 정리
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.shutdown(ctx)
}

func (s *Session) shutdown(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.notifyServer(ctx)
		if err != nil {
			log.Printf("[Room %s] leave notice failed: %v", s.RoomCode(), err)
		}

		s.teardownMu.Lock()
		fns := s.teardowns
		s.teardowns = nil
		s.teardownMu.Unlock()

		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
		log.Printf("[Room %s] %s left", s.RoomCode(), s.self)
	})
	return err
}

func (s *Session) notifyServer(ctx context.Context) error {
	if s.api == nil {
		return nil
	}
	switch s.cfg.Mode {
	case ModeHost:
		return s.api.EndRoom(ctx)
	case ModeGuest:
		if s.admission.State() == StateConnected {
			return s.api.Leave(ctx)
		}
	}
	return nil
}
