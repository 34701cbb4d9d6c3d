package roomsync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"virtualroom-backend/internal/model"
)

var (
	ErrDeviceUnavailable = errors.New("media device unavailable")
	ErrSpeechUnsupported = errors.New("speech recognition not supported")
)

// TrackKind 미디어 트랙 종류
type TrackKind string

const (
	TrackAudio  TrackKind = "audio"
	TrackVideo  TrackKind = "video"
	TrackScreen TrackKind = "screen"
)

// Track 캡처 중인 트랙
type Track interface {
	Kind() TrackKind
	SetEnabled(enabled bool)
	Enabled() bool
	Stop()
	// OnEnded 앱 밖에서 끝난 경우 콜백 (OS의 공유 중지 등)
	OnEnded(fn func())
}

// LevelAnalyzer 오디오 입력 레벨 측정 (0..1)
type LevelAnalyzer interface {
	Level() float64
	Close() error
}

// MediaDevices 런타임 캡처 장치
type MediaDevices interface {
	UserMedia(ctx context.Context) (audio, video Track, err error)
	DisplayMedia(ctx context.Context) (Track, error)
	Analyzer(audio Track) (LevelAnalyzer, error)
}

// SpeechRecognizer ctx 종료나 인식 실패 전까지 듣고, 확정 발화마다 onFinal 호출
type SpeechRecognizer interface {
	Listen(ctx context.Context, onFinal func(text string)) error
}

type MediaOptions struct {
	SampleInterval    time.Duration
	SpeakingThreshold float64
	RestartDelay      time.Duration
}

// Media 로컬 캡처와 관련 시그널 이벤트
type Media struct {
	devices    MediaDevices
	recognizer SpeechRecognizer
	self       ClientIdentity
	seq        *sequencer
	sink       EventSink
	transcribe func(ctx context.Context, text string) error
	opts       MediaOptions

	mu           sync.Mutex
	audio        Track
	video        Track
	screen       Track
	analyzer     LevelAnalyzer
	level        float64
	speaking     bool
	transcribing bool
	stopMeter    context.CancelFunc
	stopSpeech   context.CancelFunc
	signalCtx    context.Context
	closed       bool

	remoteSharing      bool
	remoteTranscribing bool

	wg sync.WaitGroup
}

// NewMedia Media 생성
//
// devices, recognizer는 런타임에 없으면 nil. transcribe는 자기 발화를 저장한다.
func NewMedia(devices MediaDevices, recognizer SpeechRecognizer, self ClientIdentity, seq *sequencer, sink EventSink, transcribe func(ctx context.Context, text string) error, opts MediaOptions) *Media {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = 100 * time.Millisecond
	}
	if opts.SpeakingThreshold <= 0 {
		opts.SpeakingThreshold = 0.05
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 300 * time.Millisecond
	}
	return &Media{
		devices:    devices,
		recognizer: recognizer,
		self:       self,
		seq:        seq,
		sink:       sink,
		transcribe: transcribe,
		opts:       opts,
		signalCtx:  context.Background(),
	}
}

// Start 카메라/마이크 획득 (실패해도 에러 없이 둘 다 꺼진 채 세션 진행)
func (m *Media) Start(ctx context.Context) {
	m.mu.Lock()
	m.signalCtx = context.WithoutCancel(ctx)
	m.mu.Unlock()

	if m.devices == nil {
		return
	}
	audio, video, err := m.devices.UserMedia(ctx)
	if err != nil {
		log.Printf("[Media] camera/microphone unavailable: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		stopTrack(audio)
		stopTrack(video)
		return
	}
	m.audio, m.video = audio, video

	if audio == nil {
		return
	}
	analyzer, err := m.devices.Analyzer(audio)
	if err != nil {
		log.Printf("[Media] level meter unavailable: %v", err)
		return
	}
	meterCtx, cancel := context.WithCancel(context.Background())
	m.analyzer = analyzer
	m.stopMeter = cancel
	m.wg.Add(1)
	go m.meter(meterCtx, analyzer)
}

func stopTrack(t Track) {
	if t != nil {
		t.Stop()
	}
}

// meter 취소 전까지 마이크 레벨 측정
func (m *Media) meter(ctx context.Context, analyzer LevelAnalyzer) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level := analyzer.Level()
			m.mu.Lock()
			m.level = level
			m.speaking = level >= m.opts.SpeakingThreshold && m.audio != nil && m.audio.Enabled()
			m.mu.Unlock()
		}
	}
}

func (m *Media) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Speaking 현재 말하는 중인지
func (m *Media) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaking
}

// SetMicEnabled 음소거 전환 (트랙은 유지)
func (m *Media) SetMicEnabled(enabled bool) error {
	return m.toggle(func() Track { return m.audio }, enabled)
}

// SetCameraEnabled 카메라 전환 (트랙은 유지)
func (m *Media) SetCameraEnabled(enabled bool) error {
	return m.toggle(func() Track { return m.video }, enabled)
}

func (m *Media) toggle(track func() Track, enabled bool) error {
	m.mu.Lock()
	t := track()
	m.mu.Unlock()
	if t == nil {
		return ErrDeviceUnavailable
	}
	t.SetEnabled(enabled)
	return nil
}

func (m *Media) MicOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio != nil && m.audio.Enabled()
}

func (m *Media) CameraOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.video != nil && m.video.Enabled()
}

func (m *Media) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

// StartScreenShare 화면 공유 시작 후 알림
func (m *Media) StartScreenShare(ctx context.Context) error {
	if m.devices == nil {
		return ErrDeviceUnavailable
	}
	m.mu.Lock()
	if m.screen != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	track, err := m.devices.DisplayMedia(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.screen = track
	m.mu.Unlock()

	track.OnEnded(func() {
		m.screenEnded(track)
	})
	return m.signal(ctx, model.EventScreenShareOn)
}

// StopScreenShare 화면 공유 중지 후 알림
func (m *Media) StopScreenShare(ctx context.Context) error {
	m.mu.Lock()
	track := m.screen
	m.screen = nil
	m.mu.Unlock()

	if track == nil {
		return nil
	}
	track.Stop()
	return m.signal(ctx, model.EventScreenShareOff)
}

// screenEnded OS에서 중지한 공유를 로컬 상태에 반영
func (m *Media) screenEnded(track Track) {
	m.mu.Lock()
	if m.screen != track {
		m.mu.Unlock()
		return
	}
	m.screen = nil
	ctx := m.signalCtx
	m.mu.Unlock()

	if err := m.signal(ctx, model.EventScreenShareOff); err != nil {
		log.Printf("[Media] screen_share_off signal failed: %v", err)
	}
}

func (m *Media) Transcribing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcribing
}

// SetTranscription 음성 인식 켜기/끄기
func (m *Media) SetTranscription(ctx context.Context, on bool) error {
	if m.recognizer == nil {
		return ErrSpeechUnsupported
	}

	m.mu.Lock()
	if m.transcribing == on || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.transcribing = on
	if on {
		speechCtx, cancel := context.WithCancel(m.signalCtx)
		m.stopSpeech = cancel
		m.wg.Add(1)
		go m.listen(speechCtx)
	} else if m.stopSpeech != nil {
		m.stopSpeech()
		m.stopSpeech = nil
	}
	m.mu.Unlock()

	t := model.EventTranscriptionOff
	if on {
		t = model.EventTranscriptionOn
	}
	return m.signal(ctx, t)
}

// listen 켜져 있는 동안 인식 유지 (에러는 로그 후 재시작)
func (m *Media) listen(ctx context.Context) {
	defer m.wg.Done()

	onFinal := func(text string) {
		if m.transcribe == nil {
			return
		}
		if err := m.transcribe(ctx, text); err != nil {
			log.Printf("[Media] transcript append failed: %v", err)
		}
	}

	for {
		err := m.recognizer.Listen(ctx, onFinal)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[Media] speech recognition error, restarting: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.opts.RestartDelay):
		}
	}
}

func (m *Media) signal(ctx context.Context, t model.RoomEventType) error {
	return m.sink.Publish(ctx, Outbound{
		Stream:    model.StreamEvents,
		EventType: t.String(),
		Payload:   stamp(nil, m.self, m.seq),
	})
}

// ApplyEvent 상대방 미디어 시그널 반영 (미디어 이벤트였으면 true)
func (m *Media) ApplyEvent(rec EventRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch model.RoomEventType(rec.EventType) {
	case model.EventScreenShareOn:
		m.remoteSharing = true
	case model.EventScreenShareOff:
		m.remoteSharing = false
	case model.EventTranscriptionOn:
		m.remoteTranscribing = true
	case model.EventTranscriptionOff:
		m.remoteTranscribing = false
	default:
		return false
	}
	return true
}

// RemoteSharing 상대방 화면 공유 여부
func (m *Media) RemoteSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteSharing
}

// RemoteTranscribing 상대방 음성 인식 여부
func (m *Media) RemoteTranscribing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteTranscribing
}

// Close 모든 루프를 멈추고 트랙 해제 (중복 호출 가능)
func (m *Media) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.stopMeter != nil {
		m.stopMeter()
	}
	if m.stopSpeech != nil {
		m.stopSpeech()
	}
	m.transcribing = false
	audio, video, screen, analyzer := m.audio, m.video, m.screen, m.analyzer
	m.audio, m.video, m.screen, m.analyzer = nil, nil, nil, nil
	m.mu.Unlock()

	m.wg.Wait()

	stopTrack(audio)
	stopTrack(video)
	stopTrack(screen)
	if analyzer != nil {
		if err := analyzer.Close(); err != nil {
			log.Printf("[Media] analyzer close failed: %v", err)
		}
	}
}
