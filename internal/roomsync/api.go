package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"
)

var ErrAlreadyResolved = errors.New("waiting entry already resolved")

// APIError 서버의 non-2xx 응답
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("room api: %d %s", e.Status, e.Message)
}

// StatusCode APIError면 HTTP 상태 코드, 아니면 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Client 방 서버 클라이언트
//
// 호스트는 /api 경로에 Bearer 토큰, 게스트는 /public 경로에 참가 토큰을 쓴다.
type Client struct {
	baseURL string
	timeout time.Duration

	mu               sync.RWMutex
	roomCode         string
	hostToken        string
	participantToken string
}

// NewClient Client 생성 (baseURL 예: http://localhost:8080)
func NewClient(baseURL, roomCode string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  5 * time.Second,
		roomCode: roomCode,
	}
}

// SetHostToken 호스트 경로로 전환
func (c *Client) SetHostToken(token string) {
	c.mu.Lock()
	c.hostToken = token
	c.mu.Unlock()
}

// SetParticipantToken 등록 시 받은 게스트 토큰 저장
func (c *Client) SetParticipantToken(token string) {
	c.mu.Lock()
	c.participantToken = token
	c.mu.Unlock()
}

func (c *Client) SetRoom(code string) {
	c.mu.Lock()
	c.roomCode = code
	c.mu.Unlock()
}

func (c *Client) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomCode
}

func (c *Client) IsHost() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hostToken != ""
}

// AuthHeader 현재 인증 정보 헤더 (버스 중계처럼 fiber.Agent 밖의 연결용)
func (c *Client) AuthHeader() http.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := http.Header{}
	if c.hostToken != "" {
		h.Set(fiber.HeaderAuthorization, "Bearer "+c.hostToken)
	}
	if c.participantToken != "" {
		h.Set("X-Participant-Token", c.participantToken)
	}
	return h
}

// BusURL 방 fast-path 중계 WebSocket 주소
func (c *Client) BusURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/rooms/" + url.PathEscape(c.Room()) + "/bus"
}

// roomPath 역할별 방 리소스 경로
func (c *Client) roomPath(suffix string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scope := "/public"
	if c.hostToken != "" {
		scope = "/api"
	}
	return c.baseURL + scope + "/rooms/" + url.PathEscape(c.roomCode) + suffix
}

func (c *Client) authorize(a *fiber.Agent) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.hostToken != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+c.hostToken)
	}
	if c.participantToken != "" {
		a.Set("X-Participant-Token", c.participantToken)
	}
}

// do 요청 후 JSON 응답을 out에 디코딩 (out이 nil이면 생략)
func (c *Client) do(ctx context.Context, a *fiber.Agent, out any) error {
	if err := ctx.Err(); err != nil {
		fiber.ReleaseAgent(a)
		return err
	}

	c.authorize(a)
	a.Timeout(c.timeout)

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("room api: %w", errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = http.StatusText(code)
		}
		return &APIError{Status: code, Message: msg}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("room api: decode: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, fiber.Get(path), out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	a := fiber.Post(path)
	if body != nil {
		a.JSON(body)
	}
	return c.do(ctx, a, out)
}

// CreateRoom 방 생성 후 클라이언트를 그 방으로 설정
func (c *Client) CreateRoom(ctx context.Context, title, hostName string, companion bool) (string, error) {
	var resp struct {
		Code string `json:"code"`
	}
	err := c.post(ctx, c.baseURL+"/api/rooms", map[string]any{
		"title":     title,
		"host_name": hostName,
		"companion": companion,
	}, &resp)
	if err != nil {
		return "", err
	}
	c.SetRoom(resp.Code)
	return resp.Code, nil
}

// EndRoom 방 종료 (호스트)
func (c *Client) EndRoom(ctx context.Context) error {
	return c.post(ctx, c.roomPath("/end"), nil, nil)
}

// Registration 대기실 등록 응답
type Registration struct {
	EntryID int64  `json:"entry_id"`
	Token   string `json:"token"`
	Status  string `json:"status"`
}

// RegisterWaiting 대기실 등록
func (c *Client) RegisterWaiting(ctx context.Context, name string) (*Registration, error) {
	var reg Registration
	if err := c.post(ctx, c.roomPath("/waiting"), map[string]any{"name": name}, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// WaitingStatus 자신의 대기 상태 조회
func (c *Client) WaitingStatus(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, c.roomPath("/waiting/status"), &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Join 승인된 토큰으로 참가
func (c *Client) Join(ctx context.Context, name string) error {
	return c.post(ctx, c.roomPath("/join"), map[string]any{"name": name}, nil)
}

// Leave 퇴장 (이후 토큰 사용 불가)
func (c *Client) Leave(ctx context.Context) error {
	return c.post(ctx, c.roomPath("/leave"), nil, nil)
}

// PendingWaiting 미처리 대기 목록 (호스트)
func (c *Client) PendingWaiting(ctx context.Context) ([]WaitingEntry, error) {
	var resp struct {
		Items []WaitingEntry `json:"items"`
	}
	if err := c.get(ctx, c.roomPath("/waiting"), &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Decide 승인/거절 (호스트). 이미 처리된 항목이면 ErrAlreadyResolved
func (c *Client) Decide(ctx context.Context, entryID int64, approve bool) error {
	action := "/deny"
	if approve {
		action = "/approve"
	}
	err := c.post(ctx, c.roomPath("/waiting/"+strconv.FormatInt(entryID, 10)+action), nil, nil)
	if StatusCode(err) == http.StatusConflict {
		return fmt.Errorf("entry %d: %w", entryID, ErrAlreadyResolved)
	}
	return err
}

// Participants 참가자 목록
func (c *Client) Participants(ctx context.Context) ([]Participant, error) {
	var resp struct {
		Items []Participant `json:"items"`
	}
	if err := c.get(ctx, c.roomPath("/participants"), &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

type page[T any] struct {
	Items  []T   `json:"items"`
	Cursor int64 `json:"cursor"`
}

func fetchSince[T any](ctx context.Context, c *Client, stream string, since int64) ([]T, error) {
	var resp page[T]
	path := c.roomPath("/"+stream) + "?since=" + strconv.FormatInt(since, 10)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// FetchMessages id > since 채팅 조회
func (c *Client) FetchMessages(ctx context.Context, since int64) ([]ChatRecord, error) {
	return fetchSince[ChatRecord](ctx, c, "messages", since)
}

func (c *Client) FetchEvents(ctx context.Context, since int64) ([]EventRecord, error) {
	return fetchSince[EventRecord](ctx, c, "events", since)
}

func (c *Client) FetchAssessments(ctx context.Context, since int64) ([]AssessmentRecord, error) {
	return fetchSince[AssessmentRecord](ctx, c, "assessments", since)
}

func (c *Client) FetchTranscripts(ctx context.Context, since int64) ([]TranscriptRecord, error) {
	return fetchSince[TranscriptRecord](ctx, c, "transcripts", since)
}

// AppendMessage 채팅 추가
func (c *Client) AppendMessage(ctx context.Context, text string, self ClientIdentity) error {
	return c.post(ctx, c.roomPath("/messages"), map[string]any{"text": text, "client_id": self}, nil)
}

// AppendEvent 이벤트 추가
func (c *Client) AppendEvent(ctx context.Context, eventType string, payload map[string]any) error {
	return c.post(ctx, c.roomPath("/events"), map[string]any{
		"event_type": eventType,
		"payload":    payload,
	}, nil)
}

// AppendAssessment 문진 이벤트 추가
func (c *Client) AppendAssessment(ctx context.Context, eventType string, assessmentID int64, questionID string, payload map[string]any) error {
	body := map[string]any{
		"event_type":    eventType,
		"assessment_id": assessmentID,
		"payload":       payload,
	}
	if questionID != "" {
		body["question_id"] = questionID
	}
	return c.post(ctx, c.roomPath("/assessments"), body, nil)
}

// AppendTranscript 자기 발화 추가
func (c *Client) AppendTranscript(ctx context.Context, text string, self ClientIdentity) error {
	return c.post(ctx, c.roomPath("/transcripts"), map[string]any{"text": text, "client_id": self}, nil)
}

// FormByID 소유자 인증으로 양식 조회
func (c *Client) FormByID(ctx context.Context, id int64) (*Form, error) {
	var form Form
	if err := c.get(ctx, c.baseURL+"/api/assessments/"+strconv.FormatInt(id, 10), &form); err != nil {
		return nil, err
	}
	return &form, nil
}

// FormByHash 공개 해시로 양식 조회
func (c *Client) FormByHash(ctx context.Context, hash string) (*Form, error) {
	var form Form
	if err := c.get(ctx, c.baseURL+"/public/assessments/"+url.PathEscape(hash), &form); err != nil {
		return nil, err
	}
	return &form, nil
}

// CreateForm 문진 양식 생성 (호스트)
func (c *Client) CreateForm(ctx context.Context, title string, questions []Question) (*Form, error) {
	var form Form
	if err := c.post(ctx, c.baseURL+"/api/assessments", map[string]any{
		"title":     title,
		"questions": questions,
	}, &form); err != nil {
		return nil, err
	}
	return &form, nil
}
