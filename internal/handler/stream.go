package handler

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"

	"virtualroom-backend/internal/cache"
	"virtualroom-backend/internal/config"
	"virtualroom-backend/internal/middleware"
	"virtualroom-backend/internal/model"
	"virtualroom-backend/internal/store"
)

// TranscriptMirror 최근 자막 캐시 (Redis 미설정 시 nil)
type TranscriptMirror interface {
	AddTranscript(ctx context.Context, roomCode string, t *cache.RoomTranscript) error
}

// StreamHandler 방 단위 append-only 스트림 핸들러
//
// 네 스트림 모두 GET ?since=N 은 id > N 인 레코드를 id 오름차순으로 돌려주고,
// POST 는 한 건을 추가한다. 페이로드는 해석하지 않고 그대로 저장한다.
type StreamHandler struct {
	store  store.Store
	mirror TranscriptMirror
	cfg    config.SyncConfig
}

// NewStreamHandler StreamHandler 생성
func NewStreamHandler(s store.Store, mirror TranscriptMirror, cfg config.SyncConfig) *StreamHandler {
	return &StreamHandler{store: s, mirror: mirror, cfg: cfg}
}

// MessageResponse 채팅 메시지 응답
type MessageResponse struct {
	ID         int64  `json:"id"`
	SenderRole string `json:"sender_role"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
	ClientID   string `json:"client_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// EventResponse 이벤트 응답
type EventResponse struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

// AssessmentEventResponse 문진 이벤트 응답
type AssessmentEventResponse struct {
	ID           int64           `json:"id"`
	EventType    string          `json:"event_type"`
	AssessmentID int64           `json:"assessment_id"`
	QuestionID   *string         `json:"question_id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    string          `json:"created_at"`
}

// TranscriptResponse 자막 응답
type TranscriptResponse struct {
	ID          int64  `json:"id"`
	SpeakerRole string `json:"speaker_role"`
	SpeakerName string `json:"speaker_name"`
	Text        string `json:"text"`
	ClientID    string `json:"client_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// TextRequest 채팅/자막 추가 요청
type TextRequest struct {
	Text     string `json:"text"`
	ClientID string `json:"client_id"`
}

// senderName 요청자 표시 이름 (호스트는 방 정보, 게스트는 참가자 정보)
func senderName(c *fiber.Ctx) (model.SenderRole, string) {
	role := middleware.RoleFromContext(c)
	if participant := middleware.ParticipantFromContext(c); participant != nil {
		return role, participant.Name
	}
	return role, middleware.RoomFromContext(c).HostName
}

func invalidSince(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "invalid since cursor",
	})
}

func listFailed(c *fiber.Ctx, stream model.Stream, err error) error {
	log.Printf("[Stream %s] list failed: %v", stream, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "failed to get " + stream.String(),
	})
}

func appendFailed(c *fiber.Ctx, stream model.Stream, err error) error {
	log.Printf("[Stream %s] append failed: %v", stream, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "failed to append " + stream.String(),
	})
}

// objectPayload 요청 본문의 payload 필드 (없으면 빈 객체, 객체가 아니면 거부)
func (h *StreamHandler) objectPayload(c *fiber.Ctx, body []byte) (string, bool, error) {
	payload := gjson.GetBytes(body, "payload")
	if !payload.Exists() || payload.Type == gjson.Null {
		return "{}", true, nil
	}
	if !payload.IsObject() {
		return "", false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "payload must be a JSON object",
		})
	}
	if h.cfg.MaxPayloadSize > 0 && len(payload.Raw) > h.cfg.MaxPayloadSize {
		return "", false, c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "payload too large",
		})
	}
	return payload.Raw, true, nil
}

// ListMessages GET messages?since=N
func (h *StreamHandler) ListMessages(c *fiber.Ctx) error {
	since, ok := sinceParam(c)
	if !ok {
		return invalidSince(c)
	}

	room := middleware.RoomFromContext(c)
	records, err := h.store.MessagesSince(c.UserContext(), room.ID, since, h.cfg.PageLimit)
	if err != nil {
		return listFailed(c, model.StreamMessages, err)
	}

	resp := ListResponse[MessageResponse]{Items: make([]MessageResponse, len(records)), Cursor: since}
	for i, m := range records {
		resp.Items[i] = MessageResponse{
			ID:         m.ID,
			SenderRole: m.SenderRole,
			SenderName: m.SenderName,
			Text:       m.Text,
			ClientID:   m.ClientID,
			CreatedAt:  m.CreatedAt.Format(timeLayout),
		}
		resp.Cursor = m.ID
	}
	return c.JSON(resp)
}

// AppendMessage POST messages
func (h *StreamHandler) AppendMessage(c *fiber.Ctx) error {
	var req TextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	text := truncate(sanitizeString(req.Text), h.cfg.MaxTextLength)
	if text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text is required",
		})
	}

	room := middleware.RoomFromContext(c)
	role, name := senderName(c)
	msg := &model.ChatMessage{
		RoomID:     room.ID,
		SenderRole: role.String(),
		SenderName: name,
		Text:       text,
		ClientID:   truncate(req.ClientID, 64),
	}
	if err := h.store.AppendMessage(c.UserContext(), msg); err != nil {
		return appendFailed(c, model.StreamMessages, err)
	}

	return c.Status(fiber.StatusCreated).JSON(MessageResponse{
		ID:         msg.ID,
		SenderRole: msg.SenderRole,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		ClientID:   msg.ClientID,
		CreatedAt:  msg.CreatedAt.Format(timeLayout),
	})
}

// ListEvents GET events?since=N
func (h *StreamHandler) ListEvents(c *fiber.Ctx) error {
	since, ok := sinceParam(c)
	if !ok {
		return invalidSince(c)
	}

	room := middleware.RoomFromContext(c)
	records, err := h.store.EventsSince(c.UserContext(), room.ID, since, h.cfg.PageLimit)
	if err != nil {
		return listFailed(c, model.StreamEvents, err)
	}

	resp := ListResponse[EventResponse]{Items: make([]EventResponse, len(records)), Cursor: since}
	for i, ev := range records {
		resp.Items[i] = toEventResponse(&ev)
		resp.Cursor = ev.ID
	}
	return c.JSON(resp)
}

func toEventResponse(ev *model.RoomEvent) EventResponse {
	return EventResponse{
		ID:        ev.ID,
		EventType: ev.EventType,
		Payload:   json.RawMessage(ev.Payload),
		CreatedAt: ev.CreatedAt.Format(timeLayout),
	}
}

// AppendEvent POST events {event_type, payload}
func (h *StreamHandler) AppendEvent(c *fiber.Ctx) error {
	body := c.Body()
	if !gjson.ValidBytes(body) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	eventType := model.RoomEventType(gjson.GetBytes(body, "event_type").String())
	if !eventType.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown event type",
		})
	}
	if eventType.HostOnly() && middleware.RoleFromContext(c) != model.RoleHost {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "only the host can send " + eventType.String(),
		})
	}

	payload, ok, err := h.objectPayload(c, body)
	if !ok {
		return err
	}

	room := middleware.RoomFromContext(c)
	ev := &model.RoomEvent{
		RoomID:    room.ID,
		EventType: eventType.String(),
		Payload:   payload,
	}
	if err := h.store.AppendEvent(c.UserContext(), ev); err != nil {
		return appendFailed(c, model.StreamEvents, err)
	}

	return c.Status(fiber.StatusCreated).JSON(toEventResponse(ev))
}

// ListAssessments GET assessments?since=N
func (h *StreamHandler) ListAssessments(c *fiber.Ctx) error {
	since, ok := sinceParam(c)
	if !ok {
		return invalidSince(c)
	}

	room := middleware.RoomFromContext(c)
	records, err := h.store.AssessmentEventsSince(c.UserContext(), room.ID, since, h.cfg.PageLimit)
	if err != nil {
		return listFailed(c, model.StreamAssessments, err)
	}

	resp := ListResponse[AssessmentEventResponse]{Items: make([]AssessmentEventResponse, len(records)), Cursor: since}
	for i, ev := range records {
		resp.Items[i] = toAssessmentEventResponse(&ev)
		resp.Cursor = ev.ID
	}
	return c.JSON(resp)
}

func toAssessmentEventResponse(ev *model.AssessmentEvent) AssessmentEventResponse {
	return AssessmentEventResponse{
		ID:           ev.ID,
		EventType:    ev.EventType,
		AssessmentID: ev.AssessmentID,
		QuestionID:   ev.QuestionID,
		Payload:      json.RawMessage(ev.Payload),
		CreatedAt:    ev.CreatedAt.Format(timeLayout),
	}
}

// AppendAssessment POST assessments {event_type, assessment_id, question_id?, payload}
func (h *StreamHandler) AppendAssessment(c *fiber.Ctx) error {
	body := c.Body()
	if !gjson.ValidBytes(body) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	fields := gjson.GetManyBytes(body, "event_type", "assessment_id", "question_id")
	eventType := model.AssessmentEventType(fields[0].String())
	if !eventType.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown assessment event type",
		})
	}
	if !eventType.AllowedFor(middleware.RoleFromContext(c)) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": eventType.String() + " is not allowed for this role",
		})
	}

	assessmentID := fields[1].Int()
	if assessmentID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "assessment_id is required",
		})
	}

	var questionID *string
	if q := truncate(fields[2].String(), 64); q != "" {
		questionID = &q
	}
	if eventType == model.AssessmentAnswer && questionID == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "question_id is required for answer",
		})
	}

	payload, ok, err := h.objectPayload(c, body)
	if !ok {
		return err
	}

	room := middleware.RoomFromContext(c)
	ev := &model.AssessmentEvent{
		RoomID:       room.ID,
		EventType:    eventType.String(),
		AssessmentID: assessmentID,
		QuestionID:   questionID,
		Payload:      payload,
	}
	if err := h.store.AppendAssessmentEvent(c.UserContext(), ev); err != nil {
		return appendFailed(c, model.StreamAssessments, err)
	}

	return c.Status(fiber.StatusCreated).JSON(toAssessmentEventResponse(ev))
}

// ListTranscripts GET transcripts?since=N
func (h *StreamHandler) ListTranscripts(c *fiber.Ctx) error {
	since, ok := sinceParam(c)
	if !ok {
		return invalidSince(c)
	}

	room := middleware.RoomFromContext(c)
	records, err := h.store.TranscriptsSince(c.UserContext(), room.ID, since, h.cfg.PageLimit)
	if err != nil {
		return listFailed(c, model.StreamTranscripts, err)
	}

	resp := ListResponse[TranscriptResponse]{Items: make([]TranscriptResponse, len(records)), Cursor: since}
	for i, t := range records {
		resp.Items[i] = toTranscriptResponse(&t)
		resp.Cursor = t.ID
	}
	return c.JSON(resp)
}

func toTranscriptResponse(t *model.TranscriptEntry) TranscriptResponse {
	return TranscriptResponse{
		ID:          t.ID,
		SpeakerRole: t.SpeakerRole,
		SpeakerName: t.SpeakerName,
		Text:        t.Text,
		ClientID:    t.ClientID,
		CreatedAt:   t.CreatedAt.Format(timeLayout),
	}
}

// AppendTranscript POST transcripts (발화자 본인만 자기 발화를 추가)
func (h *StreamHandler) AppendTranscript(c *fiber.Ctx) error {
	var req TextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	text := truncate(sanitizeString(req.Text), h.cfg.MaxTextLength)
	if text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text is required",
		})
	}

	room := middleware.RoomFromContext(c)
	role, name := senderName(c)
	entry := &model.TranscriptEntry{
		RoomID:      room.ID,
		SpeakerRole: role.String(),
		SpeakerName: name,
		Text:        text,
		ClientID:    truncate(req.ClientID, 64),
	}
	if err := h.store.AppendTranscript(c.UserContext(), entry); err != nil {
		return appendFailed(c, model.StreamTranscripts, err)
	}

	if h.mirror != nil {
		mirrored := &cache.RoomTranscript{
			ID:          entry.ID,
			SpeakerRole: entry.SpeakerRole,
			SpeakerName: entry.SpeakerName,
			Text:        entry.Text,
			Timestamp:   entry.CreatedAt,
		}
		if err := h.mirror.AddTranscript(c.UserContext(), room.Code, mirrored); err != nil {
			log.Printf("[Room %s] transcript mirror failed: %v", room.Code, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(toTranscriptResponse(entry))
}
