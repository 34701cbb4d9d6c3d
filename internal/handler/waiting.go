package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"virtualroom-backend/internal/auth"
	"virtualroom-backend/internal/middleware"
	"virtualroom-backend/internal/model"
	"virtualroom-backend/internal/store"
)

// WaitingHandler 대기실 핸들러
type WaitingHandler struct {
	store store.Store
}

// NewWaitingHandler WaitingHandler 생성
func NewWaitingHandler(s store.Store) *WaitingHandler {
	return &WaitingHandler{store: s}
}

// WaitingEntryResponse 대기실 항목 응답
type WaitingEntryResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// RegisterWaitingRequest 입장 요청
type RegisterWaitingRequest struct {
	Name string `json:"name"`
}

// RegisterWaitingResponse 입장 요청 결과 (토큰은 이 응답에서만 전달)
type RegisterWaitingResponse struct {
	EntryID int64  `json:"entry_id"`
	Token   string `json:"token"`
	Status  string `json:"status"`
}

func toWaitingEntryResponse(e *model.WaitingEntry) WaitingEntryResponse {
	return WaitingEntryResponse{
		ID:        e.ID,
		Name:      e.Name,
		Status:    e.Status,
		CreatedAt: e.CreatedAt.Format(timeLayout),
	}
}

// Register 게스트 입장 요청 등록
func (h *WaitingHandler) Register(c *fiber.Ctx) error {
	room := middleware.RoomFromContext(c)

	var req RegisterWaitingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	name := truncate(sanitizeString(req.Name), 100)
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}

	entry := &model.WaitingEntry{
		RoomID: room.ID,
		Name:   name,
		Token:  auth.NewParticipantToken(),
	}
	if err := h.store.RegisterWaiting(c.UserContext(), entry); err != nil {
		log.Printf("[Room %s] waiting register failed: %v", room.Code, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to register waiting entry",
		})
	}

	log.Printf("[Room %s] guest waiting: entry=%d name=%q", room.Code, entry.ID, entry.Name)
	return c.Status(fiber.StatusCreated).JSON(RegisterWaitingResponse{
		EntryID: entry.ID,
		Token:   entry.Token,
		Status:  entry.Status,
	})
}

// Status 게스트 본인의 승인 상태 조회
func (h *WaitingHandler) Status(c *fiber.Ctx) error {
	room := middleware.RoomFromContext(c)

	token := auth.ParticipantToken(c)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing participant token",
		})
	}

	entry, err := h.store.WaitingByToken(c.UserContext(), room.ID, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "waiting entry not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load waiting entry",
		})
	}

	return c.JSON(toWaitingEntryResponse(entry))
}

// List 승인 대기 중인 항목 목록 (호스트)
func (h *WaitingHandler) List(c *fiber.Ctx) error {
	room := middleware.RoomFromContext(c)

	entries, err := h.store.PendingWaiting(c.UserContext(), room.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get waiting entries",
		})
	}

	items := make([]WaitingEntryResponse, len(entries))
	for i := range entries {
		items[i] = toWaitingEntryResponse(&entries[i])
	}

	return c.JSON(fiber.Map{
		"items": items,
		"total": len(items),
	})
}

// Approve 입장 승인 (호스트)
func (h *WaitingHandler) Approve(c *fiber.Ctx) error {
	return h.decide(c, model.WaitingStatusApproved)
}

// Deny 입장 거절 (호스트)
func (h *WaitingHandler) Deny(c *fiber.Ctx) error {
	return h.decide(c, model.WaitingStatusDenied)
}

func (h *WaitingHandler) decide(c *fiber.Ctx, status model.WaitingStatus) error {
	room := middleware.RoomFromContext(c)

	entryID, err := c.ParamsInt("id")
	if err != nil || entryID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid entry id",
		})
	}

	entry, err := h.store.DecideWaiting(c.UserContext(), room.ID, int64(entryID), status)
	switch {
	case errors.Is(err, store.ErrAlreadyResolved):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  "waiting entry already resolved",
			"status": entry.Status,
		})
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "waiting entry not found",
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to decide waiting entry",
		})
	}

	log.Printf("[Room %s] waiting entry %d %s", room.Code, entry.ID, entry.Status)
	return c.JSON(toWaitingEntryResponse(entry))
}
