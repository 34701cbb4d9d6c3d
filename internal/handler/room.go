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

// RoomHandler 방 생성/조회/종료 핸들러
type RoomHandler struct {
	store store.Store
}

// NewRoomHandler RoomHandler 생성
func NewRoomHandler(s store.Store) *RoomHandler {
	return &RoomHandler{store: s}
}

// RoomResponse 방 응답
type RoomResponse struct {
	Code      string  `json:"code"`
	Title     string  `json:"title"`
	HostName  string  `json:"host_name"`
	Companion bool    `json:"companion"`
	Status    string  `json:"status"`
	EndedAt   *string `json:"ended_at,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// CreateRoomRequest 방 생성 요청
type CreateRoomRequest struct {
	Title     string `json:"title"`
	HostName  string `json:"host_name"`
	Companion bool   `json:"companion"`
}

func toRoomResponse(room *model.Room) RoomResponse {
	resp := RoomResponse{
		Code:      room.Code,
		Title:     room.Title,
		HostName:  room.HostName,
		Companion: room.Companion,
		Status:    room.Status,
		CreatedAt: room.CreatedAt.Format(timeLayout),
	}
	if room.EndedAt != nil {
		endedAt := room.EndedAt.Format(timeLayout)
		resp.EndedAt = &endedAt
	}
	return resp
}

// CreateRoom 방 생성 (호스트)
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	req.Title = truncate(sanitizeString(req.Title), 200)
	req.HostName = truncate(sanitizeString(req.HostName), 100)
	if req.HostName == "" {
		req.HostName = claims.Nickname
	}

	room := &model.Room{
		HostID:    claims.UserID,
		HostName:  req.HostName,
		Title:     req.Title,
		Companion: req.Companion,
	}

	// 코드 충돌 시 재시도
	for attempt := 0; attempt < 3; attempt++ {
		room.Code, err = generateSecureCode(6)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to generate room code",
			})
		}
		err = h.store.CreateRoom(c.UserContext(), room)
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		log.Printf("[Room] create failed: host=%d err=%v", claims.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create room",
		})
	}

	log.Printf("[Room %s] created by host=%d", room.Code, claims.UserID)
	return c.Status(fiber.StatusCreated).JSON(toRoomResponse(room))
}

// GetRoom 방 공개 정보 조회
func (h *RoomHandler) GetRoom(c *fiber.Ctx) error {
	return c.JSON(toRoomResponse(middleware.RoomFromContext(c)))
}

// EndRoom 방 종료 (호스트)
func (h *RoomHandler) EndRoom(c *fiber.Ctx) error {
	room := middleware.RoomFromContext(c)
	if room.IsEnded() {
		return c.JSON(toRoomResponse(room))
	}

	if err := h.store.EndRoom(c.UserContext(), room.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to end room",
		})
	}

	ended, err := h.store.RoomByCode(c.UserContext(), room.Code)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load room",
		})
	}

	log.Printf("[Room %s] ended", room.Code)
	return c.JSON(toRoomResponse(ended))
}
