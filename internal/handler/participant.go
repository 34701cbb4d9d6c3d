package handler

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"

	"virtualroom-backend/internal/auth"
	"virtualroom-backend/internal/middleware"
	"virtualroom-backend/internal/model"
	"virtualroom-backend/internal/store"
)

// PresenceTracker 참가자 접속 상태 (Redis 미설정 시 nil)
type PresenceTracker interface {
	Touch(ctx context.Context, roomCode string, participantID int64) error
	Remove(ctx context.Context, roomCode string, participantID int64) error
	Online(ctx context.Context, roomCode string, participantIDs []int64) (map[int64]bool, error)
}

// ParticipantHandler 참가/퇴장/명단 핸들러
type ParticipantHandler struct {
	store    store.Store
	presence PresenceTracker
}

// NewParticipantHandler ParticipantHandler 생성
func NewParticipantHandler(s store.Store, presence PresenceTracker) *ParticipantHandler {
	return &ParticipantHandler{store: s, presence: presence}
}

// JoinRequest 참가 요청
type JoinRequest struct {
	Name string `json:"name"`
}

// RosterEntry 명단 항목
type RosterEntry struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
	Online   *bool  `json:"online,omitempty"`
}

// Join 승인된 게스트 참가
func (h *ParticipantHandler) Join(c *fiber.Ctx) error {
	room := middleware.RoomFromContext(c)

	token := auth.ParticipantToken(c)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing participant token",
		})
	}

	var req JoinRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	entry, err := h.store.WaitingByToken(c.UserContext(), room.ID, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid participant token",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load waiting entry",
		})
	}

	name := truncate(sanitizeString(req.Name), 100)
	if name == "" {
		name = entry.Name
	}

	participant, err := h.store.Join(c.UserContext(), entry, name)
	switch {
	case errors.Is(err, store.ErrNotApproved):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":  "entry is not approved",
			"status": entry.Status,
		})
	case errors.Is(err, store.ErrParticipantLeft):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "participant has left the room",
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to join room",
		})
	}

	if h.presence != nil {
		if err := h.presence.Touch(c.UserContext(), room.Code, participant.ID); err != nil {
			log.Printf("[Presence] touch failed: room=%s participant=%d err=%v", room.Code, participant.ID, err)
		}
	}

	log.Printf("[Room %s] guest joined: participant=%d name=%q", room.Code, participant.ID, participant.Name)
	return c.JSON(toRosterEntry(participant, nil))
}

// Leave 게스트 퇴장 (sendBeacon 본문 {"token": ...} 도 허용)
func (h *ParticipantHandler) Leave(c *fiber.Ctx) error {
	room := middleware.RoomFromContext(c)

	token := auth.ParticipantToken(c)
	if token == "" {
		token = gjson.GetBytes(c.Body(), "token").String()
	}
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "missing participant token",
		})
	}

	participant, err := h.store.Leave(c.UserContext(), room.ID, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid participant token",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to leave room",
		})
	}

	if h.presence != nil {
		if err := h.presence.Remove(c.UserContext(), room.Code, participant.ID); err != nil {
			log.Printf("[Presence] remove failed: room=%s participant=%d err=%v", room.Code, participant.ID, err)
		}
	}

	log.Printf("[Room %s] guest left: participant=%d", room.Code, participant.ID)
	return c.SendStatus(fiber.StatusNoContent)
}

// List 입장 중인 참가자 명단 (호스트 포함)
func (h *ParticipantHandler) List(c *fiber.Ctx) error {
	room := middleware.RoomFromContext(c)

	participants, err := h.store.ActiveParticipants(c.UserContext(), room.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get participants",
		})
	}

	var online map[int64]bool
	if h.presence != nil && len(participants) > 0 {
		ids := make([]int64, len(participants))
		for i, p := range participants {
			ids[i] = p.ID
		}
		online, err = h.presence.Online(c.UserContext(), room.Code, ids)
		if err != nil {
			log.Printf("[Presence] online lookup failed: room=%s err=%v", room.Code, err)
			online = nil
		}
	}

	items := make([]RosterEntry, 0, len(participants)+1)
	items = append(items, RosterEntry{
		Name:     room.HostName,
		Role:     model.RoleHost.String(),
		JoinedAt: room.CreatedAt.Format(timeLayout),
	})
	for i := range participants {
		items = append(items, toRosterEntry(&participants[i], online))
	}

	return c.JSON(fiber.Map{
		"items": items,
		"total": len(items),
	})
}

func toRosterEntry(p *model.Participant, online map[int64]bool) RosterEntry {
	entry := RosterEntry{
		ID:       p.ID,
		Name:     p.Name,
		Role:     p.Role,
		JoinedAt: p.JoinedAt.Format(timeLayout),
	}
	if online != nil {
		isOnline := online[p.ID]
		entry.Online = &isOnline
	}
	return entry
}
