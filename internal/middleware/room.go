package middleware

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"virtualroom-backend/internal/auth"
	"virtualroom-backend/internal/model"
	"virtualroom-backend/internal/store"
)

// Presence 참가자 heartbeat 기록 (Redis 미설정 시 nil)
type Presence interface {
	Touch(ctx context.Context, roomCode string, participantID int64) error
}

// RoomMiddleware 방 접근 권한 미들웨어
type RoomMiddleware struct {
	store    store.Store
	presence Presence
}

// NewRoomMiddleware RoomMiddleware 생성
func NewRoomMiddleware(s store.Store, presence Presence) *RoomMiddleware {
	return &RoomMiddleware{store: s, presence: presence}
}

// RoomFromContext 미들웨어가 저장한 방 조회
func RoomFromContext(c *fiber.Ctx) *model.Room {
	room, _ := c.Locals("room").(*model.Room)
	return room
}

// ParticipantFromContext 미들웨어가 저장한 게스트 참가자 조회 (호스트 요청이면 nil)
func ParticipantFromContext(c *fiber.Ctx) *model.Participant {
	participant, _ := c.Locals("participant").(*model.Participant)
	return participant
}

// RoleFromContext 요청자 역할
func RoleFromContext(c *fiber.Ctx) model.SenderRole {
	role, _ := c.Locals("role").(model.SenderRole)
	return role
}

// RequireRoom :code 로 방 조회 후 컨텍스트에 저장
func (m *RoomMiddleware) RequireRoom() fiber.Handler {
	return func(c *fiber.Ctx) error {
		code := c.Params("code")
		if code == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "room code is required",
			})
		}

		room, err := m.store.RoomByCode(c.UserContext(), code)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "room not found",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load room",
			})
		}

		c.Locals("room", room)
		return c.Next()
	}
}

// RequireHost 방 호스트만 허용 (AuthMiddleware, RequireRoom 이후)
func (m *RoomMiddleware) RequireHost() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := auth.GetClaimsFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		room := RoomFromContext(c)
		if room == nil || room.HostID != claims.UserID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "not the host of this room",
			})
		}

		c.Locals("role", model.RoleHost)
		return c.Next()
	}
}

// RequireParticipant 참가 토큰을 가진 입장 중인 게스트만 허용 (RequireRoom 이후)
func (m *RoomMiddleware) RequireParticipant() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := auth.ParticipantToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing participant token",
			})
		}

		room := RoomFromContext(c)
		participant, err := m.store.ParticipantByToken(c.UserContext(), room.ID, token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid participant token",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load participant",
			})
		}
		if !participant.Active() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "participant has left the room",
			})
		}

		// 폴링 요청이 곧 heartbeat
		if m.presence != nil {
			if err := m.presence.Touch(c.UserContext(), room.Code, participant.ID); err != nil {
				log.Printf("[Presence] touch failed: room=%s participant=%d err=%v", room.Code, participant.ID, err)
			}
		}

		c.Locals("participant", participant)
		c.Locals("role", model.RoleGuest)
		return c.Next()
	}
}

// RequireMember 방 호스트(JWT) 또는 입장 중인 게스트(참가 토큰)만 허용 (RequireRoom 이후)
//
// WebSocket 업그레이드처럼 /api, /public 어느 쪽에도 속하지 않는 경로용.
// Authorization 헤더가 있으면 호스트로만 판정한다.
func (m *RoomMiddleware) RequireMember(jwtManager *auth.JWTManager) fiber.Handler {
	guest := m.RequireParticipant()
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return guest(c)
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization header format",
			})
		}
		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		room := RoomFromContext(c)
		if room == nil || room.HostID != claims.UserID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "not the host of this room",
			})
		}

		c.Locals("claims", claims)
		c.Locals("role", model.RoleHost)
		return c.Next()
	}
}

// RequireOpen 종료된 방에 대한 쓰기/입장 거부
func (m *RoomMiddleware) RequireOpen() fiber.Handler {
	return func(c *fiber.Ctx) error {
		room := RoomFromContext(c)
		if room == nil || room.IsEnded() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "room has ended",
			})
		}
		return c.Next()
	}
}
