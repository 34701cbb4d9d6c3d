package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ParticipantTokenHeader 게스트 쓰기 요청에 실리는 토큰 헤더
const ParticipantTokenHeader = "X-Participant-Token"

// AuthMiddleware 호스트 JWT 인증 미들웨어
func AuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Authorization 헤더에서 토큰 추출
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization token",
			})
		}

		// Bearer 토큰 파싱
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization header format",
			})
		}

		claims, err := jwtManager.ValidateAccessToken(parts[1])
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		c.Locals("userID", claims.UserID)
		c.Locals("nickname", claims.Nickname)
		c.Locals("claims", claims)

		return c.Next()
	}
}

// ParticipantToken 요청에서 게스트 토큰 추출 (헤더 우선, sendBeacon용 쿼리 허용)
func ParticipantToken(c *fiber.Ctx) string {
	if token := c.Get(ParticipantTokenHeader); token != "" {
		return token
	}
	return c.Query("token")
}

// GetClaimsFromContext 컨텍스트에서 호스트 클레임 조회
func GetClaimsFromContext(c *fiber.Ctx) (*Claims, error) {
	claims, ok := c.Locals("claims").(*Claims)
	if !ok || claims == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
