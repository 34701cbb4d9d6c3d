package handler

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
)

// timeLayout 응답 시각 포맷
const timeLayout = time.RFC3339Nano

// ListResponse 커서 기반 조회 응답 (items는 id 오름차순)
type ListResponse[T any] struct {
	Items  []T   `json:"items"`
	Cursor int64 `json:"cursor"`
}

// sanitizeString 앞뒤 공백과 제어 문자 제거
func sanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// truncate 최대 길이(문자 단위)로 자르기
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// generateSecureCode 랜덤 hex 코드 생성 (방 코드, 문진 공개 해시)
func generateSecureCode(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// sinceParam ?since=N 파싱 (없으면 0, 음수는 거부)
func sinceParam(c *fiber.Ctx) (int64, bool) {
	raw := c.Query("since")
	if raw == "" {
		return 0, true
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return 0, false
	}
	return since, true
}
