package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"

	"virtualroom-backend/internal/auth"
	"virtualroom-backend/internal/model"
	"virtualroom-backend/internal/store"
)

// FormCache 공개 해시 기준 문진 양식 캐시 (Redis 미설정 시 nil)
type FormCache interface {
	GetForm(ctx context.Context, hash string) ([]byte, error)
	SetForm(ctx context.Context, hash string, data []byte, ttl time.Duration) error
}

// AssessmentHandler 문진 양식 핸들러
type AssessmentHandler struct {
	store store.Store
	cache FormCache
	ttl   time.Duration
}

// NewAssessmentHandler AssessmentHandler 생성
func NewAssessmentHandler(s store.Store, cache FormCache, ttl time.Duration) *AssessmentHandler {
	return &AssessmentHandler{store: s, cache: cache, ttl: ttl}
}

// FormResponse 문진 양식 응답
type FormResponse struct {
	ID         int64           `json:"id"`
	Title      string          `json:"title"`
	PublicHash string          `json:"public_hash"`
	Questions  json.RawMessage `json:"questions"`
	CreatedAt  string          `json:"created_at"`
}

func toFormResponse(f *model.AssessmentForm) FormResponse {
	return FormResponse{
		ID:         f.ID,
		Title:      f.Title,
		PublicHash: f.PublicHash,
		Questions:  json.RawMessage(f.Questions),
		CreatedAt:  f.CreatedAt.Format(timeLayout),
	}
}

// CreateForm 문진 양식 생성 {title, questions: [...]}
func (h *AssessmentHandler) CreateForm(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	body := c.Body()
	if !gjson.ValidBytes(body) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	title := truncate(sanitizeString(gjson.GetBytes(body, "title").String()), 200)
	if title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title is required",
		})
	}

	questions := gjson.GetBytes(body, "questions")
	if !questions.IsArray() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "questions must be an array",
		})
	}
	for _, q := range questions.Array() {
		if q.Get("id").String() == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "every question needs an id",
			})
		}
	}

	form := &model.AssessmentForm{
		HostID:    claims.UserID,
		Title:     title,
		Questions: questions.Raw,
	}
	for attempt := 0; attempt < 3; attempt++ {
		form.PublicHash, err = generateSecureCode(16)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to generate form hash",
			})
		}
		err = h.store.CreateForm(c.UserContext(), form)
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		log.Printf("[Assessment] create failed: host=%d err=%v", claims.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create form",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(toFormResponse(form))
}

// GetForm id로 문진 양식 조회 (작성한 호스트만)
func (h *AssessmentHandler) GetForm(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid form id",
		})
	}

	form, err := h.store.FormByID(c.UserContext(), int64(id))
	if err != nil || form.HostID != claims.UserID {
		if err == nil || errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "form not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get form",
		})
	}

	return c.JSON(toFormResponse(form))
}

// GetPublicForm 공개 해시로 문진 양식 조회 (게스트, 캐시 우선)
func (h *AssessmentHandler) GetPublicForm(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if hash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "form hash is required",
		})
	}

	if h.cache != nil {
		if data, err := h.cache.GetForm(c.UserContext(), hash); err == nil {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(data)
		}
	}

	form, err := h.store.FormByHash(c.UserContext(), hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "form not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get form",
		})
	}

	data, err := json.Marshal(toFormResponse(form))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to encode form",
		})
	}

	if h.cache != nil {
		if err := h.cache.SetForm(c.UserContext(), hash, data, h.ttl); err != nil {
			log.Printf("[Assessment] form cache set failed: hash=%s err=%v", hash, err)
		}
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(data)
}
