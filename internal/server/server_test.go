package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"virtualroom-backend/internal/config"
	"virtualroom-backend/internal/handler"
	"virtualroom-backend/internal/store"
)

type testEnv struct {
	t         *testing.T
	srv       *Server
	hostToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Sync.PageLimit = 100

	srv := New(cfg, Deps{
		Store:    store.NewMemoryStore(),
		DBHealth: handler.PingerFunc(func(context.Context) error { return nil }),
	})
	srv.SetupRoutes()

	token, err := srv.JWTManager().GenerateAccessToken(1, "Dr. Kim")
	require.NoError(t, err)

	return &testEnv{t: t, srv: srv, hostToken: token}
}

// do 요청 후 상태 코드와 본문 반환
func (e *testEnv) do(method, path string, body any, headers map[string]string) (int, []byte) {
	e.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.srv.App().Test(req, -1)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return resp.StatusCode, data
}

func (e *testEnv) host() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.hostToken}
}

func guest(token string) map[string]string {
	return map[string]string{"X-Participant-Token": token}
}

func (e *testEnv) createRoom() string {
	e.t.Helper()
	status, body := e.do(http.MethodPost, "/api/rooms", map[string]any{"title": "consult"}, e.host())
	require.Equal(e.t, http.StatusCreated, status, string(body))
	code := gjson.GetBytes(body, "code").String()
	require.NotEmpty(e.t, code)
	return code
}

// admitGuest 대기실 등록 → 승인 → 참가 후 토큰 반환
func (e *testEnv) admitGuest(code, name string) string {
	e.t.Helper()
	status, body := e.do(http.MethodPost, "/public/rooms/"+code+"/waiting", map[string]any{"name": name}, nil)
	require.Equal(e.t, http.StatusCreated, status, string(body))
	token := gjson.GetBytes(body, "token").String()
	entryID := gjson.GetBytes(body, "entry_id").String()

	status, body = e.do(http.MethodPost, "/api/rooms/"+code+"/waiting/"+entryID+"/approve", nil, e.host())
	require.Equal(e.t, http.StatusOK, status, string(body))

	status, body = e.do(http.MethodPost, "/public/rooms/"+code+"/join", map[string]any{"name": name}, guest(token))
	require.Equal(e.t, http.StatusOK, status, string(body))
	return token
}

func TestRooms(t *testing.T) {
	e := newTestEnv(t)

	t.Run("create requires host token", func(t *testing.T) {
		status, _ := e.do(http.MethodPost, "/api/rooms", map[string]any{"title": "x"}, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	code := e.createRoom()

	t.Run("public info", func(t *testing.T) {
		status, body := e.do(http.MethodGet, "/public/rooms/"+code, nil, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "consult", gjson.GetBytes(body, "title").String())
		assert.Equal(t, "Dr. Kim", gjson.GetBytes(body, "host_name").String())
		assert.Equal(t, "OPEN", gjson.GetBytes(body, "status").String())
	})

	t.Run("unknown room", func(t *testing.T) {
		status, _ := e.do(http.MethodGet, "/public/rooms/nope", nil, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("other host is forbidden", func(t *testing.T) {
		other, err := e.srv.JWTManager().GenerateAccessToken(2, "Dr. Lee")
		require.NoError(t, err)
		status, _ := e.do(http.MethodGet, "/api/rooms/"+code+"/waiting", nil, map[string]string{"Authorization": "Bearer " + other})
		assert.Equal(t, http.StatusForbidden, status)
	})
}

func TestAdmissionFlow(t *testing.T) {
	e := newTestEnv(t)
	code := e.createRoom()

	t.Run("name is required", func(t *testing.T) {
		status, _ := e.do(http.MethodPost, "/public/rooms/"+code+"/waiting", map[string]any{"name": "   "}, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	status, body := e.do(http.MethodPost, "/public/rooms/"+code+"/waiting", map[string]any{"name": "Park"}, nil)
	require.Equal(t, http.StatusCreated, status)
	token := gjson.GetBytes(body, "token").String()
	entryID := gjson.GetBytes(body, "entry_id").String()
	assert.Equal(t, "waiting", gjson.GetBytes(body, "status").String())

	t.Run("host sees the pending entry", func(t *testing.T) {
		status, body := e.do(http.MethodGet, "/api/rooms/"+code+"/waiting", nil, e.host())
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, int64(1), gjson.GetBytes(body, "total").Int())
		assert.Equal(t, "Park", gjson.GetBytes(body, "items.0.name").String())
		assert.False(t, gjson.GetBytes(body, "items.0.token").Exists())
	})

	t.Run("join before approval is rejected", func(t *testing.T) {
		status, _ := e.do(http.MethodPost, "/public/rooms/"+code+"/join", nil, guest(token))
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("approve once", func(t *testing.T) {
		status, _ := e.do(http.MethodPost, "/api/rooms/"+code+"/waiting/"+entryID+"/approve", nil, e.host())
		assert.Equal(t, http.StatusOK, status)

		status, body := e.do(http.MethodPost, "/api/rooms/"+code+"/waiting/"+entryID+"/deny", nil, e.host())
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "approved", gjson.GetBytes(body, "status").String())
	})

	t.Run("guest sees approval and joins", func(t *testing.T) {
		status, body := e.do(http.MethodGet, "/public/rooms/"+code+"/waiting/status", nil, guest(token))
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "approved", gjson.GetBytes(body, "status").String())

		status, body = e.do(http.MethodPost, "/public/rooms/"+code+"/join", map[string]any{"name": "Park"}, guest(token))
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "guest", gjson.GetBytes(body, "role").String())

		status, body = e.do(http.MethodGet, "/api/rooms/"+code+"/participants", nil, e.host())
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, int64(2), gjson.GetBytes(body, "total").Int())
	})

	t.Run("denied guest cannot join", func(t *testing.T) {
		status, body := e.do(http.MethodPost, "/public/rooms/"+code+"/waiting", map[string]any{"name": "Choi"}, nil)
		require.Equal(t, http.StatusCreated, status)
		denied := gjson.GetBytes(body, "token").String()
		id := gjson.GetBytes(body, "entry_id").String()

		status, _ = e.do(http.MethodPost, "/api/rooms/"+code+"/waiting/"+id+"/deny", nil, e.host())
		require.Equal(t, http.StatusOK, status)

		status, body = e.do(http.MethodGet, "/public/rooms/"+code+"/waiting/status?token="+denied, nil, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "denied", gjson.GetBytes(body, "status").String())

		status, _ = e.do(http.MethodPost, "/public/rooms/"+code+"/join", nil, guest(denied))
		assert.Equal(t, http.StatusForbidden, status)
	})
}

func TestStreams(t *testing.T) {
	e := newTestEnv(t)
	code := e.createRoom()
	token := e.admitGuest(code, "Park")

	t.Run("guest writes require a token", func(t *testing.T) {
		status, _ := e.do(http.MethodPost, "/public/rooms/"+code+"/messages", map[string]any{"text": "hi"}, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("messages carry server-side sender", func(t *testing.T) {
		status, body := e.do(http.MethodPost, "/public/rooms/"+code+"/messages", map[string]any{"text": "hello", "client_id": "c-guest"}, guest(token))
		require.Equal(t, http.StatusCreated, status, string(body))
		assert.Equal(t, "guest", gjson.GetBytes(body, "sender_role").String())
		assert.Equal(t, "Park", gjson.GetBytes(body, "sender_name").String())

		status, body = e.do(http.MethodPost, "/api/rooms/"+code+"/messages", map[string]any{"text": "welcome"}, e.host())
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "host", gjson.GetBytes(body, "sender_role").String())
	})

	t.Run("list since cursor", func(t *testing.T) {
		status, body := e.do(http.MethodGet, "/api/rooms/"+code+"/messages", nil, e.host())
		require.Equal(t, http.StatusOK, status)
		items := gjson.GetBytes(body, "items").Array()
		require.Len(t, items, 2)
		first := items[0].Get("id").Int()
		assert.Equal(t, items[1].Get("id").Int(), gjson.GetBytes(body, "cursor").Int())
		assert.Equal(t, "c-guest", items[0].Get("client_id").String())

		status, body = e.do(http.MethodGet, "/public/rooms/"+code+"/messages?since="+gjson.GetBytes(body, "items.0.id").String(), nil, guest(token))
		require.Equal(t, http.StatusOK, status)
		rest := gjson.GetBytes(body, "items").Array()
		require.Len(t, rest, 1)
		assert.Greater(t, rest[0].Get("id").Int(), first)

		status, body = e.do(http.MethodGet, "/public/rooms/"+code+"/messages?since=999", nil, guest(token))
		require.Equal(t, http.StatusOK, status)
		assert.Empty(t, gjson.GetBytes(body, "items").Array())
		assert.Equal(t, int64(999), gjson.GetBytes(body, "cursor").Int())

		status, _ = e.do(http.MethodGet, "/public/rooms/"+code+"/messages?since=-1", nil, guest(token))
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("event validation", func(t *testing.T) {
		status, body := e.do(http.MethodPost, "/public/rooms/"+code+"/events", map[string]any{
			"event_type": "whiteboard_start",
			"payload":    map[string]any{"x": 1, "y": 2, "color": "#000", "client_id": "c-guest"},
		}, guest(token))
		require.Equal(t, http.StatusCreated, status, string(body))
		assert.Equal(t, "c-guest", gjson.GetBytes(body, "payload.client_id").String())

		status, _ = e.do(http.MethodPost, "/public/rooms/"+code+"/events", map[string]any{
			"event_type": "whiteboard_permission",
			"payload":    map[string]any{"allowed": true},
		}, guest(token))
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = e.do(http.MethodPost, "/api/rooms/"+code+"/events", map[string]any{
			"event_type": "whiteboard_permission",
			"payload":    map[string]any{"allowed": true},
		}, e.host())
		assert.Equal(t, http.StatusCreated, status)

		status, _ = e.do(http.MethodPost, "/api/rooms/"+code+"/events", map[string]any{"event_type": "teleport"}, e.host())
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = e.do(http.MethodPost, "/api/rooms/"+code+"/events", map[string]any{"event_type": "whiteboard_clear", "payload": []int{1}}, e.host())
		assert.Equal(t, http.StatusBadRequest, status)

		status, body = e.do(http.MethodPost, "/api/rooms/"+code+"/events", map[string]any{"event_type": "screen_share_on"}, e.host())
		require.Equal(t, http.StatusCreated, status)
		assert.JSONEq(t, `{}`, gjson.GetBytes(body, "payload").Raw)
	})

	t.Run("assessment roles", func(t *testing.T) {
		status, _ := e.do(http.MethodPost, "/public/rooms/"+code+"/assessments", map[string]any{"event_type": "start", "assessment_id": 1}, guest(token))
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = e.do(http.MethodPost, "/api/rooms/"+code+"/assessments", map[string]any{"event_type": "start", "assessment_id": 1}, e.host())
		assert.Equal(t, http.StatusCreated, status)

		status, _ = e.do(http.MethodPost, "/public/rooms/"+code+"/assessments", map[string]any{"event_type": "answer", "assessment_id": 1}, guest(token))
		assert.Equal(t, http.StatusBadRequest, status)

		status, body := e.do(http.MethodPost, "/public/rooms/"+code+"/assessments", map[string]any{
			"event_type":    "answer",
			"assessment_id": 1,
			"question_id":   "q1",
			"payload":       map[string]any{"question_id": "q1", "value": "yes", "score": 2},
		}, guest(token))
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "q1", gjson.GetBytes(body, "question_id").String())
		assert.Equal(t, int64(2), gjson.GetBytes(body, "payload.score").Int())

		status, _ = e.do(http.MethodPost, "/api/rooms/"+code+"/assessments", map[string]any{"event_type": "finish", "assessment_id": 1}, e.host())
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("transcripts", func(t *testing.T) {
		status, body := e.do(http.MethodPost, "/public/rooms/"+code+"/transcripts", map[string]any{"text": "I slept badly", "client_id": "c-guest"}, guest(token))
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "guest", gjson.GetBytes(body, "speaker_role").String())

		status, body = e.do(http.MethodGet, "/api/rooms/"+code+"/transcripts?since=0", nil, e.host())
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, gjson.GetBytes(body, "items").Array(), 1)
	})
}

func TestLeaveAndEnd(t *testing.T) {
	e := newTestEnv(t)
	code := e.createRoom()
	token := e.admitGuest(code, "Park")
	second := e.admitGuest(code, "Yoon")

	t.Run("beacon-style leave", func(t *testing.T) {
		status, _ := e.do(http.MethodPost, "/public/rooms/"+code+"/leave", `{"token":"`+token+`"}`, map[string]string{"Content-Type": "text/plain"})
		assert.Equal(t, http.StatusNoContent, status)

		status, _ = e.do(http.MethodPost, "/public/rooms/"+code+"/messages", map[string]any{"text": "still here?"}, guest(token))
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = e.do(http.MethodPost, "/public/rooms/"+code+"/join", nil, guest(token))
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("ended room rejects writes and entry", func(t *testing.T) {
		status, body := e.do(http.MethodPost, "/api/rooms/"+code+"/end", nil, e.host())
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ENDED", gjson.GetBytes(body, "status").String())

		status, _ = e.do(http.MethodPost, "/public/rooms/"+code+"/messages", map[string]any{"text": "hi"}, guest(second))
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = e.do(http.MethodPost, "/public/rooms/"+code+"/waiting", map[string]any{"name": "Late"}, nil)
		assert.Equal(t, http.StatusForbidden, status)

		status, _ = e.do(http.MethodGet, "/public/rooms/"+code+"/messages", nil, guest(second))
		assert.Equal(t, http.StatusOK, status)
	})
}

func TestAssessmentForms(t *testing.T) {
	e := newTestEnv(t)

	t.Run("questions must be an array with ids", func(t *testing.T) {
		status, _ := e.do(http.MethodPost, "/api/assessments", map[string]any{"title": "PHQ-2", "questions": "nope"}, e.host())
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = e.do(http.MethodPost, "/api/assessments", map[string]any{"title": "PHQ-2", "questions": []any{map[string]any{"text": "?"}}}, e.host())
		assert.Equal(t, http.StatusBadRequest, status)
	})

	status, body := e.do(http.MethodPost, "/api/assessments", map[string]any{
		"title": "PHQ-2",
		"questions": []any{
			map[string]any{"id": "q1", "text": "Little interest?"},
			map[string]any{"id": "q2", "text": "Feeling down?"},
		},
	}, e.host())
	require.Equal(t, http.StatusCreated, status, string(body))
	id := gjson.GetBytes(body, "id").String()
	hash := gjson.GetBytes(body, "public_hash").String()
	require.NotEmpty(t, hash)

	t.Run("by id for the owner", func(t *testing.T) {
		status, body := e.do(http.MethodGet, "/api/assessments/"+id, nil, e.host())
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, gjson.GetBytes(body, "questions").Array(), 2)

		other, err := e.srv.JWTManager().GenerateAccessToken(2, "Dr. Lee")
		require.NoError(t, err)
		status, _ = e.do(http.MethodGet, "/api/assessments/"+id, nil, map[string]string{"Authorization": "Bearer " + other})
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("by public hash", func(t *testing.T) {
		status, body := e.do(http.MethodGet, "/public/assessments/"+hash, nil, nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "PHQ-2", gjson.GetBytes(body, "title").String())
		assert.Equal(t, "q2", gjson.GetBytes(body, "questions.1.id").String())
	})
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", gjson.GetBytes(body, "status").String())
	assert.Equal(t, "not_configured", gjson.GetBytes(body, "checks.redis.status").String())

	status, _ = e.do(http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestBusRelayUpgradeAuth(t *testing.T) {
	e := newTestEnv(t)
	code := e.createRoom()

	upgrade := map[string]string{
		"Connection":            "Upgrade",
		"Upgrade":               "websocket",
		"Sec-WebSocket-Key":     "dGhlIHNhbXBsZSBub25jZQ==",
		"Sec-WebSocket-Version": "13",
	}
	with := func(extra map[string]string) map[string]string {
		out := make(map[string]string, len(upgrade)+len(extra))
		for k, v := range upgrade {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}
	path := "/ws/rooms/" + code + "/bus"

	t.Run("anonymous upgrade is rejected", func(t *testing.T) {
		status, _ := e.do(http.MethodGet, path, nil, upgrade)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("bad bearer token", func(t *testing.T) {
		status, _ := e.do(http.MethodGet, path, nil, with(map[string]string{"Authorization": "Bearer nope"}))
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("another user's token is not the host", func(t *testing.T) {
		other, err := e.srv.JWTManager().GenerateAccessToken(2, "Dr. Park")
		require.NoError(t, err)
		status, _ := e.do(http.MethodGet, path, nil, with(map[string]string{"Authorization": "Bearer " + other}))
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("waiting guest has not joined yet", func(t *testing.T) {
		status, body := e.do(http.MethodPost, "/public/rooms/"+code+"/waiting", map[string]any{"name": "Lee"}, nil)
		require.Equal(t, http.StatusCreated, status, string(body))
		token := gjson.GetBytes(body, "token").String()

		status, _ = e.do(http.MethodGet, path, nil, with(guest(token)))
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}
