package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Manager 방 참가자 접속 상태 관리자
//
// 게스트의 폴링 요청이 곧 heartbeat이다. 키 TTL 안에 다시 폴링하지 않으면
// 오프라인으로 간주한다 (브라우저 종료 시 leave 비콘이 유실된 경우 포함).
type Manager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewManager 생성자
func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	return &Manager{client: client, ttl: ttl}
}

// Key 생성 유틸
func (m *Manager) participantKey(roomCode string, participantID int64) string {
	return fmt.Sprintf("presence:room:%s:participant:%d", roomCode, participantID)
}

// Touch 생존 신고 (TTL 갱신)
func (m *Manager) Touch(ctx context.Context, roomCode string, participantID int64) error {
	return m.client.Set(ctx, m.participantKey(roomCode, participantID), time.Now().Unix(), m.ttl).Err()
}

// Remove 상태 삭제 (leave)
func (m *Manager) Remove(ctx context.Context, roomCode string, participantID int64) error {
	return m.client.Del(ctx, m.participantKey(roomCode, participantID)).Err()
}

// Online 여러 참가자 접속 여부 조회 (MGET 한 번)
func (m *Manager) Online(ctx context.Context, roomCode string, participantIDs []int64) (map[int64]bool, error) {
	online := make(map[int64]bool, len(participantIDs))
	if len(participantIDs) == 0 {
		return online, nil
	}

	keys := make([]string, len(participantIDs))
	for i, id := range participantIDs {
		keys[i] = m.participantKey(roomCode, id)
	}

	results, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, result := range results {
		online[participantIDs[i]] = result != nil
	}
	return online, nil
}
