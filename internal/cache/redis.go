package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss 캐시에 없음
var ErrMiss = errors.New("cache miss")

// RoomTranscript 방 자막 최근 목록 항목
type RoomTranscript struct {
	ID          int64     `json:"id"`
	RoomCode    string    `json:"roomCode"`
	SpeakerRole string    `json:"speakerRole"`
	SpeakerName string    `json:"speakerName"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// RedisClient wraps the Redis client for transcript mirroring and form caching
type RedisClient struct {
	client        *redis.Client
	transcriptTTL time.Duration
	recentLimit   int64
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int, transcriptTTL time.Duration) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &RedisClient{client: client, transcriptTTL: transcriptTTL, recentLimit: 200}, nil
}

// Client 내부 go-redis 클라이언트 (presence 공유용)
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

func transcriptKey(roomCode string) string {
	return "room:" + roomCode + ":transcripts"
}

func formKey(hash string) string {
	return "form:" + hash
}

// AddTranscript appends a transcript line to the room's recent list
func (r *RedisClient) AddTranscript(ctx context.Context, roomCode string, t *RoomTranscript) error {
	key := transcriptKey(roomCode)
	t.RoomCode = roomCode
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -r.recentLimit, -1)
	pipe.Expire(ctx, key, r.transcriptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Redis] Failed to add transcript: %v", err)
		return err
	}
	return nil
}

// GetRecentTranscripts retrieves the last N transcripts for a room
func (r *RedisClient) GetRecentTranscripts(ctx context.Context, roomCode string, count int64) ([]RoomTranscript, error) {
	results, err := r.client.LRange(ctx, transcriptKey(roomCode), -count, -1).Result()
	if err != nil {
		return nil, err
	}

	transcripts := make([]RoomTranscript, 0, len(results))
	for _, data := range results {
		var t RoomTranscript
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			continue
		}
		transcripts = append(transcripts, t)
	}

	return transcripts, nil
}

// DeleteRoom removes cached transcripts for a room
func (r *RedisClient) DeleteRoom(ctx context.Context, roomCode string) error {
	return r.client.Del(ctx, transcriptKey(roomCode)).Err()
}

// SetForm caches a serialized form definition under its public hash
func (r *RedisClient) SetForm(ctx context.Context, hash string, data []byte, ttl time.Duration) error {
	return r.client.Set(ctx, formKey(hash), data, ttl).Err()
}

// GetForm returns a cached form definition or ErrMiss
func (r *RedisClient) GetForm(ctx context.Context, hash string) ([]byte, error) {
	data, err := r.client.Get(ctx, formKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return data, err
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is healthy
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
