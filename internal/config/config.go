package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server ServerConfig
	CORS   CORSConfig
	Auth   AuthConfig
	Redis  RedisConfig
	Sync   SyncConfig
}

// RedisConfig Redis 설정 (Addr가 비어 있으면 비활성화)
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	TranscriptTTL time.Duration
	FormTTL       time.Duration
	PresenceTTL   time.Duration
}

// AuthConfig 인증 설정
type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SyncConfig 이벤트 로그 조회/추가 제한
type SyncConfig struct {
	PageLimit      int
	MaxTextLength  int
	MaxPayloadSize int
	RelayBuffer    int
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// Load 환경 변수에서 설정 로드
func Load() *Config {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	// 필수 환경 변수 검증
	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal("🚨 CRITICAL: JWT_SECRET must be changed from default value in production!")
	}

	cfg := Default()
	cfg.Auth.JWTSecret = jwtSecret
	return cfg
}

// Default 환경 변수 기준 설정 (JWT_SECRET 검증 없이)
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization, X-Participant-Token"),
		},
		Auth: AuthConfig{
			JWTSecret:         os.Getenv("JWT_SECRET"),
			AccessTokenExpiry: getDuration("ACCESS_TOKEN_EXPIRY", 12*time.Hour),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getInt("REDIS_DB", 0),
			TranscriptTTL: getDuration("REDIS_TRANSCRIPT_TTL", 24*time.Hour),
			FormTTL:       getDuration("REDIS_FORM_TTL", 10*time.Minute),
			PresenceTTL:   getDuration("REDIS_PRESENCE_TTL", 10*time.Second),
		},
		Sync: SyncConfig{
			PageLimit:      getInt("SYNC_PAGE_LIMIT", 500),
			MaxTextLength:  getInt("SYNC_MAX_TEXT_LENGTH", 5000),
			MaxPayloadSize: getInt("SYNC_MAX_PAYLOAD_SIZE", 16*1024),
			RelayBuffer:    getInt("SYNC_RELAY_BUFFER", 64),
		},
	}
}

// getRequiredEnv 필수 환경 변수 조회 (없으면 Fatal)
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("🚨 CRITICAL: Required environment variable %s is not set!", key)
	}
	return value
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
