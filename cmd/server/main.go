package main

import (
	"log"

	"virtualroom-backend/internal/cache"
	"virtualroom-backend/internal/config"
	"virtualroom-backend/internal/database"
	"virtualroom-backend/internal/handler"
	"virtualroom-backend/internal/server"
	"virtualroom-backend/internal/store"
)

func main() {
	// 설정 로드
	cfg := config.Load()

	// 데이터베이스 연결
	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer database.Close()

	// Ping 테스트
	if err := database.Ping(); err != nil {
		log.Fatalf("❌ Database ping failed: %v", err)
	}
	log.Printf("✅ Database connected successfully")

	// DB 버전 확인
	var version string
	db.Raw("SELECT version()").Scan(&version)
	if len(version) > 50 {
		version = version[:50] + "..."
	}
	log.Printf("📦 PostgreSQL: %s", version)

	// Redis 연결 (선택)
	var redisClient *cache.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TranscriptTTL)
		if err != nil {
			log.Printf("⚠️ Redis connection failed: %v (continuing without cache)", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// 서버 생성 및 설정
	srv := server.New(cfg, server.Deps{
		Store:    store.NewGormStore(db),
		DBHealth: handler.PingerFunc(database.Health),
		Redis:    redisClient,
	})
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
