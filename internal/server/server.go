package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"virtualroom-backend/internal/auth"
	"virtualroom-backend/internal/cache"
	"virtualroom-backend/internal/config"
	"virtualroom-backend/internal/handler"
	"virtualroom-backend/internal/middleware"
	"virtualroom-backend/internal/presence"
	"virtualroom-backend/internal/store"
)

// Deps 서버 외부 의존성
type Deps struct {
	Store    store.Store
	DBHealth handler.Pinger
	Redis    *cache.RedisClient // nil이면 캐시/접속 상태 비활성화
}

// Server Fiber 서버 래퍼
type Server struct {
	app                *fiber.App
	cfg                *config.Config
	jwtManager         *auth.JWTManager
	roomMiddleware     *middleware.RoomMiddleware
	healthHandler      *handler.HealthHandler
	roomHandler        *handler.RoomHandler
	waitingHandler     *handler.WaitingHandler
	participantHandler *handler.ParticipantHandler
	streamHandler      *handler.StreamHandler
	assessmentHandler  *handler.AssessmentHandler
	busRelayHandler    *handler.BusRelayHandler
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Virtual Room Sync",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: false,
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	// Redis는 선택 사항 (nil 포인터를 인터페이스에 넣지 않도록 분기)
	var (
		mirror      handler.TranscriptMirror
		formCache   handler.FormCache
		tracker     handler.PresenceTracker
		roomTracker middleware.Presence
		redisHealth handler.Pinger
	)
	if deps.Redis != nil {
		pm := presence.NewManager(deps.Redis.Client(), cfg.Redis.PresenceTTL)
		mirror = deps.Redis
		formCache = deps.Redis
		tracker = pm
		roomTracker = pm
		redisHealth = deps.Redis
		log.Printf("✅ Redis cache and presence enabled")
	} else {
		log.Println("ℹ️ Redis not configured (transcript mirror, form cache and presence disabled)")
	}

	return &Server{
		app:                app,
		cfg:                cfg,
		jwtManager:         jwtManager,
		roomMiddleware:     middleware.NewRoomMiddleware(deps.Store, roomTracker),
		healthHandler:      handler.NewHealthHandler(deps.DBHealth, redisHealth),
		roomHandler:        handler.NewRoomHandler(deps.Store),
		waitingHandler:     handler.NewWaitingHandler(deps.Store),
		participantHandler: handler.NewParticipantHandler(deps.Store, tracker),
		streamHandler:      handler.NewStreamHandler(deps.Store, mirror, cfg.Sync),
		assessmentHandler:  handler.NewAssessmentHandler(deps.Store, formCache, cfg.Redis.FormTTL),
		busRelayHandler:    handler.NewBusRelayHandler(cfg.Sync.RelayBuffer, cfg.Sync.MaxPayloadSize),
	}
}

// App 내부 Fiber 앱 (테스트용)
func (s *Server) App() *fiber.App {
	return s.app
}

// JWTManager 호스트 토큰 관리자
func (s *Server) JWTManager() *auth.JWTManager {
	return s.jwtManager
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowOrigins,
		AllowHeaders: s.cfg.CORS.AllowHeaders,
		AllowMethods: "GET, POST, OPTIONS",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	rm := s.roomMiddleware

	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Rate Limiter 설정 (대기실 등록 남용 방지)
	waitingLimiter := limiter.New(limiter.Config{
		Max:        20,              // 최대 20회
		Expiration: 1 * time.Minute, // 1분당
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// 호스트 라우트 그룹 (JWT 필요)
	api := s.app.Group("/api", auth.AuthMiddleware(s.jwtManager))
	api.Post("/rooms", s.roomHandler.CreateRoom)
	api.Post("/assessments", s.assessmentHandler.CreateForm)
	api.Get("/assessments/:id", s.assessmentHandler.GetForm)

	hostRoom := api.Group("/rooms/:code", rm.RequireRoom(), rm.RequireHost())
	hostRoom.Get("", s.roomHandler.GetRoom)
	hostRoom.Post("/end", s.roomHandler.EndRoom)
	hostRoom.Get("/waiting", s.waitingHandler.List)
	hostRoom.Post("/waiting/:id/approve", rm.RequireOpen(), s.waitingHandler.Approve)
	hostRoom.Post("/waiting/:id/deny", s.waitingHandler.Deny)
	hostRoom.Get("/participants", s.participantHandler.List)
	s.registerStreams(hostRoom)

	// 게스트/공개 라우트 그룹
	public := s.app.Group("/public")
	public.Get("/assessments/:hash", s.assessmentHandler.GetPublicForm)

	publicRoom := public.Group("/rooms/:code", rm.RequireRoom())
	publicRoom.Get("", s.roomHandler.GetRoom)
	publicRoom.Post("/waiting", waitingLimiter, rm.RequireOpen(), s.waitingHandler.Register)
	publicRoom.Get("/waiting/status", s.waitingHandler.Status)
	publicRoom.Post("/join", rm.RequireOpen(), s.participantHandler.Join)
	publicRoom.Post("/leave", s.participantHandler.Leave)
	publicRoom.Get("/participants", rm.RequireParticipant(), s.participantHandler.List)

	guest := publicRoom.Group("", rm.RequireParticipant())
	s.registerStreams(guest)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// fast-path 버스 중계 (저장 없음, 호스트 또는 입장한 게스트만)
	s.app.Get("/ws/rooms/:code/bus", rm.RequireRoom(), rm.RequireOpen(), rm.RequireMember(s.jwtManager), websocket.New(s.busRelayHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}))
}

// registerStreams 네 스트림의 조회/추가 라우트 (쓰기는 열린 방에서만)
func (s *Server) registerStreams(r fiber.Router) {
	open := s.roomMiddleware.RequireOpen()
	h := s.streamHandler

	r.Get("/messages", h.ListMessages)
	r.Post("/messages", open, h.AppendMessage)
	r.Get("/events", h.ListEvents)
	r.Post("/events", open, h.AppendEvent)
	r.Get("/assessments", h.ListAssessments)
	r.Post("/assessments", open, h.AppendAssessment)
	r.Get("/transcripts", h.ListTranscripts)
	r.Post("/transcripts", open, h.AppendTranscript)
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Virtual Room Sync starting on %s", s.cfg.Server.Port)
	log.Printf("📡 Bus relay endpoint: ws://localhost%s/ws/rooms/:code/bus", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
