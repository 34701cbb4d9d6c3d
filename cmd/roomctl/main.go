package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"virtualroom-backend/internal/roomsync"
)

func main() {
	// 설정 로드
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}

	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}

	session, err := roomsync.NewSession(sessionCfg)
	if err != nil {
		log.Fatalf("❌ Session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 방 생성 (호스트, 코드 미지정 시)
	if err := session.Open(ctx); err != nil {
		log.Fatalf("❌ Create room failed: %v", err)
	}
	log.Printf("🚪 Room %s as %s (%s)", session.RoomCode(), sessionCfg.Mode, session.Identity())

	watch(session)

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	if sessionCfg.Mode == roomsync.ModeGuest {
		if err := session.RequestEntry(ctx); err != nil {
			log.Printf("⚠️ %v", err)
		}
	}

	go readCommands(ctx, session, stop)

	if err := <-done; err != nil {
		log.Printf("Session ended with error: %v", err)
	}
	log.Printf("👋 Left room %s", session.RoomCode())
}

// watch 원격 변경 사항을 로그로 출력
func watch(s *roomsync.Session) {
	s.Streams().ChatLog.OnAppend(func(l roomsync.Line) {
		if !l.Local {
			fmt.Printf("💬 [%s] %s: %s\n", l.Role, l.Name, l.Text)
		}
	})
	s.Streams().TranscriptLog.OnAppend(func(l roomsync.Line) {
		if !l.Local {
			fmt.Printf("📝 [%s] %s: %s\n", l.Role, l.Name, l.Text)
		}
	})
	s.Admission().OnAlert(func(msg string) {
		fmt.Printf("⚠️ %s\n", msg)
	})
	s.Assessment().OnChange(func(r roomsync.RunState) {
		fmt.Printf("📋 assessment %d %s (score %d)\n", r.AssessmentID, r.Status, r.Score())
	})
}

// readCommands 표준 입력을 한 줄씩 명령으로 실행
func readCommands(ctx context.Context, s *roomsync.Session, stop context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		err := execute(ctx, s, scanner.Text())
		if errors.Is(err, errQuit) {
			if err := s.Leave(ctx); err != nil {
				log.Printf("⚠️ leave: %v", err)
			}
			stop()
			return
		}
		if err != nil {
			fmt.Printf("❌ %v\n", err)
		}
	}
}
