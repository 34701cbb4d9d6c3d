package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"virtualroom-backend/internal/database"
	"virtualroom-backend/internal/store"
)

// check_room 방 하나의 상태(대기실, 참가자, 스트림 커서)를 출력한다.
//
//	go run ./cmd/check_room <room code>
func main() {
	if len(os.Args) != 2 {
		log.Fatal("usage: check_room <room code>")
	}

	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env file not found, using environment variables")
	}

	db, err := database.ConnectDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := report(ctx, os.Stdout, store.NewGormStore(db), os.Args[1]); err != nil {
		log.Fatal(err)
	}
}
