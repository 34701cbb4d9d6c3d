package roomsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
)

// BusRelay 로컬 Bus와 서버의 방 단위 중계를 연결 (best-effort, 저장 없음)
type BusRelay struct {
	bus    *Bus
	url    string
	header func() http.Header
	retry  time.Duration
}

// NewBusRelay BusRelay 생성
//
// header는 매 연결마다 인증 헤더를 제공한다. 서버는 익명 연결을 거부한다.
func NewBusRelay(bus *Bus, url string, header func() http.Header) *BusRelay {
	return &BusRelay{bus: bus, url: url, header: header, retry: 2 * time.Second}
}

// Run ctx 취소 전까지 연결 유지 (끊기면 재연결)
func (r *BusRelay) Run(ctx context.Context) error {
	for {
		if err := r.serve(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[Relay] %v, reconnecting in %s", err, r.retry)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.retry):
		}
	}
}

// serve 연결 하나를 끊길 때까지 처리
func (r *BusRelay) serve(ctx context.Context) error {
	var header http.Header
	if r.header != nil {
		header = r.header()
	}
	conn, _, err := websocket.Dial(ctx, r.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub, unsubscribe := r.bus.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			typ, data, err := conn.Read(gctx)
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			if typ != websocket.MessageText {
				continue
			}
			var msg BusMessage
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
				continue
			}
			msg.remote = true
			r.bus.Publish(msg)
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case msg, ok := <-sub:
				if !ok {
					return nil
				}
				if msg.remote {
					continue
				}
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				if err := conn.Write(gctx, websocket.MessageText, data); err != nil {
					return fmt.Errorf("write: %w", err)
				}
			}
		}
	})

	return g.Wait()
}
