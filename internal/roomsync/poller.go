package roomsync

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// DefaultInterval 스트림 폴링 주기
const DefaultInterval = 2 * time.Second

// FetchFunc id > since 레코드 조회
type FetchFunc[T Record] func(ctx context.Context, since int64) ([]T, error)

// ApplyFunc 원격 레코드를 로컬 상태에 적용
type ApplyFunc[T Record] func(ctx context.Context, rec T)

// Poller 단조 증가 커서로 스트림 하나를 따라간다
//
// 커서와 suppress 플래그는 poller가 직접 들고 있어 타이머 tick이 항상 최신 값을 본다.
// 커서 이하 id와 자기 동작의 에코는 건너뛰므로 레코드는 최대 한 번 적용된다.
type Poller[T Record] struct {
	name     string
	self     ClientIdentity
	fetch    FetchFunc[T]
	apply    ApplyFunc[T]
	fold     ApplyFunc[T]
	skip     func(T) bool
	interval time.Duration

	mu         sync.Mutex
	cursor     int64
	suppress   bool
	generation uint64
}

type PollerOption[T Record] func(*Poller[T])

// WithInterval 폴링 주기 변경
func WithInterval[T Record](d time.Duration) PollerOption[T] {
	return func(p *Poller[T]) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithSkip skip이 true인 레코드는 커서만 넘기고 버림
func WithSkip[T Record](skip func(T) bool) PollerOption[T] {
	return func(p *Poller[T]) {
		p.skip = skip
	}
}

// WithFold 히스토리를 건너뛰는 동안의 레코드 수신 (그리지 않고 권한/진행 중 문진 등 상태만 복원)
func WithFold[T Record](fold ApplyFunc[T]) PollerOption[T] {
	return func(p *Poller[T]) {
		p.fold = fold
	}
}

// NewPoller Poller 생성
func NewPoller[T Record](name string, self ClientIdentity, fetch FetchFunc[T], apply ApplyFunc[T], opts ...PollerOption[T]) *Poller[T] {
	p := &Poller[T]{
		name:     name,
		self:     self,
		fetch:    fetch,
		apply:    apply,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller[T]) Name() string {
	return p.name
}

// Cursor 마지막으로 본 레코드 id
func (p *Poller[T]) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Suppressing 아직 히스토리를 건너뛰는 중인지
func (p *Poller[T]) Suppressing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suppress
}

// Reset 커서를 0으로 되돌리고 suppress 설정
//
// 이후 빈 페이지가 올 때까지 히스토리를 페이지 단위로 건너뛴다.
// Reset 도중 진행 중이던 fetch 결과는 버린다.
func (p *Poller[T]) Reset() {
	p.mu.Lock()
	p.cursor = 0
	p.suppress = true
	p.generation++
	p.mu.Unlock()
}

// Tick 조회 후 적용 한 라운드
//
// 서버가 페이지 크기를 제한하므로 suppress 중에는 히스토리가 끝날 때까지 계속 조회한다.
// 조회 에러는 반환하고 커서는 마지막으로 받은 페이지에 남는다.
func (p *Poller[T]) Tick(ctx context.Context) error {
	p.mu.Lock()
	since, gen := p.cursor, p.generation
	p.mu.Unlock()

	for {
		records, err := p.fetch(ctx, since)
		if err != nil {
			return err
		}
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].RecordID() < records[j].RecordID()
		})

		p.mu.Lock()
		if gen != p.generation {
			p.mu.Unlock()
			return nil
		}
		suppressed := p.suppress
		fresh, advanced := p.advance(records)
		if suppressed && advanced == 0 {
			p.suppress = false
		}
		since = p.cursor
		p.mu.Unlock()

		apply := p.apply
		if suppressed {
			apply = p.fold
		}
		if apply != nil {
			for _, rec := range fresh {
				apply(ctx, rec)
			}
		}

		if !suppressed || advanced == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// advance 커서를 옮기고 넘길 레코드와 새 레코드 수 반환 (mu 보유 상태에서 호출)
func (p *Poller[T]) advance(records []T) ([]T, int) {
	fresh := make([]T, 0, len(records))
	advanced := 0
	for _, rec := range records {
		if rec.RecordID() <= p.cursor {
			continue
		}
		p.cursor = rec.RecordID()
		advanced++
		if p.self != "" && rec.Origin() == p.self {
			continue
		}
		if p.skip != nil && p.skip(rec) {
			continue
		}
		fresh = append(fresh, rec)
	}
	return fresh, advanced
}

// Run ctx 취소 전까지 주기적으로 Tick (실패는 로그 후 다음 주기에 재시도)
func (p *Poller[T]) Run(ctx context.Context) error {
	return runEvery(ctx, p.name, p.interval, p.Tick)
}

// runEvery 즉시 한 번, 이후 주기마다 tick 호출. 루프는 ctx로만 멈춘다.
func runEvery(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := tick(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[Poller %s] tick failed: %v", name, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
