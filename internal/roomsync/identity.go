package roomsync

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// ClientIdentity 로컬에서 만든 모든 이벤트에 찍는 참가자 인스턴스 식별자 (저장하지 않음)
type ClientIdentity string

// NewClientIdentity 새 식별자 생성
func NewClientIdentity() ClientIdentity {
	return ClientIdentity(uuid.NewString())
}

func (c ClientIdentity) String() string {
	return string(c)
}

// sequencer 로컬 이벤트 일련번호 (버스와 스트림으로 중복 도착한 동작을 한 번만 적용)
type sequencer struct {
	n atomic.Int64
}

func (s *sequencer) next() int64 {
	return s.n.Add(1)
}
