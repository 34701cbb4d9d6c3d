package roomsync

import (
	"context"
	"errors"
	"fmt"
	"log"

	"virtualroom-backend/internal/model"
)

// Outbound 로컬 동작 하나
//
// Stream은 저장할 로그, Bus는 같은 동작의 fast-path 사본 (없으면 nil).
type Outbound struct {
	Stream       model.Stream
	EventType    string
	AssessmentID int64
	QuestionID   string
	Payload      map[string]any
	Text         string
	Bus          *BusMessage
}

// EventSink 동작 전달 (전송 수단은 컨트롤러가 모름)
type EventSink interface {
	Publish(ctx context.Context, out Outbound) error
}

// BusSink fast-path 사본을 로컬 버스에 발행 (발행자 역할 기록)
type BusSink struct {
	bus  *Bus
	role model.SenderRole
}

// NewBusSink BusSink 생성
func NewBusSink(bus *Bus, role model.SenderRole) *BusSink {
	return &BusSink{bus: bus, role: role}
}

func (s *BusSink) Publish(_ context.Context, out Outbound) error {
	if out.Bus != nil {
		msg := *out.Bus
		msg.Role = s.role
		s.bus.Publish(msg)
	}
	return nil
}

// Appender DurableSink가 쓰는 API
type Appender interface {
	AppendMessage(ctx context.Context, text string, self ClientIdentity) error
	AppendEvent(ctx context.Context, eventType string, payload map[string]any) error
	AppendAssessment(ctx context.Context, eventType string, assessmentID int64, questionID string, payload map[string]any) error
	AppendTranscript(ctx context.Context, text string, self ClientIdentity) error
}

// DurableSink 서버 이벤트 로그에 추가
type DurableSink struct {
	api  Appender
	self ClientIdentity
}

// NewDurableSink DurableSink 생성
func NewDurableSink(api Appender, self ClientIdentity) *DurableSink {
	return &DurableSink{api: api, self: self}
}

func (s *DurableSink) Publish(ctx context.Context, out Outbound) error {
	switch out.Stream {
	case model.StreamMessages:
		return s.api.AppendMessage(ctx, out.Text, s.self)
	case model.StreamEvents:
		return s.api.AppendEvent(ctx, out.EventType, out.Payload)
	case model.StreamAssessments:
		return s.api.AppendAssessment(ctx, out.EventType, out.AssessmentID, out.QuestionID, out.Payload)
	case model.StreamTranscripts:
		return s.api.AppendTranscript(ctx, out.Text, s.self)
	case "":
		return nil
	}
	return fmt.Errorf("unknown stream %q", out.Stream)
}

// FanoutSink 모든 sink에 발행
//
// 실패는 로그 후 묶어서 반환. 로컬 상태는 이미 바뀌었으므로 되돌리지 않는다.
type FanoutSink []EventSink

func (f FanoutSink) Publish(ctx context.Context, out Outbound) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, out); err != nil {
			log.Printf("[Sink] publish %s/%s failed: %v", out.Stream, out.EventType, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// stamp payload에 생성자 식별자와 일련번호 추가
func stamp(payload map[string]any, self ClientIdentity, seq *sequencer) map[string]any {
	if payload == nil {
		payload = make(map[string]any, 2)
	}
	payload[keyClientID] = self.String()
	payload[keySeq] = seq.next()
	return payload
}

func busMirror(t MessageType, self ClientIdentity, payload map[string]any) *BusMessage {
	msg, err := NewBusMessage(t, self, payload)
	if err != nil {
		log.Printf("[Bus] encode %s failed: %v", t, err)
		return nil
	}
	return &msg
}
