package main

import (
	"context"
	"fmt"
	"io"

	"virtualroom-backend/internal/model"
	"virtualroom-backend/internal/store"
)

// streamStat 스트림별 레코드 수와 마지막 id (게스트 커서가 도달해야 할 값)
type streamStat struct {
	Stream model.Stream
	Count  int
	LastID int64
}

func lastID[T any](items []T, id func(T) int64) int64 {
	if len(items) == 0 {
		return 0
	}
	return id(items[len(items)-1])
}

// streamStats 네 스트림 전체를 조회해 집계
func streamStats(ctx context.Context, st store.Store, roomID int64) ([]streamStat, error) {
	msgs, err := st.MessagesSince(ctx, roomID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	events, err := st.EventsSince(ctx, roomID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	assessments, err := st.AssessmentEventsSince(ctx, roomID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("assessments: %w", err)
	}
	transcripts, err := st.TranscriptsSince(ctx, roomID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("transcripts: %w", err)
	}

	return []streamStat{
		{model.StreamMessages, len(msgs), lastID(msgs, func(m model.ChatMessage) int64 { return m.ID })},
		{model.StreamEvents, len(events), lastID(events, func(e model.RoomEvent) int64 { return e.ID })},
		{model.StreamAssessments, len(assessments), lastID(assessments, func(e model.AssessmentEvent) int64 { return e.ID })},
		{model.StreamTranscripts, len(transcripts), lastID(transcripts, func(e model.TranscriptEntry) int64 { return e.ID })},
	}, nil
}

// report 방 상태 출력
func report(ctx context.Context, w io.Writer, st store.Store, code string) error {
	room, err := st.RoomByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("room %q: %w", code, err)
	}

	fmt.Fprintf(w, "🚪 Room %s (id %d)\n", room.Code, room.ID)
	fmt.Fprintf(w, "  - Title: %s\n", room.Title)
	fmt.Fprintf(w, "  - Host: %s\n", room.HostName)
	fmt.Fprintf(w, "  - Status: %s\n", room.Status)
	fmt.Fprintf(w, "  - Companion: %v\n", room.Companion)
	fmt.Fprintln(w)

	pending, err := st.PendingWaiting(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("waiting: %w", err)
	}
	fmt.Fprintf(w, "⏳ Waiting (%d)\n", len(pending))
	for _, e := range pending {
		fmt.Fprintf(w, "  - #%d %s since %s\n", e.ID, e.Name, e.CreatedAt.Format("15:04:05"))
	}
	fmt.Fprintln(w)

	participants, err := st.ActiveParticipants(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("participants: %w", err)
	}
	fmt.Fprintf(w, "👥 Participants (%d)\n", len(participants))
	for _, p := range participants {
		fmt.Fprintf(w, "  - #%d %s (%s)\n", p.ID, p.Name, p.Role)
	}
	fmt.Fprintln(w)

	stats, err := streamStats(ctx, st, room.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "📈 Streams")
	for _, s := range stats {
		fmt.Fprintf(w, "  - %s: %d records, last id %d\n", s.Stream, s.Count, s.LastID)
	}
	return nil
}
