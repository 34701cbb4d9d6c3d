package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"virtualroom-backend/internal/roomsync"
)

var errQuit = errors.New("quit")

const help = `commands:
  <text>                      send a chat line
  /queue                      list waiting guests (host)
  /approve <n> | /deny <n>    decide the n-th waiting guest (host)
  /allow on|off               guest drawing permission (host)
  /panel open|close           whiteboard panel (host)
  /draw x1 y1 x2 y2 [color]   draw one segment
  /clear                      clear the whiteboard
  /start <form id>            start an assessment (host)
  /answer <q> <value> <score> answer a question (guest)
  /finish                     finish the assessment (guest)
  /say <text>                 append a transcript line
  /who                        participants
  /quit                       leave the room`

// execute 한 줄 명령 실행
func execute(ctx context.Context, s *roomsync.Session, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return s.Say(ctx, line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit":
		return errQuit

	case "/help":
		fmt.Println(help)
		return nil

	case "/queue":
		for i, e := range s.Admission().Queue() {
			fmt.Printf("  %d. %s (entry %d)\n", i+1, e.Name, e.ID)
		}
		return nil

	case "/approve", "/deny":
		entry, err := queued(s, args)
		if err != nil {
			return err
		}
		if cmd == "/approve" {
			return s.Admission().Approve(ctx, entry)
		}
		return s.Admission().Deny(ctx, entry)

	case "/allow":
		on, err := toggle(args, "on", "off")
		if err != nil {
			return err
		}
		return s.Whiteboard().SetAllowGuestDraw(ctx, on)

	case "/panel":
		open, err := toggle(args, "open", "close")
		if err != nil {
			return err
		}
		if open {
			return s.Whiteboard().OpenPanel(ctx)
		}
		return s.Whiteboard().ClosePanel(ctx)

	case "/draw":
		if len(args) < 4 {
			return errors.New("usage: /draw x1 y1 x2 y2 [color]")
		}
		nums := make([]float64, 4)
		for i := range nums {
			n, err := strconv.ParseFloat(args[i], 64)
			if err != nil {
				return fmt.Errorf("coordinate %q: %w", args[i], err)
			}
			nums[i] = n
		}
		color := "#000000"
		if len(args) > 4 {
			color = args[4]
		}
		from, to := roomsync.Point{X: nums[0], Y: nums[1]}, roomsync.Point{X: nums[2], Y: nums[3]}
		if err := s.Whiteboard().DrawStart(ctx, from, color); err != nil {
			return err
		}
		return s.Whiteboard().DrawMove(ctx, from, to, color)

	case "/clear":
		return s.Whiteboard().Clear(ctx)

	case "/start":
		if len(args) != 1 {
			return errors.New("usage: /start <form id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("form id %q: %w", args[0], err)
		}
		return s.Assessment().Start(ctx, id)

	case "/answer":
		if len(args) != 3 {
			return errors.New("usage: /answer <question> <value> <score>")
		}
		score, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("score %q: %w", args[2], err)
		}
		return s.Assessment().Answer(ctx, args[0], args[1], score)

	case "/finish":
		return s.Assessment().Finish(ctx)

	case "/say":
		return s.Transcribe(ctx, strings.Join(args, " "))

	case "/who":
		for _, p := range s.Roster() {
			fmt.Printf("  %s (%s)\n", p.Name, p.Role)
		}
		return nil
	}
	return fmt.Errorf("unknown command %s (try /help)", cmd)
}

func queued(s *roomsync.Session, args []string) (roomsync.WaitingEntry, error) {
	if len(args) != 1 {
		return roomsync.WaitingEntry{}, errors.New("usage: /approve|/deny <n>")
	}
	n, err := strconv.Atoi(args[0])
	queue := s.Admission().Queue()
	if err != nil || n < 1 || n > len(queue) {
		return roomsync.WaitingEntry{}, fmt.Errorf("no waiting guest #%s", args[0])
	}
	return queue[n-1], nil
}

func toggle(args []string, on, off string) (bool, error) {
	if len(args) == 1 {
		switch args[0] {
		case on:
			return true, nil
		case off:
			return false, nil
		}
	}
	return false, fmt.Errorf("expected %s or %s", on, off)
}
