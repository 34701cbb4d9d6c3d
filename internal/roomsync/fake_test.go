package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var errOffline = errors.New("offline")

// fakeAPI is an in-memory room server shared by the participants of a test.
type fakeAPI struct {
	mu sync.Mutex

	room        string
	messages    []ChatRecord
	events      []EventRecord
	assessments []AssessmentRecord
	transcripts []TranscriptRecord
	nextID      int64

	entries   []WaitingEntry
	decisions map[int64]string
	token     string
	joined    []string
	left      int
	ended     int

	forms     map[int64]*Form
	formLoads int

	fetchErr    error
	registerErr error
	appendErr   error
	decideErr   error
	fetchCalls  int
	statusCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		room:      "room-1",
		decisions: make(map[int64]string),
		forms:     make(map[int64]*Form),
	}
}

func (f *fakeAPI) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeAPI) Room() string { return f.room }

func (f *fakeAPI) CreateRoom(context.Context, string, string, bool) (string, error) {
	return f.room, nil
}

func (f *fakeAPI) EndRoom(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
	return nil
}

func (f *fakeAPI) Leave(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left++
	return nil
}

func (f *fakeAPI) Participants(context.Context) ([]Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Participant{{ID: 0, Name: "Dr. Kim", Role: "host"}}
	for i, name := range f.joined {
		out = append(out, Participant{ID: int64(i + 1), Name: name, Role: "guest"})
	}
	return out, nil
}

func (f *fakeAPI) FetchMessages(_ context.Context, since int64) ([]ChatRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []ChatRecord
	for _, r := range f.messages {
		if r.ID > since {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAPI) FetchEvents(_ context.Context, since int64) ([]EventRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []EventRecord
	for _, r := range f.events {
		if r.ID > since {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAPI) FetchAssessments(_ context.Context, since int64) ([]AssessmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []AssessmentRecord
	for _, r := range f.assessments {
		if r.ID > since {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAPI) FetchTranscripts(_ context.Context, since int64) ([]TranscriptRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []TranscriptRecord
	for _, r := range f.transcripts {
		if r.ID > since {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAPI) AppendMessage(_ context.Context, text string, self ClientIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.messages = append(f.messages, ChatRecord{ID: f.id(), SenderRole: "guest", SenderName: "Lee", Text: text, ClientID: self.String(), CreatedAt: time.Now()})
	return nil
}

func (f *fakeAPI) AppendEvent(_ context.Context, eventType string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.events = append(f.events, EventRecord{ID: f.id(), EventType: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

func (f *fakeAPI) AppendAssessment(_ context.Context, eventType string, assessmentID int64, questionID string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	rec := AssessmentRecord{ID: f.id(), EventType: eventType, AssessmentID: assessmentID, Payload: raw, CreatedAt: time.Now()}
	if questionID != "" {
		rec.QuestionID = &questionID
	}
	f.assessments = append(f.assessments, rec)
	return nil
}

func (f *fakeAPI) AppendTranscript(_ context.Context, text string, self ClientIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.transcripts = append(f.transcripts, TranscriptRecord{ID: f.id(), SpeakerRole: "guest", SpeakerName: "Lee", Text: text, ClientID: self.String()})
	return nil
}

func (f *fakeAPI) RegisterWaiting(_ context.Context, name string) (*Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	entry := WaitingEntry{ID: int64(len(f.entries) + 1), Name: name, Status: "waiting"}
	f.entries = append(f.entries, entry)
	return &Registration{EntryID: entry.ID, Token: "tok-" + name, Status: "waiting"}, nil
}

func (f *fakeAPI) SetParticipantToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeAPI) WaitingStatus(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	for _, e := range f.entries {
		if "tok-"+e.Name == f.token {
			if d, ok := f.decisions[e.ID]; ok {
				return d, nil
			}
			return "waiting", nil
		}
	}
	return "", errOffline
}

func (f *fakeAPI) Join(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, name)
	return nil
}

func (f *fakeAPI) PendingWaiting(context.Context) ([]WaitingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []WaitingEntry
	for _, e := range f.entries {
		if _, ok := f.decisions[e.ID]; !ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAPI) Decide(_ context.Context, entryID int64, approve bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decideErr != nil {
		return f.decideErr
	}
	if _, ok := f.decisions[entryID]; ok {
		return ErrAlreadyResolved
	}
	if approve {
		f.decisions[entryID] = "approved"
	} else {
		f.decisions[entryID] = "denied"
	}
	return nil
}

func (f *fakeAPI) FormByID(_ context.Context, id int64) (*Form, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.formLoads++
	form, ok := f.forms[id]
	if !ok {
		return nil, &APIError{Status: 404, Message: "form not found"}
	}
	return form, nil
}

func (f *fakeAPI) FormByHash(_ context.Context, hash string) (*Form, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.formLoads++
	for _, form := range f.forms {
		if form.PublicHash == hash {
			return form, nil
		}
	}
	return nil, &APIError{Status: 404, Message: "form not found"}
}

// recordingSink captures outbound actions.
type recordingSink struct {
	mu  sync.Mutex
	out []Outbound
}

func (s *recordingSink) Publish(_ context.Context, out Outbound) error {
	s.mu.Lock()
	s.out = append(s.out, out)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, o := range s.out {
		out = append(out, o.EventType)
	}
	return out
}

// records converts recorded outbound events into stream records.
func (s *recordingSink) records(startID int64) []EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []EventRecord
	for i, o := range s.out {
		raw, _ := json.Marshal(o.Payload)
		recs = append(recs, EventRecord{ID: startID + int64(i), EventType: o.EventType, Payload: raw})
	}
	return recs
}
