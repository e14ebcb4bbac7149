package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	at      time.Time
	f       func()
	fired   bool
	stopped bool
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.fired || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

// Advance moves time forward and fires every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// Skip moves time forward without firing timers, as after a restart.
func (c *fakeClock) Skip(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		t.stopped = true
	}
}

type sentQuestion struct {
	ChannelID string
	PollID    string
	Question  OutgoingQuestion
}

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	questions []sentQuestion
	messages  map[string][]string
	closed    []string
	log       []string
	fail      map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{messages: make(map[string][]string), fail: make(map[string]error)}
}

func (g *fakeGateway) SendQuestion(_ context.Context, channelID string, q OutgoingQuestion) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail[channelID]; err != nil {
		g.log = append(g.log, "rejected:"+q.Text)
		return "", err
	}
	g.seq++
	id := fmt.Sprintf("poll-%d", g.seq)
	g.questions = append(g.questions, sentQuestion{ChannelID: channelID, PollID: id, Question: q})
	g.log = append(g.log, "question:"+q.Text)
	return id, nil
}

func (g *fakeGateway) CloseQuestion(_ context.Context, _ string, pollID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = append(g.closed, pollID)
	return nil
}

func (g *fakeGateway) SendMessage(_ context.Context, channelID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages[channelID] = append(g.messages[channelID], text)
	g.log = append(g.log, "message:"+text)
	return nil
}

func (g *fakeGateway) sent() []sentQuestion {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentQuestion(nil), g.questions...)
}

func (g *fakeGateway) lastPoll(t *testing.T) string {
	t.Helper()
	sent := g.sent()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1].PollID
}

func (g *fakeGateway) channelMessages(channelID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.messages[channelID]...)
}

func (g *fakeGateway) events() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.log...)
}

type fakeStore struct {
	mu      sync.Mutex
	quizzes map[string]*Quiz
	vip     map[string]bool
	saved   []Result
	saveErr error
}

func newFakeStore(quizzes ...*Quiz) *fakeStore {
	s := &fakeStore{quizzes: make(map[string]*Quiz), vip: make(map[string]bool)}
	for _, q := range quizzes {
		s.quizzes[q.ID] = q
	}
	return s
}

func (s *fakeStore) GetQuiz(_ context.Context, quizID string) (*Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[quizID]
	if !ok {
		return nil, ErrQuizNotFound
	}
	return q, nil
}

func (s *fakeStore) SaveResult(_ context.Context, r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, r)
	return nil
}

func (s *fakeStore) IsVIP(_ context.Context, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vip[participantID], nil
}

func (s *fakeStore) results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Result(nil), s.saved...)
}

type memCheckpointer struct {
	mu            sync.Mutex
	sessions      map[SessionKey]*Session
	championships map[string]*Championship
}

func newMemCheckpointer() *memCheckpointer {
	return &memCheckpointer{sessions: make(map[SessionKey]*Session), championships: make(map[string]*Championship)}
}

func (m *memCheckpointer) SaveSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.Key] = &cp
	return nil
}

func (m *memCheckpointer) DeleteSession(_ context.Context, key SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

func (m *memCheckpointer) SaveChampionship(_ context.Context, c *Championship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.championships[c.ChannelID] = &cp
	return nil
}

func (m *memCheckpointer) DeleteChampionship(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.championships, channelID)
	return nil
}

func (m *memCheckpointer) Load(context.Context) ([]*Session, []*Championship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sessions []*Session
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	var championships []*Championship
	for _, c := range m.championships {
		championships = append(championships, c)
	}
	return sessions, championships, nil
}

func identityPerm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

type harness struct {
	engine  *Engine
	gateway *fakeGateway
	store   *fakeStore
	clock   *fakeClock
	cp      *memCheckpointer
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, policy Policy, quizzes ...*Quiz) *harness {
	t.Helper()
	h := &harness{
		gateway: newFakeGateway(),
		store:   newFakeStore(quizzes...),
		clock:   newFakeClock(),
		cp:      newMemCheckpointer(),
	}
	h.engine = NewEngine(Deps{
		Store:        h.store,
		Gateway:      h.gateway,
		Checkpointer: h.cp,
		Clock:        h.clock,
		Perm:         identityPerm,
	}, policy, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.engine.Run(ctx)
	t.Cleanup(cancel)
	return h
}

// advance moves the clock and waits until the engine has run every timer callback it fired.
func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	h.clock.Advance(d)
	h.settle(t)
}

// settle round-trips through the engine loop so queued timer callbacks have run.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.do(context.Background(), func(context.Context) error { return nil }))
}

func (h *harness) sessions(t *testing.T, channelID string) []SessionView {
	t.Helper()
	views, err := h.engine.Sessions(context.Background(), channelID)
	require.NoError(t, err)
	return views
}

func (h *harness) active(t *testing.T, channelID string) []SessionView {
	t.Helper()
	var out []SessionView
	for _, v := range h.sessions(t, channelID) {
		if v.Active {
			out = append(out, v)
		}
	}
	return out
}

func (h *harness) answer(t *testing.T, pollID, participantID string, option int) {
	t.Helper()
	require.NoError(t, h.engine.HandleAnswer(context.Background(), AnswerEvent{
		PollID:        pollID,
		ParticipantID: participantID,
		OptionIndex:   option,
	}))
}

// makeQuiz builds n four-option questions whose correct answer is option 1.
func makeQuiz(id string, n int) *Quiz {
	q := &Quiz{ID: id, Title: "Quiz " + id, TimeBudgetDefault: 10 * time.Second}
	for i := 0; i < n; i++ {
		correct := 1
		q.Questions = append(q.Questions, Question{
			Text:         fmt.Sprintf("question %d", i+1),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: &correct,
		})
	}
	return q
}

var errForbidden = errors.New("bot is not allowed to send polls")
