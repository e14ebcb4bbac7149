// Package quiz is the session orchestrator: it runs timed multiple-choice quizzes over a
// messaging Gateway, advances them on due time, and owns admission, voting and championships.
//
// All state lives in maps owned by a single goroutine (Run). Public methods hand closures to
// that goroutine and wait for the result, so no map is ever touched concurrently.
package quiz

import (
	"context"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Deps are the collaborators of the Engine. Store and Gateway are required.
type Deps struct {
	Store        Store
	Gateway      Gateway
	Directory    Directory
	Checkpointer Checkpointer
	Clock        Clock
	// Perm draws the option shuffle; defaults to math/rand/v2 Perm.
	Perm func(n int) []int
}

// Engine owns the Session Store, Channel Locks, Poll Records, Votes and Championships.
type Engine struct {
	policy  Policy
	store   Store
	gateway Gateway
	dir     Directory
	cp      Checkpointer
	clock   Clock
	perm    func(n int) []int
	logger  *zap.Logger

	sessions      map[SessionKey]*Session
	locks         map[string]SessionKey
	polls         map[string]PollRecord
	votes         map[string]*Vote
	championships map[string]*Championship

	ops     chan func(context.Context)
	stopped chan struct{}
}

// NewEngine creates an engine. Call Run to start processing.
func NewEngine(deps Deps, policy Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		policy:        policy.withDefaults(),
		store:         deps.Store,
		gateway:       deps.Gateway,
		dir:           deps.Directory,
		cp:            deps.Checkpointer,
		clock:         deps.Clock,
		perm:          deps.Perm,
		logger:        logger,
		sessions:      make(map[SessionKey]*Session),
		locks:         make(map[string]SessionKey),
		polls:         make(map[string]PollRecord),
		votes:         make(map[string]*Vote),
		championships: make(map[string]*Championship),
		ops:           make(chan func(context.Context), 64),
		stopped:       make(chan struct{}),
	}
	if e.cp == nil {
		e.cp = nopCheckpointer{}
	}
	if e.clock == nil {
		e.clock = systemClock{}
	}
	if e.perm == nil {
		e.perm = rand.Perm
	}
	return e
}

// Run processes operations and timer callbacks until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.stopped)
	e.logger.Info("quiz engine started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("quiz engine stopping")
			return
		case op := <-e.ops:
			op(ctx)
		}
	}
}

// RunSweeper invokes the recovery sweep every interval so idle channels still advance.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("background sweep", zap.Error(err))
			}
		}
	}
}

func (e *Engine) do(ctx context.Context, fn func(ctx context.Context) error) error {
	errc := make(chan error, 1)
	op := func(loopCtx context.Context) { errc <- fn(loopCtx) }
	select {
	case e.ops <- op:
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn from a timer goroutine; dropped once the engine stopped.
func (e *Engine) post(fn func(ctx context.Context)) {
	select {
	case e.ops <- fn:
	case <-e.stopped:
	}
}

// StartRequest asks for a new session.
type StartRequest struct {
	ChannelID     string
	Kind          ChannelKind
	ParticipantID string
	QuizID        string
	TimeBudget    time.Duration
}

// Start admits and starts a session, dispatching its first question.
func (e *Engine) Start(ctx context.Context, req StartRequest) (SessionView, error) {
	var view SessionView
	err := e.do(ctx, func(ctx context.Context) error {
		e.sweep(ctx)
		if err := e.canStart(req.ChannelID, req.ParticipantID, req.QuizID, req.Kind); err != nil {
			e.logger.Debug("quiz start rejected", zap.String("channel_id", req.ChannelID), zap.Error(err))
			return err
		}
		s, err := e.start(ctx, req, false)
		if err != nil {
			return err
		}
		view = e.viewOf(s)
		return nil
	})
	return view, err
}

// Stop finalizes the active sessions the participant may stop in the channel: the
// participant's own sessions in a private channel, every active session in a broadcast one.
func (e *Engine) Stop(ctx context.Context, channelID, participantID string) ([]Leaderboard, error) {
	var boards []Leaderboard
	err := e.do(ctx, func(ctx context.Context) error {
		e.sweep(ctx)
		targets := e.activeIn(channelID, func(s *Session) bool {
			return s.Kind == ChannelBroadcast || s.Key.InitiatorID == participantID
		})
		if len(targets) == 0 {
			return ErrNoActiveSession
		}
		for _, s := range targets {
			if lb := e.finalize(ctx, s); lb != nil {
				boards = append(boards, *lb)
			}
		}
		return nil
	})
	return boards, err
}

// Resume clears the pause flag of paused sessions in the channel and re-dispatches their
// current question.
func (e *Engine) Resume(ctx context.Context, channelID, participantID string) error {
	return e.do(ctx, func(ctx context.Context) error {
		e.sweep(ctx)
		active := e.activeIn(channelID, func(s *Session) bool {
			return s.Kind == ChannelBroadcast || s.Key.InitiatorID == participantID
		})
		if len(active) == 0 {
			return ErrNoActiveSession
		}
		resumed := 0
		for _, s := range active {
			if !s.Paused {
				continue
			}
			resumed++
			s.Paused = false
			s.PausedAtQuestion = nil
			s.ConsecutiveNoAnswer = 0
			e.logger.Info("session resumed", zap.String("session", s.Key.String()), zap.Int("question", s.QuestionIndex))
			e.next(ctx, s, s.QuestionIndex)
		}
		if resumed == 0 {
			return ErrNotPaused
		}
		return nil
	})
}

// HandleAnswer ingests an answer or vote from the transport. Unknown polls are ignored.
func (e *Engine) HandleAnswer(ctx context.Context, ev AnswerEvent) error {
	return e.do(ctx, func(ctx context.Context) error {
		e.sweep(ctx)
		if _, ok := e.votes[ev.PollID]; ok {
			_, err := e.recordVote(ctx, ev.PollID, ev.ParticipantID, ev.OptionIndex)
			return err
		}
		e.ingestAnswer(ctx, ev)
		return nil
	})
}

// Touch records inbound activity of any kind: it only runs the recovery sweep.
func (e *Engine) Touch(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) error {
		e.sweep(ctx)
		return nil
	})
}

// Sweep runs the recovery sweep.
func (e *Engine) Sweep(ctx context.Context) error {
	return e.Touch(ctx)
}

// Sessions returns views of every session known in the channel, active ones first.
func (e *Engine) Sessions(ctx context.Context, channelID string) ([]SessionView, error) {
	var out []SessionView
	err := e.do(ctx, func(context.Context) error {
		for _, s := range e.sortedSessions() {
			if s.Key.ChannelID == channelID {
				out = append(out, e.viewOf(s))
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Active && !out[j].Active })
		return nil
	})
	return out, err
}

// Restore reloads checkpointed sessions and championships. Call once before serving.
func (e *Engine) Restore(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) error {
		sessions, championships, err := e.cp.Load(ctx)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			e.sessions[s.Key] = s
			if !s.Active {
				continue
			}
			if s.Kind == ChannelBroadcast {
				e.locks[s.Key.ChannelID] = s.Key
			}
			for idx, pollID := range s.PollIDs {
				e.polls[pollID] = PollRecord{Session: s.Key, QuestionIndex: idx}
			}
		}
		now := e.clock.Now()
		for _, c := range championships {
			e.championships[c.ChannelID] = c
			if !c.Started && c.StartAt.After(now) {
				e.armChampionshipTimer(c, c.StartAt.Sub(now))
			}
		}
		e.logger.Info("quiz state restored", zap.Int("sessions", len(sessions)), zap.Int("championships", len(championships)))
		e.sweep(ctx)
		return nil
	})
}

func (e *Engine) activeIn(channelID string, match func(*Session) bool) []*Session {
	var out []*Session
	for _, s := range e.sortedSessions() {
		if s.Active && s.Key.ChannelID == channelID && match(s) {
			out = append(out, s)
		}
	}
	return out
}

// sortedSessions gives a deterministic iteration order over the Session Store.
func (e *Engine) sortedSessions() []*Session {
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func (e *Engine) viewOf(s *Session) SessionView {
	holder, ok := e.locks[s.Key.ChannelID]
	return s.view(ok && holder == s.Key)
}

func (e *Engine) notify(ctx context.Context, channelID, text string) {
	if err := e.gateway.SendMessage(ctx, channelID, text); err != nil {
		e.logger.Warn("send message", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (e *Engine) save(ctx context.Context, s *Session) {
	if err := e.cp.SaveSession(ctx, s); err != nil {
		e.logger.Warn("checkpoint session", zap.String("session", s.Key.String()), zap.Error(err))
	}
}

func (e *Engine) displayName(ctx context.Context, participantID string) string {
	if e.dir == nil {
		return participantID
	}
	name, err := e.dir.DisplayName(ctx, participantID)
	if err != nil || name == "" {
		return participantID
	}
	return name
}
