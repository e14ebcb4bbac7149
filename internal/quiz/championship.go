package quiz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aptible/supercronic/cronexpr"
	"go.uber.org/zap"
)

// Championship is a scheduled, exclusive quiz run in a channel whose outcome is reported as
// a medal leaderboard.
type Championship struct {
	ChannelID  string            `json:"channel_id"`
	QuizID     string            `json:"quiz_id"`
	QuizTitle  string            `json:"quiz_title"`
	TimeBudget time.Duration     `json:"time_budget"`
	CreatedBy  string            `json:"created_by"`
	StartAt    time.Time         `json:"start_at"`
	Started    bool              `json:"started"`
	Session    *SessionKey       `json:"session,omitempty"`
	Scores     map[string]int    `json:"scores"`
	Names      map[string]string `json:"names"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ChampionshipRequest schedules a championship.
type ChampionshipRequest struct {
	ChannelID     string
	ParticipantID string
	QuizID        string
	TimeBudget    time.Duration
	StartAt       time.Time
}

// ParseStartAt resolves a championship start: empty or "now", an RFC3339 timestamp, or a
// cron expression whose next occurrence after now is used.
func ParseStartAt(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || strings.EqualFold(expr, "now") {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, expr); err == nil {
		return t, nil
	}
	cron, err := cronexpr.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("start time %q is neither RFC3339 nor a cron expression: %w", expr, err)
	}
	next := cron.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires", expr)
	}
	return next, nil
}

// ScheduleChampionship registers a championship; it starts now or at StartAt. The returned
// id is the channel id.
func (e *Engine) ScheduleChampionship(ctx context.Context, req ChampionshipRequest) (string, error) {
	err := e.do(ctx, func(ctx context.Context) error {
		e.sweep(ctx)
		return e.scheduleChampionship(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return req.ChannelID, nil
}

// StopChampionship finalizes the championship run, if any, and emits the partial leaderboard.
func (e *Engine) StopChampionship(ctx context.Context, channelID string) error {
	return e.do(ctx, func(ctx context.Context) error {
		e.sweep(ctx)
		c, ok := e.championships[channelID]
		if !ok {
			return ErrChampionshipNotFound
		}
		if c.Session != nil {
			if s := e.sessions[*c.Session]; s != nil && s.Active {
				e.finalize(ctx, s)
				return nil
			}
		}
		e.emitChampionship(ctx, c)
		return nil
	})
}

func (e *Engine) scheduleChampionship(ctx context.Context, req ChampionshipRequest) error {
	if _, ok := e.championships[req.ChannelID]; ok {
		return ErrChampionshipExists
	}
	q, err := e.store.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return fmt.Errorf("get quiz %s: %w", req.QuizID, err)
	}
	if q == nil {
		return ErrQuizNotFound
	}
	if !q.hasPlayable() {
		return ErrNoPlayableQuestions
	}

	now := e.clock.Now()
	startAt := req.StartAt
	if startAt.IsZero() {
		startAt = now
	}
	c := &Championship{
		ChannelID:  req.ChannelID,
		QuizID:     req.QuizID,
		QuizTitle:  q.Title,
		TimeBudget: req.TimeBudget,
		CreatedBy:  req.ParticipantID,
		StartAt:    startAt,
		Scores:     make(map[string]int),
		Names:      make(map[string]string),
		CreatedAt:  now,
	}
	e.championships[req.ChannelID] = c
	e.saveChampionship(ctx, c)
	e.logger.Info("championship scheduled",
		zap.String("channel_id", req.ChannelID),
		zap.String("quiz_id", req.QuizID),
		zap.Time("start_at", startAt),
	)

	if startAt.After(now) {
		e.notify(ctx, req.ChannelID, fmt.Sprintf("🏆 Championship \"%s\" starts at %s.", q.Title, startAt.UTC().Format("2006-01-02 15:04 MST")))
		e.armChampionshipTimer(c, startAt.Sub(now))
		return nil
	}
	e.startChampionship(ctx, c)
	return nil
}

// armChampionshipTimer starts c when due. The timer is a no-op once c was stopped or
// replaced by a later schedule for the same channel.
func (e *Engine) armChampionshipTimer(c *Championship, d time.Duration) {
	e.clock.AfterFunc(d, func() {
		e.post(func(ctx context.Context) {
			if e.championships[c.ChannelID] != c || c.Started || e.clock.Now().Before(c.StartAt) {
				return
			}
			e.startChampionship(ctx, c)
		})
	})
}

func (e *Engine) startDueChampionships(ctx context.Context, now time.Time) {
	var due []*Championship
	for _, c := range e.championships {
		if !c.Started && !now.Before(c.StartAt) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ChannelID < due[j].ChannelID })
	for _, c := range due {
		e.startChampionship(ctx, c)
	}
}

// closeOrphanedChampionships emits and drops started championships whose run was
// deactivated without being finalized (stuck-session cleanup).
func (e *Engine) closeOrphanedChampionships(ctx context.Context) {
	var orphaned []*Championship
	for _, c := range e.championships {
		if !c.Started || c.Session == nil {
			continue
		}
		if s := e.sessions[*c.Session]; s == nil || !s.Active {
			orphaned = append(orphaned, c)
		}
	}
	for _, c := range orphaned {
		e.emitChampionship(ctx, c)
	}
}

func (e *Engine) startChampionship(ctx context.Context, c *Championship) {
	c.Started = true
	e.notify(ctx, c.ChannelID, fmt.Sprintf("🏆 Championship \"%s\" begins now!", c.QuizTitle))
	s, err := e.forceStart(ctx, StartRequest{
		ChannelID:     c.ChannelID,
		Kind:          ChannelBroadcast,
		ParticipantID: c.CreatedBy,
		QuizID:        c.QuizID,
		TimeBudget:    c.TimeBudget,
	}, true)
	if err != nil {
		e.logger.Error("championship start", zap.String("channel_id", c.ChannelID), zap.Error(err))
		e.notify(ctx, c.ChannelID, "The championship could not start: "+err.Error())
		e.dropChampionship(ctx, c.ChannelID)
		return
	}
	if e.championships[c.ChannelID] != c {
		// finished within the first dispatch
		return
	}
	key := s.Key
	c.Session = &key
	e.saveChampionship(ctx, c)
}

// absorb adds a finalized run's scores to the championship and closes it.
func (e *Engine) absorb(ctx context.Context, c *Championship, lb *Leaderboard) {
	for _, st := range lb.Standings {
		c.Scores[st.ParticipantID] += st.Correct
		c.Names[st.ParticipantID] = st.DisplayName
	}
	e.emitChampionship(ctx, c)
}

func (e *Engine) emitChampionship(ctx context.Context, c *Championship) {
	e.notify(ctx, c.ChannelID, FormatChampionship(c))
	e.dropChampionship(ctx, c.ChannelID)
	e.logger.Info("championship finished", zap.String("channel_id", c.ChannelID), zap.Int("participants", len(c.Scores)))
}

func (e *Engine) dropChampionship(ctx context.Context, channelID string) {
	delete(e.championships, channelID)
	if err := e.cp.DeleteChampionship(ctx, channelID); err != nil {
		e.logger.Warn("delete championship checkpoint", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (e *Engine) saveChampionship(ctx context.Context, c *Championship) {
	if err := e.cp.SaveChampionship(ctx, c); err != nil {
		e.logger.Warn("checkpoint championship", zap.String("channel_id", c.ChannelID), zap.Error(err))
	}
}

// ChampionshipRow is one medal table line.
type ChampionshipRow struct {
	ParticipantID string
	Name          string
	Score         int
}

// ChampionshipTable ranks aggregated scores, highest first.
func ChampionshipTable(c *Championship) []ChampionshipRow {
	rows := make([]ChampionshipRow, 0, len(c.Scores))
	for id, score := range c.Scores {
		name := c.Names[id]
		if name == "" {
			name = id
		}
		rows = append(rows, ChampionshipRow{ParticipantID: id, Name: name, Score: score})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].ParticipantID < rows[j].ParticipantID
	})
	return rows
}

var medals = []string{"🥇", "🥈", "🥉"}

// FormatChampionship renders the medal leaderboard.
func FormatChampionship(c *Championship) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏆 Championship \"%s\" results\n", c.QuizTitle)
	rows := ChampionshipTable(c)
	if len(rows) == 0 {
		b.WriteString("No scores recorded.")
		return b.String()
	}
	for i, row := range rows {
		prefix := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			prefix = medals[i]
		}
		fmt.Fprintf(&b, "%s %s - %d", prefix, row.Name, row.Score)
		if i < len(rows)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
