package quiz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireReason(t *testing.T, err error, reason Reason) {
	t.Helper()
	require.Error(t, err)
	var ae *AdmissionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, reason, ae.Reason)
	assert.True(t, IsAdmission(err))
}

func TestAdmission_PrivateCap(t *testing.T) {
	h := newHarness(t, DefaultPolicy(), makeQuiz("a", 2), makeQuiz("b", 2), makeQuiz("c", 2), makeQuiz("d", 2))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := h.engine.Start(ctx, StartRequest{ChannelID: "dm-" + id, Kind: ChannelPrivate, ParticipantID: "alice", QuizID: id})
		require.NoError(t, err)
	}
	_, err := h.engine.Start(ctx, StartRequest{ChannelID: "dm-d", Kind: ChannelPrivate, ParticipantID: "alice", QuizID: "d"})
	requireReason(t, err, ReasonPrivateLimit)
	assert.Contains(t, err.Error(), "3")

	// other participants have their own allowance
	_, err = h.engine.Start(ctx, StartRequest{ChannelID: "dm-bob", Kind: ChannelPrivate, ParticipantID: "bob", QuizID: "d"})
	require.NoError(t, err)
}

func TestAdmission_PrivateChannelAllowsParallelSessions(t *testing.T) {
	h := newHarness(t, DefaultPolicy(), makeQuiz("a", 2), makeQuiz("b", 2))
	ctx := context.Background()

	_, err := h.engine.Start(ctx, StartRequest{ChannelID: "dm", Kind: ChannelPrivate, ParticipantID: "alice", QuizID: "a"})
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, StartRequest{ChannelID: "dm", Kind: ChannelPrivate, ParticipantID: "alice", QuizID: "b"})
	require.NoError(t, err)
	assert.Len(t, h.active(t, "dm"), 2)

	_, err = h.engine.Start(ctx, StartRequest{ChannelID: "dm", Kind: ChannelPrivate, ParticipantID: "alice", QuizID: "a"})
	requireReason(t, err, ReasonAlreadyRunning)
}

func TestAdmission_BroadcastLock(t *testing.T) {
	h := newHarness(t, DefaultPolicy(), makeQuiz("a", 2), makeQuiz("b", 2))
	ctx := context.Background()

	startBroadcast(t, h, "chat", "alice", "a")
	_, err := h.engine.Start(ctx, StartRequest{ChannelID: "chat", ParticipantID: "bob", QuizID: "b"})
	requireReason(t, err, ReasonChannelBusy)

	// a different broadcast channel is unaffected
	startBroadcast(t, h, "other", "bob", "b")
}

func TestAdmission_ChampionshipExclusive(t *testing.T) {
	h := newHarness(t, DefaultPolicy(), makeQuiz("cup", 2), makeQuiz("side", 2))
	ctx := context.Background()

	_, err := h.engine.ScheduleChampionship(ctx, ChampionshipRequest{
		ChannelID:     "chat",
		ParticipantID: "host",
		QuizID:        "cup",
		TimeBudget:    10 * time.Second,
		StartAt:       h.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = h.engine.Start(ctx, StartRequest{ChannelID: "chat", ParticipantID: "bob", QuizID: "side"})
	requireReason(t, err, ReasonChampionship)

	_, err = h.engine.Start(ctx, StartRequest{ChannelID: "dm-bob", Kind: ChannelPrivate, ParticipantID: "bob", QuizID: "side"})
	require.NoError(t, err)
}

func TestAdmission_CapsWithoutLockHolder(t *testing.T) {
	e := NewEngine(Deps{Store: newFakeStore(), Gateway: newFakeGateway(), Clock: newFakeClock()}, DefaultPolicy(), nil)
	now := e.clock.Now()
	q := makeQuiz("q", 1)

	// sessions restored without a lock holder still count toward the caps
	a := newSession(SessionKey{ChannelID: "chat", InitiatorID: "alice", QuizID: "q"}, ChannelBroadcast, q, time.Second, now)
	e.sessions[a.Key] = a
	requireReason(t, e.canStart("chat", "alice", "other", ChannelBroadcast), ReasonParticipantLimit)
	require.NoError(t, e.canStart("chat", "bob", "other", ChannelBroadcast))

	b := newSession(SessionKey{ChannelID: "chat", InitiatorID: "bob", QuizID: "q"}, ChannelBroadcast, q, time.Second, now)
	e.sessions[b.Key] = b
	requireReason(t, e.canStart("chat", "carol", "other", ChannelBroadcast), ReasonChannelLimit)

	e.locks["chat"] = a.Key
	requireReason(t, e.canStart("chat", "carol", "other", ChannelBroadcast), ReasonChannelBusy)
}

func TestAdmissionError_Messages(t *testing.T) {
	for _, r := range []Reason{ReasonChampionship, ReasonAlreadyRunning, ReasonPrivateLimit, ReasonChannelBusy, ReasonChannelLimit, ReasonParticipantLimit} {
		err := &AdmissionError{Reason: r, Limit: 2}
		assert.NotEqual(t, "quiz start rejected", err.Error(), r)
	}
	assert.False(t, IsAdmission(ErrQuizNotFound))
}
