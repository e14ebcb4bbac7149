package quiz

import "time"

// Policy holds the process-wide limits and timing rules of the orchestrator.
type Policy struct {
	MaxPrivateSessions     int // per participant, private channels
	MaxChannelSessions     int // per broadcast channel
	MaxUserChannelSessions int // per participant within one broadcast channel

	DefaultTimeBudget time.Duration
	DueGrace          time.Duration
	StuckTTL          time.Duration
	CleanupTTL        time.Duration
	VoteTTL           time.Duration

	PauseAfterMisses int
	WarnOnFirstMiss  bool

	OptionMaxLen   int
	QuestionMaxLen int
}

// DefaultPolicy returns the stock limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxPrivateSessions:     3,
		MaxChannelSessions:     2,
		MaxUserChannelSessions: 1,
		DefaultTimeBudget:      30 * time.Second,
		DueGrace:               5 * time.Second,
		StuckTTL:               30 * time.Minute,
		CleanupTTL:             2 * time.Hour,
		VoteTTL:                10 * time.Minute,
		PauseAfterMisses:       2,
		WarnOnFirstMiss:        true,
		OptionMaxLen:           100,
		QuestionMaxLen:         300,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxPrivateSessions <= 0 {
		p.MaxPrivateSessions = d.MaxPrivateSessions
	}
	if p.MaxChannelSessions <= 0 {
		p.MaxChannelSessions = d.MaxChannelSessions
	}
	if p.MaxUserChannelSessions <= 0 {
		p.MaxUserChannelSessions = d.MaxUserChannelSessions
	}
	if p.DefaultTimeBudget <= 0 {
		p.DefaultTimeBudget = d.DefaultTimeBudget
	}
	if p.DueGrace < 0 {
		p.DueGrace = 0
	}
	if p.StuckTTL <= 0 {
		p.StuckTTL = d.StuckTTL
	}
	if p.CleanupTTL <= 0 {
		p.CleanupTTL = d.CleanupTTL
	}
	if p.VoteTTL <= 0 {
		p.VoteTTL = d.VoteTTL
	}
	if p.PauseAfterMisses <= 0 {
		p.PauseAfterMisses = d.PauseAfterMisses
	}
	if p.OptionMaxLen <= 0 {
		p.OptionMaxLen = d.OptionMaxLen
	}
	if p.QuestionMaxLen <= 0 {
		p.QuestionMaxLen = d.QuestionMaxLen
	}
	return p
}
