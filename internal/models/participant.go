package models

import "time"

// Role represents a participant's API role.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
)

// Participant is a quiz player or host as known to the directory.
type Participant struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Role        Role       `json:"role"`
	VIPUntil    *time.Time `json:"vip_until,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsVIP reports whether the VIP period covers at.
func (p *Participant) IsVIP(at time.Time) bool {
	return p.VIPUntil != nil && p.VIPUntil.After(at)
}

// QuizResult is a persisted result row.
type QuizResult struct {
	ID            string        `json:"id"`
	QuizID        string        `json:"quiz_id"`
	ParticipantID string        `json:"participant_id"`
	DisplayName   string        `json:"display_name"`
	ChannelID     string        `json:"channel_id"`
	Answers       map[int]int   `json:"answers"`
	CorrectCount  int           `json:"correct_count"`
	GradedCount   int           `json:"graded_count"`
	LatenciesMs   map[int]int64 `json:"latencies_ms"`
	FinishedAt    time.Time     `json:"finished_at"`
}
