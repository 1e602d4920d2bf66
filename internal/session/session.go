// Package session keeps per-session conversation history.
package session

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxTurns is the history cap used when a store is created with a
// non-positive limit.
const DefaultMaxTurns = 20

// Turn types as they appear on the wire.
const (
	TypeUser = "user"
	TypeBot  = "bot"
)

// ErrEmptyID is returned for operations on a blank session id.
var ErrEmptyID = errors.New("session id must not be empty")

// Turn is a single message in a conversation.
type Turn struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Exchange returns the user turn and bot reply of one answered question,
// both stamped with the same time.
func Exchange(question, answer string, at time.Time) []Turn {
	at = at.UTC()
	return []Turn{
		{Type: TypeUser, Content: question, Timestamp: at},
		{Type: TypeBot, Content: answer, Timestamp: at},
	}
}

// Stats summarises every session held by a store.
type Stats struct {
	TotalSessions             int     `json:"total_sessions"`
	ActiveSessions            int     `json:"active_sessions"`
	TotalMessages             int     `json:"total_messages"`
	AverageMessagesPerSession float64 `json:"average_messages_per_session"`
}

// Store holds ordered turn lists keyed by session id. Appends to one
// session are atomic; once a session exceeds the store's cap the oldest
// turns are discarded.
type Store interface {
	Get(ctx context.Context, id string) ([]Turn, error)
	Append(ctx context.Context, id string, turns ...Turn) error
	Clear(ctx context.Context, id string) error
	Stats(ctx context.Context) (Stats, error)
}

// window returns the most recent max turns of turns.
func window(turns []Turn, max int) []Turn {
	if len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}

func computeStats(sizes []int) Stats {
	st := Stats{TotalSessions: len(sizes)}
	for _, n := range sizes {
		st.TotalMessages += n
		if n > 0 {
			st.ActiveSessions++
		}
	}
	st.AverageMessagesPerSession = float64(st.TotalMessages) / float64(max(st.ActiveSessions, 1))
	return st
}
