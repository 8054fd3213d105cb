// Package queue carries match_created events from order intake to the
// matching engine. Delivery is at least once; handlers must be idempotent
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Publisher enqueues an unresolved match record for a matching pass
type Publisher interface {
	PublishMatchCreated(ctx context.Context, matchID int) error
}

// Handler processes one match_created event
type Handler func(ctx context.Context, matchID int) error

// DeadLetterHandler observes events whose handler failed
type DeadLetterHandler func(ctx context.Context, letter DeadLetter)

// MatchCreated is the body of a match_created message
type MatchCreated struct {
	MatchRecordID int `json:"matchRecordId"`
}

// DeadLetter is the body of a message on the error channel
type DeadLetter struct {
	MatchRecordID int    `json:"matchRecordId"`
	Error         string `json:"error"`
	Payload       string `json:"payload,omitempty"`
}

// Encode serialises a match_created body
func Encode(matchID int) []byte {
	b, _ := json.Marshal(MatchCreated{MatchRecordID: matchID})
	return b
}

// Decode parses a match_created body. A bare match record carrying "id" is
// accepted as well
func Decode(b []byte) (int, error) {
	var msg struct {
		MatchRecordID *int `json:"matchRecordId"`
		ID            *int `json:"id"`
	}
	if err := json.Unmarshal(b, &msg); err != nil {
		return 0, fmt.Errorf("failed to decode match_created: %w", err)
	}
	switch {
	case msg.MatchRecordID != nil:
		return *msg.MatchRecordID, nil
	case msg.ID != nil:
		return *msg.ID, nil
	}
	return 0, fmt.Errorf("match_created without a match record id")
}

func key(matchID int) []byte {
	return []byte(strconv.Itoa(matchID))
}
