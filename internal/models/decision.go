package models

import (
	"fmt"
	"time"
)

// Vote is one panel member's opinion. It is not modified after it is cast.
type Vote struct {
	VoterID    string    `json:"voter_id"`
	Model      string    `json:"model"`
	Signal     Signal    `json:"signal"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate checks that the vote is well formed.
func (v Vote) Validate() error {
	if v.VoterID == "" {
		return fmt.Errorf("voter id is required")
	}
	if !v.Signal.Valid() {
		return fmt.Errorf("invalid signal: %q", v.Signal)
	}
	if v.Confidence < 0 || v.Confidence > 100 {
		return fmt.Errorf("confidence must be between 0 and 100, got %.2f", v.Confidence)
	}
	return nil
}

// WaitVote returns the neutral vote used when a voter fails.
func WaitVote(voterID, model, rationale string, at time.Time) Vote {
	return Vote{
		VoterID:    voterID,
		Model:      model,
		Signal:     SignalWait,
		Confidence: 0,
		Rationale:  rationale,
		Timestamp:  at,
	}
}

// ConsensusResult is the tally of a panel vote.
type ConsensusResult struct {
	ID             string    `json:"id,omitempty"`
	Symbol         string    `json:"symbol,omitempty"`
	Signal         Signal    `json:"signal"`
	Confidence     float64   `json:"confidence"`
	Votes          []Vote    `json:"votes"`
	AgreementRatio float64   `json:"agreement_ratio"`
	ShouldTrade    bool      `json:"should_trade"`
	Reasoning      string    `json:"reasoning"`
	DecidedAt      time.Time `json:"decided_at"`
}
