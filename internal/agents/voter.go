// Package agents provides the voter panel and the consensus engine that
// turns its votes into a trade decision.
package agents

import (
	"context"

	"trinity-trader/internal/analysis"
	"trinity-trader/internal/models"
)

// Voter is one member of the consensus panel.
type Voter interface {
	// ID returns the voter's unique id.
	ID() string
	// CastVote returns the voter's opinion on the snapshot. Implementations
	// must honour ctx cancellation.
	CastVote(ctx context.Context, snap Snapshot) (models.Vote, error)
}

// Snapshot is the verified market view every voter sees.
type Snapshot struct {
	Symbol     string                     `json:"symbol"`
	Timeframe  string                     `json:"timeframe"`
	Assessment *analysis.RegimeAssessment `json:"assessment"`
	Confluence *analysis.ConfluenceResult `json:"confluence,omitempty"`
}

// Indicators returns the snapshot's indicator set, or nil.
func (s Snapshot) Indicators() *analysis.IndicatorSet {
	if s.Assessment == nil {
		return nil
	}
	return s.Assessment.Indicators
}

// Regime returns the assessed regime, or unknown.
func (s Snapshot) Regime() analysis.Regime {
	if s.Assessment == nil {
		return analysis.RegimeUnknown
	}
	return s.Assessment.Regime
}

// Persona shapes how a panel member reports its opinion.
type Persona struct {
	ID               string
	Name             string
	Specialty        string
	Tag              string
	ConfidenceAdjust float64
}

var personas = map[string]Persona{
	"atlas": {
		ID:               "atlas",
		Name:             "Atlas",
		Specialty:        "deep reasoning and complex analysis",
		Tag:              "[Deep Analysis]",
		ConfidenceAdjust: 10,
	},
	"nova": {
		ID:        "nova",
		Name:      "Nova",
		Specialty: "balanced reasoning with trend awareness",
	},
	"orion": {
		ID:        "orion",
		Name:      "Orion",
		Specialty: "technical analysis and pattern recognition",
		Tag:       "[Technical]",
	},
	"flash": {
		ID:               "flash",
		Name:             "Flash",
		Specialty:        "fast reasoning and quick decisions",
		Tag:              "[Quick]",
		ConfidenceAdjust: -5,
	},
}

// LookupPersona returns the named persona. Unknown names get a neutral
// persona with no tag or adjustment.
func LookupPersona(name string) Persona {
	if p, ok := personas[name]; ok {
		return p
	}
	return Persona{ID: name, Name: name, Specialty: "general market analysis"}
}

// Apply adjusts confidence and tags the reasoning.
func (p Persona) Apply(confidence float64, reasoning string) (float64, string) {
	confidence = clampConfidence(confidence + p.ConfidenceAdjust)
	if p.Tag != "" {
		reasoning = p.Tag + " " + reasoning
	}
	return confidence, reasoning
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}
