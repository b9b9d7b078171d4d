package agents

import (
	"context"
	"fmt"
	"time"

	"trinity-trader/internal/analysis"
	"trinity-trader/internal/models"
)

const (
	heuristicModel = "heuristic"

	trendADX      = 25.0
	overboughtRSI = 70.0
	oversoldRSI   = 30.0
)

// HeuristicVoter votes from fixed indicator rules. It needs no network
// access and is deterministic for a given snapshot.
type HeuristicVoter struct {
	id      string
	persona Persona
	now     func() time.Time
}

// NewHeuristicVoter creates a rule-based voter.
func NewHeuristicVoter(id string, persona Persona) *HeuristicVoter {
	return &HeuristicVoter{id: id, persona: persona, now: time.Now}
}

func (h *HeuristicVoter) ID() string { return h.id }

func (h *HeuristicVoter) CastVote(ctx context.Context, snap Snapshot) (models.Vote, error) {
	if err := ctx.Err(); err != nil {
		return models.Vote{}, err
	}

	signal, confidence, reasoning := opinion(snap)
	confidence, reasoning = h.persona.Apply(confidence, reasoning)

	return models.Vote{
		VoterID:    h.id,
		Model:      heuristicModel,
		Signal:     signal,
		Confidence: confidence,
		Rationale:  reasoning,
		Timestamp:  h.now().UTC(),
	}, nil
}

// opinion votes with the trend only in a trending, strong-ADX market and
// only while RSI is not stretched against the trade.
func opinion(snap Snapshot) (models.Signal, float64, string) {
	set := snap.Indicators()
	regime := snap.Regime()

	adx := 0.0
	trend := analysis.Neutral
	var rsi *float64
	if set != nil {
		if set.ADX != nil {
			adx = set.ADX.ADX
		}
		if set.TrendCross != nil {
			trend = set.TrendCross.Signal
		}
		rsi = set.RSI
	}

	if regime != analysis.RegimeTrending || adx <= trendADX {
		return models.SignalWait, 30, fmt.Sprintf("Unfavorable regime (%s) or weak trend (ADX=%.1f)", regime, adx)
	}

	confidence := 60 + (adx - trendADX)
	if rsi != nil {
		switch {
		case trend == analysis.Bullish && *rsi < overboughtRSI:
			return models.SignalLong, confidence,
				fmt.Sprintf("Strong bullish trend (ADX=%.1f), RSI not overbought, trend cross bullish", adx)
		case trend == analysis.Bearish && *rsi > oversoldRSI:
			return models.SignalShort, confidence,
				fmt.Sprintf("Strong bearish trend (ADX=%.1f), RSI not oversold, trend cross bearish", adx)
		}
	}

	rsiText := "n/a"
	if rsi != nil {
		rsiText = fmt.Sprintf("%.1f", *rsi)
	}
	return models.SignalWait, 40, fmt.Sprintf("Mixed signals: trend cross %s, RSI=%s, wait for clarity", trend, rsiText)
}
