package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trinity-trader/internal/models"
)

// RemoteVoter asks a chat model for its vote.
type RemoteVoter struct {
	id      string
	persona Persona
	llm     LLMClient
	now     func() time.Time
}

// NewRemoteVoter creates a model-backed voter.
func NewRemoteVoter(id string, persona Persona, llm LLMClient) *RemoteVoter {
	return &RemoteVoter{id: id, persona: persona, llm: llm, now: time.Now}
}

func (r *RemoteVoter) ID() string { return r.id }

func (r *RemoteVoter) CastVote(ctx context.Context, snap Snapshot) (models.Vote, error) {
	resp, err := r.llm.CompleteWithSystem(ctx, systemPrompt(r.persona), BuildPrompt(snap))
	if err != nil {
		return models.Vote{}, err
	}

	parsed, err := ParseVote(resp)
	if err != nil {
		return models.Vote{}, err
	}

	vote := models.Vote{
		VoterID:    r.id,
		Model:      r.llm.Model(),
		Signal:     parsed.Signal,
		Confidence: parsed.Confidence,
		Rationale:  parsed.Reasoning,
		Timestamp:  r.now().UTC(),
	}
	if r.persona.Tag != "" {
		vote.Rationale = r.persona.Tag + " " + vote.Rationale
	}
	return vote, nil
}

func systemPrompt(p Persona) string {
	return fmt.Sprintf("You are %s, a cryptocurrency trading analyst specialising in %s. "+
		"You vote LONG, SHORT or WAIT on verified indicator data and answer with JSON only.", p.Name, p.Specialty)
}

// BuildPrompt renders the snapshot as the analysis request sent to a
// chat model.
func BuildPrompt(snap Snapshot) string {
	var b strings.Builder
	set := snap.Indicators()

	fmt.Fprintf(&b, "Analyze the following market data and provide a trading signal.\n\n")
	fmt.Fprintf(&b, "## MARKET DATA: %s (%s)\n\n", snap.Symbol, snap.Timeframe)

	b.WriteString("### Technical Indicators\n")
	if set == nil {
		b.WriteString("- No indicator data\n")
	} else {
		fmt.Fprintf(&b, "- Current Price: %s\n", formatFloat(set.Price))
		if set.RSI != nil {
			fmt.Fprintf(&b, "- RSI (14): %.2f\n", *set.RSI)
		} else {
			b.WriteString("- RSI (14): n/a\n")
		}
		if m := set.MACD; m != nil {
			fmt.Fprintf(&b, "- MACD: line %.4f, signal %.4f, histogram %.4f (%s)\n", m.Line, m.Signal, m.Histogram, m.Trend)
		}
		if a := set.ADX; a != nil {
			fmt.Fprintf(&b, "- ADX: %.2f (+DI %.2f, -DI %.2f, %s %s)\n", a.ADX, a.PlusDI, a.MinusDI, a.TrendStrength, a.TrendDirection)
		}
		if bb := set.Bollinger; bb != nil {
			fmt.Fprintf(&b, "- Bollinger Bands: upper %s, middle %s, lower %s, width %.2f%%, price %s\n",
				formatFloat(bb.Upper), formatFloat(bb.Middle), formatFloat(bb.Lower), bb.WidthPct, bb.Position)
		}
		if tc := set.TrendCross; tc != nil {
			fmt.Fprintf(&b, "- Trend Cross: %s (EMA fast %s, EMA slow %s, crossover %s, trend %s)\n",
				tc.Signal, formatFloat(tc.FastMA), formatFloat(tc.SlowMA), tc.Crossover, tc.Trend)
		}
	}

	b.WriteString("\n### Market Regime\n")
	fmt.Fprintf(&b, "- Regime: %s\n", snap.Regime())
	if snap.Assessment != nil {
		fmt.Fprintf(&b, "- Trade Allowed: %t\n", snap.Assessment.TradeAllowed)
	}
	if c := snap.Confluence; c != nil {
		fmt.Fprintf(&b, "- Confluence Score: %d/100 (%s)\n", c.Score, c.Status)
	}

	b.WriteString(`
## OUTPUT FORMAT (JSON)

{"signal": "LONG" | "SHORT" | "WAIT", "confidence": 0-100, "reasoning": "2-3 sentences"}

LONG = bullish, SHORT = bearish, WAIT = uncertain or unfavorable conditions.
Output ONLY the JSON, nothing else.
`)
	return b.String()
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.8g", v)
}

