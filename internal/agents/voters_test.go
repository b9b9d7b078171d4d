package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"trinity-trader/internal/analysis"
	"trinity-trader/internal/config"
	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/models"
)

func f(v float64) *float64 { return &v }

func snapshot(regime analysis.Regime, adx float64, trend string, rsi *float64) Snapshot {
	return Snapshot{
		Symbol:    "BTC/USDT",
		Timeframe: "4h",
		Assessment: &analysis.RegimeAssessment{
			Symbol:       "BTC/USDT",
			Regime:       regime,
			TradeAllowed: true,
			Indicators: &analysis.IndicatorSet{
				Price:      42000,
				RSI:        rsi,
				ADX:        &analysis.ADXValue{ADX: adx, PlusDI: 30, MinusDI: 10},
				Bollinger:  &analysis.BollingerValue{Upper: 43000, Middle: 42000, Lower: 41000, WidthPct: 4.76},
				TrendCross: &analysis.TrendCrossValue{Signal: trend},
			},
		},
	}
}

func TestHeuristicOpinion(t *testing.T) {
	tests := []struct {
		name       string
		snap       Snapshot
		signal     models.Signal
		confidence float64
		reasoning  string
	}{
		{"bullish trend", snapshot(analysis.RegimeTrending, 35, analysis.Bullish, f(55)), models.SignalLong, 70, "Strong bullish trend"},
		{"bearish trend", snapshot(analysis.RegimeTrending, 30, analysis.Bearish, f(45)), models.SignalShort, 65, "Strong bearish trend"},
		{"overbought", snapshot(analysis.RegimeTrending, 35, analysis.Bullish, f(75)), models.SignalWait, 40, "Mixed signals"},
		{"oversold", snapshot(analysis.RegimeTrending, 35, analysis.Bearish, f(25)), models.SignalWait, 40, "Mixed signals"},
		{"missing rsi", snapshot(analysis.RegimeTrending, 35, analysis.Bullish, nil), models.SignalWait, 40, "RSI=n/a"},
		{"neutral cross", snapshot(analysis.RegimeTrending, 35, analysis.Neutral, f(50)), models.SignalWait, 40, "Mixed signals"},
		{"ranging", snapshot(analysis.RegimeRanging, 35, analysis.Bullish, f(50)), models.SignalWait, 30, "Unfavorable regime (ranging)"},
		{"adx at threshold", snapshot(analysis.RegimeTrending, 25, analysis.Bullish, f(50)), models.SignalWait, 30, "Unfavorable regime"},
		{"no assessment", Snapshot{}, models.SignalWait, 30, "Unfavorable regime (unknown)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal, confidence, reasoning := opinion(tt.snap)
			if signal != tt.signal || confidence != tt.confidence {
				t.Errorf("opinion() = %s/%v, want %s/%v", signal, confidence, tt.signal, tt.confidence)
			}
			if !strings.Contains(reasoning, tt.reasoning) {
				t.Errorf("reasoning = %q, want %q", reasoning, tt.reasoning)
			}
		})
	}
}

func TestHeuristicPersonas(t *testing.T) {
	snap := snapshot(analysis.RegimeTrending, 35, analysis.Bullish, f(55))

	tests := []struct {
		persona    string
		confidence float64
		prefix     string
	}{
		{"atlas", 80, "[Deep Analysis] "},
		{"nova", 70, "Strong"},
		{"orion", 70, "[Technical] "},
		{"flash", 65, "[Quick] "},
		{"custom", 70, "Strong"},
	}

	for _, tt := range tests {
		t.Run(tt.persona, func(t *testing.T) {
			v := NewHeuristicVoter(tt.persona, LookupPersona(tt.persona))
			got, err := v.CastVote(context.Background(), snap)
			if err != nil {
				t.Fatalf("CastVote() error = %v", err)
			}
			if got.Signal != models.SignalLong || got.Confidence != tt.confidence {
				t.Errorf("vote = %s/%v, want LONG/%v", got.Signal, got.Confidence, tt.confidence)
			}
			if !strings.HasPrefix(got.Rationale, tt.prefix) {
				t.Errorf("Rationale = %q, want prefix %q", got.Rationale, tt.prefix)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestPersonaClampsConfidence(t *testing.T) {
	snap := snapshot(analysis.RegimeTrending, 90, analysis.Bullish, f(55))
	v := NewHeuristicVoter("atlas", LookupPersona("atlas"))
	got, _ := v.CastVote(context.Background(), snap)
	if got.Confidence != 100 {
		t.Errorf("Confidence = %v, want clamped to 100", got.Confidence)
	}

	c, _ := LookupPersona("flash").Apply(2, "x")
	if c != 0 {
		t.Errorf("Apply(2) = %v, want clamped to 0", c)
	}
}

func TestParseVote(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		signal models.Signal
		conf   float64
		reason string
	}{
		{"plain", `{"signal":"LONG","confidence":72.5,"reasoning":"trend up"}`, models.SignalLong, 72.5, "trend up"},
		{"fenced", "Here you go:\n```json\n{\"signal\": \"SHORT\", \"confidence\": 61, \"reasoning\": \"rollover\"}\n```", models.SignalShort, 61, "rollover"},
		{"bare fence", "```\n{\"signal\":\"WAIT\",\"confidence\":20}\n```", models.SignalWait, 20, "No reasoning provided"},
		{"lower case", `{"signal":"long","confidence":65,"reasoning":"a {brace} in text"}`, models.SignalLong, 65, "a {brace} in text"},
		{"prose around", `I think {"signal":"WAIT","confidence":35,"reasoning":"chop"} is right.`, models.SignalWait, 35, "chop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVote(tt.raw)
			if err != nil {
				t.Fatalf("ParseVote() error = %v", err)
			}
			if got.Signal != tt.signal || got.Confidence != tt.conf || got.Reasoning != tt.reason {
				t.Errorf("ParseVote() = %+v", got)
			}
		})
	}
}

func TestParseVoteRejectsMalformed(t *testing.T) {
	inputs := map[string]string{
		"empty":          "",
		"no object":      "LONG, very confident",
		"unterminated":   `{"signal":"LONG","confidence":`,
		"bad signal":     `{"signal":"BUY","confidence":70}`,
		"missing conf":   `{"signal":"LONG"}`,
		"conf too high":  `{"signal":"LONG","confidence":170}`,
		"conf as string": `{"signal":"LONG","confidence":"high"}`,
	}
	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := ParseVote(raw)
			if !errors.Is(err, apperrors.ErrVoterMalformed) {
				t.Errorf("ParseVote(%q) error = %v, want ErrVoterMalformed", raw, err)
			}
		})
	}
}

type fakeLLM struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	f.prompt = user
	return f.reply, f.err
}

func (f *fakeLLM) Model() string { return "fake-model" }

func TestRemoteVoter(t *testing.T) {
	llm := &fakeLLM{reply: "```json\n{\"signal\":\"LONG\",\"confidence\":77,\"reasoning\":\"breakout\"}\n```"}
	v := NewRemoteVoter("orion", LookupPersona("orion"), llm)

	got, err := v.CastVote(context.Background(), snapshot(analysis.RegimeTrending, 32, analysis.Bullish, f(58)))
	if err != nil {
		t.Fatalf("CastVote() error = %v", err)
	}
	if got.Signal != models.SignalLong || got.Confidence != 77 || got.Model != "fake-model" {
		t.Errorf("vote = %+v", got)
	}
	if got.Rationale != "[Technical] breakout" {
		t.Errorf("Rationale = %q", got.Rationale)
	}
	for _, want := range []string{"BTC/USDT", "RSI (14): 58.00", "Regime: trending", "Trade Allowed: true", "Output ONLY the JSON"} {
		if !strings.Contains(llm.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRemoteVoterMalformedReply(t *testing.T) {
	v := NewRemoteVoter("nova", LookupPersona("nova"), &fakeLLM{reply: "I cannot decide"})
	_, err := v.CastVote(context.Background(), Snapshot{Symbol: "BTC/USDT"})
	if !errors.Is(err, apperrors.ErrVoterMalformed) {
		t.Errorf("error = %v, want ErrVoterMalformed", err)
	}
}

func TestBuildPanel(t *testing.T) {
	cfg := config.ConsensusConfig{
		Threshold:     0.75,
		MinConfidence: 60,
		VoterTimeout:  time.Second,
		Voters: []config.VoterConfig{
			{ID: "atlas", Kind: "heuristic", Persona: "atlas"},
			{ID: "nova", Kind: "heuristic"},
			{ID: "gpt", Kind: "remote", Persona: "orion", Model: "gpt-4o-mini"},
		},
	}

	if _, err := BuildPanel(cfg, config.OpenAICredentials{}); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("remote voter without credentials: error = %v, want ErrConfigInvalid", err)
	}

	voters, err := BuildPanel(cfg, config.OpenAICredentials{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("BuildPanel() error = %v", err)
	}
	if len(voters) != 3 {
		t.Fatalf("len(voters) = %d, want 3", len(voters))
	}
	if _, ok := voters[0].(*HeuristicVoter); !ok {
		t.Errorf("voters[0] = %T, want *HeuristicVoter", voters[0])
	}
	if _, ok := voters[2].(*RemoteVoter); !ok {
		t.Errorf("voters[2] = %T, want *RemoteVoter", voters[2])
	}

	cfg.Voters = append(cfg.Voters, config.VoterConfig{ID: "x", Kind: "oracle"})
	if _, err := BuildPanel(cfg, config.OpenAICredentials{APIKey: "sk-test"}); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("unknown kind: error = %v, want ErrConfigInvalid", err)
	}
}
