package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	apperrors "trinity-trader/internal/errors"
	"trinity-trader/internal/logging"
	"trinity-trader/internal/models"
	"trinity-trader/internal/security"
)

// EngineConfig holds the consensus rules.
type EngineConfig struct {
	// Threshold is the fraction of voters that must agree.
	Threshold float64
	// MinConfidence is the minimum mean confidence of the majority.
	MinConfidence float64
	// VoterTimeout bounds each voter call.
	VoterTimeout time.Duration
}

// DefaultEngineConfig returns a 3-of-4 panel with a 30 second timeout.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Threshold:     0.75,
		MinConfidence: 60,
		VoterTimeout:  30 * time.Second,
	}
}

// Engine polls every voter concurrently and tallies the votes.
type Engine struct {
	voters []Voter
	cfg    EngineConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine creates a consensus engine over voters.
func NewEngine(voters []Voter, cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.VoterTimeout <= 0 {
		cfg.VoterTimeout = DefaultEngineConfig().VoterTimeout
	}
	return &Engine{
		voters: voters,
		cfg:    cfg,
		logger: logger.With().Str("component", "consensus").Logger(),
		now:    time.Now,
	}
}

// WithClock overrides the decision timestamp source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Voters returns the panel.
func (e *Engine) Voters() []Voter {
	return e.voters
}

// Config returns the consensus rules.
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// Run collects one vote per voter and tallies them. A voter that fails,
// times out or returns an invalid vote counts as WAIT with confidence 0;
// no vote is ever dropped.
func (e *Engine) Run(ctx context.Context, snap Snapshot) *models.ConsensusResult {
	votes := make([]models.Vote, len(e.voters))

	var g errgroup.Group
	for i, voter := range e.voters {
		g.Go(func() error {
			votes[i] = e.cast(ctx, voter, snap)
			return nil
		})
	}
	_ = g.Wait()

	result := Tally(votes, e.cfg.Threshold, e.cfg.MinConfidence)
	result.ID = uuid.NewString()
	result.Symbol = snap.Symbol
	result.DecidedAt = e.now().UTC()

	logging.LogConsensus(logging.WithSymbol(e.logger, snap.Symbol), snap.Symbol,
		string(result.Signal), result.AgreementRatio, result.Confidence, result.ShouldTrade)
	return result
}

type castResult struct {
	vote models.Vote
	err  error
}

func (e *Engine) cast(ctx context.Context, voter Voter, snap Snapshot) models.Vote {
	vctx, cancel := context.WithTimeout(ctx, e.cfg.VoterTimeout)
	defer cancel()

	done := make(chan castResult, 1)
	go func() {
		vote, err := voter.CastVote(vctx, snap)
		done <- castResult{vote: vote, err: err}
	}()

	var res castResult
	select {
	case res = <-done:
	case <-vctx.Done():
		res.err = vctx.Err()
	}

	vote := res.vote
	err := res.err
	if err == nil {
		vote.VoterID = voter.ID()
		if vote.Timestamp.IsZero() {
			vote.Timestamp = e.now().UTC()
		}
		if verr := vote.Validate(); verr != nil {
			err = fmt.Errorf("%w: %v", apperrors.ErrVoterMalformed, verr)
		}
	}
	if err == nil {
		return vote
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w after %s", apperrors.ErrVoterTimeout, e.cfg.VoterTimeout)
	}
	reason := security.MaskString(apperrors.NewVoterError(voter.ID(), err).Error())
	vlog := logging.WithVoter(e.logger, voter.ID())
	vlog.Warn().Str("error", reason).Str("symbol", snap.Symbol).Msg("Vote replaced with WAIT")

	return models.WaitVote(voter.ID(), vote.Model, "Vote failed: "+reason, e.now().UTC())
}

// tieOrder breaks equal counts in favour of the earlier signal.
var tieOrder = []models.Signal{models.SignalLong, models.SignalShort, models.SignalWait}

// Tally computes the majority signal, the agreement ratio and the mean
// confidence of the majority, and decides whether the panel supports a
// trade.
func Tally(votes []models.Vote, threshold, minConfidence float64) *models.ConsensusResult {
	if len(votes) == 0 {
		return &models.ConsensusResult{
			Signal:    models.SignalWait,
			Votes:     []models.Vote{},
			Reasoning: "No votes received",
		}
	}

	counts := make(map[models.Signal]int, len(tieOrder))
	confidence := make(map[models.Signal]float64, len(tieOrder))
	for _, v := range votes {
		counts[v.Signal]++
		confidence[v.Signal] += v.Confidence
	}

	majority := models.SignalWait
	best := -1
	for _, s := range tieOrder {
		if counts[s] > best {
			majority, best = s, counts[s]
		}
	}

	ratio := float64(best) / float64(len(votes))
	avg := 0.0
	if best > 0 {
		avg = confidence[majority] / float64(best)
	}
	shouldTrade := ratio >= threshold && majority != models.SignalWait && avg >= minConfidence

	summary := voteSummary(votes)
	var reasoning string
	switch {
	case shouldTrade:
		reasoning = fmt.Sprintf("CONSENSUS: %s with %.0f%% agreement. %s", majority, ratio*100, summary)
	case majority == models.SignalWait:
		reasoning = fmt.Sprintf("NO CONSENSUS: Majority voted WAIT. %s", summary)
	case ratio >= threshold:
		reasoning = fmt.Sprintf("LOW CONFIDENCE: %s averages %.0f%% (need %.0f%%). %s", majority, avg, minConfidence, summary)
	default:
		reasoning = fmt.Sprintf("INSUFFICIENT CONSENSUS: Only %.0f%% agree (need %.0f%%). %s", ratio*100, threshold*100, summary)
	}

	recorded := make([]models.Vote, len(votes))
	copy(recorded, votes)

	return &models.ConsensusResult{
		Signal:         majority,
		Confidence:     avg,
		Votes:          recorded,
		AgreementRatio: ratio,
		ShouldTrade:    shouldTrade,
		Reasoning:      reasoning,
	}
}

func voteSummary(votes []models.Vote) string {
	parts := make([]string, len(votes))
	for i, v := range votes {
		parts[i] = fmt.Sprintf("%s: %s (%.0f%%)", v.VoterID, v.Signal, v.Confidence)
	}
	return strings.Join(parts, ", ")
}
