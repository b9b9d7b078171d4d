package agents

import (
	"fmt"

	"github.com/rs/zerolog"

	"trinity-trader/internal/config"
	apperrors "trinity-trader/internal/errors"
)

// BuildPanel creates the voters described by the consensus config.
func BuildPanel(cfg config.ConsensusConfig, creds config.OpenAICredentials) ([]Voter, error) {
	if len(cfg.Voters) == 0 {
		return nil, fmt.Errorf("%w: consensus panel has no voters", apperrors.ErrConfigInvalid)
	}

	voters := make([]Voter, 0, len(cfg.Voters))
	for _, vc := range cfg.Voters {
		name := vc.Persona
		if name == "" {
			name = vc.ID
		}
		persona := LookupPersona(name)

		switch vc.Kind {
		case "", "heuristic":
			voters = append(voters, NewHeuristicVoter(vc.ID, persona))
		case "remote":
			if creds.APIKey == "" && creds.BaseURL == "" {
				return nil, fmt.Errorf("%w: voter %s needs openai credentials (set OPENAI_API_KEY or credentials.toml)",
					apperrors.ErrConfigInvalid, vc.ID)
			}
			if vc.Model == "" {
				return nil, fmt.Errorf("%w: voter %s has no model", apperrors.ErrConfigInvalid, vc.ID)
			}
			client := NewOpenAIClient(creds.APIKey, creds.BaseURL, vc.Model, vc.Temperature)
			voters = append(voters, NewRemoteVoter(vc.ID, persona, client))
		default:
			return nil, fmt.Errorf("%w: voter %s has unknown kind %q", apperrors.ErrConfigInvalid, vc.ID, vc.Kind)
		}
	}
	return voters, nil
}

// NewEngineFromConfig builds the panel and the engine that polls it.
func NewEngineFromConfig(cfg config.ConsensusConfig, creds config.OpenAICredentials, logger zerolog.Logger) (*Engine, error) {
	voters, err := BuildPanel(cfg, creds)
	if err != nil {
		return nil, err
	}
	return NewEngine(voters, EngineConfig{
		Threshold:     cfg.Threshold,
		MinConfidence: cfg.MinConfidence,
		VoterTimeout:  cfg.VoterTimeout,
	}, logger), nil
}
