package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/anonymous-cityseeker/CitySeeker/internal/config"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
	"github.com/anonymous-cityseeker/CitySeeker/internal/oracle"
)

// buildOracle constructs the configured decision-maker without the retry
// wrapper. The returned function releases its connections.
func buildOracle(c config.OracleConfig, logger *zap.Logger) (oracle.Oracle, func(), error) {
	noop := func() {}
	switch c.Kind {
	case "straight":
		return oracle.Straight{}, noop, nil

	case "random":
		return oracle.NewRandom(c.Random.Seed), noop, nil

	case "replay":
		episodes, err := ledger.ReadJSONFile(c.Replay.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("replay oracle: %w", err)
		}
		return oracle.NewReplay(episodes), noop, nil

	case "remote":
		r, err := oracle.NewRemote(c.Remote.Addr, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to oracle service at %s: %w", c.Remote.Addr, err)
		}
		return r, func() { _ = r.Close() }, nil

	case "model":
		var images oracle.ImageSource
		if c.Model.ImageBaseURL != "" {
			src, err := oracle.NewURLImages(c.Model.ImageBaseURL)
			if err != nil {
				return nil, noop, err
			}
			images = src
		}
		m, err := oracle.NewModel(oracle.ModelConfig{
			BaseURL:           c.Model.BaseURL,
			APIKey:            c.Model.APIKey,
			Model:             c.Model.Name,
			Temperature:       c.Model.Temperature,
			RequestsPerSecond: c.Model.RequestsPerSecond,
			Burst:             c.Model.Burst,
			BacktrackPrompt:   c.BacktrackPrompt,
		}, images, logger)
		if err != nil {
			return nil, noop, err
		}
		return m, noop, nil

	default:
		return nil, noop, errors.New("unknown oracle kind " + c.Kind)
	}
}

// withRetry applies the configured retry budget, per-attempt timeout and
// fallback confidence.
func withRetry(o oracle.Oracle, c config.OracleConfig, logger *zap.Logger) oracle.Oracle {
	return oracle.WithRetry(o, c.RetryBudget, c.Timeout, oracle.SafeDefault(c.FallbackScore), logger)
}
