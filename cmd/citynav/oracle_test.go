package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonymous-cityseeker/CitySeeker/internal/config"
	"github.com/anonymous-cityseeker/CitySeeker/internal/oracle"
)

func TestBuildOracleKinds(t *testing.T) {
	c := config.Default().Oracle

	o, closeFn, err := buildOracle(c, nil)
	require.NoError(t, err)
	closeFn()
	assert.IsType(t, oracle.Straight{}, o)

	c.Kind = "random"
	o, _, err = buildOracle(c, nil)
	require.NoError(t, err)
	assert.IsType(t, &oracle.Random{}, o)

	c.Kind = "replay"
	c.Replay.Path = filepath.Join(t.TempDir(), "missing.json")
	_, _, err = buildOracle(c, nil)
	assert.Error(t, err)

	c.Kind = "model"
	c.Model.APIKey = ""
	_, _, err = buildOracle(c, nil)
	assert.Error(t, err)

	c.Kind = "telepathy"
	_, _, err = buildOracle(c, nil)
	assert.Error(t, err)
}

func TestBuildRemoteOracle(t *testing.T) {
	c := config.Default().Oracle
	c.Kind = "remote"
	o, closeFn, err := buildOracle(c, nil)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &oracle.Remote{}, o)
}

func TestWithRetryWrapsConfiguredBudget(t *testing.T) {
	c := config.Default().Oracle
	o := withRetry(oracle.Straight{}, c, nil)
	assert.IsType(t, &oracle.Retrying{}, o)
}
