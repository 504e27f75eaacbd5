package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marketsession/engine/pkg/types"
)

func TestSplitNonEmptyTrimsAndDropsBlanks(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, splitNonEmpty("AAPL, MSFT ,"))
	assert.Nil(t, splitNonEmpty(""))
}

func TestModeFromEnvDefaultsToLive(t *testing.T) {
	os.Unsetenv("SESSION_MODE")
	assert.Equal(t, types.ModeLive, modeFromEnv())

	os.Setenv("SESSION_MODE", "backtest")
	defer os.Unsetenv("SESSION_MODE")
	assert.Equal(t, types.ModeBacktest, modeFromEnv())
}

func TestEnvFloatFallsBackOnMissingOrInvalid(t *testing.T) {
	os.Unsetenv("TEST_FLOAT_KEY")
	assert.Equal(t, 42.0, envFloat("TEST_FLOAT_KEY", 42))

	os.Setenv("TEST_FLOAT_KEY", "not-a-number")
	defer os.Unsetenv("TEST_FLOAT_KEY")
	assert.Equal(t, 42.0, envFloat("TEST_FLOAT_KEY", 42))
}

func TestNewRepositoryReturnsConfigurationError(t *testing.T) {
	_, err := newRepository()
	assert.Error(t, err)
}
