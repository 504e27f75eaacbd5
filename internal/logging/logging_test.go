package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDefaultsToInfoLevelAndStderr(t *testing.T) {
	logger, err := Init(Config{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestInitRejectsInvalidLevel(t *testing.T) {
	_, err := Init(Config{Level: "not-a-level"})
	assert.Error(t, err)
}

func TestInitAddsFileHookWhenLogDirSet(t *testing.T) {
	dir := t.TempDir()
	logger, err := Init(Config{LogDir: dir})
	require.NoError(t, err)
	assert.NotEmpty(t, logger.Hooks)
}
