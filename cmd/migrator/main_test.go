package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunnerRequiresDatabaseURL(t *testing.T) {
	runner, err := NewRunner("")

	require.ErrorIs(t, err, ErrDatabaseURLRequired)
	assert.Nil(t, runner)
}

func TestExecuteCommandRejectsUnknownCommand(t *testing.T) {
	err := executeCommand("sideways", &Runner{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: sideways")
}
