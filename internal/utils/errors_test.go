package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorUnwraps(t *testing.T) {
	base := errors.New("disk gone")
	err := NewAppError("records.open", "open failure record store", base)

	assert.Equal(t, "records.open: open failure record store: disk gone", err.Error())
	assert.ErrorIs(t, err, base)

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "records.open", appErr.Op)
}

func TestWithExitCode(t *testing.T) {
	assert.NoError(t, WithExitCode(1, nil))

	base := errors.New("no valid services")
	err := WithExitCode(1, base)

	var coder ExitCoder
	require.ErrorAs(t, err, &coder)
	assert.Equal(t, 1, coder.ExitCode())
	assert.ErrorIs(t, err, base)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("Warning").String())
	assert.Equal(t, "INFO", ParseLevel("nonsense").String())
}
