package sqlite

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryOnBusySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := retryOnBusy(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryOnBusyRetriesLockedDatabase(t *testing.T) {
	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("write: database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryOnBusyGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := retryOnBusy(func() error {
		calls++
		return fmt.Errorf("write: SQLITE_BUSY")
	})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
}

func TestRetryOnBusyPassesThroughOtherErrors(t *testing.T) {
	sentinel := errors.New("constraint violation")
	calls := 0
	err := retryOnBusy(func() error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls, "non-busy errors must not be retried")
}
