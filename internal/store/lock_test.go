// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/clanwar/pkg/errutil"
)

func TestTryLock(t *testing.T) {
	tests := []struct {
		name string
		held bool
	}{
		{"free", true},
		{"held elsewhere", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewConn()
			require.NoError(t, err)
			defer mock.Close(context.Background())

			mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
				WithArgs(EngineLockKey).
				WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(tt.held))

			ok, err := TryLock(context.Background(), mock, EngineLockKey)
			require.NoError(t, err)
			assert.Equal(t, tt.held, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTryLock_QueryError(t *testing.T) {
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WithArgs(EngineLockKey).
		WillReturnError(errors.New("connection reset"))

	ok, err := TryLock(context.Background(), mock, EngineLockKey)
	assert.False(t, ok)
	errutil.AssertErrorCode(t, err, "LOCK_FAILED")
}

func TestUnlock(t *testing.T) {
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background())

	mock.ExpectExec(`SELECT pg_advisory_unlock`).
		WithArgs(EngineLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	require.NoError(t, Unlock(context.Background(), mock, EngineLockKey))

	mock.ExpectExec(`SELECT pg_advisory_unlock`).
		WithArgs(EngineLockKey).
		WillReturnError(errors.New("connection reset"))
	errutil.AssertErrorCode(t, Unlock(context.Background(), mock, EngineLockKey), "LOCK_FAILED")

	assert.NoError(t, mock.ExpectationsWereMet())
}
