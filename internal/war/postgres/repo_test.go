// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/clanwar/internal/war"
)

var (
	warColumns   = []string{"id", "aggressor_clan_id", "defender_clan_id", "start_time", "end_time_exclusivity", "status"}
	siegeColumns = []string{
		"id", "war_id", "territory_id", "aggressor_clan_id", "defender_clan_id",
		"world", "chunk_x", "chunk_z", "duration_seconds", "started_at", "status",
	}
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func testWar() war.War {
	return war.War{
		ID:                 ulid.Make(),
		AggressorClanID:    ulid.Make(),
		DefenderClanID:     ulid.Make(),
		StartTime:          t0,
		EndTimeExclusivity: t0.Add(48 * time.Hour),
		Status:             war.StatusActive,
	}
}

func testSiege() war.Siege {
	return war.Siege{
		ID:              ulid.Make(),
		WarID:           ulid.Make(),
		TerritoryID:     ulid.Make(),
		AggressorClanID: ulid.Make(),
		DefenderClanID:  ulid.Make(),
		World:           "overworld",
		X:               4,
		Z:               -1,
		Duration:        30 * time.Minute,
		StartedAt:       t0,
		Status:          war.SiegeActive,
	}
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: pgerrcode.UniqueViolation}
}

func TestRepository_ListActiveWars(t *testing.T) {
	w := testWar()

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      []war.War
		wantErr   string
	}{
		{
			name: "returns rows",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(warColumns).
					AddRow(w.ID.String(), w.AggressorClanID.String(), w.DefenderClanID.String(), w.StartTime, w.EndTimeExclusivity, "ACTIVE")
				mock.ExpectQuery(`FROM active_wars WHERE status = 'ACTIVE'`).WillReturnRows(rows)
			},
			want: []war.War{w},
		},
		{
			name: "empty",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM active_wars`).WillReturnRows(pgxmock.NewRows(warColumns))
			},
			want: []war.War{},
		},
		{
			name: "corrupt aggressor",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(warColumns).
					AddRow(w.ID.String(), "nope", w.DefenderClanID.String(), w.StartTime, w.EndTimeExclusivity, "ACTIVE")
				mock.ExpectQuery(`FROM active_wars`).WillReturnRows(rows)
			},
			wantErr: "ulid",
		},
		{
			name: "unknown status",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(warColumns).
					AddRow(w.ID.String(), w.AggressorClanID.String(), w.DefenderClanID.String(), w.StartTime, w.EndTimeExclusivity, "PAUSED")
				mock.ExpectQuery(`FROM active_wars`).WillReturnRows(rows)
			},
			wantErr: "unknown war status",
		},
		{
			name: "query error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM active_wars`).WillReturnError(errors.New("connection refused"))
			},
			wantErr: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			got, err := NewRepository(mock).ListActiveWars(context.Background())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_CreateActiveWar(t *testing.T) {
	w := testWar()

	t.Run("inserts", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO active_wars`).
			WithArgs(w.ID.String(), w.AggressorClanID.String(), w.DefenderClanID.String(), w.StartTime, w.EndTimeExclusivity, "ACTIVE").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewRepository(mock).CreateActiveWar(context.Background(), w))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pair already at war maps to conflict", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO active_wars`).WillReturnError(uniqueViolation())

		err := NewRepository(mock).CreateActiveWar(context.Background(), w)
		require.Error(t, err)
		assert.ErrorIs(t, err, war.ErrConflict)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO active_wars`).WillReturnError(errors.New("disk full"))

		err := NewRepository(mock).CreateActiveWar(context.Background(), w)
		require.Error(t, err)
		assert.NotErrorIs(t, err, war.ErrConflict)
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestRepository_ConcludeWar(t *testing.T) {
	id := ulid.Make()

	t.Run("concludes", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE active_wars SET status = 'CONCLUDED'`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewRepository(mock).ConcludeWar(context.Background(), id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already concluded is not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE active_wars`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewRepository(mock).ConcludeWar(context.Background(), id)
		assert.ErrorIs(t, err, war.ErrNotFound)
	})
}

func TestRepository_ListLiveSieges(t *testing.T) {
	s := testSiege()

	t.Run("converts duration seconds", func(t *testing.T) {
		mock := newMock(t)
		rows := pgxmock.NewRows(siegeColumns).AddRow(
			s.ID.String(), s.WarID.String(), s.TerritoryID.String(), s.AggressorClanID.String(), s.DefenderClanID.String(),
			s.World, s.X, s.Z, int64(1800), s.StartedAt, "ACTIVE")
		mock.ExpectQuery(`FROM active_sieges WHERE status IN \('PENDING', 'ACTIVE'\)`).WillReturnRows(rows)

		got, err := NewRepository(mock).ListLiveSieges(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []war.Siege{s}, got)
	})

	t.Run("pending rows are returned", func(t *testing.T) {
		mock := newMock(t)
		rows := pgxmock.NewRows(siegeColumns).AddRow(
			s.ID.String(), s.WarID.String(), s.TerritoryID.String(), s.AggressorClanID.String(), s.DefenderClanID.String(),
			s.World, s.X, s.Z, int64(1800), s.StartedAt, "PENDING")
		mock.ExpectQuery(`FROM active_sieges`).WillReturnRows(rows)

		got, err := NewRepository(mock).ListLiveSieges(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, war.SiegePending, got[0].Status)
	})

	t.Run("corrupt war id", func(t *testing.T) {
		mock := newMock(t)
		rows := pgxmock.NewRows(siegeColumns).AddRow(
			s.ID.String(), "bad", s.TerritoryID.String(), s.AggressorClanID.String(), s.DefenderClanID.String(),
			s.World, s.X, s.Z, int64(1800), s.StartedAt, "ACTIVE")
		mock.ExpectQuery(`FROM active_sieges`).WillReturnRows(rows)

		_, err := NewRepository(mock).ListLiveSieges(context.Background())
		require.Error(t, err)
	})
}

func TestRepository_CreateActiveSiege(t *testing.T) {
	s := testSiege()
	s.Status = war.SiegePending

	t.Run("stores duration as seconds", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO active_sieges`).
			WithArgs(s.ID.String(), s.WarID.String(), s.TerritoryID.String(), s.AggressorClanID.String(), s.DefenderClanID.String(),
				s.World, s.X, s.Z, int64(1800), s.StartedAt, "PENDING").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewRepository(mock).CreateActiveSiege(context.Background(), s))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("live siege on the cell maps to conflict", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO active_sieges`).WillReturnError(uniqueViolation())

		err := NewRepository(mock).CreateActiveSiege(context.Background(), s)
		assert.ErrorIs(t, err, war.ErrConflict)
	})
}

func TestRepository_UpdateActiveSiege(t *testing.T) {
	s := testSiege()
	s.Status = war.SiegeDefenderWin

	t.Run("updates", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE active_sieges SET status`).
			WithArgs(s.ID.String(), "DEFENDER_WIN", s.StartedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewRepository(mock).UpdateActiveSiege(context.Background(), s))
	})

	t.Run("missing row", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE active_sieges`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewRepository(mock).UpdateActiveSiege(context.Background(), s)
		assert.ErrorIs(t, err, war.ErrNotFound)
	})
}

func TestRepository_Truces(t *testing.T) {
	tr := war.Truce{ID: ulid.Make(), ClanA: ulid.Make(), ClanB: ulid.Make(), StartTime: t0, EndTime: t0.Add(72 * time.Hour)}

	t.Run("create", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO truces`).
			WithArgs(tr.ID.String(), tr.ClanA.String(), tr.ClanB.String(), tr.StartTime, tr.EndTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewRepository(mock).CreateTruce(context.Background(), tr))
	})

	t.Run("active truce found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT 1 FROM truces`).
			WithArgs(tr.ClanB.String(), tr.ClanA.String(), t0.Add(time.Hour)).
			WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

		ok, err := NewRepository(mock).HasActiveTruce(context.Background(), tr.ClanB, tr.ClanA, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("no truce", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT 1 FROM truces`).WillReturnRows(pgxmock.NewRows([]string{"?column?"}))

		ok, err := NewRepository(mock).HasActiveTruce(context.Background(), tr.ClanA, tr.ClanB, t0)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("query error", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT 1 FROM truces`).WillReturnError(errors.New("timeout"))

		_, err := NewRepository(mock).HasActiveTruce(context.Background(), tr.ClanA, tr.ClanB, t0)
		require.Error(t, err)
	})
}
