// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	pending []uint
	version uint
	dirty   bool
	upErr   error

	ups, downs int
	steps      []int
	forced     []int
	closed     bool
}

func (f *fakeMigrator) Up() error                    { f.ups++; return f.upErr }
func (f *fakeMigrator) Down() error                  { f.downs++; return nil }
func (f *fakeMigrator) Steps(n int) error            { f.steps = append(f.steps, n); return nil }
func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, f.dirty, nil }
func (f *fakeMigrator) Force(v int) error            { f.forced = append(f.forced, v); return nil }
func (f *fakeMigrator) Pending() ([]uint, error)     { return f.pending, nil }
func (f *fakeMigrator) Close() error                 { f.closed = true; return nil }

func migrateDeps(m *fakeMigrator, gotURL *string) *Deps {
	return &Deps{
		MigratorFactory: func(url string) (Migrator, error) {
			if gotURL != nil {
				*gotURL = url
			}
			return m, nil
		},
	}
}

const testDatabaseURL = "postgres://clanwar@localhost/clanwar"

func TestMigrate_Up(t *testing.T) {
	m := &fakeMigrator{pending: []uint{2, 3}}
	var url string

	out, err := execute(t, migrateDeps(m, &url), "--database_url", testDatabaseURL, "migrate")
	require.NoError(t, err)
	assert.Equal(t, testDatabaseURL, url)
	assert.Contains(t, out, "applying 000002_territories")
	assert.Contains(t, out, "applying 000003_wars")
	assert.Contains(t, out, "migrations completed successfully")
	assert.Equal(t, 1, m.ups)
	assert.True(t, m.closed)
}

func TestMigrate_UpToDate(t *testing.T) {
	m := &fakeMigrator{}
	out, err := execute(t, migrateDeps(m, nil), "--database_url", testDatabaseURL, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema is up to date")
	assert.Zero(t, m.ups)
}

func TestMigrate_UpFailure(t *testing.T) {
	m := &fakeMigrator{pending: []uint{1}, upErr: errors.New("syntax error")}
	_, err := execute(t, migrateDeps(m, nil), "--database_url", testDatabaseURL, "migrate")
	assert.Equal(t, "MIGRATION_FAILED", errorCode(t, err))
	assert.True(t, m.closed)
}

func TestMigrate_UsesEnvironmentURL(t *testing.T) {
	t.Setenv("DATABASE_URL", testDatabaseURL)
	m := &fakeMigrator{}
	var url string
	_, err := execute(t, migrateDeps(m, &url), "migrate")
	require.NoError(t, err)
	assert.Equal(t, testDatabaseURL, url)
}

func TestMigrate_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := execute(t, migrateDeps(&fakeMigrator{}, nil), "migrate")
	assert.Equal(t, "CONFIG_INVALID", errorCode(t, err))
}

func TestMigrate_Down(t *testing.T) {
	m := &fakeMigrator{}
	deps := migrateDeps(m, nil)

	_, err := execute(t, deps, "--database_url", testDatabaseURL, "migrate", "down")
	assert.Equal(t, "CONFIRMATION_REQUIRED", errorCode(t, err))
	assert.Zero(t, m.downs)

	out, err := execute(t, deps, "--database_url", testDatabaseURL, "migrate", "down", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "all migrations rolled back")
	assert.Equal(t, 1, m.downs)
}

func TestMigrate_Version(t *testing.T) {
	tests := []struct {
		name    string
		version uint
		dirty   bool
		want    string
	}{
		{"none", 0, false, "no migrations applied"},
		{"clean", 3, false, "000003_wars\n"},
		{"dirty", 2, true, "000002_territories (dirty)"},
		{"unknown", 9, false, "9\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMigrator{version: tt.version, dirty: tt.dirty}
			out, err := execute(t, migrateDeps(m, nil), "--database_url", testDatabaseURL, "migrate", "version")
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestMigrate_ForceAndSteps(t *testing.T) {
	m := &fakeMigrator{}
	deps := migrateDeps(m, nil)

	_, err := execute(t, deps, "--database_url", testDatabaseURL, "migrate", "force", "2")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, m.forced)

	_, err = execute(t, deps, "--database_url", testDatabaseURL, "migrate", "force", "two")
	assert.Equal(t, "INVALID_VERSION", errorCode(t, err))

	_, err = execute(t, deps, "--database_url", testDatabaseURL, "migrate", "steps", "--", "-1")
	require.NoError(t, err)
	assert.Equal(t, []int{-1}, m.steps)

	_, err = execute(t, deps, "--database_url", testDatabaseURL, "migrate", "steps", "0")
	assert.Equal(t, "INVALID_STEPS", errorCode(t, err))
}
