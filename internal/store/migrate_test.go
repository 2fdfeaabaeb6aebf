// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"regexp"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/clanwar/pkg/errutil"
)

type fakeMigrator struct {
	err        error
	version    uint
	dirty      bool
	versionErr error
	closeSrc   error
	closeDB    error
	forced     int
}

func (f *fakeMigrator) Up() error                    { return f.err }
func (f *fakeMigrator) Down() error                  { return f.err }
func (f *fakeMigrator) Steps(int) error              { return f.err }
func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }
func (f *fakeMigrator) Close() (error, error)        { return f.closeSrc, f.closeDB }
func (f *fakeMigrator) Force(v int) error {
	f.forced = v
	return f.err
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u@h/db", migrateURL("postgres://u@h/db"))
	assert.Equal(t, "pgx5://u@h/db", migrateURL("postgresql://u@h/db"))
	assert.Equal(t, "pgx5://u@h/db", migrateURL("pgx5://u@h/db"))
}

func TestNewMigrator_InvalidScheme(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/clanwar")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrator_Operations(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name string
		run  func(m *Migrator) error
		err  error
		code string
	}{
		{name: "up", run: (*Migrator).Up},
		{name: "up no change", run: (*Migrator).Up, err: migrate.ErrNoChange},
		{name: "up failure", run: (*Migrator).Up, err: boom, code: "MIGRATION_UP_FAILED"},
		{name: "down no change", run: (*Migrator).Down, err: migrate.ErrNoChange},
		{name: "down failure", run: (*Migrator).Down, err: boom, code: "MIGRATION_DOWN_FAILED"},
		{name: "steps", run: func(m *Migrator) error { return m.Steps(-1) }},
		{name: "steps failure", run: func(m *Migrator) error { return m.Steps(2) }, err: boom, code: "MIGRATION_STEPS_FAILED"},
		{name: "force failure", run: func(m *Migrator) error { return m.Force(2) }, err: boom, code: "MIGRATION_FORCE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(&Migrator{m: &fakeMigrator{err: tt.err}})
			if tt.code == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestMigrator_Force(t *testing.T) {
	fake := &fakeMigrator{}
	m := &Migrator{m: fake}

	require.NoError(t, m.Force(2))
	assert.Equal(t, 2, fake.forced)

	err := m.Force(-1)
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
}

func TestMigrator_Version(t *testing.T) {
	t.Run("fresh database", func(t *testing.T) {
		v, dirty, err := (&Migrator{m: &fakeMigrator{versionErr: migrate.ErrNilVersion}}).Version()
		require.NoError(t, err)
		assert.Zero(t, v)
		assert.False(t, dirty)
	})

	t.Run("dirty", func(t *testing.T) {
		v, dirty, err := (&Migrator{m: &fakeMigrator{version: 2, dirty: true}}).Version()
		require.NoError(t, err)
		assert.Equal(t, uint(2), v)
		assert.True(t, dirty)
	})

	t.Run("failure", func(t *testing.T) {
		_, _, err := (&Migrator{m: &fakeMigrator{versionErr: errors.New("no db")}}).Version()
		errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	})
}

func TestMigrator_Close(t *testing.T) {
	require.NoError(t, (&Migrator{m: &fakeMigrator{}}).Close())

	err := (&Migrator{m: &fakeMigrator{closeSrc: errors.New("src"), closeDB: errors.New("db")}}).Close()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
	assert.Contains(t, err.Error(), "src")
	assert.Contains(t, err.Error(), "db")
}

func TestMigrator_Pending(t *testing.T) {
	all, err := Versions()
	require.NoError(t, err)

	pending, err := (&Migrator{m: &fakeMigrator{versionErr: migrate.ErrNilVersion}}).Pending()
	require.NoError(t, err)
	assert.Equal(t, all, pending)

	pending, err = (&Migrator{m: &fakeMigrator{version: all[len(all)-1]}}).Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = (&Migrator{m: &fakeMigrator{version: 1}}).Pending()
	require.NoError(t, err)
	assert.Equal(t, all[1:], pending)
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	ups, downs := 0, 0
	for _, entry := range entries {
		name := entry.Name()
		assert.Regexp(t, pattern, name)
		if regexp.MustCompile(`\.up\.sql$`).MatchString(name) {
			ups++
		} else {
			downs++
		}
	}
	assert.Equal(t, ups, downs, "every up migration needs a down")

	versions, err := Versions()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3}, versions)
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(2)
	require.NoError(t, err)
	assert.Equal(t, "000002_territories", name)

	name, err = MigrationName(99)
	require.NoError(t, err)
	assert.Empty(t, name)
}
