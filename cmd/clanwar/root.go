// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/clanwar/internal/clan"
	"github.com/holomush/clanwar/internal/config"
	"github.com/holomush/clanwar/internal/logging"
	"github.com/holomush/clanwar/internal/territory"
	"github.com/holomush/clanwar/internal/xdg"
)

var errNoDatabase = oops.Code("CONFIG_INVALID").Errorf("database_url is required (flag, config file or DATABASE_URL)")

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	deps    *Deps
	cfgFile string
	cfg     config.Config
	logger  *slog.Logger
}

// NewRootCmd creates the clanwar command tree. A nil deps uses the
// PostgreSQL backend.
func NewRootCmd(deps *Deps) *cobra.Command {
	a := &app{deps: deps.withDefaults()}

	cmd := &cobra.Command{
		Use:   "clanwar",
		Short: "Clan territory and war engine",
		Long: `clanwar tracks clan-owned chunks of a voxel world, clan banks and upkeep,
and runs the declare, siege and truce lifecycle between clans.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file path (default $XDG_CONFIG_HOME/clanwar/config.yaml when present)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newTerritoryCmd(a))
	cmd.AddCommand(newWarCmd(a))
	cmd.AddCommand(newClanCmd(a))
	cmd.AddCommand(newConfigCmd(a))

	return cmd
}

func (a *app) load(cmd *cobra.Command) error {
	path := a.cfgFile
	if path == "" {
		found, ok, err := xdg.ConfigFile()
		if err != nil {
			return err
		}
		if ok {
			path = found
		}
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.Setup(logging.Options{
		Service: "clanwar",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
		Writer:  cmd.ErrOrStderr(),
	})
	return nil
}

// withBackend opens the backend for fn and closes it afterwards.
func (a *app) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b *Backend) error) error {
	ctx := cmd.Context()
	b, err := a.deps.BackendFactory(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer closeBackend(b)
	return fn(ctx, b)
}

// withEngine runs fn against a freshly loaded engine.
func (a *app) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine) error) error {
	ctx := cmd.Context()
	b, err := a.deps.BackendFactory(ctx, a.cfg)
	if err != nil {
		return err
	}
	e, err := startEngine(ctx, a.cfg, b, a.logger)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func resolveActor(ctx context.Context, b *Backend, name string) (clan.ActorID, error) {
	if name == "" {
		return clan.ActorID{}, oops.Code("ACTOR_REQUIRED").Errorf("--as is required")
	}
	id, err := b.Identity.Resolve(ctx, name)
	if errors.Is(err, clan.ErrNotFound) {
		return clan.ActorID{}, oops.Code("ACTOR_NOT_FOUND").With("name", name).Errorf("no actor named %q", name)
	}
	return id, err
}

func resolveClan(ctx context.Context, b *Backend, name string) (*clan.Clan, error) {
	c, err := b.Clans.ByName(ctx, name)
	if errors.Is(err, clan.ErrNotFound) {
		return nil, oops.Code("CLAN_NOT_FOUND").With("name", name).Errorf("no clan named %q", name)
	}
	return c, err
}

// clanName falls back to the raw ID when the clan cannot be looked up.
func clanName(ctx context.Context, b *Backend, id ulid.ULID) string {
	c, err := b.Clans.ByID(ctx, id)
	if err != nil {
		return id.String()
	}
	return c.Name
}

// resultError turns a non-success result into a command error carrying the
// result name as its code.
func resultError(op string, result fmt.Stringer, cause error) error {
	b := oops.Code(result.String()).With("operation", op)
	if cause != nil {
		return b.Wrap(cause)
	}
	return b.Errorf("%s: %s", op, result)
}

// positionFlags registers --world, --x, --y and --z on cmd.
func positionFlags(cmd *cobra.Command) *territory.Position {
	pos := &territory.Position{Y: 64}
	cmd.Flags().StringVar(&pos.World, "world", "overworld", "world name")
	cmd.Flags().Var(coordinate{&pos.X}, "x", "block x coordinate")
	cmd.Flags().Var(coordinate{&pos.Y}, "y", "block y coordinate")
	cmd.Flags().Var(coordinate{&pos.Z}, "z", "block z coordinate")
	return pos
}

// coordinate is a float flag that only accepts finite values.
type coordinate struct{ v *float64 }

func (c coordinate) String() string {
	if c.v == nil {
		return "0"
	}
	return strconv.FormatFloat(*c.v, 'g', -1, 64)
}

func (c coordinate) Set(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return oops.Code("INVALID_POSITION").With("value", s).Errorf("coordinate must be a finite number")
	}
	*c.v = f
	return nil
}

func (coordinate) Type() string { return "float" }

func actorFlag(cmd *cobra.Command) *string {
	var name string
	cmd.Flags().StringVar(&name, "as", "", "name of the acting player")
	return &name
}

func printf(w io.Writer, format string, args ...any) {
	//nolint:errcheck // terminal output
	fmt.Fprintf(w, format, args...)
}
