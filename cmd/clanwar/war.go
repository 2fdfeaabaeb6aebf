// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/clanwar/internal/war"
)

func newWarCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "war",
		Short: "Declare wars, run sieges and sign truces",
	}
	cmd.AddCommand(
		newDeclareCmd(a),
		newSiegeCmd(a),
		newEndSiegeCmd(a),
		newCancelSiegeCmd(a),
		newTruceCmd(a),
		newStatusCmd(a),
	)
	return cmd
}

func newDeclareCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "declare <clan>",
		Short: "Declare war on a clan, paid from the actor's clan bank",
		Args:  cobra.ExactArgs(1),
	}
	as := actorFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return a.withEngine(cmd, func(ctx context.Context, e *engine) error {
			actor, err := resolveActor(ctx, e.backend, *as)
			if err != nil {
				return err
			}
			out, err := e.wars.DeclareWar(ctx, actor, args[0]).Wait(ctx)
			if err != nil {
				return err
			}
			if out.Result != war.DeclareSuccess {
				return resultError("declare", out.Result, out.Err)
			}
			printf(cmd.OutOrStdout(), "%s declared war on %s; sieges allowed until %s\n",
				clanName(ctx, e.backend, out.War.AggressorClanID),
				clanName(ctx, e.backend, out.War.DefenderClanID),
				out.War.EndTimeExclusivity.Format(time.RFC3339))
			return nil
		})
	}
	return cmd
}

func newSiegeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "siege",
		Short: "Start a siege on an enemy chunk",
		Args:  cobra.NoArgs,
	}
	pos := positionFlags(cmd)
	as := actorFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return a.withEngine(cmd, func(ctx context.Context, e *engine) error {
			actor, err := resolveActor(ctx, e.backend, *as)
			if err != nil {
				return err
			}
			out, err := e.wars.StartSiege(ctx, actor, *pos).Wait(ctx)
			if err != nil {
				return err
			}
			if out.Result != war.SiegeSuccess {
				return resultError("siege", out.Result, out.Err)
			}
			printf(cmd.OutOrStdout(), "siege on %s started; defenders hold until %s\n",
				out.Siege.Key(), out.Siege.Deadline().Format(time.RFC3339))
			return nil
		})
	}
	return cmd
}

func newEndSiegeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "end",
		Short: "Resolve the siege at a position in favour of a clan",
		Args:  cobra.NoArgs,
	}
	pos := positionFlags(cmd)
	var winner string
	cmd.Flags().StringVar(&winner, "winner", "", "name of the winning clan")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return a.withEngine(cmd, func(ctx context.Context, e *engine) error {
			siege, ok := e.wars.GetActiveSiege(*pos)
			if !ok {
				return oops.Code("SIEGE_NOT_ACTIVE").With("chunk", pos.Chunk().String()).Errorf("no siege at %s", pos.Chunk())
			}
			c, err := resolveClan(ctx, e.backend, winner)
			if err != nil {
				return err
			}
			out, err := e.wars.EndSiege(ctx, siege, c.ID).Wait(ctx)
			if err != nil {
				return err
			}
			if out.Err != nil {
				return oops.With("operation", "end siege").Wrap(out.Err)
			}
			printf(cmd.OutOrStdout(), "siege on %s ended: %s\n", out.Siege.Key(), out.Siege.Status)
			return nil
		})
	}
	return cmd
}

func newCancelSiegeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Call off the siege at a position without a winner",
		Args:  cobra.NoArgs,
	}
	pos := positionFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return a.withEngine(cmd, func(ctx context.Context, e *engine) error {
			out, err := e.wars.CancelSiege(ctx, *pos).Wait(ctx)
			if err != nil {
				return err
			}
			if out.Err != nil {
				return oops.With("operation", "cancel siege").Wrap(out.Err)
			}
			printf(cmd.OutOrStdout(), "siege on %s cancelled\n", out.Siege.Key())
			return nil
		})
	}
	return cmd
}

func newTruceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "truce <clan> <clan>",
		Short: "Sign a truce, ending any war between the two clans",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *engine) error {
				first, err := resolveClan(ctx, e.backend, args[0])
				if err != nil {
					return err
				}
				second, err := resolveClan(ctx, e.backend, args[1])
				if err != nil {
					return err
				}
				out, err := e.wars.SignTruce(ctx, first.ID, second.ID).Wait(ctx)
				if err != nil {
					return err
				}
				if out.Err != nil {
					return oops.With("operation", "truce").Wrap(out.Err)
				}
				w := cmd.OutOrStdout()
				printf(w, "truce between %s and %s until %s\n", first.Name, second.Name, out.Truce.EndTime.Format(time.RFC3339))
				if out.Concluded != nil {
					printf(w, "war %s concluded\n", out.Concluded.ID)
				}
				return nil
			})
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List live wars and sieges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *engine) error {
				w := cmd.OutOrStdout()
				now := time.Now()

				wars := e.wars.Wars()
				printf(w, "%d wars\n", len(wars))
				for _, wr := range wars {
					state := "open"
					if wr.Expired(now) {
						state = "expired"
					}
					printf(w, "  %s -> %s (%s, until %s)\n",
						clanName(ctx, e.backend, wr.AggressorClanID),
						clanName(ctx, e.backend, wr.DefenderClanID),
						state, wr.EndTimeExclusivity.Format(time.RFC3339))
				}

				sieges := e.wars.Sieges()
				printf(w, "%d sieges\n", len(sieges))
				for _, s := range sieges {
					printf(w, "  %s by %s against %s, ends %s\n",
						s.Key(),
						clanName(ctx, e.backend, s.AggressorClanID),
						clanName(ctx, e.backend, s.DefenderClanID),
						s.Deadline().Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}
