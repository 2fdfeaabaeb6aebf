// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/holomush/clanwar/internal/territory"
)

func newTerritoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "territory",
		Short: "Claim chunks and manage clan banks",
	}
	cmd.AddCommand(
		newClaimCmd(a),
		newUnclaimCmd(a),
		newInfoCmd(a),
		newListCmd(a),
		newBankCmd(a),
		newContributeCmd(a),
		newMaintainCmd(a),
	)
	return cmd
}

func newClaimCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the chunk at a position for the actor's clan",
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
			out, err := e.territory.ClaimTerritory(ctx, actor, *pos).Wait(ctx)
			if err != nil {
				return err
			}
			if out.Result != territory.ClaimSuccess {
				return resultError("claim", out.Result, out.Err)
			}
			printf(cmd.OutOrStdout(), "claimed %s for %s\n", out.Chunk.Key(), clanName(ctx, e.backend, out.Chunk.ClanID))
			return nil
		})
	}
	return cmd
}

func newUnclaimCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unclaim",
		Short: "Release the chunk at a position",
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
			out, err := e.territory.UnclaimTerritory(ctx, actor, *pos).Wait(ctx)
			if err != nil {
				return err
			}
			if out.Result != territory.UnclaimSuccess {
				return resultError("unclaim", out.Result, out.Err)
			}
			printf(cmd.OutOrStdout(), "released %s\n", out.Chunk.Key())
			return nil
		})
	}
	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show who owns a position and whether it is contested",
		Args:  cobra.NoArgs,
	}
	pos := positionFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return a.withEngine(cmd, func(ctx context.Context, e *engine) error {
			w := cmd.OutOrStdout()
			key := pos.Chunk()

			chunk, ok := e.territory.GetTerritoryAt(*pos)
			if !ok {
				printf(w, "%s: unclaimed\n", key)
				return nil
			}
			state, err := e.territory.GetTerritoryState(ctx, chunk.ClanID)
			if err != nil {
				return err
			}
			printf(w, "%s: owned by %s since %s (%s)\n",
				key, clanName(ctx, e.backend, chunk.ClanID), chunk.ClaimedAt.Format(time.RFC3339), state)
			if siege, ok := e.wars.GetActiveSiege(*pos); ok {
				printf(w, "under siege by %s until %s\n",
					clanName(ctx, e.backend, siege.AggressorClanID), siege.Deadline().Format(time.RFC3339))
			} else if e.wars.IsWarzone(*pos) {
				printf(w, "warzone\n")
			}
			return nil
		})
	}
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <clan>",
		Short: "List a clan's chunks, moral and upkeep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *engine) error {
				c, err := resolveClan(ctx, e.backend, args[0])
				if err != nil {
					return err
				}
				moral, err := e.territory.EffectiveMoral(ctx, c.ID)
				if err != nil {
					return err
				}
				state, err := e.territory.GetTerritoryState(ctx, c.ID)
				if err != nil {
					return err
				}
				chunks := e.territory.GetClanTerritories(c.ID)

				w := cmd.OutOrStdout()
				printf(w, "%s: %d chunks, moral %s, %s, upkeep %s\n",
					c.Name, len(chunks), moral, state, e.territory.GetMaintenanceCost(c.ID))
				for _, ch := range chunks {
					printf(w, "  %s claimed %s\n", ch.Key(), ch.ClaimedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func newBankCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bank <clan>",
		Short: "Show a clan's bank balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *engine) error {
				c, err := resolveClan(ctx, e.backend, args[0])
				if err != nil {
					return err
				}
				out, err := e.territory.GetClanBank(ctx, c.ID).Wait(ctx)
				if err != nil {
					return err
				}
				if out.Result != territory.BankSuccess {
					return resultError("bank", out.Result, out.Err)
				}
				printf(cmd.OutOrStdout(), "%s bank: %s\n", c.Name, out.Balance)
				return nil
			})
		},
	}
}

func newContributeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contribute <amount>",
		Short: "Move money from the actor's wallet into their clan bank",
		Args:  cobra.ExactArgs(1),
	}
	as := actorFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(args[0])
		if err != nil {
			return oops.Code("INVALID_AMOUNT").With("amount", args[0]).Wrap(err)
		}
		return a.withEngine(cmd, func(ctx context.Context, e *engine) error {
			actor, err := resolveActor(ctx, e.backend, *as)
			if err != nil {
				return err
			}
			out, err := e.territory.ContributeToClanBank(ctx, actor, amount).Wait(ctx)
			if err != nil {
				return err
			}
			if out.Result != territory.BankSuccess {
				return resultError("contribute", out.Result, out.Err)
			}
			printf(cmd.OutOrStdout(), "contributed %s, bank now %s\n", amount, out.Balance)
			return nil
		})
	}
	return cmd
}

func newMaintainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run one upkeep pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *engine) error {
				report, err := e.territory.RunMaintenance(ctx).Wait(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for clanID, cost := range report.Paid {
					printf(w, "paid %s: %s\n", clanName(ctx, e.backend, clanID), cost)
				}
				for _, ch := range report.Decayed {
					printf(w, "decayed %s from %s\n", ch.Key(), clanName(ctx, e.backend, ch.ClanID))
				}
				for clanID, cause := range report.Failures {
					printf(w, "failed %s: %v\n", clanName(ctx, e.backend, clanID), cause)
				}
				if len(report.Failures) > 0 {
					return oops.Code("MAINTENANCE_PARTIAL").Errorf("%d clans could not be processed", len(report.Failures))
				}
				return nil
			})
		},
	}
}
