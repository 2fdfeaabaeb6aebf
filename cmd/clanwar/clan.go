// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/holomush/clanwar/internal/clan"
)

func newClanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clan",
		Short: "Manage actors, clans and memberships",
	}
	cmd.AddCommand(
		newActorCmd(a),
		newCreateClanCmd(a),
		newJoinCmd(a),
		newMoralCmd(a),
	)
	return cmd
}

// withAdmin is withBackend for backends that can manage clans.
func (a *app) withAdmin(cmd *cobra.Command, fn func(ctx context.Context, b *Backend) error) error {
	return a.withBackend(cmd, func(ctx context.Context, b *Backend) error {
		if b.Admin == nil {
			return oops.Code("ADMIN_UNSUPPORTED").Errorf("backend does not manage clans")
		}
		return fn(ctx, b)
	})
}

func newActorCmd(a *app) *cobra.Command {
	var balance float64
	cmd := &cobra.Command{
		Use:   "actor <name>",
		Short: "Register a player, optionally with a starting balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if balance < 0 {
				return oops.Code("INVALID_AMOUNT").Errorf("--balance must not be negative")
			}
			return a.withAdmin(cmd, func(ctx context.Context, b *Backend) error {
				id, err := b.Admin.CreateActor(ctx, args[0])
				if err != nil {
					return err
				}
				if balance > 0 {
					if err := b.Economy.Deposit(ctx, id, decimal.NewFromFloat(balance), "starting balance"); err != nil {
						return oops.With("actor", args[0]).Wrap(err)
					}
				}
				printf(cmd.OutOrStdout(), "actor %s registered as %s\n", args[0], id)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&balance, "balance", 0, "starting balance")
	return cmd
}

func newCreateClanCmd(a *app) *cobra.Command {
	var leader string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Found a clan led by an existing actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withAdmin(cmd, func(ctx context.Context, b *Backend) error {
				if leader == "" {
					return oops.Code("ACTOR_REQUIRED").Errorf("--leader is required")
				}
				id, err := b.Identity.Resolve(ctx, leader)
				if err != nil {
					return oops.With("leader", leader).Wrap(err)
				}
				c, err := b.Admin.CreateClan(ctx, args[0], id)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "clan %s founded as %s\n", c.Name, c.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&leader, "leader", "", "name of the founding actor")
	return cmd
}

func newJoinCmd(a *app) *cobra.Command {
	var perms []string
	cmd := &cobra.Command{
		Use:   "join <clan> <actor>",
		Short: "Add an actor to a clan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := clan.ParsePermissions(perms...)
			if err != nil {
				return err
			}
			return a.withAdmin(cmd, func(ctx context.Context, b *Backend) error {
				c, err := resolveClan(ctx, b, args[0])
				if err != nil {
					return err
				}
				actor, err := resolveActor(ctx, b, args[1])
				if err != nil {
					return err
				}
				if err := b.Admin.AddMember(ctx, c.ID, actor, p); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%s joined %s\n", args[1], c.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&perms, "perms", []string{"claim", "bank"}, "role rights (claim, unclaim, declare, siege, bank, truce or all)")
	return cmd
}

func newMoralCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "moral <clan> <value>",
		Short: "Set a clan's moral score",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			moral, err := decimal.NewFromString(args[1])
			if err != nil {
				return oops.Code("INVALID_MORAL").With("value", args[1]).Wrap(err)
			}
			return a.withAdmin(cmd, func(ctx context.Context, b *Backend) error {
				c, err := resolveClan(ctx, b, args[0])
				if err != nil {
					return err
				}
				if err := b.Admin.SetMoral(ctx, c.ID, moral); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%s moral set to %s\n", c.Name, moral)
				return nil
			})
		},
	}
}
