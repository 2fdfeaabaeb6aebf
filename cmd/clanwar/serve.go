// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/clanwar/internal/notify"
	"github.com/holomush/clanwar/internal/observability"
	"github.com/holomush/clanwar/internal/territory"
	"github.com/holomush/clanwar/internal/war"
	"github.com/holomush/clanwar/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engines: siege countdowns, upkeep and metrics",
		Long: `serve loads every claimed chunk, war and live siege, re-arms the siege
countdowns and runs the upkeep pass on its interval until interrupted.
Events are written to the log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd)
		},
	}
}

func (a *app) serve(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.SetDefault(a.logger)

	b, err := a.deps.BackendFactory(ctx, a.cfg)
	if err != nil {
		return err
	}
	e, err := startEngine(ctx, a.cfg, b, a.logger)
	if err != nil {
		return err
	}
	defer e.Close()

	feed := e.events.Subscribe(notify.AllStreams)
	logged := make(chan struct{})
	go func() {
		defer close(logged)
		notify.Log(a.logger.With("component", "events"), feed)
	}()
	defer func() {
		e.events.Unsubscribe(notify.AllStreams, feed)
		<-logged
	}()

	maintenance := territory.NewMaintenanceScheduler(e.territory)
	defer maintenance.Close()

	var obsServer ObservabilityServer
	var obsErr <-chan error
	if a.cfg.MetricsAddr != "" {
		obsServer = a.deps.ObservabilityServerFactory(a.cfg.MetricsAddr, e.loop.Running,
			territory.RegisterMetrics,
			war.RegisterMetrics,
			observability.QueueDepth(e.loop.QueueDepth),
		)
		obsErr, err = obsServer.Start()
		if err != nil {
			return oops.With("addr", a.cfg.MetricsAddr).Wrapf(err, "start observability server")
		}
		a.logger.Info("observability server started", "addr", obsServer.Addr())
	}

	a.logger.Info("engine ready",
		"clans", len(e.territory.ClanIDs()),
		"wars", len(e.wars.Wars()),
		"sieges", len(e.wars.Sieges()),
	)
	printf(cmd.OutOrStdout(), "clanwar serving\n")

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err, ok := <-obsErr:
		if ok && err != nil {
			a.logger.Error("observability server failed", "error", err)
			runErr = oops.With("server", "observability").Wrap(err)
		}
	}

	if obsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogWarn(a.logger, "error stopping observability server", err)
		}
	}
	return runErr
}
