// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/clanwar/internal/config"
	"github.com/holomush/clanwar/internal/loop"
	"github.com/holomush/clanwar/internal/notify"
	"github.com/holomush/clanwar/internal/territory"
	"github.com/holomush/clanwar/internal/war"
)

// engine is a running loop with both managers loaded from the backend.
type engine struct {
	backend   *Backend
	loop      *loop.Loop
	events    *notify.Broadcaster
	territory *territory.Manager
	wars      *war.Manager

	stop context.CancelFunc
}

// startEngine takes the engine lock, builds the managers, starts the loop
// and warms the caches. The engine owns backend from here on, including on
// error.
func startEngine(ctx context.Context, cfg config.Config, backend *Backend, logger *slog.Logger) (*engine, error) {
	release, err := lockBackend(ctx, backend)
	if err != nil {
		closeBackend(backend)
		return nil, err
	}
	backend.Close = withRelease(release, backend.Close)

	loopCfg := cfg.LoopConfig()
	loopCfg.Logger = logger
	l := loop.New(loopCfg)

	events := notify.NewBroadcaster(logger)

	tm, err := territory.NewManager(territory.ManagerConfig{
		Loop:     l,
		Store:    backend.Territories,
		Clans:    backend.Clans,
		Economy:  backend.Economy,
		Settings: cfg.TerritorySettings(),
		Events:   events,
		Logger:   logger.With("component", "territory"),
	})
	if err != nil {
		closeBackend(backend)
		return nil, oops.With("operation", "create territory manager").Wrap(err)
	}
	wm, err := war.NewManager(war.ManagerConfig{
		Loop:      l,
		Store:     backend.Wars,
		Territory: tm,
		Clans:     backend.Clans,
		Economy:   backend.Economy,
		Events:    events,
		Settings:  cfg.WarSettings(),
		Logger:    logger.With("component", "war"),
	})
	if err != nil {
		closeBackend(backend)
		return nil, oops.With("operation", "create war manager").Wrap(err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	e := &engine{backend: backend, loop: l, events: events, territory: tm, wars: wm, stop: stop}
	go func() {
		if err := l.Run(runCtx); err != nil {
			logger.Error("loop exited", "error", err)
		}
	}()

	select {
	case <-l.Ready():
	case <-ctx.Done():
		e.Close()
		return nil, oops.With("operation", "start loop").Wrap(ctx.Err())
	}

	if err := tm.Load(ctx); err != nil {
		e.Close()
		return nil, err
	}
	if err := wm.Load(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Close stops the countdowns and the loop, then releases the backend.
// Sieges stay live in the store for the next start.
func (e *engine) Close() {
	e.wars.Close()
	e.stop()
	<-e.loop.Stopped()
	closeBackend(e.backend)
}

func lockBackend(ctx context.Context, b *Backend) (func(), error) {
	if b.Lock == nil {
		return nil, nil
	}
	release, ok, err := b.Lock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oops.Code("ENGINE_BUSY").
			Hint("stop the running server or wait for the other command").
			Errorf("another clanwar engine holds the database")
	}
	return release, nil
}

// withRelease drops the engine lock before the backend closes.
func withRelease(release, closeFn func()) func() {
	return func() {
		if release != nil {
			release()
		}
		if closeFn != nil {
			closeFn()
		}
	}
}

func closeBackend(b *Backend) {
	if b.Close != nil {
		b.Close()
	}
}
