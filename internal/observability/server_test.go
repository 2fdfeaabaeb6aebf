// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func startServer(t *testing.T, ready ReadinessChecker, registrars ...Registrar) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready, registrars...)
	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server
}

func get(t *testing.T, server *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + server.Addr() + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp.StatusCode, string(body)
}

func TestServer_MetricsIncludeRegistrars(t *testing.T) {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clanwar_test_operations_total",
		Help: "test counter",
	}, []string{"operation"})
	ops.WithLabelValues("claim").Add(2)

	server := startServer(t, nil,
		func(reg prometheus.Registerer) { reg.MustRegister(ops) },
		QueueDepth(func() int { return 7 }),
	)

	status, body := get(t, server, "/metrics")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	for _, want := range []string{
		"go_goroutines",
		"process_",
		`clanwar_test_operations_total{operation="claim"} 2`,
		"clanwar_loop_queue_depth 7",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServer_Liveness(t *testing.T) {
	server := startServer(t, func() bool { return false })

	status, body := get(t, server, "/healthz/liveness")
	if status != http.StatusOK || strings.TrimSpace(body) != "ok" {
		t.Errorf("liveness = %d %q", status, body)
	}
}

func TestServer_ReadinessFollowsChecker(t *testing.T) {
	var ready atomic.Bool
	server := startServer(t, ready.Load)

	if status, _ := get(t, server, "/healthz/readiness"); status != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before ready, got %d", status)
	}

	ready.Store(true)
	if status, body := get(t, server, "/healthz/readiness"); status != http.StatusOK || strings.TrimSpace(body) != "ok" {
		t.Errorf("expected 200 ok after ready, got %d %q", status, body)
	}
}

func TestServer_NilCheckerIsReady(t *testing.T) {
	server := startServer(t, nil)
	if status, _ := get(t, server, "/healthz/readiness"); status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil)
	if _, err := server.Start(); err == nil {
		t.Error("second Start should fail")
	}
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	if err := server.Stop(context.Background()); err != nil {
		t.Errorf("stop before start: %v", err)
	}
	if server.Addr() != "" {
		t.Errorf("Addr before start = %q", server.Addr())
	}
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	_ = server.listener.Close()

	select {
	case serveErr := <-errCh:
		if serveErr == nil {
			t.Error("expected a serve error after the listener closed")
		}
	case <-time.After(2 * time.Second):
		t.Error("timed out waiting for serve error")
	}
}

func TestServer_ErrorChannelClosesOnShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Errorf("unexpected error on shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timed out waiting for error channel to close")
	}
}
