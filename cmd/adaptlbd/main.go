// Command adaptlbd runs the adaptive load balancer against a pool of
// simulated backends, driving it through a scripted fault scenario.
//
// Usage:
//
//	adaptlbd [-config path/to/scenario.yaml]
//
// Edit scenario.yaml while the process is running to change the fault
// schedule, request rate, priority mix, or run length without a restart; the
// admin server's rate-limit and auth settings are read once at startup.
// Shutdown is graceful: send
// SIGINT or SIGTERM and the current tick is allowed to finish.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"adaptlb"
	"adaptlb/internal/admin"
	"adaptlb/internal/config"
	"adaptlb/internal/middleware"
	"adaptlb/internal/simbackend"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/scenario.yaml", "path to scenario.yaml")
	flag.Parse()

	startTime := time.Now()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		slog.Warn("could not load scenario file, using defaults",
			"path", *configPath,
			"error", err,
		)
		cfg = config.Default()
		v = nil
	}

	backends, handles := buildBackends(cfg)
	bal := adaptlb.NewSeeded(handles, cfg.Seed)
	reg := admin.NewRegistry(bal, backends)

	var liveCfg atomic.Value
	liveCfg.Store(cfg)

	adminSrv := buildAdminServer(reg, cfg, startTime)
	if cfg.Admin.Enabled {
		adminSrv.Start()
	}

	if v != nil {
		config.Watch(v, func(newCfg config.Scenario) {
			liveCfg.Store(newCfg)
			slog.Info("scenario hot-reloaded",
				"faults", len(newCfg.Faults),
				"rate_limit", newCfg.RateLimit.Enabled,
				"auth", newCfg.Auth.Enabled,
			)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := rand.New(rand.NewSource(cfg.Seed ^ 0x5bd1e995))
	var reqID int64

	slog.Info("adaptlbd starting",
		"backends", len(backends),
		"ticks", cfg.Ticks,
		"requests_per_tick", cfg.RequestsPerTick,
		"version", version,
		"commit", commit,
		"build_date", buildDate,
	)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var tick int64
runLoop:
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received")
			break runLoop
		case <-ticker.C:
			tick++
			live := liveCfg.Load().(config.Scenario)
			if live.Ticks > 0 && tick > live.Ticks {
				break runLoop
			}

			for _, f := range live.FaultsAt(tick) {
				if err := reg.ApplyFault(f.Backend, f.Action, f.LatencyMultiplier, f.ErrorRate); err != nil {
					slog.Error("fault injection failed", "error", err, "backend", f.Backend)
				}
			}

			bal.Tick()

			bg, normal, _ := live.PriorityMix.Normalized()
			admitted, shed := 0, 0
			for i := 0; i < live.RequestsPerTick; i++ {
				reqID++
				p := pickPriority(gen.Float64(), bg, normal)
				resp := bal.HandleRequest(adaptlb.Request{ID: reqID, Priority: p, Tick: tick})
				if resp.Admitted {
					admitted++
				} else {
					shed++
				}
			}

			slog.Debug("tick complete", "tick", tick, "admitted", admitted, "shed", shed)
		}
	}

	slog.Info("stopping admin server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cfg.Admin.Enabled {
		if err := adminSrv.Stop(shutdownCtx); err != nil {
			slog.Error("admin server forced shutdown", "error", err)
		}
	}

	slog.Info("adaptlbd stopped", "ticks_run", tick)
}

func buildBackends(cfg config.Scenario) ([]*simbackend.Backend, []adaptlb.BackendHandle) {
	backends := make([]*simbackend.Backend, len(cfg.Backends))
	handles := make([]adaptlb.BackendHandle, len(cfg.Backends))
	for i, b := range cfg.Backends {
		sb := simbackend.New(b.Name, b.BaseLatencyMS, cfg.Seed+int64(i)+1)
		backends[i] = sb
		handles[i] = sb
	}
	return backends, handles
}

func buildAdminServer(reg *admin.Registry, cfg config.Scenario, startTime time.Time) *admin.Server {
	var mw []func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		mw = append(mw, middleware.JWTAuth(cfg.Auth.Secret, cfg.Auth.Exclude))
	}
	if cfg.RateLimit.Enabled {
		mw = append(mw, middleware.RateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	mw = append(mw, middleware.Logger)

	return admin.New(reg, cfg.Admin.ListenAddr, startTime, version, mw...)
}

func pickPriority(draw, bg, normal float64) adaptlb.Priority {
	switch {
	case draw < bg:
		return adaptlb.BACKGROUND
	case draw < bg+normal:
		return adaptlb.NORMAL
	default:
		return adaptlb.CRITICAL
	}
}
