package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"marketsim/internal/agent"
	"marketsim/internal/infra"
	"marketsim/internal/kernel"
	"marketsim/internal/oracle"
	"marketsim/internal/replay"
	"marketsim/internal/storage"
	"marketsim/internal/stream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to simulation config")
	flag.Parse()

	// 1. Config and logger.
	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		slog.Error("❌ Failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Starting simulation", "name", cfg.Sim.Name, "seed", cfg.Sim.Seed)

	start, end := cfg.StartEnd()
	ctx := context.Background()

	// 2. Fundamental series.
	series := make(map[string][]oracle.Sample, len(cfg.Symbols))
	sigmas := make(map[string]float64, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		if sym.Fundamental == "" {
			continue
		}
		samples, err := oracle.LoadSeriesCSV(sym.Fundamental)
		if err != nil {
			slog.Error("❌ Failed to load fundamental series", "symbol", sym.Name, "error", err)
			os.Exit(1)
		}
		series[sym.Name] = samples
		sigmas[sym.Name] = sym.SigmaN
	}
	if len(series) > 0 {
		orc, err := oracle.New(series, sigmas)
		if err != nil {
			slog.Error("❌ Failed to build oracle", "error", err)
			os.Exit(1)
		}
		for sym := range series {
			open, err := orc.DailyOpenPrice(sym, start)
			if err != nil {
				slog.Error("❌ Failed to read open price", "symbol", sym, "error", err)
				os.Exit(1)
			}
			slog.Info("📈 Fundamental open", "symbol", sym, "price", open.String())
		}
	}

	// 3. Kernel and books.
	k := kernel.New(cfg.Sim.Name, start, end)
	for _, sym := range cfg.Symbols {
		k.AddSymbol(sym.Name)
	}

	// 4. Replay agents.
	for _, rc := range cfg.Replays {
		cache, err := resolveAuto(rc.Cache, "replay_cache.db")
		if err != nil {
			slog.Error("❌ Failed to prepare data dir", "error", err)
			os.Exit(1)
		}
		st, err := replay.Load(rc.File, start, end, cache)
		if err != nil {
			slog.Error("❌ Failed to load replay stream", "symbol", rc.Symbol, "error", err)
			os.Exit(1)
		}
		if err := k.AddAgent(agent.NewReplayAgent(rc.AgentID, rc.Symbol, st)); err != nil {
			slog.Error("❌ Failed to register replay agent", "agent", rc.AgentID, "error", err)
			os.Exit(1)
		}
	}

	// 5. Run log.
	if cfg.Storage.Path != "" {
		logPath, err := resolveAuto(cfg.Storage.Path, "runs.db")
		if err != nil {
			slog.Error("❌ Failed to prepare data dir", "error", err)
			os.Exit(1)
		}
		runLog, err := storage.NewRunLog(logPath)
		if err != nil {
			slog.Error("❌ Failed to open run log", "path", logPath, "error", err)
			os.Exit(1)
		}
		defer runLog.Close()

		rawCfg, _ := json.Marshal(cfg)
		runID, err := runLog.BeginRun(ctx, cfg.Sim.Seed, start, string(rawCfg))
		if err != nil {
			slog.Error("❌ Failed to begin run", "error", err)
			os.Exit(1)
		}
		slog.Info("✅ Run log ready", "run_id", runID)
		k.AddObserver(runLog)
	}

	// 6. Trade stream. The server only sees snapshots the kernel hands
	// it from inside the delivery step, never a live book.
	if cfg.Stream.Enabled {
		srv := stream.NewServer()
		k.AddObserver(srv)
		go func() {
			if err := srv.ListenAndServe(cfg.Stream.Addr); err != nil {
				slog.Error("STREAM_SERVER_STOPPED", "error", err)
			}
		}()
	}

	// 7. Run to the end of the window.
	final, err := k.Run(ctx)
	if err != nil {
		slog.Error("❌ Simulation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Simulation complete", "final_time", final.String())
}

// resolveAuto expands the "auto" placeholder to a file under the
// OS-standard data directory. Any other value passes through unchanged.
func resolveAuto(path, filename string) (string, error) {
	if path != "auto" {
		return path, nil
	}
	dir := infra.DataDir()
	if err := infra.EnsureDir(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}
