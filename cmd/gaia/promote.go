package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaia-project/gaia-core/internal/config"
	"github.com/gaia-project/gaia-core/internal/container"
	"github.com/gaia-project/gaia-core/internal/handoff"
	"github.com/gaia-project/gaia-core/internal/health"
	"github.com/gaia-project/gaia-core/internal/ledger"
	"github.com/gaia-project/gaia-core/internal/log"
	"github.com/gaia-project/gaia-core/internal/promotion"
	"github.com/gaia-project/gaia-core/internal/storage"
	"github.com/gaia-project/gaia-core/internal/types"
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Candidate promotion operations",
}

var promoteRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the nine-stage candidate promotion pipeline",
	RunE:  runPromoteRun,
}

func init() {
	promoteCmd.AddCommand(promoteRunCmd)

	f := promoteRunCmd.Flags()
	f.String("node-id", "promotion-cli", "Node ID for the ledger connection used to read GPU ownership")
	f.String("bind-addr", "127.0.0.1:7951", "Raft bind address for the ledger connection")
	f.String("data-dir", "", "Data directory (overrides config data_dir)")
	f.String("candidate-root", "", "Candidate deployment root")
	f.String("live-root", "", "Live deployment root")
	f.StringSlice("service", nil, "Service name(s) to promote, in dependency order (library first)")
	f.String("candidate-endpoint", "http://127.0.0.1:8200/health", "Health endpoint probed for smoke tests")
	f.Bool("fake-backend", true, "Use an in-memory container backend instead of containerd")
	f.Bool("keep-live", false, "Skip stopping live services (dry-run mode)")
}

func runPromoteRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath(cmd))
	if err != nil {
		return err
	}
	cfg.OverlayFromEnv()

	f := cmd.Flags()
	nodeID, _ := f.GetString("node-id")
	bindAddr, _ := f.GetString("bind-addr")
	dataDir, _ := f.GetString("data-dir")
	candidateRoot, _ := f.GetString("candidate-root")
	liveRoot, _ := f.GetString("live-root")
	services, _ := f.GetStringSlice("service")
	candidateEndpoint, _ := f.GetString("candidate-endpoint")
	useFakeBackend, _ := f.GetBool("fake-backend")
	keepLive, _ := f.GetBool("keep-live")

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if len(services) == 0 {
		services = []string{"prime"}
	}

	logger := log.WithComponent("promotion-cli")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	led, err := ledger.Open(ledger.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: cfg.DataDir}, store)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Shutdown()

	endpoints := map[types.WorkerName]string{types.WorkerPrime: "", types.WorkerStudy: ""}
	var backend container.Backend
	if useFakeBackend {
		backend = container.NewFakeBackend(endpoints)
	} else {
		cb, err := container.NewContainerdBackend("/run/containerd/containerd.sock", container.WorkerImage{}, endpoints)
		if err != nil {
			return fmt.Errorf("connect to containerd: %w", err)
		}
		backend = cb
	}

	checker := health.NewHTTPChecker("candidate", candidateEndpoint)

	coordinator := handoff.New(handoff.Config{
		DeviceID: "gpu0",
		Workers:  []types.WorkerName{types.WorkerPrime, types.WorkerStudy},
		Backend:  backend,
		Checkers: map[types.WorkerName]health.Checker{
			types.WorkerPrime: checker,
			types.WorkerStudy: checker,
		},
		Deadlines: cfg.Handoff,
		Ledger:    led,
	})

	journalDir := filepath.Join(cfg.DataDir, "promotions")
	if err := os.MkdirAll(journalDir, 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	pipeline := promotion.New(promotion.Config{
		Handoff:          coordinator,
		DesiredGPUOwner:  types.WorkerStudy,
		CurrentGPUSource: types.WorkerPrime,
		GPUOuterDeadline: cfg.Handoff.Outer,

		KeepLive: keepLive,
		CandidateHealthy: func(ctx context.Context) error {
			return probeHealthy(ctx, checker)
		},
		Backend:      backend,
		LiveServices: services,
		StopLive: func(ctx context.Context, svcs []string, grace time.Duration) error {
			return stopServices(ctx, backend, svcs, grace)
		},
		LiveContainerCount: func(ctx context.Context) (int, error) {
			return countRunning(ctx, backend, services)
		},

		CandidateEndpointsReachable: func(ctx context.Context) error {
			return probeHealthy(ctx, checker)
		},
		SharedLibrariesSynced: func() error { return nil },

		Promote: func(ctx context.Context, service string) (string, error) {
			return promoteFiles(candidateRoot, liveRoot, service)
		},

		StartLive: func(ctx context.Context, svcs []string) error {
			return startServices(ctx, backend, svcs)
		},
		LiveHealthDeadline: cfg.Promotion.HealthPollMax,
		LiveHealthCheck: func(ctx context.Context, service string) error {
			return probeHealthy(ctx, checker)
		},

		Journal: func(record promotion.JournalRecord) error {
			return writeJournal(journalDir, record)
		},
		Commit: func() error { return nil },
	})

	logger.Info().Strs("services", services).Msg("starting promotion run")
	results, err := pipeline.Run(context.Background())

	for _, r := range results {
		fmt.Printf("  %-30s %-6s %v\n", r.Name, r.Status, r.Duration)
	}

	if err != nil {
		return fmt.Errorf("promotion failed: %w", err)
	}
	logger.Info().Msg("promotion complete")
	return nil
}

func probeHealthy(ctx context.Context, checker health.Checker) error {
	snap := checker.Check(ctx)
	if !snap.OK {
		return fmt.Errorf("candidate health check failed")
	}
	return nil
}

func stopServices(ctx context.Context, backend container.Backend, services []string, grace time.Duration) error {
	for i := len(services) - 1; i >= 0; i-- {
		if err := backend.Stop(ctx, types.WorkerName(services[i]), grace); err != nil {
			return fmt.Errorf("stop %s: %w", services[i], err)
		}
	}
	return nil
}

func startServices(ctx context.Context, backend container.Backend, services []string) error {
	for _, svc := range services {
		if err := backend.Start(ctx, types.WorkerName(svc)); err != nil {
			return fmt.Errorf("start %s: %w", svc, err)
		}
	}
	return nil
}

func countRunning(ctx context.Context, backend container.Backend, services []string) (int, error) {
	count := 0
	for _, svc := range services {
		status, err := backend.Status(ctx, types.WorkerName(svc))
		if err != nil {
			return count, err
		}
		if status.State == types.WorkerStateRunning {
			count++
		}
	}
	return count, nil
}

// promoteFiles moves the live service directory aside as a backup, then
// renames the candidate directory into its place. Grounded on the same
// mtime-rooted copy idiom internal/statesync uses for the opposite
// (live-to-candidate) direction, but a rename suffices here since both
// roots live on the same volume and an atomic rename is all the final
// promotion swap needs.
func promoteFiles(candidateRoot, liveRoot, service string) (string, error) {
	if candidateRoot == "" || liveRoot == "" {
		return "", nil
	}

	src := filepath.Join(candidateRoot, service)
	dst := filepath.Join(liveRoot, service)
	backup := dst + ".backup-" + time.Now().UTC().Format("20060102T150405Z")

	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, backup); err != nil {
			return "", fmt.Errorf("back up %s: %w", dst, err)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		return backup, fmt.Errorf("promote %s: %w", src, err)
	}
	return backup, nil
}

func writeJournal(journalDir string, record promotion.JournalRecord) error {
	path := filepath.Join(journalDir, record.StartedAt.UTC().Format("20060102T150405Z")+".json")
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal record: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
