package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaia-project/gaia-core/internal/config"
	"github.com/gaia-project/gaia-core/internal/container"
	"github.com/gaia-project/gaia-core/internal/handoff"
	"github.com/gaia-project/gaia-core/internal/harouter"
	"github.com/gaia-project/gaia-core/internal/health"
	"github.com/gaia-project/gaia-core/internal/httpapi"
	"github.com/gaia-project/gaia-core/internal/ledger"
	"github.com/gaia-project/gaia-core/internal/log"
	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/statesync"
	"github.com/gaia-project/gaia-core/internal/storage"
	"github.com/gaia-project/gaia-core/internal/types"
	"github.com/gaia-project/gaia-core/internal/watchdog"
)

var orchestratorCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Orchestrator node operations",
}

var orchestratorServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the GPU handoff coordinator and HA watchdog",
	RunE:  runOrchestratorServe,
}

func init() {
	orchestratorCmd.AddCommand(orchestratorServeCmd)

	f := orchestratorServeCmd.Flags()
	f.String("node-id", "orchestrator-1", "Unique node ID for the raft ledger")
	f.String("bind-addr", "127.0.0.1:7950", "Address for raft communication")
	f.String("data-dir", "", "Data directory (overrides config data_dir)")
	f.String("http-addr", "127.0.0.1:8090", "Address for the orchestrator HTTP surface")
	f.String("device-id", "gpu0", "Device ID arbitrated between prime and study")
	f.String("prime-health-url", "http://127.0.0.1:8100/health", "Health check URL for the prime worker")
	f.String("study-health-url", "http://127.0.0.1:8200/health", "Health check URL for the study worker")
	f.Bool("fake-backend", false, "Use an in-memory container backend instead of containerd")
	f.String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")
	f.String("prime-image", "", "Container image for the prime worker")
	f.String("study-image", "", "Container image for the study worker")
	f.String("live-root", "", "Live deployment root for the HA state syncer")
	f.String("candidate-root", "", "Candidate deployment root for the HA state syncer")
}

func runOrchestratorServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath(cmd))
	if err != nil {
		return err
	}
	cfg.OverlayFromEnv()

	f := cmd.Flags()
	nodeID, _ := f.GetString("node-id")
	bindAddr, _ := f.GetString("bind-addr")
	dataDir, _ := f.GetString("data-dir")
	httpAddr, _ := f.GetString("http-addr")
	deviceID, _ := f.GetString("device-id")
	primeHealthURL, _ := f.GetString("prime-health-url")
	studyHealthURL, _ := f.GetString("study-health-url")
	useFakeBackend, _ := f.GetBool("fake-backend")
	containerdSocket, _ := f.GetString("containerd-socket")
	primeImage, _ := f.GetString("prime-image")
	studyImage, _ := f.GetString("study-image")
	liveRoot, _ := f.GetString("live-root")
	candidateRoot, _ := f.GetString("candidate-root")

	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logger := log.WithComponent("orchestrator")
	logger.Info().Str("node_id", nodeID).Msg("starting orchestrator")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	led, err := ledger.Open(ledger.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: cfg.DataDir}, store)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	logger.Info().Msg("ledger bootstrapped")

	table, err := harouter.New(led, cfg.MaintenanceFlagPath)
	if err != nil {
		return fmt.Errorf("open HA route table: %w", err)
	}
	logger.Info().Msg("HA route table loaded")

	endpoints := map[types.WorkerName]string{
		types.WorkerPrime: primeHealthURL,
		types.WorkerStudy: studyHealthURL,
	}

	var backend container.Backend
	if useFakeBackend {
		backend = container.NewFakeBackend(endpoints)
	} else {
		images := container.WorkerImage{
			types.WorkerPrime: primeImage,
			types.WorkerStudy: studyImage,
		}
		cb, err := container.NewContainerdBackend(containerdSocket, images, endpoints)
		if err != nil {
			return fmt.Errorf("connect to containerd: %w", err)
		}
		backend = cb
	}

	checkers := map[types.WorkerName]health.Checker{
		types.WorkerPrime: health.NewHTTPChecker(string(types.WorkerPrime), primeHealthURL),
		types.WorkerStudy: health.NewHTTPChecker(string(types.WorkerStudy), studyHealthURL),
	}

	coordinator := handoff.New(handoff.Config{
		DeviceID:  deviceID,
		Workers:   []types.WorkerName{types.WorkerPrime, types.WorkerStudy},
		Backend:   backend,
		Checkers:  checkers,
		Deadlines: cfg.Handoff,
		Ledger:    led,
	})
	logger.Info().Msg("GPU handoff coordinator ready")

	var syncer watchdog.Syncer
	if liveRoot != "" && candidateRoot != "" {
		syncer = statesync.New(liveRoot, candidateRoot, nil, table.MaintenanceActive)
	}

	roles := []watchdog.Role{
		{
			Name:             deviceID,
			PrimaryEndpoint:  types.Endpoint(primeHealthURL),
			CandidateEndpoint: types.Endpoint(studyHealthURL),
			PrimaryChecker:   checkers[types.WorkerPrime],
			CandidateChecker: checkers[types.WorkerStudy],
		},
	}
	wd := watchdog.New(roles, table, syncer, cfg.Watchdog)
	wd.Start()
	logger.Info().Msg("health watchdog started")

	router := httpapi.NewOrchestratorRouter(httpapi.OrchestratorDeps{
		Handoff:  coordinator,
		Watchdog: wd,
		GPUPool:  types.WorkerPrime,
	})
	router.Handle("/metrics", metrics.Handler())

	srv := httpapi.NewServer(httpAddr, router)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	logger.Info().Str("addr", httpAddr).Msg("orchestrator HTTP surface listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wd.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := led.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("ledger shutdown error")
	}
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("storage close error")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
