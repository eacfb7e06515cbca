package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaia-project/gaia-core/internal/checkpoint"
	"github.com/gaia-project/gaia-core/internal/config"
	"github.com/gaia-project/gaia-core/internal/container"
	"github.com/gaia-project/gaia-core/internal/health"
	"github.com/gaia-project/gaia-core/internal/httpapi"
	"github.com/gaia-project/gaia-core/internal/log"
	"github.com/gaia-project/gaia-core/internal/metrics"
	"github.com/gaia-project/gaia-core/internal/queue"
	"github.com/gaia-project/gaia-core/internal/resourceprobe"
	"github.com/gaia-project/gaia-core/internal/sleeptask"
	"github.com/gaia-project/gaia-core/internal/sleepwake"
	"github.com/gaia-project/gaia-core/internal/types"
)

var cognitionCmd = &cobra.Command{
	Use:   "cognition",
	Short: "Cognitive service lifecycle operations",
}

var cognitionServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run one cognitive service's sleep/wake manager",
	RunE:  runCognitionServe,
}

func init() {
	cognitionCmd.AddCommand(cognitionServeCmd)

	f := cognitionServeCmd.Flags()
	f.String("service", "prime", "Cognitive service name (prime or study)")
	f.String("data-dir", "", "Data directory (overrides config data_dir)")
	f.String("http-addr", "127.0.0.1:8100", "Address for this service's HTTP surface")
	f.Bool("fake-backend", true, "Use an in-memory container backend instead of containerd")
}

// stdoutResponder dispatches a queued message by logging it. The actual
// model inference call is out of this package's scope; dispatch is
// treated as an opaque Responder.
type stdoutResponder struct{}

func (stdoutResponder) Respond(ctx context.Context, reviewContext string, msg types.QueuedMessage) error {
	log.WithComponent("responder").Info().Str("context", reviewContext).Str("message_id", msg.ID).Msg("dispatching queued message")
	return nil
}

// summaryProducer builds a trivial checkpoint summary. Real context
// summarization is the cognitive service's own concern, not this
// package's (internal/sleepwake's own CheckpointProducer doc comment).
type summaryProducer struct {
	service string
}

func (p summaryProducer) Produce(ctx context.Context) (string, error) {
	return fmt.Sprintf("checkpoint for %s at %s", p.service, time.Now().UTC().Format(time.RFC3339)), nil
}

// randomSampler stands in for a real nvidia-smi/DCGM utilization reader
// (internal/resourceprobe's own doc comment names this as the
// production integration point this module does not implement).
type randomSampler struct{}

func (randomSampler) Sample(ctx context.Context) (resourceprobe.Sample, error) {
	return resourceprobe.Sample{
		GPUUtilPct: rand.Float64() * 100,
		CPUUtilPct: rand.Float64() * 100,
		ObservedAt: time.Now(),
	}, nil
}

func runCognitionServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath(cmd))
	if err != nil {
		return err
	}
	cfg.OverlayFromEnv()

	f := cmd.Flags()
	service, _ := f.GetString("service")
	dataDir, _ := f.GetString("data-dir")
	httpAddr, _ := f.GetString("http-addr")
	useFakeBackend, _ := f.GetBool("fake-backend")

	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logger := log.WithService(service)
	logger.Info().Msg("starting cognitive service")

	checkpoints, err := checkpoint.New(filepath.Join(cfg.DataDir, "checkpoints"), cfg.Checkpoint.HistoryMaxEntries)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	logger.Info().Msg("checkpoint store ready")

	q := queue.New(service)

	scheduler := sleeptask.New(service, nil)

	var backend container.Backend
	if useFakeBackend {
		backend = container.NewFakeBackend(map[types.WorkerName]string{types.WorkerPrime: ""})
	}

	primaryChecker := health.NewHTTPChecker(service, httpAddr+"/health")

	probe := resourceprobe.New(service, randomSampler{}, resourceprobe.Config{
		ThresholdPct:   cfg.Distraction.ThresholdPct,
		WindowSamples:  cfg.Distraction.WindowSamples,
		SampleInterval: cfg.Distraction.SampleInterval,
	})

	mgr := sleepwake.New(sleepwake.Config{
		Service:            service,
		PrimaryWorker:      types.WorkerPrime,
		Checkpoints:        checkpoints,
		CheckpointKey:      service,
		Producer:           summaryProducer{service: service},
		Queue:              q,
		Scheduler:          scheduler,
		Backend:            backend,
		PrimaryChecker:     primaryChecker,
		Responder:          stdoutResponder{},
		Distracted:         probe.Distracted,
		CannedResponseText: "still processing, please wait",
		Sleep:              cfg.Sleep,
	})
	mgr.Start()
	logger.Info().Msg("sleep/wake manager started")

	probeCtx, cancelProbe := context.WithCancel(context.Background())
	go probe.Run(probeCtx)
	logger.Info().Msg("resource probe started")

	router := httpapi.NewCognitionRouter(httpapi.CognitionDeps{
		Manager:  mgr,
		Producer: summaryProducer{service: service},
		WriteCheckpoint: func() (int, error) {
			text, err := summaryProducer{service: service}.Produce(context.Background())
			if err != nil {
				return 0, err
			}
			if err := checkpoints.Write(service, text); err != nil {
				return 0, err
			}
			return len(text), nil
		},
	})
	router.Handle("/metrics", metrics.Handler())

	srv := httpapi.NewServer(httpAddr, router)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	logger.Info().Str("addr", httpAddr).Msg("cognition HTTP surface listening")

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

	probe.Stop()
	cancelProbe()
	mgr.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
