package container

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/gaia-project/gaia-core/internal/log"
	"github.com/gaia-project/gaia-core/internal/types"
)

const (
	// DefaultNamespace is the containerd namespace GAIA's worker
	// containers run in.
	DefaultNamespace = "gaia"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// WorkerImage maps a worker name to the image reference that backs it.
// The orchestrator is configured with this mapping at boot.
type WorkerImage map[types.WorkerName]string

// ContainerdBackend is the reference Backend implementation: it drives
// containerd's high-level container/task API directly, the way the
// teacher's ContainerdRuntime does (image pull + task create), without
// hand-assembling low-level OCI runtime specs.
type ContainerdBackend struct {
	client      *containerd.Client
	namespace   string
	images      WorkerImage
	endpoints   map[types.WorkerName]string
	containerID map[types.WorkerName]string
	startedAt   map[types.WorkerName]time.Time
	restarts    map[types.WorkerName]int
}

// NewContainerdBackend connects to containerd at socketPath (or the
// default socket if empty) and returns a Backend that manages the named
// workers, each mapped to the given image and healthcheck endpoint.
func NewContainerdBackend(socketPath string, images WorkerImage, endpoints map[types.WorkerName]string) (*ContainerdBackend, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("container: failed to connect to containerd: %w", err)
	}

	return &ContainerdBackend{
		client:      client,
		namespace:   DefaultNamespace,
		images:      images,
		endpoints:   endpoints,
		containerID: make(map[types.WorkerName]string),
		startedAt:   make(map[types.WorkerName]time.Time),
		restarts:    make(map[types.WorkerName]int),
	}, nil
}

// Close releases the containerd client connection.
func (b *ContainerdBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func (b *ContainerdBackend) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, b.namespace)
}

// Start begins the worker's process, idempotent if already running.
func (b *ContainerdBackend) Start(ctx context.Context, worker types.WorkerName) error {
	cctx := b.ctx(ctx)
	logger := log.WithWorker(string(worker))

	if status, err := b.Status(ctx, worker); err == nil && status.State == types.WorkerStateRunning {
		logger.Debug().Msg("start is a no-op, worker already running")
		return nil
	}

	id := string(worker)
	cont, err := b.client.LoadContainer(cctx, id)
	if err != nil {
		image, ok := b.images[worker]
		if !ok {
			return &OpError{Kind: ErrorKindInternal, Op: "start", Err: fmt.Errorf("no image configured for worker %s", worker)}
		}

		img, err := b.client.GetImage(cctx, image)
		if err != nil {
			img, err = b.client.Pull(cctx, image, containerd.WithPullUnpack)
			if err != nil {
				return &OpError{Kind: ErrorKindUnavailable, Op: "start", Err: fmt.Errorf("pull image %s: %w", image, err)}
			}
		}

		cont, err = b.client.NewContainer(
			cctx,
			id,
			containerd.WithImage(img),
			containerd.WithNewSnapshot(id+"-snapshot", img),
			containerd.WithNewSpec(oci.WithImageConfig(img)),
		)
		if err != nil {
			return &OpError{Kind: ErrorKindInternal, Op: "start", Err: fmt.Errorf("create container: %w", err)}
		}
	}

	task, err := cont.NewTask(cctx, cio.NullIO)
	if err != nil {
		return &OpError{Kind: ErrorKindInternal, Op: "start", Err: fmt.Errorf("create task: %w", err)}
	}

	if err := task.Start(cctx); err != nil {
		return &OpError{Kind: ErrorKindInternal, Op: "start", Err: fmt.Errorf("start task: %w", err)}
	}

	b.containerID[worker] = id
	if _, seen := b.startedAt[worker]; seen {
		b.restarts[worker]++
	}
	b.startedAt[worker] = time.Now()

	logger.Info().Msg("worker started")
	return nil
}

// Stop signals graceful shutdown (SIGTERM), escalating to SIGKILL once
// grace elapses.
func (b *ContainerdBackend) Stop(ctx context.Context, worker types.WorkerName, grace time.Duration) error {
	cctx := b.ctx(ctx)
	logger := log.WithWorker(string(worker))

	id := string(worker)
	cont, err := b.client.LoadContainer(cctx, id)
	if err != nil {
		// Not running: stopping an absent container is not an error.
		return nil
	}

	task, err := cont.Task(cctx, nil)
	if err != nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(cctx, grace)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return &OpError{Kind: ErrorKindInternal, Op: "stop", Err: err}
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return &OpError{Kind: ErrorKindInternal, Op: "stop", Err: err}
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		logger.Warn().Msg("grace period expired, escalating to SIGKILL")
		if err := task.Kill(cctx, syscall.SIGKILL); err != nil {
			return &OpError{Kind: ErrorKindInternal, Op: "stop", Err: fmt.Errorf("force kill: %w", err)}
		}
	}

	if _, err := task.Delete(cctx); err != nil {
		logger.Warn().Err(err).Msg("failed to delete exited task")
	}

	return nil
}

// Status reports the worker's observed container state.
func (b *ContainerdBackend) Status(ctx context.Context, worker types.WorkerName) (Status, error) {
	cctx := b.ctx(ctx)
	id := string(worker)

	cont, err := b.client.LoadContainer(cctx, id)
	if err != nil {
		return Status{State: types.WorkerStateStopped}, nil
	}

	task, err := cont.Task(cctx, nil)
	if err != nil {
		return Status{State: types.WorkerStateStopped, StartedAt: b.startedAt[worker], Restarts: b.restarts[worker]}, nil
	}

	taskStatus, err := task.Status(cctx)
	if err != nil {
		return Status{}, &OpError{Kind: ErrorKindInternal, Op: "status", Err: err}
	}

	state := types.WorkerStateStarting
	switch taskStatus.Status {
	case containerd.Running:
		state = types.WorkerStateRunning
	case containerd.Stopped:
		if taskStatus.ExitStatus == 0 {
			state = types.WorkerStateStopped
		} else {
			state = types.WorkerStateCrashed
		}
	case containerd.Created, containerd.Paused:
		state = types.WorkerStateStarting
	}

	return Status{
		State:     state,
		Restarts:  b.restarts[worker],
		StartedAt: b.startedAt[worker],
	}, nil
}

// HealthcheckEndpoint returns the configured healthcheck URL for worker.
func (b *ContainerdBackend) HealthcheckEndpoint(worker types.WorkerName) string {
	return b.endpoints[worker]
}
