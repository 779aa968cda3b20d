// Package provisioner implements the Provisioning Worker: a
// bounded-concurrency executor that drives a Store Record from PROVISIONING
// to a terminal state, and the delete path that drives READY/FAILED to
// DELETED.
package provisioner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wisbric/storeplane/internal/telemetry"
	"github.com/wisbric/storeplane/pkg/helmexec"
	"github.com/wisbric/storeplane/pkg/k8sprobe"
	"github.com/wisbric/storeplane/pkg/storerecord"
)

// Config carries the tunables from spec §6.3.
type Config struct {
	MaxWorkers   int64
	PollInterval time.Duration
	Timeout      time.Duration
	Domain       string
	Scheme       string // "http" or "https", from config.Config.Scheme()
}

// helmClient is the subset of *helmexec.Executor the Worker depends on.
// Declared locally so tests can substitute a fake without shelling out.
type helmClient interface {
	Install(ctx context.Context, p helmexec.InstallParams) error
	Uninstall(ctx context.Context, id, namespace string) error
	ReleaseExists(ctx context.Context, id, namespace string) (bool, error)
}

// prober is the subset of *k8sprobe.Probe the Worker depends on.
type prober interface {
	PodsReady(ctx context.Context, namespace, release string) (k8sprobe.PodsReadyResult, error)
	JobStatus(ctx context.Context, namespace, jobName string) (k8sprobe.JobPhase, error)
	IngressHost(ctx context.Context, namespace, release string) (string, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Worker is the Provisioning Worker. One Worker serves the whole process;
// Submit calls queue in FIFO order behind the semaphore, giving parallelism
// across stores while Helm/Probe calls within one store stay sequential.
type Worker struct {
	store  *storerecord.Store
	helm   helmClient
	probe  prober
	logger *slog.Logger
	cfg    Config
	sem    *semaphore.Weighted

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// New builds a Worker. cfg.MaxWorkers <= 0 defaults to 5 per spec. helm and
// probe accept any type satisfying the operations the Worker uses, so
// *helmexec.Executor/*k8sprobe.Probe pass directly and tests can supply
// fakes.
func New(store *storerecord.Store, helm helmClient, probe prober, logger *slog.Logger, cfg Config) *Worker {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 600 * time.Second
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	return &Worker{
		store:    store,
		helm:     helm,
		probe:    probe,
		logger:   logger,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxWorkers),
		shutdown: make(chan struct{}),
	}
}

// SubmitInstall queues a full install task: it calls Helm.Install then
// enters the readiness poll loop.
func (w *Worker) SubmitInstall(id string) {
	w.submit(id, true)
}

// SubmitResume queues a task that skips the Helm install step — used by the
// Recovery Controller when release_exists is already true after a crash.
func (w *Worker) SubmitResume(id string) {
	w.submit(id, false)
}

// SubmitDelete queues a delete task.
func (w *Worker) SubmitDelete(id string) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runDelete(id)
	}()
}

func (w *Worker) submit(id string, runInstall bool) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
		defer cancel()

		if err := w.sem.Acquire(ctx, 1); err != nil {
			w.logger.Error("acquire worker slot", "store_id", id, "error", err)
			return
		}
		defer w.sem.Release(1)

		telemetry.ActiveWorkers.Inc()
		defer telemetry.ActiveWorkers.Dec()

		select {
		case <-w.shutdown:
			w.logger.Info("shutdown in progress, not starting install task", "store_id", id)
			return
		default:
		}

		w.runInstall(ctx, id, runInstall)
	}()
}

// Shutdown signals running tasks to stop before their next Helm
// invocation and waits (bounded by ctx) for in-flight tasks to reach a
// stopping point. Running tasks finish their current poll tick; they never
// start a new Helm call after shutdown begins.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.once.Do(func() { close(w.shutdown) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
