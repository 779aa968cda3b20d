package provisioner

import (
	"context"

	"github.com/wisbric/storeplane/internal/telemetry"
	"github.com/wisbric/storeplane/pkg/storerecord"
)

// runDelete implements the delete task (spec §4.4). It never transitions
// to FAILED: a task makes one uninstall attempt, and on error it logs the
// error, counts it in delete_retry_total, and leaves the record in DELETING
// for the next recovery pass. The task itself does not retry.
func (w *Worker) runDelete(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	if err := w.sem.Acquire(ctx, 1); err != nil {
		w.logger.Error("acquire worker slot for delete", "store_id", id, "error", err)
		return
	}
	defer w.sem.Release(1)

	telemetry.ActiveWorkers.Inc()
	defer telemetry.ActiveWorkers.Dec()

	rec, err := w.store.Get(ctx, id)
	if err != nil {
		w.logger.Error("delete task: read record", "store_id", id, "error", err)
		return
	}
	if rec.Status != storerecord.StatusDeleting {
		w.logger.Debug("delete task: record no longer DELETING, abandoning", "store_id", id, "status", rec.Status)
		return
	}

	select {
	case <-w.shutdown:
		w.logger.Info("shutdown in progress, not starting delete task", "store_id", id)
		return
	default:
	}

	if err := w.helm.Uninstall(ctx, rec.HelmRelease, rec.Namespace); err != nil {
		telemetry.DeleteRetryTotal.Inc()
		w.logger.Warn("delete task: helm uninstall, will retry on next recovery pass",
			"store_id", id, "error", err)
		return
	}

	if err := w.probe.DeleteNamespace(ctx, rec.Namespace); err != nil {
		w.logger.Warn("delete task: namespace delete best-effort failure",
			"store_id", id, "namespace", rec.Namespace, "error", err)
	}

	if _, err := w.store.UpdateStatus(ctx, id, storerecord.StatusDeleted); err != nil {
		w.logger.Error("delete task: transition to DELETED", "store_id", id, "error", err)
		return
	}
	telemetry.ProvisioningOutcomesTotal.WithLabelValues("DELETED", "none").Inc()
}
