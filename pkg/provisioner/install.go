package provisioner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wisbric/storeplane/internal/telemetry"
	"github.com/wisbric/storeplane/pkg/helmexec"
	"github.com/wisbric/storeplane/pkg/k8sprobe"
	"github.com/wisbric/storeplane/pkg/storerecord"
)

// runInstall implements the install task (spec §4.4) plus the readiness
// poll loop (§4.4.1). When runInstallStep is false, step 2 is skipped —
// used for crash recovery when release_exists is already true.
func (w *Worker) runInstall(ctx context.Context, id string, runInstallStep bool) {
	rec, err := w.store.Get(ctx, id)
	if err != nil {
		w.logger.Error("install task: read record", "store_id", id, "error", err)
		return
	}
	if rec.Status != storerecord.StatusProvisioning {
		w.logger.Debug("install task: record no longer PROVISIONING, abandoning", "store_id", id, "status", rec.Status)
		return
	}

	if runInstallStep {
		exists, err := w.helm.ReleaseExists(ctx, rec.HelmRelease, rec.Namespace)
		if err != nil {
			w.fail(id, fmt.Sprintf("Helm install failed: %s", err.Error()))
			return
		}
		if !exists {
			select {
			case <-w.shutdown:
				w.logger.Info("install task: shutdown before helm install, leaving record PROVISIONING for recovery", "store_id", id)
				return
			default:
			}
			if err := w.helm.Install(ctx, helmexec.InstallParams{
				ID:            rec.HelmRelease,
				Namespace:     rec.Namespace,
				Name:          rec.Name,
				Engine:        string(rec.Engine),
				Domain:        w.cfg.Domain,
				AdminUsername: rec.AdminUsername,
				AdminEmail:    rec.AdminEmail,
				AdminPassword: rec.AdminPassword,
			}); err != nil {
				var classified *helmexec.Error
				if errors.As(err, &classified) && classified.Kind == helmexec.KindAlreadyExists {
					// proceed as if success
				} else {
					telemetry.InstallAttemptsTotal.WithLabelValues("failed").Inc()
					w.fail(id, fmt.Sprintf("Helm install failed: %s", excerptOf(err)))
					return
				}
			} else {
				telemetry.InstallAttemptsTotal.WithLabelValues("succeeded").Inc()
			}
		}
	}

	storeURL, err := w.pollReady(ctx, rec)
	if err != nil {
		if errors.Is(err, errShutdown) {
			w.logger.Info("install task: shutdown before readiness, leaving record PROVISIONING for recovery", "store_id", id)
			return
		}
		w.fail(id, err.Error())
		return
	}

	if _, err := w.store.UpdateStatus(ctx, id, storerecord.StatusReady, storerecord.WithStoreURL(storeURL)); err != nil {
		w.logger.Error("install task: transition to READY", "store_id", id, "error", err)
		return
	}
	telemetry.ProvisioningOutcomesTotal.WithLabelValues("READY", "none").Inc()
}

func excerptOf(err error) string {
	var classified *helmexec.Error
	if errors.As(err, &classified) {
		return classified.Detail
	}
	return err.Error()
}

// pollErr carries the terminal poll-loop outcome; it is never propagated
// beyond runInstall, which turns it into a status transition.
type pollErr struct{ reason string }

func (e *pollErr) Error() string { return e.reason }

// errShutdown signals that the poll loop stopped because the process is
// draining, not because provisioning failed. Spec §5 requires shutdown to
// leave the record in PROVISIONING — it is always resumable by the Recovery
// Controller on next start, so runInstall must not call fail on this path.
var errShutdown = errors.New("shutdown before provisioning completed")

// pollReady runs the readiness poll loop (§4.4.1) until all three
// predicates hold, the overall timeout elapses, or a terminal failure is
// observed. ctx is already bounded by the overall_timeout via runInstall's
// caller (submit), so timeout here is signalled by ctx.Err().
func (w *Worker) pollReady(ctx context.Context, rec storerecord.Record) (string, error) {
	jobName := fmt.Sprintf("%s-%s-setup", rec.ID, rec.Engine)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	start := time.Now()
	defer func() { telemetry.PollLoopDuration.Observe(time.Since(start).Seconds()) }()

	for {
		host, done, err := w.pollTick(ctx, rec, jobName)
		if err != nil {
			return "", err
		}
		if done {
			return fmt.Sprintf("%s://%s", w.cfg.Scheme, host), nil
		}

		select {
		case <-ctx.Done():
			return "", &pollErr{reason: "Provisioning timed out"}
		case <-w.shutdown:
			return "", errShutdown
		case <-ticker.C:
		}
	}
}

// pollTick evaluates the three readiness predicates once. A Transient
// Probe error is a no-op tick (the caller waits for the next interval).
func (w *Worker) pollTick(ctx context.Context, rec storerecord.Record, jobName string) (host string, done bool, err error) {
	podsReady, err := w.probe.PodsReady(ctx, rec.Namespace, rec.HelmRelease)
	if isTransient(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if podsReady.AnyFailed {
		return "", false, &pollErr{reason: "Pods not ready"}
	}

	jobPhase, err := w.probe.JobStatus(ctx, rec.Namespace, jobName)
	if isTransient(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if jobPhase == k8sprobe.JobFailed {
		return "", false, &pollErr{reason: "Setup job failed"}
	}

	workloadReady := podsReady.Total >= 1 && podsReady.Ready == podsReady.Total
	setupDone := jobPhase == k8sprobe.JobSucceeded

	if !workloadReady || !setupDone {
		return "", false, nil
	}

	ingressHost, err := w.probe.IngressHost(ctx, rec.Namespace, rec.HelmRelease)
	if isTransient(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if ingressHost == "" {
		return "", false, nil
	}

	return ingressHost, true, nil
}

func isTransient(err error) bool {
	var t *k8sprobe.TransientError
	return errors.As(err, &t)
}

// failWriteTimeout bounds the FAILED-transition write issued on its own
// context rather than the task's ctx, which is frequently already expired
// here — e.g. the overall_timeout deadline is exactly what triggered this
// call, and an expired context is rejected by database/sql before it ever
// reaches the driver.
const failWriteTimeout = 5 * time.Second

// fail transitions a record to FAILED with reason, abandoning silently (log
// only) if the record already moved on.
func (w *Worker) fail(id, reason string) {
	writeCtx, cancel := context.WithTimeout(context.Background(), failWriteTimeout)
	defer cancel()

	if _, err := w.store.UpdateStatus(writeCtx, id, storerecord.StatusFailed, storerecord.WithFailureReason(reason)); err != nil {
		w.logger.Error("install task: transition to FAILED", "store_id", id, "reason", reason, "error", err)
		return
	}
	w.logger.Warn("store provisioning failed", "store_id", id, "reason", reason)
	telemetry.ProvisioningOutcomesTotal.WithLabelValues("FAILED", reasonLabel(reason)).Inc()
}

func reasonLabel(reason string) string {
	switch {
	case reason == "Provisioning timed out":
		return "timeout"
	case reason == "Pods not ready":
		return "pods_not_ready"
	case reason == "Setup job failed":
		return "setup_job_failed"
	case strings.HasPrefix(reason, "Helm install failed"):
		return "helm_failed"
	default:
		return "probe_error"
	}
}
