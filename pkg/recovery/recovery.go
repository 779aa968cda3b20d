// Package recovery implements the Recovery Controller: on process start,
// before the API accepts traffic, it re-enqueues every non-terminal Store
// Record so provisioning survives a crash (spec §4.4.4).
package recovery

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/wisbric/storeplane/pkg/helmexec"
	"github.com/wisbric/storeplane/pkg/storerecord"
)

// fanOutLimit bounds how many release_exists checks recovery runs
// concurrently, so a large crash-recovery backlog doesn't open one
// goroutine per row against the cluster API all at once.
const fanOutLimit = 10

// releaseChecker is the one Helm Executor operation recovery needs.
type releaseChecker interface {
	ReleaseExists(ctx context.Context, id, namespace string) (bool, error)
}

// submitter is the subset of the Provisioning Worker's API recovery drives.
type submitter interface {
	SubmitInstall(id string)
	SubmitResume(id string)
	SubmitDelete(id string)
}

// Controller runs the recovery scan.
type Controller struct {
	store  *storerecord.Store
	helm   releaseChecker
	worker submitter
	logger *slog.Logger
}

// New builds a recovery Controller.
func New(store *storerecord.Store, helm releaseChecker, worker submitter, logger *slog.Logger) *Controller {
	return &Controller{store: store, helm: helm, worker: worker, logger: logger}
}

// Run performs one recovery pass. It is non-fatal: a Kubernetes Probe or
// Helm Executor outage during recovery defers affected rows (logged) rather
// than marking them FAILED — absence of cluster connectivity is not a
// store-level failure.
func (c *Controller) Run(ctx context.Context) error {
	rows, err := c.store.ListNonTerminal(ctx)
	if err != nil {
		return err
	}

	c.logger.Info("recovery scan starting", "non_terminal_count", len(rows))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)

	for _, rec := range rows {
		rec := rec
		switch rec.Status {
		case storerecord.StatusProvisioning:
			g.Go(func() error {
				c.recoverProvisioning(gCtx, rec)
				return nil
			})
		case storerecord.StatusDeleting:
			c.logger.Info("recovery: resubmitting delete task", "store_id", rec.ID)
			c.worker.SubmitDelete(rec.ID)
		}
	}

	// recoverProvisioning never returns an error; Wait only blocks until the
	// release_exists fan-out has finished classifying every row.
	return g.Wait()
}

func (c *Controller) recoverProvisioning(ctx context.Context, rec storerecord.Record) {
	exists, err := c.helm.ReleaseExists(ctx, rec.HelmRelease, rec.Namespace)
	if err != nil {
		c.logger.Warn("recovery: release_exists unavailable, deferring to next start",
			"store_id", rec.ID, "error", err)
		return
	}

	if exists {
		c.logger.Info("recovery: release already exists, resuming readiness poll", "store_id", rec.ID)
		c.worker.SubmitResume(rec.ID)
		return
	}

	c.logger.Info("recovery: release missing, resubmitting install", "store_id", rec.ID)
	c.worker.SubmitInstall(rec.ID)
}

var _ releaseChecker = (*helmexec.Executor)(nil)
