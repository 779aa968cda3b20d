package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/wisbric/storeplane/pkg/storerecord"
)

type fakeReleaseChecker struct {
	exists map[string]bool
	err    error
}

func (f *fakeReleaseChecker) ReleaseExists(ctx context.Context, id, namespace string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.exists[id], nil
}

type fakeSubmitter struct {
	installed []string
	resumed   []string
	deleted   []string
}

func (f *fakeSubmitter) SubmitInstall(id string) { f.installed = append(f.installed, id) }
func (f *fakeSubmitter) SubmitResume(id string)  { f.resumed = append(f.resumed, id) }
func (f *fakeSubmitter) SubmitDelete(id string)  { f.deleted = append(f.deleted, id) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storerecord.Store {
	t.Helper()
	db, err := storerecord.Open(context.Background(), "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storerecord.New(db)
}

func TestRun_ResumesWhenReleaseExists(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rec, err := store.Create(ctx, storerecord.CreateParams{
		Name: "acme", Engine: storerecord.EngineWooCommerce,
		AdminUsername: "a", AdminEmail: "a@example.com", AdminPassword: "password1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	helm := &fakeReleaseChecker{exists: map[string]bool{rec.HelmRelease: true}}
	sub := &fakeSubmitter{}
	c := New(store, helm, sub, testLogger())

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sub.resumed) != 1 || sub.resumed[0] != rec.ID {
		t.Errorf("resumed = %v, want [%s]", sub.resumed, rec.ID)
	}
	if len(sub.installed) != 0 {
		t.Errorf("installed = %v, want none", sub.installed)
	}
}

func TestRun_InstallsWhenReleaseMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rec, err := store.Create(ctx, storerecord.CreateParams{
		Name: "brandnew", Engine: storerecord.EngineWooCommerce,
		AdminUsername: "a", AdminEmail: "a@example.com", AdminPassword: "password1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	helm := &fakeReleaseChecker{exists: map[string]bool{}}
	sub := &fakeSubmitter{}
	c := New(store, helm, sub, testLogger())

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sub.installed) != 1 || sub.installed[0] != rec.ID {
		t.Errorf("installed = %v, want [%s]", sub.installed, rec.ID)
	}
}

func TestRun_DefersOnProbeUnavailable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, err := store.Create(ctx, storerecord.CreateParams{
		Name: "flaky", Engine: storerecord.EngineWooCommerce,
		AdminUsername: "a", AdminEmail: "a@example.com", AdminPassword: "password1",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	helm := &fakeReleaseChecker{err: errors.New("connection refused")}
	sub := &fakeSubmitter{}
	c := New(store, helm, sub, testLogger())

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v, want nil (recovery is non-fatal)", err)
	}
	if len(sub.installed) != 0 || len(sub.resumed) != 0 {
		t.Errorf("expected no submissions when probe is unavailable, got installed=%v resumed=%v", sub.installed, sub.resumed)
	}
}

func TestRun_ResubmitsDeletingUnconditionally(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rec, err := store.Create(ctx, storerecord.CreateParams{
		Name: "goinggone", Engine: storerecord.EngineWooCommerce,
		AdminUsername: "a", AdminEmail: "a@example.com", AdminPassword: "password1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, rec.ID, storerecord.StatusFailed, storerecord.WithFailureReason("x")); err != nil {
		t.Fatalf("transition to FAILED: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, rec.ID, storerecord.StatusDeleting); err != nil {
		t.Fatalf("transition to DELETING: %v", err)
	}

	helm := &fakeReleaseChecker{}
	sub := &fakeSubmitter{}
	c := New(store, helm, sub, testLogger())

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sub.deleted) != 1 || sub.deleted[0] != rec.ID {
		t.Errorf("deleted = %v, want [%s]", sub.deleted, rec.ID)
	}
}
