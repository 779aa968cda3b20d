// Package helmexec is a thin adapter over the helm CLI: it shells out,
// captures output, and classifies the result. It holds no cluster or
// release state of its own.
package helmexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Kind classifies an Executor failure.
type Kind string

const (
	KindAlreadyExists Kind = "AlreadyExists"
	KindChartNotFound Kind = "ChartNotFound"
	KindCLINotFound   Kind = "CLINotFound"
	KindTimeout       Kind = "Timeout"
	KindFailed        Kind = "Failed"
)

// Error wraps a classified Executor failure. Install/Uninstall return an
// *Error on failure so callers can switch on Kind without string matching.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

const stderrExcerptLimit = 500

// Config carries the static pieces of the install command line that don't
// vary per store (spec §6.2).
type Config struct {
	Binary         string // defaults to "helm"
	ChartPath      string
	ValuesFile     string
	EnvValuesFile  string
	ExecutionTimeout time.Duration
}

// InstallParams carries the per-store identity values merged into the chart.
type InstallParams struct {
	ID            string
	Namespace     string
	Name          string
	Engine        string
	Domain        string
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// Executor shells out to the helm CLI. The zero value is not usable; build
// one with New.
type Executor struct {
	cfg Config
	run func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

// New builds an Executor from cfg, defaulting Binary to "helm".
func New(cfg Config) *Executor {
	if cfg.Binary == "" {
		cfg.Binary = "helm"
	}
	return &Executor{cfg: cfg, run: runCommand}
}

// runCommand executes an external command, splitting stdout/stderr exactly
// like a ShellRunner does, so classification can inspect stderr alone.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		// A killed process reports "signal: killed"; keep the context error
		// so classification can recognise a timeout.
		err = errors.Join(ctx.Err(), err)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// Install performs an install-if-absent Helm invocation for the given
// store. It does not itself check release_exists — callers pair that with
// release_exists per spec §4.2's idempotency rationale.
func (e *Executor) Install(ctx context.Context, p InstallParams) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	args := []string{
		"install", p.ID, e.cfg.ChartPath,
		"--namespace", p.Namespace,
		"--create-namespace",
		"-f", e.cfg.ValuesFile,
		"-f", e.cfg.EnvValuesFile,
		"--set", "store.id=" + p.ID,
		"--set", "store.name=" + p.Name,
		"--set", "store.namespace=" + p.Namespace,
		"--set", "store.engine=" + p.Engine,
		"--set", "store.domain=" + p.Domain,
		"--set", "admin.username=" + p.AdminUsername,
		"--set", "admin.email=" + p.AdminEmail,
		"--set", "admin.password=" + p.AdminPassword,
	}

	_, stderr, err := e.run(ctx, e.cfg.Binary, args...)
	if err == nil {
		return nil
	}
	return classifyInstallErr(err, stderr)
}

// Uninstall removes a release. A missing release is treated as success.
func (e *Executor) Uninstall(ctx context.Context, id, namespace string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	_, stderr, err := e.run(ctx, e.cfg.Binary, "uninstall", id, "--namespace", namespace)
	if err == nil {
		return nil
	}
	if isNotFound(stderr) {
		return nil
	}
	return classifyGenericErr(err, stderr)
}

// ReleaseExists queries whether a release is currently installed.
func (e *Executor) ReleaseExists(ctx context.Context, id, namespace string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	_, stderr, err := e.run(ctx, e.cfg.Binary, "status", id, "--namespace", namespace)
	if err == nil {
		return true, nil
	}
	if isNotFound(stderr) {
		return false, nil
	}
	return false, classifyGenericErr(err, stderr)
}

func (e *Executor) timeout() time.Duration {
	if e.cfg.ExecutionTimeout <= 0 {
		return 120 * time.Second
	}
	return e.cfg.ExecutionTimeout
}

func isNotFound(stderr []byte) bool {
	return strings.Contains(strings.ToLower(string(stderr)), "not found")
}

func classifyInstallErr(err error, stderr []byte) error {
	lower := strings.ToLower(string(stderr))
	switch {
	case strings.Contains(lower, "cannot re-use a name") || strings.Contains(lower, "already exists"):
		return &Error{Kind: KindAlreadyExists, Detail: excerpt(stderr)}
	case strings.Contains(lower, "no such file or directory") && strings.Contains(lower, "chart"):
		return &Error{Kind: KindChartNotFound, Detail: excerpt(stderr)}
	case strings.Contains(lower, "path does not exist"):
		return &Error{Kind: KindChartNotFound, Detail: excerpt(stderr)}
	}
	return classifyGenericErr(err, stderr)
}

func classifyGenericErr(err error, stderr []byte) error {
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return &Error{Kind: KindCLINotFound, Detail: execErr.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Detail: "helm execution timed out"}
	}
	return &Error{Kind: KindFailed, Detail: excerpt(stderr)}
}

func excerpt(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > stderrExcerptLimit {
		s = s[:stderrExcerptLimit] + "…"
	}
	return s
}
