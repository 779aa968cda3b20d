package helmexec

import (
	"context"
	"errors"
	"testing"
)

func fakeExecutor(stdout, stderr string, err error) *Executor {
	e := New(Config{ChartPath: "helm/store", ValuesFile: "values.yaml", EnvValuesFile: "values-local.yaml"})
	e.run = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return []byte(stdout), []byte(stderr), err
	}
	return e
}

func TestInstall_Success(t *testing.T) {
	e := fakeExecutor("", "", nil)
	err := e.Install(context.Background(), InstallParams{ID: "acme-12345678", Namespace: "store-acme-12345678"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
}

func TestInstall_AlreadyExists(t *testing.T) {
	e := fakeExecutor("", `Error: INSTALLATION FAILED: cannot re-use a name that is still in use`, errors.New("exit status 1"))
	err := e.Install(context.Background(), InstallParams{ID: "acme-12345678", Namespace: "store-acme-12345678"})

	var classified *Error
	if !errors.As(err, &classified) || classified.Kind != KindAlreadyExists {
		t.Errorf("err = %v, want KindAlreadyExists", err)
	}
}

func TestInstall_ChartNotFound(t *testing.T) {
	e := fakeExecutor("", `Error: path does not exist`, errors.New("exit status 1"))
	err := e.Install(context.Background(), InstallParams{ID: "x", Namespace: "store-x"})

	var classified *Error
	if !errors.As(err, &classified) || classified.Kind != KindChartNotFound {
		t.Errorf("err = %v, want KindChartNotFound", err)
	}
}

func TestInstall_GenericFailureCapturesStderrExcerpt(t *testing.T) {
	e := fakeExecutor("", "Error: values don't meet the specifications of the schema", errors.New("exit status 1"))
	err := e.Install(context.Background(), InstallParams{ID: "x", Namespace: "store-x"})

	var classified *Error
	if !errors.As(err, &classified) || classified.Kind != KindFailed {
		t.Fatalf("err = %v, want KindFailed", err)
	}
	if classified.Detail == "" {
		t.Error("Detail is empty, want stderr excerpt")
	}
}

func TestUninstall_MissingReleaseIsSuccess(t *testing.T) {
	e := fakeExecutor("", `Error: uninstall: Release not found`, errors.New("exit status 1"))
	if err := e.Uninstall(context.Background(), "gone", "store-gone"); err != nil {
		t.Errorf("Uninstall: %v, want nil (idempotent)", err)
	}
}

func TestUninstall_UnexpectedErrorPropagates(t *testing.T) {
	e := fakeExecutor("", "Error: tiller unreachable", errors.New("exit status 1"))
	err := e.Uninstall(context.Background(), "x", "store-x")

	var classified *Error
	if !errors.As(err, &classified) || classified.Kind != KindFailed {
		t.Errorf("err = %v, want KindFailed", err)
	}
}

func TestReleaseExists(t *testing.T) {
	tests := []struct {
		name       string
		stderr     string
		cmdErr     error
		wantExists bool
		wantErr    bool
	}{
		{"present", "", nil, true, false},
		{"absent", "Error: release: not found", errors.New("exit status 1"), false, false},
		{"unexpected error", "Error: connection refused", errors.New("exit status 1"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := fakeExecutor("", tt.stderr, tt.cmdErr)
			exists, err := e.ReleaseExists(context.Background(), "x", "store-x")
			if exists != tt.wantExists {
				t.Errorf("exists = %v, want %v", exists, tt.wantExists)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
