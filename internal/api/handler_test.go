package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/storeplane/pkg/storerecord"
)

type fakeSubmitter struct {
	installed []string
	deleted   []string
}

func (f *fakeSubmitter) SubmitInstall(id string) { f.installed = append(f.installed, id) }
func (f *fakeSubmitter) SubmitDelete(id string)  { f.deleted = append(f.deleted, id) }

func newTestHandler(t *testing.T) (*Handler, *fakeSubmitter, chi.Router) {
	t.Helper()
	db, err := storerecord.Open(context.Background(), "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sub := &fakeSubmitter{}
	h := NewHandler(storerecord.New(db), sub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := chi.NewRouter()
	h.Mount(r)
	return h, sub, r
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	_, _, r := newTestHandler(t)
	rec := doJSON(t, r, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleCreate_Success(t *testing.T) {
	_, sub, r := newTestHandler(t)

	rec := doJSON(t, r, http.MethodPost, "/stores", CreateStoreRequest{
		Name: "acme-shop", Engine: "woocommerce",
		AdminUsername: "admin", AdminEmail: "admin@example.com", AdminPassword: "password1",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}

	var resp StoreResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "PROVISIONING" {
		t.Errorf("status = %s, want PROVISIONING", resp.Status)
	}
	if len(sub.installed) != 1 || sub.installed[0] != resp.ID {
		t.Errorf("installed = %v, want [%s]", sub.installed, resp.ID)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("password1")) {
		t.Error("response body leaks admin_password")
	}
}

func TestHandleCreate_ValidationFailure(t *testing.T) {
	tests := []struct {
		name string
		req  CreateStoreRequest
	}{
		{"bad name", CreateStoreRequest{Name: "Bad Name!", Engine: "woocommerce", AdminUsername: "a", AdminEmail: "a@example.com", AdminPassword: "password1"}},
		{"short password", CreateStoreRequest{Name: "ok-name", Engine: "woocommerce", AdminUsername: "a", AdminEmail: "a@example.com", AdminPassword: "short"}},
		{"unknown engine", CreateStoreRequest{Name: "ok-name", Engine: "bigcommerce", AdminUsername: "a", AdminEmail: "a@example.com", AdminPassword: "password1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, r := newTestHandler(t)
			rec := doJSON(t, r, http.MethodPost, "/stores", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleCreate_NameConflict(t *testing.T) {
	_, _, r := newTestHandler(t)
	req := CreateStoreRequest{Name: "dup-shop", Engine: "woocommerce", AdminUsername: "a", AdminEmail: "a@example.com", AdminPassword: "password1"}

	first := doJSON(t, r, http.MethodPost, "/stores", req)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first create status = %d, want 202", first.Code)
	}

	second := doJSON(t, r, http.MethodPost, "/stores", req)
	if second.Code != http.StatusConflict {
		t.Fatalf("second create status = %d, want 409", second.Code)
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	_, _, r := newTestHandler(t)
	rec := doJSON(t, r, http.MethodGet, "/stores/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleList_RedactsPassword(t *testing.T) {
	_, _, r := newTestHandler(t)
	doJSON(t, r, http.MethodPost, "/stores", CreateStoreRequest{
		Name: "list-me", Engine: "woocommerce",
		AdminUsername: "admin", AdminEmail: "admin@example.com", AdminPassword: "supersecret",
	})

	rec := doJSON(t, r, http.MethodGet, "/stores", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("supersecret")) {
		t.Error("list response leaks admin_password")
	}
}

func TestHandleDelete_ConflictWhileProvisioning(t *testing.T) {
	_, sub, r := newTestHandler(t)
	created := doJSON(t, r, http.MethodPost, "/stores", CreateStoreRequest{
		Name: "short-lived", Engine: "woocommerce",
		AdminUsername: "admin", AdminEmail: "admin@example.com", AdminPassword: "password1",
	})
	var resp StoreResponse
	if err := json.Unmarshal(created.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// PROVISIONING -> DELETING is illegal per the transition graph; the first
	// DELETE call should be rejected as a conflict (not an install in flight).
	first := doJSON(t, r, http.MethodDelete, "/stores/"+resp.ID, nil)
	if first.Code != http.StatusConflict {
		t.Fatalf("delete from PROVISIONING status = %d, want 409, body=%s", first.Code, first.Body.String())
	}
	if len(sub.deleted) != 0 {
		t.Errorf("deleted = %v, want none", sub.deleted)
	}
}

func TestHandleDelete_NotFound(t *testing.T) {
	_, _, r := newTestHandler(t)
	rec := doJSON(t, r, http.MethodDelete, "/stores/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
